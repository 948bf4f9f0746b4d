package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	httpHandler "github.com/losehrt/fhirlinebot-sub000/internal/http/handler"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
)

type fakeCredentialAdmin struct {
	rows      map[int64]domain.TenantCredentials
	nextID    int64
	createErr error
	calls     []string
}

func newFakeCredentialAdmin() *fakeCredentialAdmin {
	return &fakeCredentialAdmin{rows: map[int64]domain.TenantCredentials{}, nextID: 1000}
}

func (f *fakeCredentialAdmin) List(ctx context.Context, orgID int64) ([]domain.TenantCredentials, error) {
	var out []domain.TenantCredentials
	for _, row := range f.rows {
		if row.OrgID == orgID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeCredentialAdmin) Get(ctx context.Context, id int64) (domain.TenantCredentials, error) {
	row, ok := f.rows[id]
	if !ok {
		return domain.TenantCredentials{}, fmt.Errorf("get credentials: %w", pgx.ErrNoRows)
	}
	return row, nil
}

func (f *fakeCredentialAdmin) Create(ctx context.Context, creds domain.TenantCredentials) (domain.TenantCredentials, error) {
	if f.createErr != nil {
		return domain.TenantCredentials{}, f.createErr
	}
	f.nextID++
	creds.ID = f.nextID
	creds.IsDefault = creds.IsDefault && creds.IsActive
	f.rows[creds.ID] = creds
	f.calls = append(f.calls, "create")
	return creds, nil
}

func (f *fakeCredentialAdmin) Update(ctx context.Context, creds domain.TenantCredentials) error {
	creds.IsDefault = creds.IsDefault && creds.IsActive
	f.rows[creds.ID] = creds
	f.calls = append(f.calls, "update")
	return nil
}

func (f *fakeCredentialAdmin) SetDefault(ctx context.Context, id int64) error {
	return f.touch(id, "default")
}

func (f *fakeCredentialAdmin) Deactivate(ctx context.Context, id int64) error {
	return f.touch(id, "deactivate")
}

func (f *fakeCredentialAdmin) Delete(ctx context.Context, id int64) error {
	return f.touch(id, "delete")
}

func (f *fakeCredentialAdmin) touch(id int64, call string) error {
	if _, ok := f.rows[id]; !ok {
		return fmt.Errorf("%s credentials: %w", call, pgx.ErrNoRows)
	}
	f.calls = append(f.calls, call)
	return nil
}

func newCredentialRouter(store httpHandler.CredentialAdmin) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := httpHandler.NewCredentialHandler(store, zap.NewNop())
	r := gin.New()
	r.GET("/admin/line_credentials", h.List)
	r.POST("/admin/line_credentials", h.Create)
	r.PUT("/admin/line_credentials/:id", h.Update)
	r.POST("/admin/line_credentials/:id/default", h.SetDefault)
	r.POST("/admin/line_credentials/:id/deactivate", h.Deactivate)
	r.DELETE("/admin/line_credentials/:id", h.Delete)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCredentialCreateMasksSecret(t *testing.T) {
	store := newFakeCredentialAdmin()
	r := newCredentialRouter(store)

	w := serve(r, http.MethodPost, "/admin/line_credentials", `{"organization_id":7,"channel_id":"1650","channel_secret":"abcdef123456","access_token":"tok"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "********3456", body["channel_secret"])
	require.Equal(t, true, body["has_access_token"])
	require.Equal(t, true, body["is_default"])
	require.Equal(t, true, body["is_active"])
	require.NotContains(t, w.Body.String(), "abcdef123456")
	require.NotContains(t, w.Body.String(), `"tok"`)

	stored := store.rows[1001]
	require.Equal(t, int64(7), stored.OrgID)
	require.Equal(t, "abcdef123456", stored.ChannelSecret)
}

func TestCredentialCreateValidation(t *testing.T) {
	r := newCredentialRouter(newFakeCredentialAdmin())

	w := serve(r, http.MethodPost, "/admin/line_credentials", `{"channel_id":"1650"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/admin/line_credentials", `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialCreateConflict(t *testing.T) {
	store := newFakeCredentialAdmin()
	store.createErr = fmt.Errorf("create credentials: %w", repository.ErrConflict)
	r := newCredentialRouter(store)

	w := serve(r, http.MethodPost, "/admin/line_credentials", `{"channel_id":"1","channel_secret":"s"}`)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCredentialUpdateKeepsSecretWhenOmitted(t *testing.T) {
	store := newFakeCredentialAdmin()
	store.rows[5] = domain.TenantCredentials{ID: 5, ChannelID: "old", ChannelSecret: "keep-me", IsActive: true, IsDefault: true}
	r := newCredentialRouter(store)

	w := serve(r, http.MethodPut, "/admin/line_credentials/5", `{"channel_id":"new","is_default":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, "new", store.rows[5].ChannelID)
	require.Equal(t, "keep-me", store.rows[5].ChannelSecret)
	require.False(t, store.rows[5].IsDefault)
	require.True(t, store.rows[5].IsActive)
}

func TestCredentialMutations(t *testing.T) {
	store := newFakeCredentialAdmin()
	store.rows[5] = domain.TenantCredentials{ID: 5}
	r := newCredentialRouter(store)

	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/admin/line_credentials/5/default", "").Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/admin/line_credentials/5/deactivate", "").Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodDelete, "/admin/line_credentials/5", "").Code)
	require.Equal(t, []string{"default", "deactivate", "delete"}, store.calls)

	require.Equal(t, http.StatusNotFound, serve(r, http.MethodDelete, "/admin/line_credentials/99", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodDelete, "/admin/line_credentials/abc", "").Code)
}

func TestCredentialList(t *testing.T) {
	store := newFakeCredentialAdmin()
	store.rows[1] = domain.TenantCredentials{ID: 1, ChannelID: "global"}
	store.rows[2] = domain.TenantCredentials{ID: 2, OrgID: 7, ChannelID: "tenant"}
	r := newCredentialRouter(store)

	w := serve(r, http.MethodGet, "/admin/line_credentials?organization_id=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"channel_id":"tenant"`)
	require.NotContains(t, w.Body.String(), `"channel_id":"global"`)

	w = serve(r, http.MethodGet, "/admin/line_credentials?organization_id=x", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialResponsesReportStoredDefault(t *testing.T) {
	store := newFakeCredentialAdmin()
	r := newCredentialRouter(store)

	w := serve(r, http.MethodPost, "/admin/line_credentials", `{"channel_id":"1650","channel_secret":"abcdef123456","is_default":true,"is_active":false}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, false, created["is_default"])
	require.Equal(t, false, created["is_active"])

	w = serve(r, http.MethodPost, "/admin/line_credentials", `{"channel_id":"1651","channel_secret":"abcdef123456"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var active map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))

	w = serve(r, http.MethodPut, fmt.Sprintf("/admin/line_credentials/%v", active["id"]), `{"is_active":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	var updated map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, false, updated["is_default"])
	require.Equal(t, false, updated["is_active"])
}
