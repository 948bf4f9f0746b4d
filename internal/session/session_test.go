package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
)

func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(NewMemoryStore(), "sid", time.Hour, true)

	sess, err := mgr.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.True(t, sess.IsNew())

	sess.Data.Handshake = &oauth.Handshake{State: "s", Nonce: "n", Intent: oauth.IntentLogin}
	rec := httptest.NewRecorder()
	require.NoError(t, mgr.Save(ctx, rec, sess))
	require.NotEmpty(t, sess.ID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "sid", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.True(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	loaded, err := mgr.Load(ctx, requestWithCookies(rec))
	require.NoError(t, err)
	require.False(t, loaded.IsNew())
	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, "s", loaded.Data.Handshake.State)
}

func TestRenewRotatesID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, "sid", time.Hour, false)

	sess := &Session{}
	rec := httptest.NewRecorder()
	require.NoError(t, mgr.Save(ctx, rec, sess))
	oldID := sess.ID

	sess.Renew()
	sess.Data.UserID = 42
	rec = httptest.NewRecorder()
	require.NoError(t, mgr.Save(ctx, rec, sess))
	require.NotEqual(t, oldID, sess.ID)

	payload, err := store.Load(ctx, oldID)
	require.NoError(t, err)
	require.Nil(t, payload)

	loaded, err := mgr.Load(ctx, requestWithCookies(rec))
	require.NoError(t, err)
	require.Equal(t, int64(42), loaded.Data.UserID)
}

func TestDestroyClearsSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	mgr := NewManager(store, "sid", time.Hour, false)

	sess := &Session{Data: Data{UserID: 7}}
	rec := httptest.NewRecorder()
	require.NoError(t, mgr.Save(ctx, rec, sess))
	id := sess.ID

	rec = httptest.NewRecorder()
	require.NoError(t, mgr.Destroy(ctx, rec, sess))
	require.Zero(t, sess.Data.UserID)

	payload, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), "a", []byte("x"), time.Minute))
	now = now.Add(2 * time.Minute)

	payload, err := store.Load(context.Background(), "a")
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestUnknownCookieYieldsNewSession(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), "sid", time.Hour, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "missing"})

	sess, err := mgr.Load(context.Background(), req)
	require.NoError(t, err)
	require.True(t, sess.IsNew())
	require.Empty(t, sess.ID)
}
