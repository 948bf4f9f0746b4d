package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	domainoauth "github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
	httpHandler "github.com/losehrt/fhirlinebot-sub000/internal/http/handler"
	httpmiddleware "github.com/losehrt/fhirlinebot-sub000/internal/http/middleware"
	authsvc "github.com/losehrt/fhirlinebot-sub000/internal/service/auth"
	"github.com/losehrt/fhirlinebot-sub000/internal/session"
)

type fakeLoginService struct {
	startErr    error
	callbackErr error
	logouts     int
	lastStart   authsvc.StartLoginInput
	refreshErr  error
	refreshed   []int64
}

func (f *fakeLoginService) StartLogin(ctx context.Context, sess *session.Data, in authsvc.StartLoginInput) (*authsvc.StartLoginOutput, error) {
	f.lastStart = in
	if f.startErr != nil {
		return nil, f.startErr
	}
	sess.Handshake = &domainoauth.Handshake{State: "state-1", Nonce: "nonce-1", CreatedAt: time.Now()}
	return &authsvc.StartLoginOutput{AuthorizationURL: "https://access.line.me/oauth2/v2.1/authorize?state=state-1", State: "state-1"}, nil
}

func (f *fakeLoginService) HandleCallback(ctx context.Context, sess *session.Data, in authsvc.CallbackInput) (*authsvc.CallbackResult, error) {
	sess.Handshake = nil
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	sess.UserID = 77
	return &authsvc.CallbackResult{User: domain.User{ID: 77}}, nil
}

func (f *fakeLoginService) Logout(ctx context.Context, sess *session.Data) error {
	f.logouts++
	sess.UserID = 0
	return nil
}

func (f *fakeLoginService) RefreshTokens(ctx context.Context, userID int64) (domain.TokenSet, error) {
	f.refreshed = append(f.refreshed, userID)
	if f.refreshErr != nil {
		return domain.TokenSet{}, f.refreshErr
	}
	return domain.TokenSet{
		AccessToken: "new-access",
		ExpiresAt:   time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		Scope:       "profile openid",
	}, nil
}

type authHarness struct {
	router  *gin.Engine
	login   *fakeLoginService
	store   *session.MemoryStore
	manager *session.Manager
}

func newAuthHarness() *authHarness {
	gin.SetMode(gin.TestMode)
	h := &authHarness{login: &fakeLoginService{}, store: session.NewMemoryStore()}
	h.manager = session.NewManager(h.store, "sid", time.Hour, false)
	handler := httpHandler.NewAuthHandler(h.login, h.manager, zap.NewNop())

	r := gin.New()
	r.Use(httpmiddleware.Session(h.manager, zap.NewNop()))
	r.POST("/auth/request_login", handler.RequestLogin)
	r.GET("/auth/line/callback", handler.Callback)
	r.POST("/auth/logout", handler.Logout)
	r.GET("/auth/me", handler.Me)
	r.POST("/auth/refresh", handler.Refresh)
	h.router = r
	return h
}

func (h *authHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func TestRequestLoginJSON(t *testing.T) {
	h := newAuthHarness()
	req := httptest.NewRequest(http.MethodPost, "/auth/request_login", nil)
	req.Header.Set("Accept", "application/json")

	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, strings.HasPrefix(body["authorization_url"], "https://access.line.me/"))

	cookie := sessionCookie(t, w)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.Equal(t, "http://example.com", h.login.lastStart.RequestBase)
	require.Equal(t, domainoauth.IntentLogin, h.login.lastStart.Intent)
}

func TestRequestLoginRedirect(t *testing.T) {
	h := newAuthHarness()
	req := httptest.NewRequest(http.MethodPost, "/auth/request_login", strings.NewReader("intent=link_account"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := h.do(req)
	require.Equal(t, http.StatusFound, w.Code)
	require.Contains(t, w.Header().Get("Location"), "state=state-1")
	require.Equal(t, domainoauth.IntentLinkAccount, h.login.lastStart.Intent)
}

func TestRequestLoginNotConfigured(t *testing.T) {
	h := newAuthHarness()
	h.login.startErr = fmt.Errorf("resolve credentials: %w", domain.ErrNotConfigured)

	w := h.do(httptest.NewRequest(http.MethodPost, "/auth/request_login", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "credentials: not configured")
}

func TestCallbackSuccessRotatesSession(t *testing.T) {
	h := newAuthHarness()
	start := h.do(httptest.NewRequest(http.MethodPost, "/auth/request_login", nil))
	before := sessionCookie(t, start)

	req := httptest.NewRequest(http.MethodGet, "/auth/line/callback?code=c&state=state-1", nil)
	req.AddCookie(before)
	w := h.do(req)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/", w.Header().Get("Location"))

	after := sessionCookie(t, w)
	require.NotEqual(t, before.Value, after.Value)

	payload, err := h.store.Load(context.Background(), before.Value)
	require.NoError(t, err)
	require.Nil(t, payload)

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.AddCookie(after)
	w = h.do(me)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":77}`, w.Body.String())
}

func TestCallbackErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"state mismatch", domainoauth.ErrCSRF, http.StatusBadRequest},
		{"missing code", domainoauth.ErrMissingCode, http.StatusBadRequest},
		{"rejected code", fmt.Errorf("exchange code: %w", domainoauth.ErrAuthentication), http.StatusUnauthorized},
		{"login required", domainoauth.ErrLoginRequired, http.StatusUnauthorized},
		{"already linked", domainoauth.ErrAlreadyLinked, http.StatusConflict},
		{"upstream down", fmt.Errorf("exchange code: %w", domainoauth.ErrNetwork), http.StatusServiceUnavailable},
		{"not configured", fmt.Errorf("resolve: %w", domain.ErrNotConfigured), http.StatusInternalServerError},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAuthHarness()
			h.login.callbackErr = tc.err

			w := h.do(httptest.NewRequest(http.MethodGet, "/auth/line/callback?code=c&state=s", nil))
			require.Equal(t, tc.status, w.Code)
			require.Contains(t, w.Body.String(), "error_description")
		})
	}
}

func TestCallbackFailurePersistsConsumedHandshake(t *testing.T) {
	h := newAuthHarness()
	start := h.do(httptest.NewRequest(http.MethodPost, "/auth/request_login", nil))
	cookie := sessionCookie(t, start)
	h.login.callbackErr = domainoauth.ErrCSRF

	req := httptest.NewRequest(http.MethodGet, "/auth/line/callback?code=c&state=forged", nil)
	req.AddCookie(cookie)
	w := h.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	payload, err := h.store.Load(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.NotContains(t, string(payload), "state-1")
}

func TestLogout(t *testing.T) {
	h := newAuthHarness()
	start := h.do(httptest.NewRequest(http.MethodPost, "/auth/request_login", nil))
	cookie := sessionCookie(t, start)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(cookie)
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true}`, w.Body.String())
	require.Equal(t, 1, h.login.logouts)
	require.Equal(t, -1, sessionCookie(t, w).MaxAge)

	w = h.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.Equal(t, http.StatusFound, w.Code)
}

func TestMeRequiresLogin(t *testing.T) {
	h := newAuthHarness()
	w := h.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func (h *authHarness) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	start := h.do(httptest.NewRequest(http.MethodPost, "/auth/request_login", nil))
	req := httptest.NewRequest(http.MethodGet, "/auth/line/callback?code=c&state=state-1", nil)
	req.AddCookie(sessionCookie(t, start))
	w := h.do(req)
	require.Equal(t, http.StatusFound, w.Code)
	return sessionCookie(t, w)
}

func TestRefreshRequiresLogin(t *testing.T) {
	h := newAuthHarness()
	w := h.do(httptest.NewRequest(http.MethodPost, "/auth/refresh", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, h.login.refreshed)
}

func TestRefreshReturnsExpiryWithoutTokens(t *testing.T) {
	h := newAuthHarness()
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookie)
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true,"scope":"profile openid","expires_at":"2030-01-02T03:04:05Z"}`, w.Body.String())
	require.NotContains(t, w.Body.String(), "new-access")
	require.Equal(t, []int64{77}, h.login.refreshed)
}

func TestRefreshErrorMapping(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("refresh token: %w", domainoauth.ErrAuthentication): http.StatusUnauthorized,
		fmt.Errorf("refresh token: %w", domainoauth.ErrNetwork):        http.StatusServiceUnavailable,
	}
	for err, status := range cases {
		h := newAuthHarness()
		cookie := h.signIn(t)
		h.login.refreshErr = err

		req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		req.AddCookie(cookie)
		w := h.do(req)
		require.Equal(t, status, w.Code, err.Error())
	}
}
