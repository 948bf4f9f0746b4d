package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/losehrt/fhirlinebot-sub000/internal/config"
	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/org"
)

type stubOrgRepo struct{}

func (stubOrgRepo) GetOrg(ctx context.Context, orgID int64) (domain.Org, error) {
	if orgID == 404 {
		return domain.Org{}, fmt.Errorf("get org: %w", pgx.ErrNoRows)
	}
	return domain.Org{ID: orgID, Slug: "clinic"}, nil
}

func (stubOrgRepo) GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error) {
	if slug != "clinic" {
		return domain.Org{}, fmt.Errorf("get org: %w", pgx.ErrNoRows)
	}
	return domain.Org{ID: 9, Slug: slug}, nil
}

func newOrgRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Org(org.NewResolver(stubOrgRepo{})))
	handler := func(c *gin.Context) {
		c.String(http.StatusOK, "%d", OrgID(c))
	}
	r.GET("/org", handler)
	r.POST("/org", handler)
	return r
}

func TestOrgMiddlewareResolvesHeaderAndParam(t *testing.T) {
	r := newOrgRouter()

	cases := []struct {
		name   string
		req    *http.Request
		expect string
	}{
		{"absent", httptest.NewRequest(http.MethodGet, "/org", nil), "0"},
		{"numeric header", withHeader(httptest.NewRequest(http.MethodGet, "/org", nil), OrgHeader, "12"), "12"},
		{"slug query", httptest.NewRequest(http.MethodGet, "/org?organization_id=clinic", nil), "9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, tc.req)
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, tc.expect, w.Body.String())
		})
	}
}

func TestOrgMiddlewareUnknownOrg(t *testing.T) {
	r := newOrgRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, withHeader(httptest.NewRequest(http.MethodGet, "/org", nil), OrgHeader, "404"))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "invalid_organization")
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(config.Config{
		CORSAllowedOrigins: []string{"https://app.example.com"},
		CORSAllowedMethods: []string{"GET", "POST"},
		CORSAllowedHeaders: []string{"Content-Type"},
	}))
	r.POST("/auth/request_login", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := withHeader(httptest.NewRequest(http.MethodOptions, "/auth/request_login", nil), "Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))

	w = httptest.NewRecorder()
	req = withHeader(httptest.NewRequest(http.MethodPost, "/auth/request_login", nil), "Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	r := gin.New()
	r.Use(limiter.Handler())
	r.GET("/auth/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/x", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/x", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "6", w.Header().Get("Retry-After"))

	now = now.Add(6 * time.Second)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/x", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNilRateLimiterPassesThrough(t *testing.T) {
	var limiter *RateLimiter
	require.Nil(t, NewRateLimiter(0))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limiter.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func withHeader(r *http.Request, key, value string) *http.Request {
	r.Header.Set(key, value)
	return r
}
