package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/config"
	"github.com/losehrt/fhirlinebot-sub000/internal/http/handler"
	httpmiddleware "github.com/losehrt/fhirlinebot-sub000/internal/http/middleware"
	"github.com/losehrt/fhirlinebot-sub000/internal/middleware"
	"github.com/losehrt/fhirlinebot-sub000/internal/org"
	"github.com/losehrt/fhirlinebot-sub000/internal/session"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Auth        *handler.AuthHandler
	Webhook     *handler.WebhookHandler
	Credentials *handler.CredentialHandler
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, h Handlers, sessions *session.Manager, resolver *org.Resolver, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// LINE platform traffic: no session, CORS or org resolution.
	webhooks := r.Group("/webhooks")
	{
		webhooks.GET("/line", h.Webhook.Verify)
		webhooks.POST("/line", h.Webhook.Receive)
	}

	authGroup := r.Group("/auth")
	authGroup.Use(middleware.CORS(cfg))
	if rateLimiter != nil {
		authGroup.Use(rateLimiter.Handler())
	}
	authGroup.Use(middleware.Org(resolver), httpmiddleware.Session(sessions, logger))
	{
		authGroup.POST("/request_login", h.Auth.RequestLogin)
		authGroup.GET("/line/callback", h.Auth.Callback)
		authGroup.POST("/logout", h.Auth.Logout)
		authGroup.GET("/me", h.Auth.Me)
		authGroup.POST("/refresh", h.Auth.Refresh)
	}

	if h.Credentials != nil {
		admin := r.Group("/admin", httpmiddleware.AdminToken(cfg.AdminAPIToken))
		{
			admin.GET("/line_credentials", h.Credentials.List)
			admin.POST("/line_credentials", h.Credentials.Create)
			admin.PUT("/line_credentials/:id", h.Credentials.Update)
			admin.POST("/line_credentials/:id/default", h.Credentials.SetDefault)
			admin.POST("/line_credentials/:id/deactivate", h.Credentials.Deactivate)
			admin.DELETE("/line_credentials/:id", h.Credentials.Delete)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
