package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	domainoauth "github.com/losehrt/fhirlinebot-sub000/internal/domain/oauth"
	"github.com/losehrt/fhirlinebot-sub000/internal/http/middleware"
	apimiddleware "github.com/losehrt/fhirlinebot-sub000/internal/middleware"
	authsvc "github.com/losehrt/fhirlinebot-sub000/internal/service/auth"
	"github.com/losehrt/fhirlinebot-sub000/internal/session"
)

// AuthHandler serves the LINE Login browser endpoints.
type AuthHandler struct {
	Login    authsvc.LoginService
	Sessions *session.Manager
	Logger   *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(login authsvc.LoginService, sessions *session.Manager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Login: login, Sessions: sessions, Logger: logger}
}

func (h *AuthHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}

// RequestLogin starts the handshake and sends the browser to LINE.
func (h *AuthHandler) RequestLogin(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Session not loaded."})
		return
	}

	var scopes []string
	if scopeParam := strings.TrimSpace(c.Query("scope")); scopeParam != "" {
		scopes = strings.Fields(scopeParam)
	}
	intent := c.PostForm("intent")
	if intent == "" {
		intent = c.Query("intent")
	}

	output, err := h.Login.StartLogin(c.Request.Context(), &sess.Data, authsvc.StartLoginInput{
		OrgID:       apimiddleware.OrgID(c),
		Intent:      domainoauth.ParseIntent(intent),
		RequestBase: requestBase(c.Request),
		Scopes:      scopes,
	})
	if err != nil {
		h.respondLoginError(c, err)
		return
	}
	if err := h.Sessions.Save(c.Request.Context(), c.Writer, sess); err != nil {
		h.log().Error("save session", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server_error", "error_description": "Session store unavailable."})
		return
	}

	if wantsJSON(c.Request) {
		c.JSON(http.StatusOK, gin.H{"authorization_url": output.AuthorizationURL})
		return
	}
	c.Redirect(http.StatusFound, output.AuthorizationURL)
}

// Callback completes the handshake and signs the browser in.
func (h *AuthHandler) Callback(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Session not loaded."})
		return
	}

	hadHandshake := sess.Data.Handshake != nil
	result, err := h.Login.HandleCallback(c.Request.Context(), &sess.Data, authsvc.CallbackInput{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
		RequestBase:      requestBase(c.Request),
	})
	if err != nil {
		// Persist the consumed handshake so the state cannot be replayed.
		if hadHandshake {
			if saveErr := h.Sessions.Save(c.Request.Context(), c.Writer, sess); saveErr != nil {
				h.log().Warn("save session after failed callback", zap.Error(saveErr))
			}
		}
		h.respondLoginError(c, err)
		return
	}

	sess.Renew()
	if err := h.Sessions.Save(c.Request.Context(), c.Writer, sess); err != nil {
		h.log().Error("save session", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server_error", "error_description": "Session store unavailable."})
		return
	}
	c.Set("user_id", result.User.ID)
	c.Redirect(http.StatusFound, "/")
}

// Logout ends the session and invalidates the stored LINE tokens.
func (h *AuthHandler) Logout(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Session not loaded."})
		return
	}

	if err := h.Login.Logout(c.Request.Context(), &sess.Data); err != nil {
		h.log().Warn("logout token invalidation failed", zap.Error(err))
	}
	if err := h.Sessions.Destroy(c.Request.Context(), c.Writer, sess); err != nil {
		h.log().Error("destroy session", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server_error", "error_description": "Session store unavailable."})
		return
	}

	if wantsJSON(c.Request) {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// Me reports the signed-in account id, if any.
func (h *AuthHandler) Me(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok || sess.Data.UserID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Not signed in."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": sess.Data.UserID})
}

// Refresh renews the signed-in account's LINE token set. Tokens are never
// returned to the browser; only the new expiry and scope are.
func (h *AuthHandler) Refresh(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok || sess.Data.UserID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Not signed in."})
		return
	}

	tokens, err := h.Login.RefreshTokens(c.Request.Context(), sess.Data.UserID)
	if err != nil {
		h.respondLoginError(c, err)
		return
	}

	resp := gin.H{"success": true, "scope": tokens.Scope}
	if !tokens.ExpiresAt.IsZero() {
		resp["expires_at"] = tokens.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) respondLoginError(c *gin.Context, err error) {
	logger := h.log()
	switch {
	case errors.Is(err, domainoauth.ErrCSRF):
		logger.Warn("line login state mismatch", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "error_description": "Login session expired or invalid. Please try again."})
	case errors.Is(err, domainoauth.ErrMissingCode):
		logger.Warn("line login callback without code", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Authorization code is missing."})
	case errors.Is(err, domainoauth.ErrLoginRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required", "error_description": "Sign in before linking a LINE account."})
	case errors.Is(err, domainoauth.ErrAlreadyLinked):
		logger.Info("line identity already linked", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "already_linked", "error_description": "This LINE account is already linked."})
	case errors.Is(err, domainoauth.ErrNetwork):
		logger.Error("line login upstream unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "LINE is unreachable. Please try again later."})
	case errors.Is(err, domainoauth.ErrAuthentication):
		logger.Warn("line login authentication failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed", "error_description": "LINE authentication failed."})
	case errors.Is(err, domain.ErrNotConfigured):
		logger.Error("LINE Login credentials are not configured; set LINE_LOGIN_CHANNEL_ID and LINE_LOGIN_CHANNEL_SECRET or a default credential row", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "LINE Login is not configured."})
	default:
		logger.Error("line login failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "application/json")
}

// requestBase keeps the port so local redirect URIs stay reachable.
func requestBase(r *http.Request) string {
	return schemeOnly(r) + "://" + r.Host
}

func schemeOnly(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme
}
