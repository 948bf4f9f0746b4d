package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/session"
)

const (
	sessionKey = "session"
	userIDKey  = "user_id"
)

// Session loads the browser session before the handler runs. Handlers that
// change it call Manager.Save themselves before writing the response.
func Session(manager *session.Manager, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	return func(c *gin.Context) {
		sess, err := manager.Load(c.Request.Context(), c.Request)
		if err != nil {
			logger.Error("load session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server_error", "error_description": "Session store unavailable."})
			return
		}
		c.Set(sessionKey, sess)
		if sess.Data.UserID != 0 {
			c.Set(userIDKey, sess.Data.UserID)
		}
		c.Next()
	}
}

// GetSession returns the session loaded by Session.
func GetSession(c *gin.Context) (*session.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := value.(*session.Session)
	return sess, ok && sess != nil
}
