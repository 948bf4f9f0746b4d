package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apimiddleware "github.com/losehrt/fhirlinebot-sub000/internal/middleware"
)

// RequestLogger logs incoming HTTP requests with latency, org, and request ID metadata.
// The query string is omitted because callback URLs carry authorization codes.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.Request.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}

		if orgCtx, ok := apimiddleware.GetOrgContext(c); ok && orgCtx != nil {
			fields = append(fields, zap.Int64("org_id", orgCtx.Org.ID))
		}
		if userID, ok := c.Get(userIDKey); ok {
			if id, ok := userID.(int64); ok && id != 0 {
				fields = append(fields, zap.Int64("user_id", id))
			}
		}

		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}
