package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/webhook"
)

// DefaultMaxWebhookBytes bounds a delivery body when no limit is configured.
const DefaultMaxWebhookBytes = 1 << 20

// WebhookGateway processes one verified delivery.
type WebhookGateway interface {
	Handle(ctx context.Context, body []byte, signature string) (webhook.Result, error)
}

// WebhookHandler exposes the LINE Messaging webhook endpoint.
type WebhookHandler struct {
	gateway  WebhookGateway
	maxBytes int64
	logger   *zap.Logger
}

func NewWebhookHandler(gateway WebhookGateway, maxBytes int64, logger *zap.Logger) *WebhookHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxWebhookBytes
	}
	if logger == nil {
		logger = zap.L()
	}
	return &WebhookHandler{gateway: gateway, maxBytes: maxBytes, logger: logger}
}

// Receive handles POST deliveries from the LINE platform.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		h.logger.Warn("read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	result, err := h.gateway.Handle(c.Request.Context(), body, c.GetHeader(webhook.SignatureHeader))
	switch result {
	case webhook.ResultSuccess:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case webhook.ResultUnauthorized:
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case webhook.ResultBadRequest:
		h.logger.Warn("webhook payload rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
	default:
		h.logger.Error("webhook processing failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Failed to process webhook"})
	}
}

// Verify answers the reachability check the LINE console sends.
func (h *WebhookHandler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}
