package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
)

// CredentialAdmin is the write surface of the credential store.
type CredentialAdmin interface {
	List(ctx context.Context, orgID int64) ([]domain.TenantCredentials, error)
	Get(ctx context.Context, id int64) (domain.TenantCredentials, error)
	Create(ctx context.Context, creds domain.TenantCredentials) (domain.TenantCredentials, error)
	Update(ctx context.Context, creds domain.TenantCredentials) error
	SetDefault(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// CredentialHandler manages stored LINE channel credentials.
type CredentialHandler struct {
	store  CredentialAdmin
	logger *zap.Logger
}

func NewCredentialHandler(store CredentialAdmin, logger *zap.Logger) *CredentialHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &CredentialHandler{store: store, logger: logger}
}

type credentialRequest struct {
	OrganizationID int64   `json:"organization_id"`
	ChannelID      string  `json:"channel_id"`
	ChannelSecret  string  `json:"channel_secret"`
	RedirectURI    string  `json:"redirect_uri"`
	AccessToken    *string `json:"access_token"`
	IsDefault      *bool   `json:"is_default"`
	IsActive       *bool   `json:"is_active"`
}

type credentialResponse struct {
	ID             string    `json:"id"`
	OrganizationID int64     `json:"organization_id,omitempty"`
	ChannelID      string    `json:"channel_id"`
	ChannelSecret  string    `json:"channel_secret"`
	RedirectURI    string    `json:"redirect_uri,omitempty"`
	HasAccessToken bool      `json:"has_access_token"`
	IsDefault      bool      `json:"is_default"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toCredentialResponse(creds domain.TenantCredentials) credentialResponse {
	return credentialResponse{
		ID:             strconv.FormatInt(creds.ID, 10),
		OrganizationID: creds.OrgID,
		ChannelID:      creds.ChannelID,
		ChannelSecret:  maskSecret(creds.ChannelSecret),
		RedirectURI:    creds.RedirectURI,
		HasAccessToken: creds.AccessToken != "",
		IsDefault:      creds.IsDefault,
		IsActive:       creds.IsActive,
		CreatedAt:      creds.CreatedAt,
		UpdatedAt:      creds.UpdatedAt,
	}
}

// List returns the rows of the partition named by ?organization_id (global when absent).
func (h *CredentialHandler) List(c *gin.Context) {
	var orgID int64
	if raw := strings.TrimSpace(c.Query("organization_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "organization_id must be numeric."})
			return
		}
		orgID = parsed
	}

	rows, err := h.store.List(c.Request.Context(), orgID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]credentialResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toCredentialResponse(row))
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// Create stores a new row. Rows are active and default unless stated otherwise.
func (h *CredentialHandler) Create(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid JSON body."})
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	req.ChannelSecret = strings.TrimSpace(req.ChannelSecret)
	if req.ChannelID == "" || req.ChannelSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "channel_id and channel_secret are required."})
		return
	}

	creds := domain.TenantCredentials{
		OrgID:         req.OrganizationID,
		ChannelID:     req.ChannelID,
		ChannelSecret: req.ChannelSecret,
		RedirectURI:   strings.TrimSpace(req.RedirectURI),
		IsDefault:     boolOr(req.IsDefault, true),
		IsActive:      boolOr(req.IsActive, true),
	}
	if req.AccessToken != nil {
		creds.AccessToken = strings.TrimSpace(*req.AccessToken)
	}

	created, err := h.store.Create(c.Request.Context(), creds)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("line credentials created",
		zap.Int64("credential_id", created.ID),
		zap.Int64("org_id", created.OrgID),
		zap.Bool("is_default", created.IsDefault),
	)
	c.JSON(http.StatusCreated, toCredentialResponse(created))
}

// Update merges the request into the stored row. Empty secret and token
// fields keep their stored values.
func (h *CredentialHandler) Update(c *gin.Context) {
	id, ok := credentialID(c)
	if !ok {
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid JSON body."})
		return
	}

	current, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if v := strings.TrimSpace(req.ChannelID); v != "" {
		current.ChannelID = v
	}
	if v := strings.TrimSpace(req.ChannelSecret); v != "" {
		current.ChannelSecret = v
	}
	if v := strings.TrimSpace(req.RedirectURI); v != "" {
		current.RedirectURI = v
	}
	if req.AccessToken != nil {
		current.AccessToken = strings.TrimSpace(*req.AccessToken)
	}
	current.IsDefault = boolOr(req.IsDefault, current.IsDefault)
	current.IsActive = boolOr(req.IsActive, current.IsActive)

	if err := h.store.Update(c.Request.Context(), current); err != nil {
		h.respondError(c, err)
		return
	}
	stored, err := h.store.Get(c.Request.Context(), current.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCredentialResponse(stored))
}

// SetDefault makes the row the default of its partition.
func (h *CredentialHandler) SetDefault(c *gin.Context) {
	h.mutate(c, "default", h.store.SetDefault)
}

// Deactivate disables the row.
func (h *CredentialHandler) Deactivate(c *gin.Context) {
	h.mutate(c, "deactivate", h.store.Deactivate)
}

// Delete removes the row.
func (h *CredentialHandler) Delete(c *gin.Context) {
	h.mutate(c, "delete", h.store.Delete)
}

func (h *CredentialHandler) mutate(c *gin.Context, action string, fn func(context.Context, int64) error) {
	id, ok := credentialID(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("line credentials changed", zap.String("action", action), zap.Int64("credential_id", id))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *CredentialHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Credential not found."})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "error_description": "Another default credential exists for this organization."})
	default:
		h.logger.Error("credential admin failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}

func credentialID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid credential id."})
		return 0, false
	}
	return id, true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
