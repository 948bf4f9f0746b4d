package org

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
)

// Context stores resolved org metadata used throughout the request lifecycle.
type Context struct {
	Org domain.Org
}

// ID returns the organization id, 0 for a nil context (global partition).
func (c *Context) ID() int64 {
	if c == nil {
		return 0
	}
	return c.Org.ID
}

// Resolver loads org metadata from repositories.
type Resolver struct {
	repo repository.OrgRepository
}

// NewResolver creates an org resolver.
func NewResolver(repo repository.OrgRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve loads an organization by numeric id or slug.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Context, error) {
	cleaned := strings.TrimSpace(ref)
	if cleaned == "" {
		return nil, fmt.Errorf("resolve org: empty reference")
	}

	if id, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		if id <= 0 {
			return nil, fmt.Errorf("resolve org: invalid id %d", id)
		}
		orgRow, err := r.repo.GetOrg(ctx, id)
		if err != nil {
			zap.L().Warn("failed to resolve org", zap.Int64("org_id", id), zap.Error(err))
			return nil, fmt.Errorf("resolve org: %w", err)
		}
		return &Context{Org: orgRow}, nil
	}

	return r.ResolveBySlug(ctx, cleaned)
}

// ResolveBySlug loads org information using the org slug.
func (r *Resolver) ResolveBySlug(ctx context.Context, slug string) (*Context, error) {
	cleaned := strings.ToLower(strings.TrimSpace(slug))
	if cleaned == "" {
		zap.L().Warn("org resolver received empty slug")
		return nil, fmt.Errorf("resolve org: empty slug")
	}

	orgRow, err := r.repo.GetOrgBySlug(ctx, cleaned)
	if err != nil {
		zap.L().Warn("failed to resolve org by slug", zap.String("slug", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve org by slug: %w", err)
	}

	zap.L().Debug("org context resolved", zap.String("slug", cleaned), zap.Int64("org_id", orgRow.ID))
	return &Context{Org: orgRow}, nil
}
