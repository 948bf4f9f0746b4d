package repository

import (
	"context"
	"time"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

// OrgRepository exposes org-level queries.
type OrgRepository interface {
	GetOrg(ctx context.Context, orgID int64) (domain.Org, error)
	GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error)
}

// UserRepository exposes persistence for local accounts.
type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	UpdateProfile(ctx context.Context, userID int64, name, avatarURL, statusMessage string) error
	UpdateTokens(ctx context.Context, userID int64, tokens domain.TokenSet) error
}

// IdentityLinkRepository persists the account <-> external identity association.
type IdentityLinkRepository interface {
	GetByExternalID(ctx context.Context, provider, externalID string) (domain.IdentityLink, error)
	GetByUserID(ctx context.Context, provider string, userID int64) (domain.IdentityLink, error)
	Create(ctx context.Context, link domain.IdentityLink) (domain.IdentityLink, error)
	Touch(ctx context.Context, linkID int64, at time.Time) error
}

// MembershipRepository manages organization membership.
type MembershipRepository interface {
	// Join adds the user to the organization. The first member becomes admin.
	Join(ctx context.Context, orgID, userID int64) (domain.Membership, error)
	Get(ctx context.Context, orgID, userID int64) (domain.Membership, error)
}

// CredentialRepository persists TenantCredentials rows.
type CredentialRepository interface {
	// GetActiveDefault returns nil, nil when the partition has no active default row.
	GetActiveDefault(ctx context.Context, orgID int64) (*domain.TenantCredentials, error)
	Get(ctx context.Context, id int64) (domain.TenantCredentials, error)
	List(ctx context.Context, orgID int64) ([]domain.TenantCredentials, error)
	Create(ctx context.Context, creds domain.TenantCredentials) (domain.TenantCredentials, error)
	Update(ctx context.Context, creds domain.TenantCredentials) error
	SetDefault(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// ContactRepository stores LINE follow records and inbound payloads.
type ContactRepository interface {
	UpsertFollow(ctx context.Context, contact domain.LineContact) (domain.LineContact, error)
	MarkUnfollowed(ctx context.Context, lineUserID string, at time.Time) error
	InsertMessage(ctx context.Context, msg domain.LineMessage) (bool, error)
	InsertPostback(ctx context.Context, pb domain.LinePostback) (bool, error)
}

// SessionStore persists browser session payloads keyed by an opaque id.
type SessionStore interface {
	Save(ctx context.Context, id string, payload []byte, ttl time.Duration) error
	// Load returns nil, nil when the session does not exist.
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
