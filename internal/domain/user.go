package domain

import "time"

// User represents a local account. Accounts created through LINE Login carry
// an unusable random password hash.
type User struct {
	ID            int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	Name          string
	AvatarURL     string
	StatusMessage string
	Status        string
	Tokens        TokenSet
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TokenSet is the LINE token set owned by a local account. OrgID is the
// organization whose LINE channel issued it (0 = global channel).
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	OrgID        int64
}

// Invalidated returns a cleared token set expiring at now.
func (t TokenSet) Invalidated(now time.Time) TokenSet {
	return TokenSet{ExpiresAt: now, Scope: t.Scope, OrgID: t.OrgID}
}

// IdentityLink associates a local account with an external identity.
type IdentityLink struct {
	ID         int64
	UserID     int64
	Provider   string
	ExternalID string
	LastLogin  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProviderLINE is the provider key used for LINE identity links.
const ProviderLINE = "line"
