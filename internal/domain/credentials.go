package domain

import "time"

// TenantCredentials holds the LINE channel configuration for an organization.
// OrgID 0 is the global partition.
type TenantCredentials struct {
	ID            int64
	OrgID         int64
	ChannelID     string
	ChannelSecret string
	RedirectURI   string
	AccessToken   string
	IsDefault     bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
