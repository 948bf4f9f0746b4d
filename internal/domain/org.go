package domain

import "time"

// Org represents a logical organization (tenant).
type Org struct {
	ID        int64
	Name      string
	Slug      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is the membership role of an account inside an organization.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership grants an account a role in an organization.
type Membership struct {
	ID        int64
	OrgID     int64
	UserID    int64
	Role      Role
	Founder   bool
	CreatedAt time.Time
}
