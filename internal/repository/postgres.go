package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

// Compile-time interface assertions.
var (
	_ OrgRepository          = (*PostgresOrgRepo)(nil)
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ IdentityLinkRepository = (*PostgresIdentityLinkRepo)(nil)
	_ MembershipRepository   = (*PostgresMembershipRepo)(nil)
)

// ErrConflict wraps unique-constraint violations.
var ErrConflict = errors.New("repository: conflict")

// PostgresOrgRepo implements OrgRepository.
type PostgresOrgRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOrgRepo(pool *pgxpool.Pool) *PostgresOrgRepo {
	return &PostgresOrgRepo{db: pool}
}

const selectOrgSQL = `SELECT id, name, slug, status, created_at, updated_at FROM organizations`

func (r *PostgresOrgRepo) GetOrg(ctx context.Context, orgID int64) (domain.Org, error) {
	org, err := scanOrg(r.db.QueryRow(ctx, selectOrgSQL+` WHERE id = $1`, orgID))
	if err != nil {
		return domain.Org{}, fmt.Errorf("get org: %w", err)
	}
	return org, nil
}

func (r *PostgresOrgRepo) GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error) {
	org, err := scanOrg(r.db.QueryRow(ctx, selectOrgSQL+` WHERE slug = $1`, strings.ToLower(slug)))
	if err != nil {
		return domain.Org{}, fmt.Errorf("get org by slug: %w", err)
	}
	return org, nil
}

func scanOrg(row pgx.Row) (domain.Org, error) {
	var org domain.Org
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Status, &org.CreatedAt, &org.UpdatedAt)
	return org, err
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresUserRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool, node: node}
}

const userColumns = `id, email, email_verified, password_hash, name, avatar_url, status_message, status,
line_access_token, line_refresh_token, line_token_expires_at, line_token_scope, line_token_org_id, created_at, updated_at`

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO users (id, email, email_verified, password_hash, name, avatar_url, status_message, status,
line_access_token, line_refresh_token, line_token_expires_at, line_token_scope, line_token_org_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if user.ID == 0 {
		user.ID = r.node.Generate().Int64()
	}
	if user.Status == "" {
		user.Status = "ACTIVE"
	}
	created, err := scanUser(r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		strings.ToLower(user.Email),
		user.EmailVerified,
		user.PasswordHash,
		user.Name,
		user.AvatarURL,
		user.StatusMessage,
		user.Status,
		user.Tokens.AccessToken,
		user.Tokens.RefreshToken,
		nullableTime(user.Tokens.ExpiresAt),
		user.Tokens.Scope,
		user.Tokens.OrgID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, fmt.Errorf("create user: %w", ErrConflict)
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, userID int64, name, avatarURL, statusMessage string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET name = $2, avatar_url = $3, status_message = $4, updated_at = now() WHERE id = $1`,
		userID, name, avatarURL, statusMessage)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user profile: %w", pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateTokens(ctx context.Context, userID int64, tokens domain.TokenSet) error {
	tag, err := r.db.Exec(ctx, `UPDATE users
SET line_access_token = $2, line_refresh_token = $3, line_token_expires_at = $4, line_token_scope = $5,
    line_token_org_id = $6, updated_at = now()
WHERE id = $1`,
		userID, tokens.AccessToken, tokens.RefreshToken, nullableTime(tokens.ExpiresAt), tokens.Scope, tokens.OrgID)
	if err != nil {
		return fmt.Errorf("update user tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user tokens: %w", pgx.ErrNoRows)
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user      domain.User
		expiresAt *time.Time
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerified,
		&user.PasswordHash,
		&user.Name,
		&user.AvatarURL,
		&user.StatusMessage,
		&user.Status,
		&user.Tokens.AccessToken,
		&user.Tokens.RefreshToken,
		&expiresAt,
		&user.Tokens.Scope,
		&user.Tokens.OrgID,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	if expiresAt != nil {
		user.Tokens.ExpiresAt = *expiresAt
	}
	return user, nil
}

// PostgresIdentityLinkRepo implements IdentityLinkRepository.
type PostgresIdentityLinkRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresIdentityLinkRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresIdentityLinkRepo {
	return &PostgresIdentityLinkRepo{db: pool, node: node}
}

const linkColumns = `id, user_id, provider, external_id, last_login_at, created_at, updated_at`

func (r *PostgresIdentityLinkRepo) GetByExternalID(ctx context.Context, provider, externalID string) (domain.IdentityLink, error) {
	link, err := scanLink(r.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM identity_links WHERE provider = $1 AND external_id = $2`, provider, externalID))
	if err != nil {
		return domain.IdentityLink{}, fmt.Errorf("get identity link: %w", err)
	}
	return link, nil
}

func (r *PostgresIdentityLinkRepo) GetByUserID(ctx context.Context, provider string, userID int64) (domain.IdentityLink, error) {
	link, err := scanLink(r.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM identity_links WHERE provider = $1 AND user_id = $2`, provider, userID))
	if err != nil {
		return domain.IdentityLink{}, fmt.Errorf("get identity link by user: %w", err)
	}
	return link, nil
}

func (r *PostgresIdentityLinkRepo) Create(ctx context.Context, link domain.IdentityLink) (domain.IdentityLink, error) {
	if link.ID == 0 {
		link.ID = r.node.Generate().Int64()
	}
	if link.LastLogin.IsZero() {
		link.LastLogin = time.Now().UTC()
	}
	created, err := scanLink(r.db.QueryRow(ctx, `INSERT INTO identity_links (id, user_id, provider, external_id, last_login_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+linkColumns, link.ID, link.UserID, link.Provider, link.ExternalID, link.LastLogin))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.IdentityLink{}, fmt.Errorf("create identity link: %w", ErrConflict)
		}
		return domain.IdentityLink{}, fmt.Errorf("create identity link: %w", err)
	}
	return created, nil
}

func (r *PostgresIdentityLinkRepo) Touch(ctx context.Context, linkID int64, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE identity_links SET last_login_at = $2, updated_at = now() WHERE id = $1`, linkID, at); err != nil {
		return fmt.Errorf("touch identity link: %w", err)
	}
	return nil
}

func scanLink(row pgx.Row) (domain.IdentityLink, error) {
	var link domain.IdentityLink
	err := row.Scan(&link.ID, &link.UserID, &link.Provider, &link.ExternalID, &link.LastLogin, &link.CreatedAt, &link.UpdatedAt)
	return link, err
}

// PostgresMembershipRepo implements MembershipRepository.
type PostgresMembershipRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresMembershipRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: pool, node: node}
}

const membershipColumns = `id, organization_id, user_id, role, founder, created_at`

// Join adds the user to the organization inside one transaction. When the
// organization has no members the insert claims the founder slot, which a
// partial unique index limits to one row; the loser of a concurrent race
// falls through to a member insert.
func (r *PostgresMembershipRepo) Join(ctx context.Context, orgID, userID int64) (domain.Membership, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("begin join: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanMembership(tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE organization_id = $1 AND user_id = $2`, orgID, userID))
	if err == nil {
		return existing, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Membership{}, fmt.Errorf("load membership: %w", err)
	}

	var members int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM memberships WHERE organization_id = $1`, orgID).Scan(&members); err != nil {
		return domain.Membership{}, fmt.Errorf("count members: %w", err)
	}

	if members == 0 {
		founder, err := scanMembership(tx.QueryRow(ctx, `INSERT INTO memberships (id, organization_id, user_id, role, founder)
VALUES ($1, $2, $3, $4, true)
ON CONFLICT DO NOTHING
RETURNING `+membershipColumns, r.node.Generate().Int64(), orgID, userID, string(domain.RoleAdmin)))
		switch {
		case err == nil:
			if err := tx.Commit(ctx); err != nil {
				return domain.Membership{}, fmt.Errorf("commit join: %w", err)
			}
			return founder, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return domain.Membership{}, fmt.Errorf("insert founder: %w", err)
		}
	}

	member, err := scanMembership(tx.QueryRow(ctx, `INSERT INTO memberships (id, organization_id, user_id, role, founder)
VALUES ($1, $2, $3, $4, false)
ON CONFLICT (organization_id, user_id) DO NOTHING
RETURNING `+membershipColumns, r.node.Generate().Int64(), orgID, userID, string(domain.RoleMember)))
	if errors.Is(err, pgx.ErrNoRows) {
		member, err = scanMembership(tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE organization_id = $1 AND user_id = $2`, orgID, userID))
	}
	if err != nil {
		return domain.Membership{}, fmt.Errorf("insert member: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Membership{}, fmt.Errorf("commit join: %w", err)
	}
	return member, nil
}

func (r *PostgresMembershipRepo) Get(ctx context.Context, orgID, userID int64) (domain.Membership, error) {
	m, err := scanMembership(r.db.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE organization_id = $1 AND user_id = $2`, orgID, userID))
	if err != nil {
		return domain.Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func scanMembership(row pgx.Row) (domain.Membership, error) {
	var (
		m    domain.Membership
		role string
	)
	if err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &role, &m.Founder, &m.CreatedAt); err != nil {
		return domain.Membership{}, err
	}
	m.Role = domain.Role(role)
	return m, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableOrg(orgID int64) *int64 {
	if orgID == 0 {
		return nil
	}
	return &orgID
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
