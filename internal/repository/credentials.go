package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

var _ CredentialRepository = (*PostgresCredentialRepo)(nil)

// PostgresCredentialRepo implements CredentialRepository. Default changes run
// in one transaction that clears sibling defaults before flagging the target;
// the partial unique index on active defaults backs this up.
type PostgresCredentialRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresCredentialRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: pool, node: node}
}

const credentialColumns = `id, organization_id, channel_id, channel_secret, redirect_uri, access_token, is_default, is_active, created_at, updated_at`

const clearDefaultsSQL = `UPDATE line_credentials
SET is_default = false, updated_at = now()
WHERE organization_id IS NOT DISTINCT FROM $1 AND id <> $2 AND is_default`

func (r *PostgresCredentialRepo) GetActiveDefault(ctx context.Context, orgID int64) (*domain.TenantCredentials, error) {
	creds, err := scanCredentials(r.db.QueryRow(ctx, `SELECT `+credentialColumns+`
FROM line_credentials
WHERE organization_id IS NOT DISTINCT FROM $1 AND is_default AND is_active
LIMIT 1`, nullableOrg(orgID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active credentials: %w", err)
	}
	return &creds, nil
}

func (r *PostgresCredentialRepo) Get(ctx context.Context, id int64) (domain.TenantCredentials, error) {
	creds, err := scanCredentials(r.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM line_credentials WHERE id = $1`, id))
	if err != nil {
		return domain.TenantCredentials{}, fmt.Errorf("get credentials: %w", err)
	}
	return creds, nil
}

func (r *PostgresCredentialRepo) List(ctx context.Context, orgID int64) ([]domain.TenantCredentials, error) {
	rows, err := r.db.Query(ctx, `SELECT `+credentialColumns+`
FROM line_credentials
WHERE organization_id IS NOT DISTINCT FROM $1
ORDER BY created_at DESC`, nullableOrg(orgID))
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []domain.TenantCredentials
	for rows.Next() {
		creds, err := scanCredentials(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credentials: %w", err)
		}
		out = append(out, creds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

func (r *PostgresCredentialRepo) Create(ctx context.Context, creds domain.TenantCredentials) (domain.TenantCredentials, error) {
	if creds.ID == 0 {
		creds.ID = r.node.Generate().Int64()
	}
	// Only an active row can hold the default flag.
	creds.IsDefault = creds.IsDefault && creds.IsActive

	var created domain.TenantCredentials
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if creds.IsDefault {
			if _, err := tx.Exec(ctx, clearDefaultsSQL, nullableOrg(creds.OrgID), creds.ID); err != nil {
				return fmt.Errorf("clear defaults: %w", err)
			}
		}
		var err error
		created, err = scanCredentials(tx.QueryRow(ctx, `INSERT INTO line_credentials
(id, organization_id, channel_id, channel_secret, redirect_uri, access_token, is_default, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+credentialColumns,
			creds.ID,
			nullableOrg(creds.OrgID),
			creds.ChannelID,
			creds.ChannelSecret,
			creds.RedirectURI,
			creds.AccessToken,
			creds.IsDefault,
			creds.IsActive,
		))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.TenantCredentials{}, fmt.Errorf("create credentials: %w", ErrConflict)
		}
		return domain.TenantCredentials{}, fmt.Errorf("create credentials: %w", err)
	}
	return created, nil
}

func (r *PostgresCredentialRepo) Update(ctx context.Context, creds domain.TenantCredentials) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if creds.IsDefault && creds.IsActive {
			if _, err := tx.Exec(ctx, clearDefaultsSQL, nullableOrg(creds.OrgID), creds.ID); err != nil {
				return fmt.Errorf("clear defaults: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `UPDATE line_credentials
SET organization_id = $2, channel_id = $3, channel_secret = $4, redirect_uri = $5, access_token = $6,
    is_default = $7, is_active = $8, updated_at = now()
WHERE id = $1`,
			creds.ID,
			nullableOrg(creds.OrgID),
			creds.ChannelID,
			creds.ChannelSecret,
			creds.RedirectURI,
			creds.AccessToken,
			creds.IsDefault && creds.IsActive,
			creds.IsActive,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update credentials: %w", ErrConflict)
		}
		return fmt.Errorf("update credentials: %w", err)
	}
	return nil
}

// SetDefault marks the row as the active default of its partition and
// un-defaults every sibling in the same transaction.
func (r *PostgresCredentialRepo) SetDefault(ctx context.Context, id int64) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var orgID *int64
		if err := tx.QueryRow(ctx, `SELECT organization_id FROM line_credentials WHERE id = $1 FOR UPDATE`, id).Scan(&orgID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, clearDefaultsSQL, orgID, id); err != nil {
			return fmt.Errorf("clear defaults: %w", err)
		}
		_, err := tx.Exec(ctx, `UPDATE line_credentials SET is_default = true, is_active = true, updated_at = now() WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("set default credentials: %w", err)
	}
	return nil
}

func (r *PostgresCredentialRepo) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE line_credentials SET is_active = false, is_default = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate credentials: %w", pgx.ErrNoRows)
	}
	return nil
}

func (r *PostgresCredentialRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM line_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete credentials: %w", pgx.ErrNoRows)
	}
	return nil
}

func scanCredentials(row pgx.Row) (domain.TenantCredentials, error) {
	var (
		creds domain.TenantCredentials
		orgID *int64
	)
	if err := row.Scan(
		&creds.ID,
		&orgID,
		&creds.ChannelID,
		&creds.ChannelSecret,
		&creds.RedirectURI,
		&creds.AccessToken,
		&creds.IsDefault,
		&creds.IsActive,
		&creds.CreatedAt,
		&creds.UpdatedAt,
	); err != nil {
		return domain.TenantCredentials{}, err
	}
	if orgID != nil {
		creds.OrgID = *orgID
	}
	return creds, nil
}
