package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

var _ ContactRepository = (*PostgresContactRepo)(nil)

// PostgresContactRepo implements ContactRepository. Inserts keyed by an
// idempotency key are no-ops on replay.
type PostgresContactRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresContactRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresContactRepo {
	return &PostgresContactRepo{db: pool, node: node}
}

const contactColumns = `id, line_user_id, display_name, picture_url, status_message, is_active, followed_at, unfollowed_at, created_at, updated_at`

// UpsertFollow records a follow. Events may arrive out of order: a follow
// older than the last recorded unfollow updates the profile but leaves the
// contact inactive.
func (r *PostgresContactRepo) UpsertFollow(ctx context.Context, contact domain.LineContact) (domain.LineContact, error) {
	if contact.FollowedAt.IsZero() {
		contact.FollowedAt = time.Now().UTC()
	}
	row := r.db.QueryRow(ctx, `INSERT INTO line_contacts (id, line_user_id, display_name, picture_url, status_message, is_active, followed_at)
VALUES ($1, $2, $3, $4, $5, true, $6)
ON CONFLICT (line_user_id) DO UPDATE SET
    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), line_contacts.display_name),
    picture_url = COALESCE(NULLIF(EXCLUDED.picture_url, ''), line_contacts.picture_url),
    status_message = COALESCE(NULLIF(EXCLUDED.status_message, ''), line_contacts.status_message),
    is_active = CASE WHEN EXCLUDED.followed_at > COALESCE(line_contacts.unfollowed_at, '-infinity'::timestamptz)
        THEN true ELSE line_contacts.is_active END,
    unfollowed_at = CASE WHEN EXCLUDED.followed_at > COALESCE(line_contacts.unfollowed_at, '-infinity'::timestamptz)
        THEN NULL ELSE line_contacts.unfollowed_at END,
    followed_at = GREATEST(line_contacts.followed_at, EXCLUDED.followed_at),
    updated_at = now()
RETURNING `+contactColumns,
		r.node.Generate().Int64(),
		contact.LineUserID,
		contact.DisplayName,
		contact.PictureURL,
		contact.StatusMessage,
		contact.FollowedAt,
	)

	var out domain.LineContact
	if err := row.Scan(
		&out.ID,
		&out.LineUserID,
		&out.DisplayName,
		&out.PictureURL,
		&out.StatusMessage,
		&out.IsActive,
		&out.FollowedAt,
		&out.UnfollowedAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return domain.LineContact{}, fmt.Errorf("upsert contact: %w", err)
	}
	return out, nil
}

// MarkUnfollowed flags the contact inactive unless a newer follow is on
// record. An unfollow seen before its follow inserts an inactive row, so the
// late follow cannot reactivate the contact.
func (r *PostgresContactRepo) MarkUnfollowed(ctx context.Context, lineUserID string, at time.Time) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO line_contacts (id, line_user_id, is_active, followed_at, unfollowed_at)
VALUES ($1, $2, false, $3, $3)
ON CONFLICT (line_user_id) DO UPDATE SET
    is_active = CASE WHEN EXCLUDED.unfollowed_at >= line_contacts.followed_at
        THEN false ELSE line_contacts.is_active END,
    unfollowed_at = CASE WHEN EXCLUDED.unfollowed_at >= line_contacts.followed_at
        THEN GREATEST(line_contacts.unfollowed_at, EXCLUDED.unfollowed_at) ELSE line_contacts.unfollowed_at END,
    updated_at = now()`,
		r.node.Generate().Int64(), lineUserID, at); err != nil {
		return fmt.Errorf("mark unfollowed: %w", err)
	}
	return nil
}

func (r *PostgresContactRepo) InsertMessage(ctx context.Context, msg domain.LineMessage) (bool, error) {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode message metadata: %w", err)
	}
	tag, err := r.db.Exec(ctx, `INSERT INTO line_messages
(id, idempotency_key, line_user_id, source_type, message_id, message_type, content, metadata, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (idempotency_key) DO NOTHING`,
		r.node.Generate().Int64(),
		msg.IdempotencyKey,
		msg.LineUserID,
		msg.SourceType,
		msg.MessageID,
		msg.MessageType,
		msg.Content,
		metadata,
		msg.SentAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresContactRepo) InsertPostback(ctx context.Context, pb domain.LinePostback) (bool, error) {
	params, err := json.Marshal(pb.Params)
	if err != nil {
		return false, fmt.Errorf("encode postback params: %w", err)
	}
	tag, err := r.db.Exec(ctx, `INSERT INTO line_postbacks
(id, idempotency_key, line_user_id, data, params, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (idempotency_key) DO NOTHING`,
		r.node.Generate().Int64(),
		pb.IdempotencyKey,
		pb.LineUserID,
		pb.Data,
		params,
		pb.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert postback: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
