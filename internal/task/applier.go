package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/repository"
)

// Applier writes tasks through the contact repository. Every write is
// idempotent so redelivered tasks are harmless.
type Applier struct {
	contacts repository.ContactRepository
	logger   *zap.Logger
}

var _ Handler = (*Applier)(nil)

func NewApplier(contacts repository.ContactRepository, logger *zap.Logger) *Applier {
	return &Applier{contacts: contacts, logger: logger}
}

func (a *Applier) log() *zap.Logger {
	if a.logger != nil {
		return a.logger
	}
	return zap.L()
}

func (a *Applier) Apply(ctx context.Context, t Task) error {
	switch t.Kind {
	case KindStoreMessage:
		var p MessagePayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		inserted, err := a.contacts.InsertMessage(ctx, domain.LineMessage{
			IdempotencyKey: t.IdempotencyKey,
			LineUserID:     p.LineUserID,
			SourceType:     p.SourceType,
			MessageID:      p.MessageID,
			MessageType:    p.MessageType,
			Content:        p.Content,
			Metadata:       p.Metadata,
			SentAt:         p.SentAt,
		})
		if err != nil {
			return err
		}
		if !inserted {
			a.log().Debug("message already stored", zap.String("key", t.IdempotencyKey))
		}
		return nil

	case KindFollow:
		var p FollowPayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		_, err := a.contacts.UpsertFollow(ctx, domain.LineContact{
			LineUserID:    p.LineUserID,
			DisplayName:   p.DisplayName,
			PictureURL:    p.PictureURL,
			StatusMessage: p.StatusMessage,
			FollowedAt:    p.At,
		})
		return err

	case KindUnfollow:
		var p UnfollowPayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		return a.contacts.MarkUnfollowed(ctx, p.LineUserID, p.At)

	case KindStorePostback:
		var p PostbackPayload
		if err := t.Decode(&p); err != nil {
			return err
		}
		_, err := a.contacts.InsertPostback(ctx, domain.LinePostback{
			IdempotencyKey: t.IdempotencyKey,
			LineUserID:     p.LineUserID,
			Data:           p.Data,
			Params:         p.Params,
			ReceivedAt:     p.At,
		})
		return err

	default:
		return Permanent(fmt.Errorf("unknown task kind %q", t.Kind))
	}
}
