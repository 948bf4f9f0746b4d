package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/task"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/event"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/response"
)

// Handlers implements the per-variant event behaviour.
type Handlers struct {
	queue    task.Queue
	strategy response.Strategy
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandlers(queue task.Queue, strategy response.Strategy, logger *zap.Logger) *Handlers {
	return &Handlers{queue: queue, strategy: strategy, logger: logger, now: time.Now}
}

func (h *Handlers) log() *zap.Logger {
	if h.logger != nil {
		return h.logger
	}
	return zap.L()
}

// Table returns the dispatch table.
func (h *Handlers) Table() map[event.Type]HandlerFunc {
	return map[event.Type]HandlerFunc{
		event.TypeMessage:      h.onMessage,
		event.TypeFollow:       h.onFollow,
		event.TypeUnfollow:     h.onUnfollow,
		event.TypePostback:     h.onPostback,
		event.TypeJoin:         h.onMembership,
		event.TypeLeave:        h.onMembership,
		event.TypeMemberJoined: ignore,
		event.TypeMemberLeft:   ignore,
		event.TypeUnknown:      h.onUnknown,
	}
}

func ignore(context.Context, event.Event, Toolkit) error { return nil }

func (h *Handlers) onMessage(ctx context.Context, ev event.Event, kit Toolkit) error {
	me, ok := ev.(*event.MessageEvent)
	if !ok {
		return fmt.Errorf("webhook: message handler got %T", ev)
	}

	payload := task.MessagePayload{
		LineUserID:  me.Source.UserID,
		SourceType:  me.Source.Type,
		MessageID:   me.Message.MessageID(),
		MessageType: string(me.Message.Kind()),
		Metadata:    messageMetadata(me.Message),
		SentAt:      h.eventTime(me.Meta()),
	}
	if text, ok := me.Message.(*event.TextMessage); ok {
		payload.Content = text.Text
	}
	h.enqueue(ctx, task.KindStoreMessage, messageKey(me), payload)

	text, ok := me.Message.(*event.TextMessage)
	if !ok {
		return nil
	}

	reply := h.command(ctx, me, kit, text.Text)
	return h.strategy.Respond(ctx, kit, me.Source.Target(), reply)
}

func (h *Handlers) onFollow(ctx context.Context, ev event.Event, kit Toolkit) error {
	meta := ev.Meta()
	userID := meta.Source.UserID

	payload := task.FollowPayload{LineUserID: userID, At: h.eventTime(meta)}
	if userID != "" {
		profile, err := kit.Profile(ctx, userID)
		if err != nil {
			h.log().Warn("follow profile lookup failed", zap.String("line_user_id", userID), zap.Error(err))
		} else if profile != nil {
			payload.DisplayName = profile.DisplayName
			payload.PictureURL = profile.PictureURL
			payload.StatusMessage = profile.StatusMessage
		}
	}
	h.enqueue(ctx, task.KindFollow, eventKey("follow", meta), payload)

	greeting := "Thanks for adding me as a friend!"
	if payload.DisplayName != "" {
		greeting = fmt.Sprintf("Hi %s, thanks for adding me as a friend!", payload.DisplayName)
	}
	return kit.Reply(ctx, line.NewText(greeting+" Send /help to see what I can do."))
}

func (h *Handlers) onUnfollow(ctx context.Context, ev event.Event, _ Toolkit) error {
	meta := ev.Meta()
	h.enqueue(ctx, task.KindUnfollow, eventKey("unfollow", meta), task.UnfollowPayload{
		LineUserID: meta.Source.UserID,
		At:         h.eventTime(meta),
	})
	return nil
}

func (h *Handlers) onPostback(ctx context.Context, ev event.Event, _ Toolkit) error {
	pe, ok := ev.(*event.PostbackEvent)
	if !ok {
		return fmt.Errorf("webhook: postback handler got %T", ev)
	}

	params := event.ParsePostbackData(pe.Data)
	for k, v := range pe.Params {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}

	h.enqueue(ctx, task.KindStorePostback, eventKey("postback", pe.Meta()), task.PostbackPayload{
		LineUserID: pe.Source.UserID,
		Data:       pe.Data,
		Params:     params,
		At:         h.eventTime(pe.Meta()),
	})
	return nil
}

func (h *Handlers) onMembership(_ context.Context, ev event.Event, _ Toolkit) error {
	meta := ev.Meta()
	h.log().Info("bot membership changed",
		zap.String("event_type", string(ev.Kind())),
		zap.String("source_type", meta.Source.Type),
		zap.String("target", meta.Source.Target()),
	)
	return nil
}

func (h *Handlers) onUnknown(_ context.Context, ev event.Event, _ Toolkit) error {
	h.log().Info("ignoring unsupported webhook event", zap.String("raw_type", ev.Meta().Type))
	return nil
}

// enqueue hands a task to the queue. Failures are logged and never fail the event.
func (h *Handlers) enqueue(ctx context.Context, kind task.Kind, key string, payload any) {
	t, err := task.New(kind, key, payload)
	if err == nil {
		err = h.queue.Enqueue(ctx, t)
	}
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrPersistence) {
		err = fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	h.log().Warn("deferred task not accepted",
		zap.String("kind", string(kind)),
		zap.String("key", key),
		zap.Error(err),
	)
}

func (h *Handlers) eventTime(meta *event.Header) time.Time {
	if !meta.Timestamp.IsZero() {
		return meta.Timestamp
	}
	return h.now().UTC()
}

func messageKey(me *event.MessageEvent) string {
	if id := me.Message.MessageID(); id != "" {
		return "message:" + id
	}
	return eventKey("message", me.Meta())
}

// eventKey derives an idempotency key from the webhook event id. An empty
// result lets task.New generate one.
func eventKey(prefix string, meta *event.Header) string {
	if meta.WebhookEventID == "" {
		return ""
	}
	return prefix + ":" + meta.WebhookEventID
}

func messageMetadata(msg event.Message) map[string]any {
	switch m := msg.(type) {
	case *event.TextMessage:
		if m.QuoteToken == "" {
			return nil
		}
		return map[string]any{"quote_token": m.QuoteToken}
	case *event.ImageMessage:
		return map[string]any{"content_provider": m.Provider}
	case *event.VideoMessage:
		return map[string]any{"duration_ms": m.Duration.Milliseconds(), "content_provider": m.Provider}
	case *event.AudioMessage:
		return map[string]any{"duration_ms": m.Duration.Milliseconds(), "content_provider": m.Provider}
	case *event.FileMessage:
		return map[string]any{"file_name": m.FileName, "file_size": m.FileSize}
	case *event.LocationMessage:
		return map[string]any{
			"title":     m.Title,
			"address":   m.Address,
			"latitude":  m.Latitude,
			"longitude": m.Longitude,
		}
	case *event.StickerMessage:
		meta := map[string]any{
			"package_id":    m.PackageID,
			"sticker_id":    m.StickerID,
			"resource_type": m.ResourceType,
		}
		if len(m.Keywords) > 0 {
			meta["keywords"] = m.Keywords
		}
		return meta
	case *event.UnknownMessage:
		return map[string]any{"type": m.Type}
	default:
		return nil
	}
}
