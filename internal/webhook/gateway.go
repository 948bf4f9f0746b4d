// Package webhook authenticates, parses and dispatches LINE Messaging
// webhook deliveries.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
	"github.com/losehrt/fhirlinebot-sub000/internal/credential"
	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/event"
)

// Result is the outcome of one delivery.
type Result int

const (
	ResultSuccess Result = iota
	ResultUnauthorized
	ResultBadRequest
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultUnauthorized:
		return "unauthorized"
	case ResultBadRequest:
		return "bad_request"
	default:
		return "failed"
	}
}

// CredentialResolver yields credential values for the global channel.
type CredentialResolver interface {
	Resolve(ctx context.Context, field credential.Field, orgID int64, requestBase string) (string, error)
}

// Gateway verifies and dispatches webhook deliveries.
type Gateway struct {
	creds      CredentialResolver
	client     line.MessagingClient
	dispatcher *Dispatcher
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewGateway(creds CredentialResolver, client line.MessagingClient, dispatcher *Dispatcher, logger *zap.Logger) *Gateway {
	return &Gateway{
		creds:      creds,
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otel.Tracer("github.com/losehrt/fhirlinebot-sub000/internal/webhook"),
	}
}

func (g *Gateway) log() *zap.Logger {
	if g.logger != nil {
		return g.logger
	}
	return zap.L()
}

// Handle processes one delivery. The body is not parsed unless the signature
// verifies. Event handler failures are logged and do not change the result.
func (g *Gateway) Handle(ctx context.Context, body []byte, signature string) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "webhook.Handle")
	defer span.End()

	secret, err := g.creds.Resolve(ctx, credential.FieldChannelSecret, 0, "")
	if err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			g.log().Error("webhook rejected: LINE channel secret is not configured; set LINE_LOGIN_CHANNEL_SECRET or a default credential row", zap.Error(err))
			span.SetStatus(codes.Error, "secret not configured")
			return ResultUnauthorized, fmt.Errorf("%w: %v", domain.ErrSignature, err)
		}
		g.log().Error("webhook credential lookup failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential lookup failed")
		return ResultFailed, err
	}

	if !Verify(body, signature, secret) {
		span.SetStatus(codes.Error, "invalid signature")
		return ResultUnauthorized, domain.ErrSignature
	}

	batch, err := event.ParseBatch(body)
	if err != nil {
		span.SetStatus(codes.Error, "invalid json")
		return ResultBadRequest, err
	}
	span.SetAttributes(attribute.Int("line.events", len(batch.Events)))

	token := cachedToken(func(ctx context.Context) (string, error) {
		return g.creds.Resolve(ctx, credential.FieldAccessToken, 0, "")
	})

	for _, ev := range batch.Events {
		meta := ev.Meta()
		kit := newToolkit(g.client, token, meta.ReplyToken)
		if err := g.dispatcher.Dispatch(ctx, ev, kit); err != nil {
			g.log().Warn("webhook event failed",
				zap.String("event_type", string(ev.Kind())),
				zap.String("webhook_event_id", meta.WebhookEventID),
				zap.Bool("redelivery", meta.Redelivery),
				zap.Error(err),
			)
		}
	}
	return ResultSuccess, nil
}
