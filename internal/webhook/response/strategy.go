// Package response decides how the bot answers an inbound text message.
package response

import (
	"context"
	"errors"
	"fmt"

	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
)

const (
	ModeReply     = "reply"
	ModeReplyFlex = "reply_flex"
)

// Sender is the subset of the webhook toolkit a strategy needs.
type Sender interface {
	Reply(ctx context.Context, messages ...line.Message) error
	Push(ctx context.Context, to string, messages ...line.Message) error
}

// Strategy sends text to the author of an event.
type Strategy interface {
	Respond(ctx context.Context, sender Sender, to, text string) error
}

// New returns the strategy registered under mode.
func New(mode string) (Strategy, error) {
	switch mode {
	case "", ModeReply:
		return ReplyOnly{}, nil
	case ModeReplyFlex:
		return ReplyWithFlex{}, nil
	default:
		return nil, fmt.Errorf("response: unknown mode %q", mode)
	}
}

// ReplyOnly answers with a single text reply.
type ReplyOnly struct{}

func (ReplyOnly) Respond(ctx context.Context, sender Sender, _ string, text string) error {
	return sender.Reply(ctx, line.NewText(text))
}

// ReplyWithFlex replies with text and pushes a flex card to the same target.
// Both sends are attempted; a failed push does not undo the reply.
type ReplyWithFlex struct{}

func (ReplyWithFlex) Respond(ctx context.Context, sender Sender, to, text string) error {
	replyErr := sender.Reply(ctx, line.NewText(text))
	if replyErr != nil {
		replyErr = fmt.Errorf("reply: %w", replyErr)
	}

	var pushErr error
	if to == "" {
		pushErr = errors.New("push: event has no target")
	} else if err := sender.Push(ctx, to, Card(text)); err != nil {
		pushErr = fmt.Errorf("push: %w", err)
	}

	return errors.Join(replyErr, pushErr)
}
