package webhook

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/event"
)

type commandFunc func(h *Handlers, ctx context.Context, ev *event.MessageEvent, kit Toolkit, args string) string

var commands = map[string]commandFunc{
	"/help":    (*Handlers).helpCommand,
	"/profile": (*Handlers).profileCommand,
	"/ping":    (*Handlers).pingCommand,
}

const helpText = `Available commands:
/help - show this message
/profile - show your LINE profile
/ping - check that the bot is alive
Anything else is echoed back.`

// command returns the reply text for a text message. Unknown commands and
// plain text are echoed.
func (h *Handlers) command(ctx context.Context, ev *event.MessageEvent, kit Toolkit, text string) string {
	name, args, ok := parseCommand(text)
	if ok {
		if fn, found := commands[name]; found {
			return fn(h, ctx, ev, kit, args)
		}
	}
	return fmt.Sprintf("You said: %s", text)
}

func parseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	name, args, _ = strings.Cut(text, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

func (h *Handlers) helpCommand(context.Context, *event.MessageEvent, Toolkit, string) string {
	return helpText
}

func (h *Handlers) pingCommand(context.Context, *event.MessageEvent, Toolkit, string) string {
	return "pong"
}

func (h *Handlers) profileCommand(ctx context.Context, ev *event.MessageEvent, kit Toolkit, _ string) string {
	userID := ev.Source.UserID
	if userID == "" {
		return "I can only look up profiles of individual users."
	}
	profile, err := kit.Profile(ctx, userID)
	if err != nil {
		h.log().Warn("profile command lookup failed", zap.String("line_user_id", userID), zap.Error(err))
		return "Sorry, I could not load your profile right now."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s", profile.DisplayName)
	if profile.StatusMessage != "" {
		fmt.Fprintf(&b, "\nStatus: %s", profile.StatusMessage)
	}
	return b.String()
}
