package webhook

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/losehrt/fhirlinebot-sub000/internal/adapter/line"
	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/response"
)

// ErrReplyUnavailable is returned when an event has no reply token or it was already used.
var ErrReplyUnavailable = errors.New("webhook: reply token unavailable")

// Toolkit is what a handler may do in response to an event.
type Toolkit interface {
	// Reply answers with the event's reply token. It succeeds at most once.
	Reply(ctx context.Context, messages ...line.Message) error
	Push(ctx context.Context, to string, messages ...line.Message) error
	Profile(ctx context.Context, userID string) (*domain.LineProfile, error)
}

var _ response.Sender = (Toolkit)(nil)

// tokenFunc yields the channel access token for outbound calls.
type tokenFunc func(ctx context.Context) (string, error)

type lineToolkit struct {
	client     line.MessagingClient
	token      tokenFunc
	replyToken string
	replied    atomic.Bool
}

func newToolkit(client line.MessagingClient, token tokenFunc, replyToken string) *lineToolkit {
	return &lineToolkit{client: client, token: token, replyToken: replyToken}
}

func (k *lineToolkit) Reply(ctx context.Context, messages ...line.Message) error {
	if k.replyToken == "" || !k.replied.CompareAndSwap(false, true) {
		return ErrReplyUnavailable
	}
	token, err := k.token(ctx)
	if err != nil {
		return err
	}
	return k.client.Reply(ctx, token, k.replyToken, messages...)
}

func (k *lineToolkit) Push(ctx context.Context, to string, messages ...line.Message) error {
	token, err := k.token(ctx)
	if err != nil {
		return err
	}
	return k.client.Push(ctx, token, to, messages...)
}

func (k *lineToolkit) Profile(ctx context.Context, userID string) (*domain.LineProfile, error) {
	token, err := k.token(ctx)
	if err != nil {
		return nil, err
	}
	return k.client.Profile(ctx, token, userID)
}

// cachedToken resolves the access token once per delivery.
func cachedToken(resolve tokenFunc) tokenFunc {
	var (
		mu    sync.Mutex
		token string
	)
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" {
			return token, nil
		}
		v, err := resolve(ctx)
		if err != nil {
			return "", err
		}
		token = v
		return token, nil
	}
}
