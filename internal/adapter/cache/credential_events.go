package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CredentialEvents fans credential cache invalidations out to every replica
// over a Redis pub/sub channel.
type CredentialEvents struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewCredentialEvents constructs the publisher/subscriber pair for channel.
func NewCredentialEvents(client redis.UniversalClient, channel string, logger *zap.Logger) *CredentialEvents {
	return &CredentialEvents{client: client, channel: channel, logger: logger}
}

func (e *CredentialEvents) log() *zap.Logger {
	if e.logger != nil {
		return e.logger
	}
	return zap.L()
}

// Broadcast publishes an invalidation notice.
func (e *CredentialEvents) Broadcast(ctx context.Context) error {
	if err := e.client.Publish(ctx, e.channel, "invalidate").Err(); err != nil {
		return fmt.Errorf("publish credential invalidation: %w", err)
	}
	return nil
}

// Listen calls onInvalidate for every notice until ctx is cancelled.
func (e *CredentialEvents) Listen(ctx context.Context, onInvalidate func()) error {
	sub := e.client.Subscribe(ctx, e.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", e.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e.log().Debug("credential invalidation received", zap.String("channel", msg.Channel))
			onInvalidate()
		}
	}
}
