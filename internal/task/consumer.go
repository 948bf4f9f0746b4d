package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer applies tasks read from Kafka. Offsets are committed after the
// task is applied or abandoned, giving at-least-once delivery.
type Consumer struct {
	reader  messageReader
	handler Handler
	policy  RetryPolicy
	logger  *zap.Logger
}

// NewConsumer creates a consumer-group reader for topic.
func NewConsumer(brokers []string, topic, groupID string, handler Handler, policy RetryPolicy, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return &Consumer{reader: reader, handler: handler, policy: policy, logger: logger}
}

func (c *Consumer) log() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	return zap.L()
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log().Warn("kafka fetch failed", zap.Error(err))
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log().Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var t Task
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		c.log().Error("discarding undecodable task",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	err := c.policy.Run(ctx, func(ctx context.Context) error {
		return c.handler.Apply(ctx, t)
	})
	if err != nil {
		c.log().Error("task abandoned",
			zap.String("kind", string(t.Kind)),
			zap.String("key", t.IdempotencyKey),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
