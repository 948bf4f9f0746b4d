package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes tasks to a topic consumed by the worker process.
type KafkaQueue struct {
	writer       messageWriter
	writeTimeout time.Duration
}

var _ Queue = (*KafkaQueue)(nil)

// NewKafkaQueue creates a producer for topic. Call Close when shutting down.
func NewKafkaQueue(brokers []string, topic string) (*KafkaQueue, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka queue: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaQueue{writer: writer, writeTimeout: 5 * time.Second}, nil
}

// Enqueue writes the task keyed by its idempotency key so redeliveries of the
// same event land on the same partition.
func (q *KafkaQueue) Enqueue(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: encode task: %v", domain.ErrPersistence, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, q.writeTimeout)
	defer cancel()
	if err := q.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(t.IdempotencyKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(t.Kind)},
		},
	}); err != nil {
		return fmt.Errorf("%w: kafka write: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (q *KafkaQueue) Close() error {
	if q == nil || q.writer == nil {
		return nil
	}
	return q.writer.Close()
}
