// Package task carries webhook side effects out of the request path. Tasks
// are applied by a local worker pool or published to Kafka for the worker
// process.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a task does when applied.
type Kind string

const (
	KindStoreMessage  Kind = "store_message"
	KindFollow        Kind = "follow"
	KindUnfollow      Kind = "unfollow"
	KindStorePostback Kind = "store_postback"
)

// Task is the unit of deferred work.
type Task struct {
	Kind           Kind            `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// Queue accepts tasks for asynchronous application.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

// Handler applies a single task.
type Handler interface {
	Apply(ctx context.Context, t Task) error
}

// MessagePayload is the payload of KindStoreMessage.
type MessagePayload struct {
	LineUserID  string         `json:"line_user_id"`
	SourceType  string         `json:"source_type"`
	MessageID   string         `json:"message_id"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SentAt      time.Time      `json:"sent_at"`
}

// FollowPayload is the payload of KindFollow.
type FollowPayload struct {
	LineUserID    string    `json:"line_user_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	PictureURL    string    `json:"picture_url,omitempty"`
	StatusMessage string    `json:"status_message,omitempty"`
	At            time.Time `json:"at"`
}

// UnfollowPayload is the payload of KindUnfollow.
type UnfollowPayload struct {
	LineUserID string    `json:"line_user_id"`
	At         time.Time `json:"at"`
}

// PostbackPayload is the payload of KindStorePostback.
type PostbackPayload struct {
	LineUserID string            `json:"line_user_id"`
	Data       string            `json:"data"`
	Params     map[string]string `json:"params,omitempty"`
	At         time.Time         `json:"at"`
}

// New encodes payload into a task. An empty key gets a random one.
func New(kind Kind, key string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if key == "" {
		key = string(kind) + ":" + uuid.NewString()
	}
	return Task{
		Kind:           kind,
		IdempotencyKey: key,
		Payload:        raw,
		EnqueuedAt:     time.Now().UTC(),
	}, nil
}

// Decode unmarshals the task payload into out.
func (t Task) Decode(out any) error {
	if err := json.Unmarshal(t.Payload, out); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}
