package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaQueueKeysByIdempotencyKey(t *testing.T) {
	w := &fakeWriter{}
	q := &KafkaQueue{writer: w, writeTimeout: time.Second}

	tk := mustTask(t, KindStoreMessage, "message:42", MessagePayload{LineUserID: "U1", MessageID: "42"})
	require.NoError(t, q.Enqueue(context.Background(), tk))

	require.Len(t, w.msgs, 1)
	require.Equal(t, "message:42", string(w.msgs[0].Key))

	var decoded Task
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, KindStoreMessage, decoded.Kind)
	require.Equal(t, "message:42", decoded.IdempotencyKey)
}

func TestKafkaQueueWriteFailureIsPersistenceError(t *testing.T) {
	q := &KafkaQueue{writer: &fakeWriter{err: errors.New("no brokers")}, writeTimeout: time.Second}
	err := q.Enqueue(context.Background(), Task{Kind: KindFollow, IdempotencyKey: "k"})
	require.ErrorIs(t, err, domain.ErrPersistence)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		r.cancel()
		return kafka.Message{}, io.EOF
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerAppliesAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good := mustTask(t, KindFollow, "follow:1", FollowPayload{LineUserID: "U1"})
	encoded, err := json.Marshal(good)
	require.NoError(t, err)

	reader := &fakeReader{
		cancel: cancel,
		pending: []kafka.Message{
			{Offset: 1, Value: encoded},
			{Offset: 2, Value: []byte("{not json")},
		},
	}
	repo := newMemoryContacts()
	consumer := &Consumer{reader: reader, handler: NewApplier(repo, zap.NewNop()), policy: fastPolicy(3), logger: zap.NewNop()}

	require.NoError(t, consumer.Run(ctx))
	require.Equal(t, []int64{1, 2}, reader.committed)
	require.True(t, repo.contacts["U1"].IsActive)
}
