package task

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/domain"
)

// LocalQueue applies tasks on an in-process worker pool. It is used when no
// broker is configured.
type LocalQueue struct {
	handler Handler
	policy  RetryPolicy
	workers int
	logger  *zap.Logger

	tasks  chan Task
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

var _ Queue = (*LocalQueue)(nil)

// NewLocalQueue constructs a queue holding at most buffer pending tasks.
func NewLocalQueue(handler Handler, policy RetryPolicy, workers, buffer int, logger *zap.Logger) *LocalQueue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	return &LocalQueue{
		handler: handler,
		policy:  policy,
		workers: workers,
		logger:  logger,
		tasks:   make(chan Task, buffer),
	}
}

func (q *LocalQueue) log() *zap.Logger {
	if q.logger != nil {
		return q.logger
	}
	return zap.L()
}

// Start launches the workers. ctx only scopes startup; workers run until Stop.
func (q *LocalQueue) Start(_ context.Context) {
	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(runCtx)
	}
}

// Enqueue never blocks. A full or stopped queue returns ErrPersistence.
func (q *LocalQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("%w: queue stopped", domain.ErrPersistence)
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		return fmt.Errorf("%w: queue full", domain.ErrPersistence)
	}
}

// Stop refuses new tasks and waits for pending ones until ctx ends.
func (q *LocalQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if q.cancel != nil {
			q.cancel()
		}
		return nil
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		return ctx.Err()
	}
}

func (q *LocalQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for t := range q.tasks {
		err := q.policy.Run(ctx, func(ctx context.Context) error {
			return q.handler.Apply(ctx, t)
		})
		if err != nil {
			q.log().Error("task failed",
				zap.String("kind", string(t.Kind)),
				zap.String("key", t.IdempotencyKey),
				zap.Error(err),
			)
		}
	}
}
