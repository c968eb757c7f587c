// Package notify runs post-commit side effects and delivers staff notices.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rollcall/pkg/platform/tx"
)

const defaultJobTimeout = 30 * time.Second

type job struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
}

// Queue is a buffered ports.Dispatcher drained by Run. When the buffer is
// full the job runs in the caller's goroutine instead of being dropped.
type Queue struct {
	jobs       chan job
	logger     *slog.Logger
	jobTimeout time.Duration
	inflight   sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithJobTimeout bounds each job. Non-positive values are ignored.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.jobTimeout = d
		}
	}
}

func NewQueue(size int, opts ...Option) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		jobs:       make(chan job, size),
		logger:     slog.Default(),
		jobTimeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dispatch enqueues fn. The job keeps ctx values such as the actor and
// request id but not its cancellation or any transaction.
func (q *Queue) Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	j := job{ctx: detach(ctx), name: name, fn: fn}
	q.inflight.Add(1)
	select {
	case q.jobs <- j:
	default:
		q.logger.WarnContext(ctx, "dispatch queue full, running inline", "job", name)
		q.execute(j)
	}
}

// Run executes queued jobs until ctx is cancelled, then drains what is left.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return ctx.Err()
		case j := <-q.jobs:
			q.execute(j)
		}
	}
}

// Wait blocks until every dispatched job has finished.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

// Flush runs whatever is still queued in the caller's goroutine and then
// waits for running jobs. Call it once Run has returned.
func (q *Queue) Flush() {
	q.drain()
	q.inflight.Wait()
}

func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			q.execute(j)
		default:
			return
		}
	}
}

func (q *Queue) execute(j job) {
	defer q.inflight.Done()
	ctx, cancel := context.WithTimeout(j.ctx, q.jobTimeout)
	defer cancel()
	run(ctx, q.logger, j.name, j.fn)
}

// Inline is a ports.Dispatcher that runs jobs immediately in the caller's
// goroutine. The CLI and tests use it.
type Inline struct {
	Logger *slog.Logger
}

func (d Inline) Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	run(detach(ctx), logger, name, fn)
}

func run(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "dispatched job panicked", "job", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		logger.ErrorContext(ctx, "dispatched job failed", "job", name, "error", err)
	}
}

func detach(ctx context.Context) context.Context {
	return tx.Detach(context.WithoutCancel(ctx))
}
