package persistence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	defaultQueueCapacity = 256
	maxWriteAttempts     = 3
	defaultRetryDelay    = 300 * time.Millisecond
)

type writeJob struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs database writes one at a time on a single goroutine.
// Failed writes are retried with a doubling delay and dropped after
// maxWriteAttempts.
type WriterQueue struct {
	logger     *slog.Logger
	jobs       chan writeJob
	retryDelay time.Duration
	dropped    atomic.Int64
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "persistence")
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}

	return &WriterQueue{
		logger:     logger,
		jobs:       make(chan writeJob, capacity),
		retryDelay: defaultRetryDelay,
	}
}

// Enqueue never blocks the caller. When the buffer is full the job is handed
// to a goroutine and may run after jobs enqueued later.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	job := writeJob{name: name, fn: fn}
	select {
	case w.jobs <- job:
	default:
		w.logger.Debug("writer queue full", "job", name)
		go func() { w.jobs <- job }()
	}
}

// Flush waits until every write enqueued before the call has run.
func (w *WriterQueue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	w.Enqueue("flush", func(context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Dropped counts writes that failed on every attempt.
func (w *WriterQueue) Dropped() int64 {
	return w.dropped.Load()
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-w.jobs:
				w.run(ctx, job)
			}
		}
	}()
}

func (w *WriterQueue) run(ctx context.Context, job writeJob) {
	delay := w.retryDelay
	for attempt := 1; ; attempt++ {
		err := job.fn(ctx)
		if err == nil {
			return
		}
		if attempt == maxWriteAttempts {
			w.dropped.Add(1)
			w.logger.Error("db write dropped", "job", job.name, "attempts", attempt, "error", err)
			return
		}
		w.logger.Warn("db write failed", "job", job.name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}
