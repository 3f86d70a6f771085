// Package writer executes document-store writes in the background, in
// submission order, without reporting their outcome to the caller.
//
// This is the fire-and-forget contract of the wishlist stores: a failed write
// is logged and counted, and otherwise only observable through the next
// subscription emission. Flush exists for callers (and tests) that need to
// wait for everything queued so far.
package writer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
)

// DefaultQueueSize is the number of writes that may be pending.
const DefaultQueueSize = 256

// DefaultWriteTimeout bounds a single background write.
const DefaultWriteTimeout = 15 * time.Second

// ErrClosed is returned by Submit and Flush after Close.
var ErrClosed = errors.New("writer closed")

// Func performs one write.
type Func func(ctx context.Context) error

// ErrorHook observes failed writes.
type ErrorHook func(op string, err error)

type job struct {
	op      string
	fn      Func
	barrier chan struct{}
}

// Writer is a single-worker ordered write queue.
type Writer struct {
	logger  *zap.Logger
	jobs    chan job
	timeout time.Duration
	onError ErrorHook

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Writer.
type Option func(*Writer)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.jobs = make(chan job, n)
		}
	}
}

// WithTimeout overrides DefaultWriteTimeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithErrorHook registers a callback for failed writes, in addition to
// logging and metrics.
func WithErrorHook(fn ErrorHook) Option {
	return func(w *Writer) {
		w.onError = fn
	}
}

// New creates a Writer and starts its worker.
func New(logger *zap.Logger, opts ...Option) *Writer {
	w := &Writer{
		logger:  logger,
		jobs:    make(chan job, DefaultQueueSize),
		timeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// Submit queues fn without waiting for it to run. When the queue is full it
// blocks until the worker frees a slot. After Close the write is rejected
// with ErrClosed.
func (w *Writer) Submit(op string, fn Func) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.logger.Error("write rejected, writer closed", zap.String("op", op))
		metrics.WriteFailures.WithLabelValues(op).Inc()
		return ErrClosed
	}

	metrics.WritesQueued.WithLabelValues(op).Inc()
	w.jobs <- job{op: op, fn: fn}
	return nil
}

// Flush blocks until every write submitted before the call has run.
func (w *Writer) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	w.jobs <- job{barrier: barrier}
	w.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits for queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Writer) loop() {
	defer w.wg.Done()

	for j := range w.jobs {
		if j.barrier != nil {
			close(j.barrier)
			continue
		}
		w.run(j)
	}
}

func (w *Writer) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := j.fn(ctx); err != nil {
		metrics.WriteFailures.WithLabelValues(j.op).Inc()
		w.logger.Error("background write failed",
			zap.String("op", j.op),
			zap.Error(err),
		)
		if w.onError != nil {
			w.onError(j.op, err)
		}
		return
	}

	w.logger.Debug("background write applied", zap.String("op", j.op))
}
