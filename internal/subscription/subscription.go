// Package subscription implements cancellable live queries over the change
// feed. Every emission is the full current result of the query.
package subscription

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
)

// Subscription is a live, cancellable sequence of snapshots.
//
// Snapshots are conflated: a consumer that falls behind only sees the most
// recent one. After Cancel returns no further value is delivered and C is
// closed.
type Subscription[T any] struct {
	out     chan T
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	once    sync.Once
	release func()
}

func newSubscription[T any](release func()) *Subscription[T] {
	return &Subscription[T]{
		out:     make(chan T, 1),
		done:    make(chan struct{}),
		release: release,
	}
}

// C returns the snapshot channel. It is closed by Cancel.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Done is closed once the subscription is cancelled.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and releases its change-feed registration.
// It is safe to call more than once and from any goroutine.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.drain()
		close(s.out)
		close(s.done)
		s.mu.Unlock()

		if s.release != nil {
			s.release()
		}
	})
}

// emit replaces any pending snapshot with v. It reports false when the
// subscription is already cancelled and v was discarded.
func (s *Subscription[T]) emit(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.drain()
	s.out <- v
	return true
}

func (s *Subscription[T]) drain() {
	select {
	case <-s.out:
	default:
	}
}

// Static returns a subscription that holds exactly one snapshot and never
// touches the change feed.
func Static[T any](v T) *Subscription[T] {
	s := newSubscription[T](nil)
	s.emit(v)
	return s
}

// Emitter delivers a snapshot to a Subscription built with New. It reports
// false once the subscription is cancelled.
type Emitter[T any] func(v T) bool

// New returns a subscription fed by hand through the returned Emitter.
// release runs once, on the first Cancel.
func New[T any](release func()) (*Subscription[T], Emitter[T]) {
	s := newSubscription[T](release)
	return s, s.emit
}

// Query produces the current snapshot.
type Query[T any] func(ctx context.Context) (T, error)

// Options configures Watch.
type Options struct {
	// Name labels logs and metrics.
	Name   string
	Logger *zap.Logger
}

// Watch runs query once immediately and again after every change event that
// match accepts, emitting each result. Query failures are logged and counted
// but emit nothing, so a subscription whose backend keeps failing looks the
// same as one with no data yet.
//
// The subscription ends on Cancel or when ctx is done.
func Watch[T any](
	ctx context.Context,
	hub *changefeed.Hub,
	match changefeed.MatchFunc,
	query Query[T],
	opts Options,
) *Subscription[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	feed := hub.Subscribe(match)
	ctx, cancel := context.WithCancel(ctx)

	gauge := metrics.ActiveSubscriptions.WithLabelValues(opts.Name)
	gauge.Inc()

	s := newSubscription[T](func() {
		cancel()
		feed.Unsubscribe()
		gauge.Dec()
	})

	w := &watcher[T]{
		sub:    s,
		feed:   feed,
		query:  query,
		name:   opts.Name,
		logger: logger,
	}
	go w.run(ctx)

	return s
}

type watcher[T any] struct {
	sub    *Subscription[T]
	feed   *changefeed.Subscriber
	query  Query[T]
	name   string
	logger *zap.Logger
}

func (w *watcher[T]) run(ctx context.Context) {
	defer w.sub.Cancel()

	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.feed.Events():
			w.drainFeed()
			w.refresh(ctx)
		case <-w.feed.Resync():
			w.drainFeed()
			w.refresh(ctx)
		}
	}
}

// drainFeed collapses a burst of events into a single refresh.
func (w *watcher[T]) drainFeed() {
	for {
		select {
		case <-w.feed.Events():
		case <-w.feed.Resync():
		default:
			return
		}
	}
}

func (w *watcher[T]) refresh(ctx context.Context) {
	v, err := w.query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.SubscriptionErrors.WithLabelValues(w.name).Inc()
		w.logger.Warn("subscription refresh failed",
			zap.String("subscription", w.name),
			zap.Error(err),
		)
		return
	}

	if ctx.Err() != nil {
		return
	}

	if !w.sub.emit(v) {
		w.logger.Debug("discarded late emission", zap.String("subscription", w.name))
	}
}
