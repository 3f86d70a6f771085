package remote

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

const (
	defaultInitialRetry = 500 * time.Millisecond
	maxRetry            = 30 * time.Second
)

// feedConn owns the change-feed WebSocket. It runs only while the local hub
// has subscribers.
type feedConn struct {
	store        *Store
	url          string
	hubOpts      []changefeed.Option
	initialRetry time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newFeedConn(s *Store, u string) *feedConn {
	return &feedConn{
		store:        s,
		url:          u,
		initialRetry: defaultInitialRetry,
	}
}

func feedURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String()
}

// setActive is the hub activity hook.
func (f *feedConn) setActive(active bool) {
	if active {
		f.start()
	} else {
		f.stop()
	}
}

func (f *feedConn) start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.run(ctx, f.done)
}

// stop closes the connection and waits for the reader to exit.
func (f *feedConn) stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *feedConn) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialRetry
	b.MaxInterval = maxRetry
	b.MaxElapsedTime = 0
	logger := f.store.logger

	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		logger.Warn("change feed disconnected, redialing",
			zap.String("url", f.url),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session holds one WebSocket until it fails or ctx is done. connected
// reports whether the dial succeeded.
func (f *feedConn) session(ctx context.Context) (connected bool, err error) {
	conn, resp, err := f.store.dialer.DialContext(ctx, f.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial change feed: %w", err)
	}

	// Unblock ReadJSON when ctx is cancelled.
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		if stopClose() {
			conn.Close()
		}
	}()

	hub := f.store.feed
	logger := f.store.logger
	logger.Debug("change feed connected", zap.String("url", f.url))

	for {
		var msg model.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return true, fmt.Errorf("read change feed: %w", err)
		}

		switch msg.Type {
		case model.WSMessageTypeHello:
			// Anything written while disconnected was missed.
			hub.Publish(model.NewResyncEvent())
		case model.WSMessageTypeChange:
			if msg.Change == nil {
				continue
			}
			metrics.ChangeEvents.WithLabelValues(msg.Change.Collection, string(msg.Change.Op)).Inc()
			hub.Publish(*msg.Change)
		default:
			logger.Debug("ignoring change feed message", zap.String("type", msg.Type))
		}
	}
}

// running reports whether the feed goroutine is active.
func (f *feedConn) running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}
