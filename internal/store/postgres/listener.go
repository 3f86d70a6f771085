package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

// DefaultRetryInterval is the pause before re-establishing LISTEN.
const DefaultRetryInterval = 2 * time.Second

// Listener forwards trigger notifications to a change hub.
type Listener struct {
	pool   *pgxpool.Pool
	hub    *changefeed.Hub
	logger *zap.Logger
	retry  time.Duration
}

// NewListener creates a Listener.
func NewListener(pool *pgxpool.Pool, hub *changefeed.Hub, logger *zap.Logger) *Listener {
	return &Listener{
		pool:   pool,
		hub:    hub,
		logger: logger,
		retry:  DefaultRetryInterval,
	}
}

// Run listens until ctx is done, reconnecting after failures. Every
// (re)connect publishes a resync event, since notifications sent while
// disconnected are lost.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}

		l.logger.Warn("change listener disconnected, retrying",
			zap.Error(err),
			zap.Duration("retry_in", l.retry),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	l.logger.Info("change listener connected", zap.String("channel", NotifyChannel))
	l.hub.Publish(model.NewResyncEvent())

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		event, err := DecodeNotification(n.Payload)
		if err != nil {
			l.logger.Warn("dropping malformed change notification",
				zap.String("payload", n.Payload),
				zap.Error(err),
			)
			l.hub.Publish(model.NewResyncEvent())
			continue
		}

		metrics.ChangeEvents.WithLabelValues(event.Collection, string(event.Op)).Inc()
		l.hub.Publish(event)
	}
}

var errMissingID = errors.New("decode notification: missing id")

// DecodeNotification parses a trigger payload.
func DecodeNotification(payload string) (model.ChangeEvent, error) {
	var event model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}

	switch event.Collection {
	case model.CollectionLists, model.CollectionItems:
	default:
		return model.ChangeEvent{}, fmt.Errorf("decode notification: unknown collection %q", event.Collection)
	}

	if event.ID == "" {
		return model.ChangeEvent{}, errMissingID
	}

	return event, nil
}
