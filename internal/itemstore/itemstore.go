// Package itemstore exposes the items of a wish list to the device.
package itemstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/reservation"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
	"github.com/vyrodovalexey/wishlist-sync/internal/subscription"
	"github.com/vyrodovalexey/wishlist-sync/internal/writer"
)

// Write operation names used in logs and metrics.
const (
	OpAdd         = "add_item"
	OpUpdate      = "update_item"
	OpDelete      = "delete_item"
	OpReservation = "write_reservation"
)

// Store is the item store.
type Store struct {
	docs   store.Store
	writes *writer.Writer
	logger *zap.Logger
}

// New creates an item store.
func New(docs store.Store, writes *writer.Writer, logger *zap.Logger) *Store {
	return &Store{
		docs:   docs,
		writes: writes,
		logger: logger,
	}
}

// Add allocates an id and queues the item write. Whether listID still exists
// is checked by the store when the write runs.
func (s *Store) Add(_ context.Context, listID, name, link string) (string, error) {
	if strings.TrimSpace(listID) == "" {
		return "", model.ErrInvalidReference
	}

	item := &model.WishItem{
		ID:     s.docs.NewID(),
		ListID: listID,
		Name:   strings.TrimSpace(name),
		Link:   strings.TrimSpace(link),
	}
	if err := item.Validate(); err != nil {
		return "", err
	}

	if err := s.writes.Submit(OpAdd, func(ctx context.Context) error {
		_, err := s.docs.CreateItem(ctx, item)
		return err
	}); err != nil {
		return "", err
	}

	return item.ID, nil
}

// GetByID fetches one item.
func (s *Store) GetByID(ctx context.Context, id string) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.ErrInvalidReference
	}

	item, err := s.docs.GetItem(ctx, id)
	if err != nil {
		return nil, store.DomainError(err)
	}

	return item, nil
}

// SubscribeByList streams the items of listID. Once the list itself is gone
// its remaining items are reported as an empty set.
func (s *Store) SubscribeByList(ctx context.Context, listID string) *subscription.Subscription[[]model.WishItem] {
	if strings.TrimSpace(listID) == "" {
		return subscription.Static([]model.WishItem{})
	}

	match := func(e model.ChangeEvent) bool {
		switch e.Collection {
		case model.CollectionItems:
			return e.ListID == listID
		case model.CollectionLists:
			return e.ID == listID
		default:
			return false
		}
	}
	query := func(ctx context.Context) ([]model.WishItem, error) {
		if _, err := s.docs.GetList(ctx, listID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return []model.WishItem{}, nil
			}
			return nil, err
		}
		return s.docs.QueryItems(ctx, store.ItemQuery{ListID: listID})
	}

	return subscription.Watch(ctx, s.docs.Feed(), match, query, subscription.Options{
		Name:   "items_by_list",
		Logger: s.logger,
	})
}

// Update queues an owner edit of name and link. The reservation is untouched.
func (s *Store) Update(_ context.Context, itemID, name, link string) error {
	if strings.TrimSpace(itemID) == "" {
		return model.ErrInvalidReference
	}

	edit := model.WishItem{Name: strings.TrimSpace(name), Link: strings.TrimSpace(link)}
	if err := edit.Validate(); err != nil {
		return err
	}

	return s.writes.Submit(OpUpdate, func(ctx context.Context) error {
		_, err := s.docs.UpdateItemDetails(ctx, itemID, edit.Name, edit.Link)
		return err
	})
}

// Delete queues the removal of an item.
func (s *Store) Delete(_ context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return model.ErrInvalidReference
	}

	return s.writes.Submit(OpDelete, func(ctx context.Context) error {
		return s.docs.DeleteItem(ctx, itemID)
	})
}

// WriteReservation queues a partial write of the reservation fields only.
// A conditional patch that loses a race is logged and counted as a conflict;
// the next snapshot of SubscribeByList shows the winning state.
func (s *Store) WriteReservation(_ context.Context, itemID string, patch store.ReservationPatch) error {
	if strings.TrimSpace(itemID) == "" {
		return model.ErrInvalidReference
	}

	if err := patch.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidState, err)
	}

	mode := reservation.ModeLastWriteWins
	if patch.IsConditional() {
		mode = reservation.ModeConditional
	}

	return s.writes.Submit(OpReservation, func(ctx context.Context) error {
		_, err := s.docs.PatchReservation(ctx, itemID, patch)
		switch {
		case err == nil:
			metrics.ReservationWrites.WithLabelValues(string(mode), metrics.ResultApplied).Inc()
			return nil
		case errors.Is(err, store.ErrConflict):
			metrics.ReservationWrites.WithLabelValues(string(mode), metrics.ResultConflict).Inc()
			s.logger.Info("reservation write rejected, item changed concurrently",
				zap.String("item_id", itemID),
			)
			return nil
		default:
			metrics.ReservationWrites.WithLabelValues(string(mode), metrics.ResultFailed).Inc()
			return err
		}
	})
}
