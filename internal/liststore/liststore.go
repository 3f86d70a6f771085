// Package liststore exposes wish lists to the device: fire-and-forget writes
// and live queries by owner or by id set.
package liststore

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
	"github.com/vyrodovalexey/wishlist-sync/internal/subscription"
	"github.com/vyrodovalexey/wishlist-sync/internal/writer"
)

// Write operation names used in logs and metrics.
const (
	OpCreate = "create_list"
	OpRename = "rename_list"
	OpDelete = "delete_list"
)

// Store is the list store.
type Store struct {
	docs   store.Store
	writes *writer.Writer
	logger *zap.Logger
}

// New creates a list store.
func New(docs store.Store, writes *writer.Writer, logger *zap.Logger) *Store {
	return &Store{
		docs:   docs,
		writes: writes,
		logger: logger,
	}
}

// Create allocates an id and queues the list write. The id is returned
// before the write is confirmed.
func (s *Store) Create(_ context.Context, ownerID, title string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", model.ErrInvalidReference
	}

	list := &model.WishList{
		ID:      s.docs.NewID(),
		OwnerID: ownerID,
		Title:   strings.TrimSpace(title),
	}
	if err := list.Validate(); err != nil {
		return "", err
	}

	if err := s.writes.Submit(OpCreate, func(ctx context.Context) error {
		_, err := s.docs.CreateList(ctx, list)
		return err
	}); err != nil {
		return "", err
	}

	return list.ID, nil
}

// GetByID fetches one list.
func (s *Store) GetByID(ctx context.Context, id string) (*model.WishList, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.ErrInvalidReference
	}

	list, err := s.docs.GetList(ctx, id)
	if err != nil {
		return nil, store.DomainError(err)
	}

	return list, nil
}

// SubscribeByOwner streams every list owned by ownerID.
func (s *Store) SubscribeByOwner(ctx context.Context, ownerID string) *subscription.Subscription[[]model.WishList] {
	if strings.TrimSpace(ownerID) == "" {
		return subscription.Static([]model.WishList{})
	}

	match := func(e model.ChangeEvent) bool {
		return e.Collection == model.CollectionLists && e.OwnerID == ownerID
	}
	query := func(ctx context.Context) ([]model.WishList, error) {
		return s.docs.QueryLists(ctx, store.ListQuery{OwnerID: ownerID})
	}

	return subscription.Watch(ctx, s.docs.Feed(), match, query, subscription.Options{
		Name:   "lists_by_owner",
		Logger: s.logger,
	})
}

// SubscribeByIDs streams the lists whose id is in ids. Ids of deleted lists
// are silently absent from the result. An empty set yields a single empty
// snapshot without touching the change feed.
func (s *Store) SubscribeByIDs(ctx context.Context, ids []string) *subscription.Subscription[[]model.WishList] {
	set := compactIDs(ids)
	if len(set) == 0 {
		return subscription.Static([]model.WishList{})
	}

	match := func(e model.ChangeEvent) bool {
		if e.Collection != model.CollectionLists {
			return false
		}
		_, found := slices.BinarySearch(set, e.ID)
		return found
	}
	query := func(ctx context.Context) ([]model.WishList, error) {
		return s.docs.QueryLists(ctx, store.ListQuery{IDs: set})
	}

	return subscription.Watch(ctx, s.docs.Feed(), match, query, subscription.Options{
		Name:   "lists_by_ids",
		Logger: s.logger,
	})
}

// Rename queues a title change.
func (s *Store) Rename(_ context.Context, id, title string) error {
	if strings.TrimSpace(id) == "" {
		return model.ErrInvalidReference
	}

	title = strings.TrimSpace(title)
	if err := model.ValidateTitle(title); err != nil {
		return err
	}

	return s.writes.Submit(OpRename, func(ctx context.Context) error {
		_, err := s.docs.UpdateListTitle(ctx, id, title)
		return err
	})
}

// Delete queues the removal of a list. Items of the list are kept.
func (s *Store) Delete(_ context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.ErrInvalidReference
	}

	return s.writes.Submit(OpDelete, func(ctx context.Context) error {
		return s.docs.DeleteList(ctx, id)
	})
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
