package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

// MemoryStore implements Store interface with in-memory storage.
type MemoryStore struct {
	mu    sync.RWMutex
	lists map[string]model.WishList
	items map[string]model.WishItem
	feed  *changefeed.Hub
}

// NewMemoryStore creates a new MemoryStore instance. opts configure its
// change feed.
func NewMemoryStore(opts ...changefeed.Option) *MemoryStore {
	return &MemoryStore{
		lists: make(map[string]model.WishList),
		items: make(map[string]model.WishItem),
		feed:  changefeed.NewHub(opts...),
	}
}

// NewID allocates a new document id.
func (s *MemoryStore) NewID() string {
	return NewID()
}

// Feed returns the change feed.
func (s *MemoryStore) Feed() *changefeed.Hub {
	return s.feed
}

// CreateList stores a new list, keeping list.ID if the caller allocated one.
func (s *MemoryStore) CreateList(ctx context.Context, list *model.WishList) (*model.WishList, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}

	if list == nil {
		return nil, fmt.Errorf("create list: %w", ErrNilDocument)
	}

	if err := list.Validate(); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}

	s.mu.Lock()

	id := list.ID
	if id == "" {
		id = NewID()
	}
	if _, exists := s.lists[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("create list %s: %w", id, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	newList := model.WishList{
		ID:        id,
		OwnerID:   list.OwnerID,
		Title:     list.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lists[id] = newList
	s.mu.Unlock()

	s.publish(model.ListChanged(model.OpCreated, newList))

	return &newList, nil
}

// GetList retrieves a list by its ID.
func (s *MemoryStore) GetList(ctx context.Context, id string) (*model.WishList, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list, exists := s.lists[id]
	if !exists {
		return nil, ErrNotFound
	}

	return &list, nil
}

// QueryLists returns the lists matching q ordered by id.
func (s *MemoryStore) QueryLists(ctx context.Context, q ListQuery) ([]model.WishList, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}

	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	lists := make([]model.WishList, 0)
	for _, list := range s.lists {
		if q.OwnerID != "" && list.OwnerID != q.OwnerID {
			continue
		}
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, list.ID) {
			continue
		}
		lists = append(lists, list)
	}

	slices.SortFunc(lists, func(a, b model.WishList) int {
		return strings.Compare(a.ID, b.ID)
	})

	return lists, nil
}

// UpdateListTitle changes the title of an existing list.
func (s *MemoryStore) UpdateListTitle(ctx context.Context, id, title string) (*model.WishList, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}

	if err := model.ValidateTitle(title); err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}

	s.mu.Lock()
	existing, exists := s.lists[id]
	if !exists {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	existing.Title = title
	existing.UpdatedAt = time.Now().UTC()
	s.lists[id] = existing
	s.mu.Unlock()

	s.publish(model.ListChanged(model.OpUpdated, existing))

	return &existing, nil
}

// DeleteList removes a list by its ID. Items of the list are not touched.
func (s *MemoryStore) DeleteList(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	existing, exists := s.lists[id]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.lists, id)
	s.mu.Unlock()

	s.publish(model.ListChanged(model.OpDeleted, existing))

	return nil
}

// CreateItem stores a new, unreserved item in an existing list.
func (s *MemoryStore) CreateItem(ctx context.Context, item *model.WishItem) (*model.WishItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	if item == nil {
		return nil, fmt.Errorf("create item: %w", ErrNilDocument)
	}

	if strings.TrimSpace(item.ListID) == "" {
		return nil, fmt.Errorf("create item: %w", ErrInvalidID)
	}

	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.lists[item.ListID]; !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("create item in %s: %w", item.ListID, ErrListNotFound)
	}

	id := item.ID
	if id == "" {
		id = NewID()
	}
	if _, exists := s.items[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("create item %s: %w", id, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	newItem := model.WishItem{
		ID:        id,
		ListID:    item.ListID,
		Name:      item.Name,
		Link:      item.Link,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.items[id] = newItem
	s.mu.Unlock()

	s.publish(model.ItemChanged(model.OpCreated, newItem))

	return cloneItem(newItem), nil
}

// GetItem retrieves an item by its ID.
func (s *MemoryStore) GetItem(ctx context.Context, id string) (*model.WishItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, ErrNotFound
	}

	return cloneItem(item), nil
}

// QueryItems returns the items of a list ordered by id.
func (s *MemoryStore) QueryItems(ctx context.Context, q ItemQuery) ([]model.WishItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	if strings.TrimSpace(q.ListID) == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.WishItem, 0)
	for _, item := range s.items {
		if item.ListID == q.ListID {
			items = append(items, *cloneItem(item))
		}
	}

	slices.SortFunc(items, func(a, b model.WishItem) int {
		return strings.Compare(a.ID, b.ID)
	})

	return items, nil
}

// UpdateItemDetails changes the owner-editable fields of an item.
func (s *MemoryStore) UpdateItemDetails(ctx context.Context, id, name, link string) (*model.WishItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}

	candidate := model.WishItem{Name: name, Link: link}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	s.mu.Lock()
	existing, exists := s.items[id]
	if !exists {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	existing.Name = name
	existing.Link = link
	existing.UpdatedAt = time.Now().UTC()
	s.items[id] = existing
	s.mu.Unlock()

	s.publish(model.ItemChanged(model.OpUpdated, existing))

	return cloneItem(existing), nil
}

// PatchReservation applies a reservation patch atomically with respect to
// other writes on this store.
func (s *MemoryStore) PatchReservation(ctx context.Context, id string, patch ReservationPatch) (*model.WishItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("patch reservation: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}

	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("patch reservation: %w: %w", ErrInvalidState, err)
	}

	s.mu.Lock()
	existing, exists := s.items[id]
	if !exists {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	if patch.IsConditional() && !existing.Reservation().Equal(*patch.Expect) {
		s.mu.Unlock()
		return nil, fmt.Errorf("patch reservation %s: %w", id, ErrConflict)
	}

	existing.IsReserved = patch.IsReserved
	existing.ReservedBy = cloneString(patch.ReservedBy)
	existing.UpdatedAt = time.Now().UTC()
	s.items[id] = existing
	s.mu.Unlock()

	s.publish(model.ItemChanged(model.OpUpdated, existing))

	return cloneItem(existing), nil
}

// DeleteItem removes an item from the store by its ID.
func (s *MemoryStore) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	existing, exists := s.items[id]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.items, id)
	s.mu.Unlock()

	s.publish(model.ItemChanged(model.OpDeleted, existing))

	return nil
}

func (s *MemoryStore) publish(event model.ChangeEvent) {
	metrics.ChangeEvents.WithLabelValues(event.Collection, string(event.Op)).Inc()
	s.feed.Publish(event)
}

func cloneItem(item model.WishItem) *model.WishItem {
	item.ReservedBy = cloneString(item.ReservedBy)
	return &item
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
