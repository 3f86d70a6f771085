// Package store provides the document-store interface backing wish lists
// and items, and its in-memory implementation.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

// Store errors.
var (
	ErrNotFound      = errors.New("document not found")
	ErrListNotFound  = errors.New("list not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidID     = errors.New("invalid document ID")
	ErrNilDocument   = errors.New("document cannot be nil")
	ErrEmptyQuery    = errors.New("query must filter by owner or ids")
	ErrConflict      = errors.New("reservation changed concurrently")
	ErrInvalidState  = errors.New("invalid reservation state")
)

// ListQuery selects lists. Non-empty filters are combined with AND.
type ListQuery struct {
	OwnerID string
	IDs     []string
}

// IsEmpty reports whether the query has no filter at all.
func (q ListQuery) IsEmpty() bool {
	return q.OwnerID == "" && len(q.IDs) == 0
}

// ItemQuery selects the items of one list.
type ItemQuery struct {
	ListID string
}

// ReservationPatch is a partial update of an item touching only the
// reservation fields. With Expect set the patch is conditional: it applies
// only if the stored reservation equals Expect, otherwise ErrConflict.
type ReservationPatch struct {
	model.Reservation
	Expect *model.Reservation
}

// IsConditional reports whether the patch carries a precondition.
func (p ReservationPatch) IsConditional() bool {
	return p.Expect != nil
}

// Store defines the document operations on the "lists" and "items"
// collections. Implementations publish a change event on Feed after every
// successful write.
type Store interface {
	// NewID allocates a fresh document identifier.
	NewID() string

	CreateList(ctx context.Context, list *model.WishList) (*model.WishList, error)
	GetList(ctx context.Context, id string) (*model.WishList, error)
	QueryLists(ctx context.Context, q ListQuery) ([]model.WishList, error)
	UpdateListTitle(ctx context.Context, id, title string) (*model.WishList, error)
	// DeleteList removes the list only; its items are left in place.
	DeleteList(ctx context.Context, id string) error

	// CreateItem fails with ErrListNotFound when the referenced list does not exist.
	CreateItem(ctx context.Context, item *model.WishItem) (*model.WishItem, error)
	GetItem(ctx context.Context, id string) (*model.WishItem, error)
	QueryItems(ctx context.Context, q ItemQuery) ([]model.WishItem, error)
	// UpdateItemDetails changes name and link, leaving the reservation untouched.
	UpdateItemDetails(ctx context.Context, id, name, link string) (*model.WishItem, error)
	// PatchReservation changes is_reserved and reserved_by only.
	PatchReservation(ctx context.Context, id string, patch ReservationPatch) (*model.WishItem, error)
	DeleteItem(ctx context.Context, id string) error

	// Feed is the change feed of this store.
	Feed() *changefeed.Hub
}

// NewID returns a new lexicographically sortable document id.
func NewID() string {
	return ulid.Make().String()
}

// DomainError maps a store failure onto the model error kinds: invalid ids
// become model.ErrInvalidReference, missing documents model.ErrNotFound and
// everything else model.ErrTransientSync. The original error stays wrapped.
func DomainError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidID):
		return fmt.Errorf("%w: %w", model.ErrInvalidReference, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrListNotFound):
		return fmt.Errorf("%w: %w", model.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", model.ErrTransientSync, err)
	}
}
