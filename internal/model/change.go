package model

import "time"

// Collection names of the document store.
const (
	CollectionLists = "lists"
	CollectionItems = "items"
)

// ChangeOp describes what happened to a document.
type ChangeOp string

// Change operations. OpResync means "some changes may have been missed,
// re-read everything".
const (
	OpCreated ChangeOp = "created"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
	OpResync  ChangeOp = "resync"
)

// ChangeEvent announces a write to one document. OwnerID is set for lists,
// ListID for items.
type ChangeEvent struct {
	Collection string    `json:"collection"`
	Op         ChangeOp  `json:"op"`
	ID         string    `json:"id,omitempty"`
	OwnerID    string    `json:"ownerId,omitempty"`
	ListID     string    `json:"listId,omitempty"`
	At         time.Time `json:"at"`
}

// NewResyncEvent returns an event that matches every subscriber.
func NewResyncEvent() ChangeEvent {
	return ChangeEvent{
		Op: OpResync,
		At: time.Now().UTC(),
	}
}

// ListChanged builds the change event for a list write.
func ListChanged(op ChangeOp, list WishList) ChangeEvent {
	return ChangeEvent{
		Collection: CollectionLists,
		Op:         op,
		ID:         list.ID,
		OwnerID:    list.OwnerID,
		At:         time.Now().UTC(),
	}
}

// ItemChanged builds the change event for an item write.
func ItemChanged(op ChangeOp, item WishItem) ChangeEvent {
	return ChangeEvent{
		Collection: CollectionItems,
		Op:         op,
		ID:         item.ID,
		ListID:     item.ListID,
		At:         time.Now().UTC(),
	}
}
