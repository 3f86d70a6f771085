// Package model defines data structures used throughout the application.
package model

import (
	"errors"
	"strings"
	"time"
)

// Validation errors for WishItem.
var (
	ErrEmptyName   = errors.New("name cannot be empty")
	ErrNameTooLong = errors.New("name cannot exceed 255 characters")
	ErrLinkTooLong = errors.New("link cannot exceed 2048 characters")
)

// Validation constants.
const (
	MaxNameLength = 255
	MaxLinkLength = 2048
)

// WishItem is a single gift inside a WishList.
//
// ReservedBy is present in the record for guests to recognise their own
// reservations. Owner-facing views must never expose it.
type WishItem struct {
	ID         string    `json:"id"`
	ListID     string    `json:"listId"`
	Name       string    `json:"name"`
	Link       string    `json:"link,omitempty"`
	IsReserved bool      `json:"isReserved"`
	ReservedBy *string   `json:"reservedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks the owner-editable fields of the item.
func (i *WishItem) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return ErrEmptyName
	}

	if len(i.Name) > MaxNameLength {
		return ErrNameTooLong
	}

	if len(i.Link) > MaxLinkLength {
		return ErrLinkTooLong
	}

	return nil
}

// Reservation returns the reservation sub-state of the item.
func (i *WishItem) Reservation() Reservation {
	return Reservation{
		IsReserved: i.IsReserved,
		ReservedBy: i.ReservedBy,
	}
}

// IsReservedBy reports whether the item is currently reserved by userID.
func (i *WishItem) IsReservedBy(userID string) bool {
	return i.IsReserved && i.ReservedBy != nil && *i.ReservedBy == userID
}

// Reservation is the pair of fields mutated by guests.
type Reservation struct {
	IsReserved bool    `json:"isReserved"`
	ReservedBy *string `json:"reservedBy,omitempty"`
}

// Validate enforces that an unreserved item has no reserver and a reserved
// item has one.
func (r Reservation) Validate() error {
	if !r.IsReserved && r.ReservedBy != nil {
		return ErrReserverWithoutReservation
	}

	if r.IsReserved && (r.ReservedBy == nil || *r.ReservedBy == "") {
		return ErrReservationWithoutReserver
	}

	return nil
}

// Equal compares two reservation states by value.
func (r Reservation) Equal(other Reservation) bool {
	if r.IsReserved != other.IsReserved {
		return false
	}
	if r.ReservedBy == nil || other.ReservedBy == nil {
		return r.ReservedBy == nil && other.ReservedBy == nil
	}
	return *r.ReservedBy == *other.ReservedBy
}

// Reservation invariant errors.
var (
	ErrReserverWithoutReservation = errors.New("unreserved item cannot have a reserver")
	ErrReservationWithoutReserver = errors.New("reserved item must have a reserver")
)

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
