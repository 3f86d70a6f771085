package model

import (
	"errors"
	"strings"
	"time"
)

// Validation errors for WishList.
var (
	ErrEmptyTitle   = errors.New("title cannot be empty")
	ErrTitleTooLong = errors.New("title cannot exceed 255 characters")
	ErrEmptyOwner   = errors.New("owner cannot be empty")
)

// MaxTitleLength is the maximum length of a list title.
const MaxTitleLength = 255

// WishList is a gift list owned by a single user.
type WishList struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the WishList has valid field values.
func (l *WishList) Validate() error {
	if strings.TrimSpace(l.OwnerID) == "" {
		return ErrEmptyOwner
	}

	return ValidateTitle(l.Title)
}

// IsOwnedBy reports whether userID owns the list.
func (l *WishList) IsOwnedBy(userID string) bool {
	return userID != "" && l.OwnerID == userID
}

// ValidateTitle checks a list title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}

	if len(title) > MaxTitleLength {
		return ErrTitleTooLong
	}

	return nil
}
