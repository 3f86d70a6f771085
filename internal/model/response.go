package model

import "time"

// APIResponse is a generic wrapper for API responses.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSuccessResponse creates a successful API response.
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error API response.
func NewErrorResponse[T any](errMsg string) APIResponse[T] {
	return APIResponse[T]{
		Success: false,
		Error:   errMsg,
	}
}

// ErrorResponse represents an error response structure.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// CreateListRequest is the body of POST /api/v1/lists.
type CreateListRequest struct {
	ID      string `json:"id,omitempty"`
	OwnerID string `json:"ownerId,omitempty"`
	Title   string `json:"title"`
}

// UpdateListRequest is the body of PATCH /api/v1/lists/{id}.
type UpdateListRequest struct {
	Title string `json:"title"`
}

// CreateItemRequest is the body of POST /api/v1/lists/{id}/items.
type CreateItemRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// UpdateItemRequest is the body of PATCH /api/v1/items/{id}.
type UpdateItemRequest struct {
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// ReservationRequest is the body of PUT /api/v1/items/{id}/reservation.
// When Expect is set the write only applies if the stored reservation
// equals it.
type ReservationRequest struct {
	Reservation
	Expect *Reservation `json:"expect,omitempty"`
}

// WebSocketMessage represents a message sent over the change-feed connection.
type WebSocketMessage struct {
	Type      string       `json:"type"`
	Change    *ChangeEvent `json:"change,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// WebSocket message types.
const (
	WSMessageTypeChange = "change"
	WSMessageTypeHello  = "hello"
	WSMessageTypeError  = "error"
)

// NewChangeMessage wraps a change event for the wire.
func NewChangeMessage(event ChangeEvent) WebSocketMessage {
	return WebSocketMessage{
		Type:      WSMessageTypeChange,
		Change:    &event,
		Timestamp: time.Now().UTC(),
	}
}

// NewHelloMessage is sent once when a change-feed connection is established.
func NewHelloMessage() WebSocketMessage {
	return WebSocketMessage{
		Type:      WSMessageTypeHello,
		Timestamp: time.Now().UTC(),
	}
}
