package model

// User is the local identity of a device. ID is an opaque, unverified token.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
