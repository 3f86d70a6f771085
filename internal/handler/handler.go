// Package handler provides the HTTP handlers of the document-store service:
// REST access to the lists and items collections and a WebSocket change feed.
package handler

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend,omitempty"`
}
