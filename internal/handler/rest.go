package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/middleware"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
)

// Version is the application version.
const Version = "1.0.0"

// Query parameters of GET /api/v1/lists.
const (
	QueryOwner = "owner"
	QueryIDs   = "ids"
)

// RESTHandler serves the lists and items collections.
type RESTHandler struct {
	store   store.Store
	backend string
	logger  *zap.Logger
}

// NewRESTHandler creates a new RESTHandler. backend is reported by /health.
func NewRESTHandler(s store.Store, backend string, logger *zap.Logger) *RESTHandler {
	return &RESTHandler{
		store:   s,
		backend: backend,
		logger:  logger,
	}
}

// RegisterRoutes registers the REST API routes with the router.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/lists", h.QueryLists).Methods(http.MethodGet)
	api.HandleFunc("/lists", h.CreateList).Methods(http.MethodPost)
	api.HandleFunc("/lists/{id}", h.GetList).Methods(http.MethodGet)
	api.HandleFunc("/lists/{id}", h.UpdateList).Methods(http.MethodPatch)
	api.HandleFunc("/lists/{id}", h.DeleteList).Methods(http.MethodDelete)
	api.HandleFunc("/lists/{id}/items", h.ListItems).Methods(http.MethodGet)
	api.HandleFunc("/lists/{id}/items", h.CreateItem).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", h.GetItem).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}", h.UpdateItem).Methods(http.MethodPatch)
	api.HandleFunc("/items/{id}", h.DeleteItem).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}/reservation", h.PutReservation).Methods(http.MethodPut)

	router.NotFoundHandler = http.HandlerFunc(h.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)
}

// NotFound answers requests no route matched.
func (h *RESTHandler) NotFound(w http.ResponseWriter, _ *http.Request) {
	h.writeError(w, http.StatusNotFound, "route not found")
}

// MethodNotAllowed answers requests whose path matched but method did not.
func (h *RESTHandler) MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// HealthCheck handles GET /health requests.
func (h *RESTHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Backend: h.backend,
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(response))
}

// QueryLists handles GET /api/v1/lists?owner=<id>&ids=a,b requests.
func (h *RESTHandler) QueryLists(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := store.ListQuery{
		OwnerID: strings.TrimSpace(params.Get(QueryOwner)),
		IDs:     splitIDs(params.Get(QueryIDs)),
	}

	if q.IsEmpty() {
		h.writeError(w, http.StatusBadRequest, "owner or ids query parameter is required")
		return
	}

	lists, err := h.store.QueryLists(r.Context(), q)
	if err != nil {
		h.handleStoreError(w, err, "query lists")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(lists))
}

// CreateList handles POST /api/v1/lists requests. The owner defaults to
// the caller's identity header.
func (h *RESTHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	var input model.CreateListRequest
	if !h.decode(w, r, &input) {
		return
	}

	if input.OwnerID == "" {
		input.OwnerID = middleware.UserFromContext(r.Context())
	}

	list := &model.WishList{ID: input.ID, OwnerID: input.OwnerID, Title: input.Title}
	if err := list.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.CreateList(r.Context(), list)
	if err != nil {
		h.handleStoreError(w, err, "create list")
		return
	}

	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(created))
}

// GetList handles GET /api/v1/lists/{id} requests.
func (h *RESTHandler) GetList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.GetList(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleStoreError(w, err, "get list")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(list))
}

// UpdateList handles PATCH /api/v1/lists/{id} requests.
func (h *RESTHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	var input model.UpdateListRequest
	if !h.decode(w, r, &input) {
		return
	}

	if err := model.ValidateTitle(input.Title); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.store.UpdateListTitle(r.Context(), mux.Vars(r)["id"], input.Title)
	if err != nil {
		h.handleStoreError(w, err, "update list")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(list))
}

// DeleteList handles DELETE /api/v1/lists/{id} requests. Items of the list
// are left in place.
func (h *RESTHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteList(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleStoreError(w, err, "delete list")
		return
	}

	h.writeJSON(w, http.StatusNoContent, nil)
}

// ListItems handles GET /api/v1/lists/{id}/items requests.
func (h *RESTHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.QueryItems(r.Context(), store.ItemQuery{ListID: mux.Vars(r)["id"]})
	if err != nil {
		h.handleStoreError(w, err, "list items")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(items))
}

// CreateItem handles POST /api/v1/lists/{id}/items requests. New items are
// always unreserved.
func (h *RESTHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var input model.CreateItemRequest
	if !h.decode(w, r, &input) {
		return
	}

	item := &model.WishItem{
		ID:     input.ID,
		ListID: mux.Vars(r)["id"],
		Name:   input.Name,
		Link:   input.Link,
	}
	if err := item.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.CreateItem(r.Context(), item)
	if err != nil {
		h.handleStoreError(w, err, "create item")
		return
	}

	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(created))
}

// GetItem handles GET /api/v1/items/{id} requests.
func (h *RESTHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.GetItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.handleStoreError(w, err, "get item")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(item))
}

// UpdateItem handles PATCH /api/v1/items/{id} requests. Only name and link
// change; the reservation is untouched.
func (h *RESTHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var input model.UpdateItemRequest
	if !h.decode(w, r, &input) {
		return
	}

	candidate := model.WishItem{Name: input.Name, Link: input.Link}
	if err := candidate.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.store.UpdateItemDetails(r.Context(), mux.Vars(r)["id"], input.Name, input.Link)
	if err != nil {
		h.handleStoreError(w, err, "update item")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(item))
}

// DeleteItem handles DELETE /api/v1/items/{id} requests.
func (h *RESTHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteItem(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.handleStoreError(w, err, "delete item")
		return
	}

	h.writeJSON(w, http.StatusNoContent, nil)
}

// PutReservation handles PUT /api/v1/items/{id}/reservation requests.
func (h *RESTHandler) PutReservation(w http.ResponseWriter, r *http.Request) {
	var input model.ReservationRequest
	if !h.decode(w, r, &input) {
		return
	}

	if err := input.Reservation.Validate(); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	patch := store.ReservationPatch{Reservation: input.Reservation, Expect: input.Expect}

	item, err := h.store.PatchReservation(r.Context(), id, patch)
	if err != nil {
		h.handleStoreError(w, err, "patch reservation")
		return
	}

	h.logger.Debug("reservation written",
		zap.String("item_id", id),
		zap.Bool("is_reserved", item.IsReserved),
		zap.Bool("conditional", patch.IsConditional()),
		zap.String("user", middleware.UserFromContext(r.Context())),
	)

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(item))
}

func (h *RESTHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleStoreError handles store errors and writes appropriate HTTP responses.
func (h *RESTHandler) handleStoreError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, store.ErrListNotFound):
		h.writeError(w, http.StatusNotFound, "list not found")
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, store.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "invalid document ID")
	case errors.Is(err, store.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, "document already exists")
	case errors.Is(err, store.ErrConflict):
		h.writeError(w, http.StatusConflict, "reservation changed concurrently")
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrEmptyQuery):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("store operation failed", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code and message.
func (h *RESTHandler) writeError(w http.ResponseWriter, status int, message string) {
	response := model.ErrorResponse{
		Code:    status,
		Message: message,
	}
	h.writeJSON(w, status, response)
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
