// Package remote implements store.Store against the wishlist document-store
// service: REST for reads and writes, a WebSocket for change events.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/middleware"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
)

// DefaultRequestTimeout bounds a single REST call.
const DefaultRequestTimeout = 10 * time.Second

var (
	// ErrBadRequest is returned when the service rejects a request as malformed.
	ErrBadRequest = errors.New("request rejected by server")

	// ErrUnexpectedStatus is returned for any other non-success status.
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrInvalidServerURL is returned by New for an unusable base URL.
	ErrInvalidServerURL = errors.New("server URL must be an absolute http(s) URL")
)

// Store is a store.Store backed by the document-store service.
type Store struct {
	base       string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
	feed       *changefeed.Hub

	userMu sync.RWMutex
	user   string

	conn *feedConn
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithUser sets the identity sent in the X-Wish-User header.
func WithUser(id string) Option {
	return func(s *Store) {
		s.user = id
	}
}

// WithFeedOptions configures the local change hub.
func WithFeedOptions(opts ...changefeed.Option) Option {
	return func(s *Store) {
		s.conn.hubOpts = append(s.conn.hubOpts, opts...)
	}
}

// WithReconnectInterval sets the first delay before redialing a dropped
// change feed; later attempts back off exponentially.
func WithReconnectInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.conn.initialRetry = d
		}
	}
}

// New creates a Store for the service at serverURL. The change-feed
// WebSocket is dialed only while the feed has subscribers.
func New(serverURL string, logger *zap.Logger, opts ...Option) (*Store, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServerURL, serverURL)
	}

	s := &Store{
		base:       u.String(),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
	s.conn = newFeedConn(s, feedURL(u))

	for _, opt := range opts {
		opt(s)
	}

	s.feed = changefeed.NewHub(append(s.conn.hubOpts, changefeed.WithActivityHook(s.conn.setActive))...)
	return s, nil
}

// SetUser changes the identity sent with subsequent requests.
func (s *Store) SetUser(id string) {
	s.userMu.Lock()
	s.user = id
	s.userMu.Unlock()
}

func (s *Store) currentUser() string {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	return s.user
}

// NewID allocates a new document id.
func (s *Store) NewID() string {
	return store.NewID()
}

// Feed returns the local change hub fed by the service's WebSocket.
func (s *Store) Feed() *changefeed.Hub {
	return s.feed
}

// Close drops the change-feed connection if one is open.
func (s *Store) Close() {
	s.conn.stop()
}

// CreateList creates a list on the service.
func (s *Store) CreateList(ctx context.Context, list *model.WishList) (*model.WishList, error) {
	if list == nil {
		return nil, fmt.Errorf("create list: %w", store.ErrNilDocument)
	}
	if err := list.Validate(); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}

	body := model.CreateListRequest{ID: list.ID, OwnerID: list.OwnerID, Title: list.Title}
	var created model.WishList
	err := s.do(ctx, http.MethodPost, "/api/v1/lists", nil, body, &created,
		statusErrors{http.StatusConflict: store.ErrAlreadyExists})
	if err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	return &created, nil
}

// GetList fetches a list by id.
func (s *Store) GetList(ctx context.Context, id string) (*model.WishList, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}

	var list model.WishList
	if err := s.do(ctx, http.MethodGet, "/api/v1/lists/"+url.PathEscape(id), nil, nil, &list, nil); err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return &list, nil
}

// QueryLists returns the lists matching q.
func (s *Store) QueryLists(ctx context.Context, q store.ListQuery) ([]model.WishList, error) {
	if q.IsEmpty() {
		return nil, store.ErrEmptyQuery
	}

	params := url.Values{}
	if q.OwnerID != "" {
		params.Set("owner", q.OwnerID)
	}
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}

	lists := make([]model.WishList, 0)
	if err := s.do(ctx, http.MethodGet, "/api/v1/lists", params, nil, &lists, nil); err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	return lists, nil
}

// UpdateListTitle renames a list.
func (s *Store) UpdateListTitle(ctx context.Context, id, title string) (*model.WishList, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}
	if err := model.ValidateTitle(title); err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}

	var list model.WishList
	err := s.do(ctx, http.MethodPatch, "/api/v1/lists/"+url.PathEscape(id), nil,
		model.UpdateListRequest{Title: title}, &list, nil)
	if err != nil {
		return nil, fmt.Errorf("update list: %w", err)
	}
	return &list, nil
}

// DeleteList removes a list; its items stay.
func (s *Store) DeleteList(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidID
	}
	if err := s.do(ctx, http.MethodDelete, "/api/v1/lists/"+url.PathEscape(id), nil, nil, nil, nil); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

// CreateItem adds an unreserved item to an existing list.
func (s *Store) CreateItem(ctx context.Context, item *model.WishItem) (*model.WishItem, error) {
	if item == nil {
		return nil, fmt.Errorf("create item: %w", store.ErrNilDocument)
	}
	if strings.TrimSpace(item.ListID) == "" {
		return nil, fmt.Errorf("create item: %w", store.ErrInvalidID)
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	body := model.CreateItemRequest{ID: item.ID, Name: item.Name, Link: item.Link}
	var created model.WishItem
	err := s.do(ctx, http.MethodPost, "/api/v1/lists/"+url.PathEscape(item.ListID)+"/items", nil, body, &created,
		statusErrors{
			http.StatusNotFound: store.ErrListNotFound,
			http.StatusConflict: store.ErrAlreadyExists,
		})
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &created, nil
}

// GetItem fetches an item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}

	var item model.WishItem
	if err := s.do(ctx, http.MethodGet, "/api/v1/items/"+url.PathEscape(id), nil, nil, &item, nil); err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// QueryItems returns the items of a list.
func (s *Store) QueryItems(ctx context.Context, q store.ItemQuery) ([]model.WishItem, error) {
	if strings.TrimSpace(q.ListID) == "" {
		return nil, store.ErrInvalidID
	}

	items := make([]model.WishItem, 0)
	if err := s.do(ctx, http.MethodGet, "/api/v1/lists/"+url.PathEscape(q.ListID)+"/items", nil, nil, &items, nil); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return items, nil
}

// UpdateItemDetails changes name and link only.
func (s *Store) UpdateItemDetails(ctx context.Context, id, name, link string) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}
	candidate := model.WishItem{Name: name, Link: link}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	var item model.WishItem
	err := s.do(ctx, http.MethodPatch, "/api/v1/items/"+url.PathEscape(id), nil,
		model.UpdateItemRequest{Name: name, Link: link}, &item, nil)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return &item, nil
}

// PatchReservation writes the reservation fields. A 409 from the service
// means the conditional precondition failed.
func (s *Store) PatchReservation(ctx context.Context, id string, patch store.ReservationPatch) (*model.WishItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidID
	}
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("patch reservation: %w: %w", store.ErrInvalidState, err)
	}

	body := model.ReservationRequest{Reservation: patch.Reservation, Expect: patch.Expect}
	var item model.WishItem
	err := s.do(ctx, http.MethodPut, "/api/v1/items/"+url.PathEscape(id)+"/reservation", nil, body, &item,
		statusErrors{
			http.StatusConflict:   store.ErrConflict,
			http.StatusBadRequest: store.ErrInvalidState,
		})
	if err != nil {
		return nil, fmt.Errorf("patch reservation: %w", err)
	}
	return &item, nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidID
	}
	if err := s.do(ctx, http.MethodDelete, "/api/v1/items/"+url.PathEscape(id), nil, nil, nil, nil); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// statusErrors overrides the default status mapping for one call.
type statusErrors map[int]error

func (s *Store) do(
	ctx context.Context,
	method, path string,
	params url.Values,
	body, out any,
	overrides statusErrors,
) error {
	target := s.base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user := s.currentUser(); user != "" {
		req.Header.Set(middleware.UserHeader, user)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp, overrides)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	envelope := model.APIResponse[json.RawMessage]{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	// Empty slices are omitted from the envelope.
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func statusError(resp *http.Response, overrides statusErrors) error {
	var body model.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if err, ok := overrides[resp.StatusCode]; ok {
		return fmt.Errorf("%w: %s", err, msg)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, msg)
	default:
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, msg)
	}
}
