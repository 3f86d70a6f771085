// Package client assembles the device side of the wishlist: identity,
// followed lists, list and item stores, the reservation protocol and the
// sharing resolver, all on top of one document store.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/identity"
	"github.com/vyrodovalexey/wishlist-sync/internal/itemstore"
	"github.com/vyrodovalexey/wishlist-sync/internal/liststore"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/prefs"
	"github.com/vyrodovalexey/wishlist-sync/internal/reservation"
	"github.com/vyrodovalexey/wishlist-sync/internal/sharing"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
	"github.com/vyrodovalexey/wishlist-sync/internal/writer"
)

// Options configures a Client.
type Options struct {
	// PrefsDSN locates the device-local database. prefs.InMemoryDSN keeps
	// everything in memory.
	PrefsDSN string

	ShareDomain     string
	ReservationMode reservation.Mode
	WriteTimeout    time.Duration
	// OnWriteError is called for every background write that failed.
	OnWriteError writer.ErrorHook
	Logger       *zap.Logger
}

// userSetter is implemented by stores that forward the identity to a server.
type userSetter interface {
	SetUser(id string)
}

// Client is one device.
type Client struct {
	Identity     *identity.Provider
	Followed     *prefs.FollowedSet
	Lists        *liststore.Store
	Items        *itemstore.Store
	Reservations *reservation.Protocol
	Sharing      *sharing.Resolver

	docs        store.Store
	prefs       *prefs.Store
	writes      *writer.Writer
	shareDomain string
	logger      *zap.Logger
}

// New opens the device state and wires the components around docs. The
// identity is created here: failing to persist it is fatal.
func New(ctx context.Context, docs store.Store, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShareDomain == "" {
		return nil, errors.New("client: share domain is required")
	}

	kv, err := prefs.Open(ctx, opts.PrefsDSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrLocalStorage, err)
	}

	ident := identity.NewProvider(kv)
	me, err := ident.GetOrCreate(ctx)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	if us, ok := docs.(userSetter); ok {
		us.SetUser(me)
	}

	followed, err := prefs.LoadFollowedSet(ctx, kv)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	var writerOpts []writer.Option
	if opts.WriteTimeout > 0 {
		writerOpts = append(writerOpts, writer.WithTimeout(opts.WriteTimeout))
	}
	if opts.OnWriteError != nil {
		writerOpts = append(writerOpts, writer.WithErrorHook(opts.OnWriteError))
	}
	writes := writer.New(logger.Named("writer"), writerOpts...)

	lists := liststore.New(docs, writes, logger.Named("lists"))
	items := itemstore.New(docs, writes, logger.Named("items"))

	c := &Client{
		Identity:     ident,
		Followed:     followed,
		Lists:        lists,
		Items:        items,
		Reservations: reservation.New(items, opts.ReservationMode, logger.Named("reservation")),
		Sharing:      sharing.NewResolver(lists, followed, ident, logger.Named("sharing")),
		docs:         docs,
		prefs:        kv,
		writes:       writes,
		shareDomain:  opts.ShareDomain,
		logger:       logger,
	}

	logger.Debug("client ready",
		zap.String("user", me),
		zap.String("reservation_mode", string(c.Reservations.Mode())),
		zap.Int("followed", followed.Len()),
	)
	return c, nil
}

// Me returns the device's user id.
func (c *Client) Me(ctx context.Context) (string, error) {
	return c.Identity.GetOrCreate(ctx)
}

// Store returns the document store the client writes to.
func (c *Client) Store() store.Store {
	return c.docs
}

// ShareLink is the link guests open to reach listID.
func (c *Client) ShareLink(listID string) string {
	return sharing.Link(c.shareDomain, listID)
}

// ShareMessage is the text sent to guests for list.
func (c *Client) ShareMessage(list model.WishList) string {
	return sharing.ShareMessage(list.Title, c.ShareLink(list.ID))
}

// ItemViews projects items of list for the current user.
func (c *Client) ItemViews(ctx context.Context, list *model.WishList, items []model.WishItem) (sharing.Mode, []sharing.ItemView, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return sharing.ModeNone, nil, err
	}
	mode := sharing.ModeFor(list, me)
	return mode, sharing.ProjectItems(mode, items, me), nil
}

// ToggleReservation reads the current item and toggles its reservation for
// the current user. The returned item is the expected state; the write
// completes in the background.
func (c *Client) ToggleReservation(ctx context.Context, itemID string) (model.WishItem, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return model.WishItem{}, err
	}

	item, err := c.Items.GetByID(ctx, itemID)
	if err != nil {
		return model.WishItem{}, err
	}

	list, err := c.Lists.GetByID(ctx, item.ListID)
	if err != nil {
		return *item, err
	}
	if sharing.ModeFor(list, me) != sharing.ModeGuest {
		return *item, fmt.Errorf("toggle on own list: %w", model.ErrNotPermitted)
	}

	return c.Reservations.Toggle(ctx, *item, me)
}

// Flush waits for every write queued so far.
func (c *Client) Flush(ctx context.Context) error {
	return c.writes.Flush(ctx)
}

// Close drains pending writes and closes the local database. The document
// store is owned by the caller.
func (c *Client) Close() error {
	c.writes.Close()
	if err := c.prefs.Close(); err != nil {
		return fmt.Errorf("close prefs: %w", err)
	}
	return nil
}
