package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/vyrodovalexey/wishlist-sync/internal/client"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/sharing"
	"github.com/vyrodovalexey/wishlist-sync/internal/subscription"
)

// errNoSnapshot is returned when a subscription produced nothing in time.
var errNoSnapshot = errors.New("no data received from server")

type commands struct {
	client  *client.Client
	out     io.Writer
	timeout time.Duration
}

func (c *commands) execute(ctx context.Context, opts docopt.Opts) error {
	switch {
	case flag(opts, "whoami"):
		return c.whoami(ctx)
	case flag(opts, "setname"):
		return c.client.Identity.SetName(ctx, arg(opts, "<name>"))
	case flag(opts, "home"):
		return c.home(ctx, flag(opts, "--watch"))
	case flag(opts, "lists"):
		return c.lists(ctx, opts)
	case flag(opts, "items"):
		return c.items(ctx, opts)
	case flag(opts, "share"):
		return c.share(ctx, arg(opts, "<list_id>"))
	case flag(opts, "open"):
		return c.open(ctx, arg(opts, "<link>"))
	case flag(opts, "toggle"):
		return c.toggle(ctx, arg(opts, "<item_id>"))
	case flag(opts, "unfollow"):
		return c.client.Sharing.Unfollow(ctx, arg(opts, "<list_id>"))
	default:
		return errors.New("unknown command")
	}
}

func (c *commands) whoami(ctx context.Context) error {
	user, err := c.client.Identity.User(ctx)
	if err != nil {
		return err
	}
	return c.print(user)
}

func (c *commands) home(ctx context.Context, watch bool) error {
	sub, err := c.client.Sharing.Home(ctx)
	if err != nil {
		return err
	}
	return stream(ctx, c.timeout, sub, watch, func(v sharing.HomeView) error {
		return c.print(v)
	})
}

func (c *commands) lists(ctx context.Context, opts docopt.Opts) error {
	listID := arg(opts, "<list_id>")

	switch {
	case flag(opts, "create"):
		me, err := c.client.Me(ctx)
		if err != nil {
			return err
		}
		id, err := c.client.Lists.Create(ctx, me, arg(opts, "<title>"))
		if err != nil {
			return err
		}
		return c.print(map[string]string{"id": id, "link": c.client.ShareLink(id)})
	case flag(opts, "rename"):
		if err := c.requireOwner(ctx, listID); err != nil {
			return err
		}
		return c.client.Lists.Rename(ctx, listID, arg(opts, "<title>"))
	case flag(opts, "delete"):
		if err := c.requireOwner(ctx, listID); err != nil {
			return err
		}
		return c.client.Lists.Delete(ctx, listID)
	default:
		return errors.New("unknown lists command")
	}
}

func (c *commands) items(ctx context.Context, opts docopt.Opts) error {
	switch {
	case flag(opts, "add"):
		listID := arg(opts, "<list_id>")
		if err := c.requireOwner(ctx, listID); err != nil {
			return err
		}
		id, err := c.client.Items.Add(ctx, listID, arg(opts, "<name>"), arg(opts, "--link"))
		if err != nil {
			return err
		}
		return c.print(map[string]string{"id": id})
	case flag(opts, "edit"), flag(opts, "delete"):
		itemID := arg(opts, "<item_id>")
		item, err := c.client.Items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if err := c.requireOwner(ctx, item.ListID); err != nil {
			return err
		}
		if flag(opts, "delete") {
			return c.client.Items.Delete(ctx, itemID)
		}
		return c.client.Items.Update(ctx, itemID, arg(opts, "<name>"), arg(opts, "--link"))
	default:
		return c.showItems(ctx, arg(opts, "<list_id>"), flag(opts, "--watch"))
	}
}

// listView is what "items <list_id>" prints.
type listView struct {
	List        model.WishList      `json:"list"`
	Mode        string              `json:"mode"`
	Permissions sharing.Permissions `json:"permissions"`
	Items       []sharing.ItemView  `json:"items"`
}

func (c *commands) showItems(ctx context.Context, listID string, watch bool) error {
	list, err := c.client.Lists.GetByID(ctx, listID)
	if err != nil {
		return err
	}

	sub := c.client.Items.SubscribeByList(ctx, listID)
	return stream(ctx, c.timeout, sub, watch, func(items []model.WishItem) error {
		mode, views, err := c.client.ItemViews(ctx, list, items)
		if err != nil {
			return err
		}
		return c.print(listView{
			List:        *list,
			Mode:        mode.String(),
			Permissions: mode.Permissions(),
			Items:       views,
		})
	})
}

func (c *commands) share(ctx context.Context, listID string) error {
	list, err := c.client.Lists.GetByID(ctx, listID)
	if err != nil {
		return err
	}
	me, err := c.client.Me(ctx)
	if err != nil {
		return err
	}
	if !sharing.ModeFor(list, me).Permissions().ShareList {
		return fmt.Errorf("share list: %w", model.ErrNotPermitted)
	}

	_, err = fmt.Fprintln(c.out, c.client.ShareMessage(*list))
	return err
}

// open resolves a share link, or a list id typed by hand.
func (c *commands) open(ctx context.Context, target string) error {
	resolve := c.client.Sharing.ResolveLink
	if isListID(target) {
		resolve = c.client.Sharing.Resolve
	}

	res, err := resolve(ctx, strings.TrimSpace(target))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(c.out, res.Message()); err != nil {
		return err
	}
	if res.List == nil {
		return res.Err
	}
	return c.print(res.List)
}

func isListID(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.ContainsAny(s, ":/?&= \t")
}

func (c *commands) toggle(ctx context.Context, itemID string) error {
	next, err := c.client.ToggleReservation(ctx, itemID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, sharing.ToggleFeedback(next))
	return err
}

func (c *commands) requireOwner(ctx context.Context, listID string) error {
	list, err := c.client.Lists.GetByID(ctx, listID)
	if err != nil {
		return err
	}
	me, err := c.client.Me(ctx)
	if err != nil {
		return err
	}
	if sharing.ModeFor(list, me) != sharing.ModeOwner {
		return fmt.Errorf("list %s: %w", listID, model.ErrNotPermitted)
	}
	return nil
}

// stream prints the first snapshot of sub, or every snapshot until ctx is
// done when watch is set.
func stream[T any](
	ctx context.Context,
	wait time.Duration,
	sub *subscription.Subscription[T],
	watch bool,
	show func(T) error,
) error {
	defer sub.Cancel()

	var timeout <-chan time.Time
	if !watch {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := show(v); err != nil {
				return err
			}
			if !watch {
				return nil
			}
		case <-timeout:
			return errNoSnapshot
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *commands) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeFailures collects background write errors for the exit status.
type writeFailures struct {
	mu   sync.Mutex
	errs []error
}

func (w *writeFailures) record(op string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, fmt.Errorf("%s: %w", op, err))
}

func (w *writeFailures) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

func flag(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func arg(opts docopt.Opts, key string) string {
	v, _ := opts.String(key)
	return v
}
