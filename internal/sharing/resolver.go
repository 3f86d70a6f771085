package sharing

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/prefs"
	"github.com/vyrodovalexey/wishlist-sync/internal/subscription"
)

// Outcome is the result kind of resolving a shared list.
type Outcome int

// Resolution outcomes.
const (
	OutcomeNoDeepLink Outcome = iota
	OutcomeNotFound
	OutcomeFetchFailed
	OutcomeOwner
	OutcomeGuest
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomeOwner:
		return "owner"
	case OutcomeGuest:
		return "guest"
	default:
		return "no_deep_link"
	}
}

// Resolution is what opening a share link led to.
type Resolution struct {
	Outcome Outcome
	List    *model.WishList
	// Followed is true when the list was newly added to the followed set.
	Followed bool
	// Err is the fetch failure behind OutcomeFetchFailed.
	Err error
}

// Mode returns the view mode the resolution opens.
func (r Resolution) Mode() Mode {
	switch r.Outcome {
	case OutcomeOwner:
		return ModeOwner
	case OutcomeGuest:
		return ModeGuest
	default:
		return ModeNone
	}
}

// Message is the user-facing text for the resolution.
func (r Resolution) Message() string {
	switch r.Outcome {
	case OutcomeNotFound:
		return "List not found"
	case OutcomeFetchFailed:
		return "Could not load the list, check your connection and try again"
	case OutcomeOwner:
		return "Opening your list"
	case OutcomeGuest:
		if r.Followed {
			return "List added to your followed lists"
		}
		return "Opening shared list"
	default:
		return "No list to open"
	}
}

// Lists is the part of the list store the resolver reads.
type Lists interface {
	GetByID(ctx context.Context, id string) (*model.WishList, error)
	SubscribeByOwner(ctx context.Context, ownerID string) *subscription.Subscription[[]model.WishList]
	SubscribeByIDs(ctx context.Context, ids []string) *subscription.Subscription[[]model.WishList]
}

// Identity supplies the current user id.
type Identity interface {
	GetOrCreate(ctx context.Context) (string, error)
}

// HomeView is the start screen: the user's own lists and the lists they
// follow as a guest.
type HomeView struct {
	Own      []model.WishList `json:"own"`
	Followed []model.WishList `json:"followed"`
}

// Resolver turns list ids and share links into views.
type Resolver struct {
	lists    Lists
	followed *prefs.FollowedSet
	identity Identity
	logger   *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(lists Lists, followed *prefs.FollowedSet, identity Identity, logger *zap.Logger) *Resolver {
	return &Resolver{
		lists:    lists,
		followed: followed,
		identity: identity,
		logger:   logger,
	}
}

// ResolveLink parses raw and resolves the list it points to.
func (r *Resolver) ResolveLink(ctx context.Context, raw string) (Resolution, error) {
	id, ok := ParseLink(raw)
	if !ok {
		return Resolution{Outcome: OutcomeNoDeepLink}, nil
	}
	return r.Resolve(ctx, id)
}

// Resolve fetches listID and opens it as owner or guest. Opening someone
// else's list follows it. The returned error is set only for local storage
// failures; remote problems are reported through the outcome.
func (r *Resolver) Resolve(ctx context.Context, listID string) (Resolution, error) {
	if strings.TrimSpace(listID) == "" {
		return Resolution{Outcome: OutcomeNoDeepLink}, nil
	}

	me, err := r.identity.GetOrCreate(ctx)
	if err != nil {
		return Resolution{Outcome: OutcomeNoDeepLink}, err
	}

	list, err := r.lists.GetByID(ctx, listID)
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidReference):
		return Resolution{Outcome: OutcomeNotFound}, nil
	case err != nil:
		r.logger.Warn("shared list fetch failed",
			zap.String("list_id", listID),
			zap.Error(err),
		)
		return Resolution{Outcome: OutcomeFetchFailed, Err: err}, nil
	}

	if list.IsOwnedBy(me) {
		return Resolution{Outcome: OutcomeOwner, List: list}, nil
	}

	added, err := r.followed.Add(ctx, list.ID)
	if err != nil {
		return Resolution{Outcome: OutcomeGuest, List: list}, err
	}

	if added {
		r.logger.Info("following shared list", zap.String("list_id", list.ID))
	}

	return Resolution{Outcome: OutcomeGuest, List: list, Followed: added}, nil
}

// Unfollow drops listID from the followed set. The list itself is untouched.
func (r *Resolver) Unfollow(ctx context.Context, listID string) error {
	_, err := r.followed.Remove(ctx, listID)
	return err
}

// Home streams the user's own and followed lists. The followed half is
// re-queried whenever the followed set changes.
func (r *Resolver) Home(ctx context.Context) (*subscription.Subscription[HomeView], error) {
	me, err := r.identity.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	changes := make(chan []string, 1)
	removeListener := r.followed.OnChange(func(ids []string) {
		select {
		case <-changes:
		default:
		}
		select {
		case changes <- ids:
		default:
		}
	})

	sub, emit := subscription.New[HomeView](func() {
		cancel()
		removeListener()
	})

	go r.runHome(ctx, me, sub, emit, changes)

	return sub, nil
}

func (r *Resolver) runHome(
	ctx context.Context,
	me string,
	sub *subscription.Subscription[HomeView],
	emit subscription.Emitter[HomeView],
	changes <-chan []string,
) {
	defer sub.Cancel()

	own := r.lists.SubscribeByOwner(ctx, me)
	defer own.Cancel()

	followed := r.lists.SubscribeByIDs(ctx, r.followed.IDs())
	defer func() { followed.Cancel() }()

	var view HomeView
	haveOwn, haveFollowed := false, false

	for {
		select {
		case <-ctx.Done():
			return
		case lists, ok := <-own.C():
			if !ok {
				return
			}
			view.Own = lists
			haveOwn = true
		case lists, ok := <-followed.C():
			if !ok {
				return
			}
			view.Followed = lists
			haveFollowed = true
		case ids := <-changes:
			followed.Cancel()
			followed = r.lists.SubscribeByIDs(ctx, ids)
			continue
		}

		if haveOwn && haveFollowed {
			emit(view)
		}
	}
}
