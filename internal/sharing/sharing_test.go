package sharing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/liststore"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/prefs"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
	"github.com/vyrodovalexey/wishlist-sync/internal/subscription"
	"github.com/vyrodovalexey/wishlist-sync/internal/writer"
)

const waitTimeout = 2 * time.Second

func TestParseLink(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID string
		wantOK bool
	}{
		{name: "share link", raw: "https://wish.example/partage?id=L1", wantID: "L1", wantOK: true},
		{name: "any host", raw: "https://other.host/whatever?id=L2&x=1", wantID: "L2", wantOK: true},
		{name: "custom scheme", raw: "wishproject://open?id=L3", wantID: "L3", wantOK: true},
		{name: "bare id", raw: " 01J9ZB6Q ", wantOK: false},
		{name: "missing id", raw: "https://wish.example/partage", wantOK: false},
		{name: "empty id", raw: "https://wish.example/partage?id=", wantOK: false},
		{name: "blank id", raw: "https://wish.example/partage?id=%20%20", wantOK: false},
		{name: "empty input", raw: "", wantOK: false},
		{name: "garbage", raw: "not a link", wantOK: false},
		{name: "relative path", raw: "/partage?id=L1", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseLink(tt.raw)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestLink_RoundTrip(t *testing.T) {
	link := Link("wish.example", "01J9 ZB")

	assert.Equal(t, "https://wish.example/partage?id=01J9+ZB", link)
	id, ok := ParseLink(link)
	require.True(t, ok)
	assert.Equal(t, "01J9 ZB", id)
	assert.Contains(t, ShareMessage("Noel", link), link)
}

func TestModeFor(t *testing.T) {
	list := &model.WishList{ID: "L1", OwnerID: "owner", Title: "Noel"}

	assert.Equal(t, ModeOwner, ModeFor(list, "owner"))
	assert.Equal(t, ModeGuest, ModeFor(list, "guest"))
	assert.Equal(t, ModeNone, ModeFor(nil, "owner"))
	assert.Equal(t, ModeNone, ModeFor(list, ""))
}

func TestPermissions(t *testing.T) {
	owner := ModeOwner.Permissions()
	guest := ModeGuest.Permissions()

	assert.True(t, owner.AddItems && owner.DeleteItems && owner.DeleteList && owner.ShareList)
	assert.False(t, owner.ToggleReservation)
	assert.False(t, owner.Unfollow)

	assert.True(t, guest.ToggleReservation && guest.Unfollow)
	assert.False(t, guest.AddItems || guest.DeleteItems || guest.DeleteList || guest.ShareList)

	assert.Equal(t, Permissions{}, ModeNone.Permissions())
}

func TestProjectItems(t *testing.T) {
	items := []model.WishItem{
		{ID: "a", Name: "Bike"},
		{ID: "b", Name: "Book", IsReserved: true, ReservedBy: model.StringPtr("me")},
		{ID: "c", Name: "Lamp", IsReserved: true, ReservedBy: model.StringPtr("someone")},
	}

	t.Run("owner", func(t *testing.T) {
		views := ProjectItems(ModeOwner, items, "owner")

		require.Len(t, views, 3)
		assert.Equal(t, []bool{false, true, true}, []bool{views[0].Reserved, views[1].Reserved, views[2].Reserved})
		for _, v := range views {
			assert.Empty(t, v.Status)
			assert.False(t, v.CanToggle)
		}

		raw, err := json.Marshal(views)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "someone")
		assert.NotContains(t, string(raw), "reservedBy")
	})

	t.Run("guest", func(t *testing.T) {
		views := ProjectItems(ModeGuest, items, "me")

		require.Len(t, views, 3)
		assert.Equal(t, StatusAvailable, views[0].Status)
		assert.Equal(t, StatusReservedByYou, views[1].Status)
		assert.Equal(t, StatusReservedByOther, views[2].Status)
		assert.Equal(t, "Reserved by you", views[1].Status.Label())
		assert.Equal(t, "Already reserved", views[2].Status.Label())
		assert.Equal(t, []bool{true, true, false}, []bool{views[0].CanToggle, views[1].CanToggle, views[2].CanToggle})
	})
}

func TestToggleFeedback(t *testing.T) {
	assert.Equal(t, "Reserved!", ToggleFeedback(model.WishItem{IsReserved: true}))
	assert.Equal(t, "Reservation cancelled", ToggleFeedback(model.WishItem{}))
}

type staticIdentity string

func (s staticIdentity) GetOrCreate(context.Context) (string, error) {
	return string(s), nil
}

type fixture struct {
	resolver *Resolver
	lists    *liststore.Store
	followed *prefs.FollowedSet
	writes   *writer.Writer
}

func setup(t *testing.T, me string) *fixture {
	t.Helper()
	ctx := context.Background()

	kv, err := prefs.Open(ctx, prefs.InMemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	followed, err := prefs.LoadFollowedSet(ctx, kv)
	require.NoError(t, err)

	w := writer.New(zap.NewNop())
	t.Cleanup(w.Close)
	lists := liststore.New(store.NewMemoryStore(), w, zap.NewNop())

	return &fixture{
		resolver: NewResolver(lists, followed, staticIdentity(me), zap.NewNop()),
		lists:    lists,
		followed: followed,
		writes:   w,
	}
}

func (f *fixture) createList(t *testing.T, owner, title string) string {
	t.Helper()
	id, err := f.lists.Create(context.Background(), owner, title)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.writes.Flush(ctx))
	return id
}

func TestResolve_Owner(t *testing.T) {
	f := setup(t, "owner")
	id := f.createList(t, "owner", "Noel")

	res, err := f.resolver.Resolve(context.Background(), id)

	require.NoError(t, err)
	assert.Equal(t, OutcomeOwner, res.Outcome)
	assert.Equal(t, ModeOwner, res.Mode())
	assert.Zero(t, f.followed.Len())
}

func TestResolve_GuestFollowsOnce(t *testing.T) {
	f := setup(t, "guest")
	id := f.createList(t, "owner", "Noel")
	ctx := context.Background()

	first, err := f.resolver.ResolveLink(ctx, Link("wish.example", id))
	require.NoError(t, err)
	second, err := f.resolver.Resolve(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, OutcomeGuest, first.Outcome)
	assert.True(t, first.Followed)
	assert.Equal(t, "List added to your followed lists", first.Message())
	assert.Equal(t, OutcomeGuest, second.Outcome)
	assert.False(t, second.Followed)
	assert.Equal(t, []string{id}, f.followed.IDs())
}

func TestResolve_NoDeepLinkIsNotNotFound(t *testing.T) {
	f := setup(t, "guest")

	for _, raw := range []string{"", "https://wish.example/partage", "https://wish.example/partage?id=", "L1"} {
		res, err := f.resolver.ResolveLink(context.Background(), raw)

		require.NoError(t, err)
		assert.Equal(t, OutcomeNoDeepLink, res.Outcome, raw)
		assert.NotEqual(t, "List not found", res.Message())
	}
}

func TestResolve_NotFound(t *testing.T) {
	f := setup(t, "guest")

	res, err := f.resolver.Resolve(context.Background(), "missing")

	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, "List not found", res.Message())
	assert.Zero(t, f.followed.Len())
}

type unreachableLists struct {
	Lists
}

func (unreachableLists) GetByID(context.Context, string) (*model.WishList, error) {
	return nil, fmt.Errorf("%w: timeout", model.ErrTransientSync)
}

func TestResolve_FetchFailed(t *testing.T) {
	f := setup(t, "guest")
	r := NewResolver(unreachableLists{f.lists}, f.followed, staticIdentity("guest"), zap.NewNop())

	res, err := r.Resolve(context.Background(), "L1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeFetchFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, model.ErrTransientSync)
	assert.NotEqual(t, Resolution{Outcome: OutcomeNotFound}.Message(), res.Message())
}

func TestUnfollow_KeepsList(t *testing.T) {
	f := setup(t, "guest")
	id := f.createList(t, "owner", "Noel")
	ctx := context.Background()
	_, err := f.resolver.Resolve(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.resolver.Unfollow(ctx, id))

	assert.Zero(t, f.followed.Len())
	_, err = f.lists.GetByID(ctx, id)
	assert.NoError(t, err)
}

func waitHome(t *testing.T, sub *subscription.Subscription[HomeView], ok func(HomeView) bool) HomeView {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v, open := <-sub.C():
			require.True(t, open, "home subscription closed")
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for home view")
		}
	}
}

func TestHome_TracksOwnAndFollowed(t *testing.T) {
	f := setup(t, "me")
	ctx := context.Background()
	own := f.createList(t, "me", "Mine")
	shared := f.createList(t, "friend", "Theirs")

	sub, err := f.resolver.Home(ctx)
	require.NoError(t, err)
	defer sub.Cancel()

	waitHome(t, sub, func(v HomeView) bool { return len(v.Own) == 1 && len(v.Followed) == 0 })

	_, err = f.resolver.Resolve(ctx, shared)
	require.NoError(t, err)
	got := waitHome(t, sub, func(v HomeView) bool { return len(v.Followed) == 1 })
	assert.Equal(t, own, got.Own[0].ID)
	assert.Equal(t, shared, got.Followed[0].ID)

	require.NoError(t, f.resolver.Unfollow(ctx, shared))
	waitHome(t, sub, func(v HomeView) bool { return len(v.Followed) == 0 })
}

func TestHome_CancelIsFinal(t *testing.T) {
	f := setup(t, "me")
	ctx := context.Background()

	sub, err := f.resolver.Home(ctx)
	require.NoError(t, err)
	waitHome(t, sub, func(HomeView) bool { return true })

	sub.Cancel()
	f.createList(t, "me", "Later")

	select {
	case _, open := <-sub.C():
		assert.False(t, open)
	case <-time.After(waitTimeout):
		t.Fatal("channel not closed after Cancel")
	}
}
