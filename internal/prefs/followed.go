package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

// FollowedSet is the persisted set of list ids the user follows as a guest.
//
// Mutations are copy-on-write: readers always get an immutable snapshot.
// Listeners run one at a time after a committed change and never see an
// older snapshot after a newer one; concurrent changes may reach them as a
// single, latest snapshot. A listener must not mutate the set.
type FollowedSet struct {
	mu        sync.Mutex
	kv        KV
	ids       []string
	version   uint64
	listeners map[int]func([]string)
	nextID    int

	// notifyMu orders deliveries; delivered is the last version sent.
	notifyMu  sync.Mutex
	delivered uint64
}

// LoadFollowedSet reads SAVED_LISTS from kv.
func LoadFollowedSet(ctx context.Context, kv KV) (*FollowedSet, error) {
	raw, ok, err := kv.Get(ctx, KeySavedLists)
	if err != nil {
		return nil, fmt.Errorf("load followed lists: %w: %w", model.ErrLocalStorage, err)
	}

	ids := []string{}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("decode followed lists: %w: %w", model.ErrLocalStorage, err)
		}
	}

	return &FollowedSet{
		kv:        kv,
		ids:       normalize(ids),
		listeners: make(map[int]func([]string)),
	}, nil
}

// IDs returns the current snapshot. Callers must not modify it.
func (f *FollowedSet) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids
}

// Len returns the number of followed lists.
func (f *FollowedSet) Len() int {
	return len(f.IDs())
}

// Contains reports whether id is followed.
func (f *FollowedSet) Contains(id string) bool {
	_, found := slices.BinarySearch(f.IDs(), id)
	return found
}

// Add follows id. It reports false when id was already present.
func (f *FollowedSet) Add(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, model.ErrInvalidReference
	}

	return f.mutate(ctx, func(cur []string) ([]string, bool) {
		if _, found := slices.BinarySearch(cur, id); found {
			return cur, false
		}
		return normalize(append(slices.Clone(cur), id)), true
	})
}

// Remove unfollows id. It reports false when id was not present.
func (f *FollowedSet) Remove(ctx context.Context, id string) (bool, error) {
	return f.mutate(ctx, func(cur []string) ([]string, bool) {
		i, found := slices.BinarySearch(cur, id)
		if !found {
			return cur, false
		}
		return slices.Delete(slices.Clone(cur), i, i+1), true
	})
}

// OnChange registers fn to receive every new snapshot. The returned func
// removes the registration.
func (f *FollowedSet) OnChange(fn func(ids []string)) (remove func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *FollowedSet) mutate(ctx context.Context, change func([]string) ([]string, bool)) (bool, error) {
	f.mu.Lock()

	next, changed := change(f.ids)
	if !changed {
		f.mu.Unlock()
		return false, nil
	}

	raw, err := json.Marshal(next)
	if err != nil {
		f.mu.Unlock()
		return false, fmt.Errorf("encode followed lists: %w", err)
	}
	if err := f.kv.Set(ctx, KeySavedLists, string(raw)); err != nil {
		f.mu.Unlock()
		return false, fmt.Errorf("save followed lists: %w: %w", model.ErrLocalStorage, err)
	}

	f.ids = next
	f.version++
	f.mu.Unlock()

	f.notify()

	return true, nil
}

func (f *FollowedSet) notify() {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	ids, version := f.ids, f.version
	listeners := make([]func([]string), 0, len(f.listeners))
	for _, fn := range f.listeners {
		listeners = append(listeners, fn)
	}
	f.mu.Unlock()

	if version == f.delivered {
		return
	}
	f.delivered = version

	for _, fn := range listeners {
		fn(ids)
	}
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
