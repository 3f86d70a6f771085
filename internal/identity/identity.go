// Package identity provides the device-local opaque user token.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/prefs"
)

// Provider hands out the user id stored under prefs.KeyUserID, creating it on
// first use. The id is not a credential; anyone holding it acts as the user.
type Provider struct {
	kv prefs.KV

	mu sync.Mutex
	id string
}

// NewProvider creates a Provider on top of kv.
func NewProvider(kv prefs.KV) *Provider {
	return &Provider{kv: kv}
}

// GetOrCreate returns the stable user id, generating and persisting a UUIDv4
// on the first call.
func (p *Provider) GetOrCreate(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}

	id, ok, err := p.kv.Get(ctx, prefs.KeyUserID)
	if err != nil {
		return "", fmt.Errorf("read user id: %w: %w", model.ErrLocalStorage, err)
	}

	if !ok || strings.TrimSpace(id) == "" {
		id = uuid.NewString()
		if err := p.kv.Set(ctx, prefs.KeyUserID, id); err != nil {
			return "", fmt.Errorf("save user id: %w: %w", model.ErrLocalStorage, err)
		}
	}

	p.id = id
	return id, nil
}

// User returns the local profile.
func (p *Provider) User(ctx context.Context) (model.User, error) {
	id, err := p.GetOrCreate(ctx)
	if err != nil {
		return model.User{}, err
	}

	name, _, err := p.kv.Get(ctx, prefs.KeyUserName)
	if err != nil {
		return model.User{}, fmt.Errorf("read user name: %w: %w", model.ErrLocalStorage, err)
	}

	return model.User{ID: id, Name: name}, nil
}

// SetName changes the display name. The id never changes.
func (p *Provider) SetName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.ErrEmptyName
	}

	if err := p.kv.Set(ctx, prefs.KeyUserName, name); err != nil {
		return fmt.Errorf("save user name: %w: %w", model.ErrLocalStorage, err)
	}

	return nil
}
