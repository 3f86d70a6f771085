package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/prefs"
)

func openPrefs(t *testing.T, dsn string) *prefs.Store {
	t.Helper()
	s, err := prefs.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProvider_GetOrCreate_Stable(t *testing.T) {
	p := NewProvider(openPrefs(t, prefs.InMemoryDSN))
	ctx := context.Background()

	first, err := p.GetOrCreate(ctx)
	require.NoError(t, err)
	second, err := p.GetOrCreate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	_, err = uuid.Parse(first)
	assert.NoError(t, err)
}

func TestProvider_GetOrCreate_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "prefs.db")

	kv1, err := prefs.Open(ctx, dsn)
	require.NoError(t, err)
	first, err := NewProvider(kv1).GetOrCreate(ctx)
	require.NoError(t, err)
	require.NoError(t, kv1.Close())

	kv2 := openPrefs(t, dsn)
	second, err := NewProvider(kv2).GetOrCreate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestProvider_GetOrCreate_UsesStoredValue(t *testing.T) {
	kv := openPrefs(t, prefs.InMemoryDSN)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, prefs.KeyUserID, "existing"))

	id, err := NewProvider(kv).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
}

func TestProvider_GetOrCreate_Concurrent(t *testing.T) {
	p := NewProvider(openPrefs(t, prefs.InMemoryDSN))
	ctx := context.Background()

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := p.GetOrCreate(ctx)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestProvider_UserAndSetName(t *testing.T) {
	p := NewProvider(openPrefs(t, prefs.InMemoryDSN))
	ctx := context.Background()

	u, err := p.User(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Empty(t, u.Name)

	require.NoError(t, p.SetName(ctx, "  Alice "))
	assert.ErrorIs(t, p.SetName(ctx, " "), model.ErrEmptyName)

	renamed, err := p.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, u.ID, renamed.ID)
	assert.Equal(t, "Alice", renamed.Name)
}

type brokenKV struct {
	getErr error
	setErr error
}

func (b brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, b.getErr
}

func (b brokenKV) Set(context.Context, string, string) error {
	return b.setErr
}

func TestProvider_StorageFailure(t *testing.T) {
	tests := []struct {
		name string
		kv   brokenKV
	}{
		{name: "read fails", kv: brokenKV{getErr: errors.New("io error")}},
		{name: "write fails", kv: brokenKV{setErr: errors.New("disk full")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.kv).GetOrCreate(context.Background())
			assert.ErrorIs(t, err, model.ErrLocalStorage)
		})
	}
}
