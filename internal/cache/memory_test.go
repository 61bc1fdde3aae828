package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(10)

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	entry := &Entry{Answer: "42", Sources: []string{"deep thought"}}
	require.NoError(t, store.Set(ctx, "k1", entry, time.Minute))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	require.NoError(t, store.Delete(ctx, "k1"))
	_, err = store.Get(ctx, "k1")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete(ctx, "k1"))
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(3)

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, store.Set(ctx, key, &Entry{Answer: key}, time.Minute))
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, err := store.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k3", &Entry{Answer: "k3"}, time.Minute))
	assert.Equal(t, 3, store.Len())

	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	for _, key := range []string{"k0", "k2", "k3"} {
		_, err = store.Get(ctx, key)
		assert.NoError(t, err, "expected %s to survive eviction", key)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(10)

	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Set(ctx, "k1", &Entry{Answer: "short lived"}, time.Minute))

	_, err := store.Get(ctx, "k1")
	require.NoError(t, err)

	current = current.Add(61 * time.Second)
	_, err = store.Get(ctx, "k1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len(), "expired entry should be purged on access")
}

func TestMemoryStoreUpdateRefreshesExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(10)

	current := time.Now()
	store.now = func() time.Time { return current }

	require.NoError(t, store.Set(ctx, "k1", &Entry{Answer: "v1"}, time.Minute))
	current = current.Add(30 * time.Second)
	require.NoError(t, store.Set(ctx, "k1", &Entry{Answer: "v2"}, time.Minute))

	current = current.Add(45 * time.Second)
	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Answer)
	assert.Equal(t, 1, store.Len())
}
