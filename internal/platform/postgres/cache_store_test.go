package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitly/advisor-api/internal/cache"
)

// openTestDB connects to the database named by DATABASE_URL. Tests are
// skipped when the variable is unset so the suite runs without a database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database integration test")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM cache_entries")
		require.NoError(t, db.Close())
	})
	return db
}

func TestCacheStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, cache.ErrNotFound)

	entry := &cache.Entry{Answer: "durable answer", Sources: []string{"doc-1", "doc-2"}}
	require.NoError(t, store.Set(ctx, "fp-1", entry, time.Minute))

	got, err := store.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)
}

func TestCacheStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))

	require.NoError(t, store.Set(ctx, "fp-1", &cache.Entry{Answer: "v1"}, time.Minute))
	require.NoError(t, store.Set(ctx, "fp-1", &cache.Entry{Answer: "v2"}, time.Minute))

	got, err := store.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Answer)
}

func TestCacheStoreExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))

	require.NoError(t, store.Set(ctx, "fp-1", &cache.Entry{Answer: "expired"}, -time.Minute))

	_, err := store.Get(ctx, "fp-1")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCacheStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))

	require.NoError(t, store.Set(ctx, "fp-1", &cache.Entry{Answer: "x"}, time.Minute))
	require.NoError(t, store.Delete(ctx, "fp-1"))

	_, err := store.Get(ctx, "fp-1")
	require.ErrorIs(t, err, cache.ErrNotFound)

	// Deleting a missing key is not an error.
	require.NoError(t, store.Delete(ctx, "fp-1"))
}
