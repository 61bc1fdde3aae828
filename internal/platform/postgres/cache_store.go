// Package postgres provides PostgreSQL-backed implementations of the
// application's storage interfaces, using database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/admitly/advisor-api/internal/cache"
	"github.com/admitly/advisor-api/internal/platform/logger"
)

// DBTX abstracts the database handle so stores work with both *sql.DB and
// *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// CacheStore implements the cache.Store interface using PostgreSQL.
// The connection is owned by the application; Close here is a no-op.
type CacheStore struct {
	db DBTX
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(db DBTX) *CacheStore {
	return &CacheStore{db: db}
}

// Get retrieves the entry for a fingerprint. Expired rows are purged lazily
// and reported as misses.
func (s *CacheStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT payload, expires_at
		FROM cache_entries
		WHERE fingerprint = $1
	`

	var payload []byte
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	if time.Now().UTC().After(expiresAt) {
		if err := s.Delete(ctx, key); err != nil {
			log.Warn("failed to purge expired cache entry",
				"fingerprint", key,
				"error", err)
		}
		return nil, cache.ErrNotFound
	}

	var entry cache.Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Set upserts the entry for a fingerprint with a fresh expiry.
func (s *CacheStore) Set(ctx context.Context, key string, entry *cache.Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	query := `
		INSERT INTO cache_entries (fingerprint, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint)
		DO UPDATE SET payload = EXCLUDED.payload,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, key, payload, now.Add(ttl), now); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for a fingerprint. Missing rows are not an error.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM cache_entries WHERE fingerprint = $1`
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Close is a no-op; the database connection is owned by the application.
func (s *CacheStore) Close() error {
	return nil
}
