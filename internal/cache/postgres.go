package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PostgresStore implements Store on a single key/value table. Expired rows
// are filtered on read; Sweep removes them physically.
type PostgresStore struct {
	pool    *pgxpool.Pool
	hardTTL time.Duration
}

// NewPostgresStore connects to the database and ensures the cache table
// exists.
func NewPostgresStore(ctx context.Context, databaseURL string, hardTTL time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "cache: connect postgres")
	}

	s := &PostgresStore{pool: pool, hardTTL: hardTTL}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the cache table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS search_cache (
			cache_key  TEXT PRIMARY KEY,
			payload    BYTEA NOT NULL,
			stored_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return eris.Wrap(err, "cache: migrate")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	query := fmt.Sprintf(
		"SELECT payload, stored_at FROM search_cache WHERE cache_key = $1 AND stored_at > now() - interval '%d seconds'",
		int(s.hardTTL.Seconds()),
	)

	var entry Entry
	entry.Key = key
	row := s.pool.QueryRow(ctx, query, key)
	if err := row.Scan(&entry.Payload, &entry.StoredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "cache: postgres get")
	}
	return &entry, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO search_cache (cache_key, payload, stored_at)
		VALUES ($1, $2, now())
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			stored_at = now()`,
		key, payload,
	)
	if err != nil {
		return eris.Wrap(err, "cache: postgres put")
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM search_cache WHERE cache_key = $1", key); err != nil {
		return eris.Wrap(err, "cache: postgres delete")
	}
	return nil
}

// Sweep deletes rows past the hard TTL and returns how many were removed.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM search_cache WHERE stored_at <= now() - interval '%d seconds'",
		int(s.hardTTL.Seconds()),
	))
	if err != nil {
		return 0, eris.Wrap(err, "cache: sweep")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
