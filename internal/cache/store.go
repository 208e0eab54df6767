// Package cache implements the two-tier search result cache: a small
// in-process LRU in front of a durable store, with stale-while-revalidate
// semantics on top.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Store.Get when the key is absent or expired.
var ErrNotFound = eris.New("cache: entry not found")

// Entry is one durable cache record.
type Entry struct {
	Key      string    `json:"key"`
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// Store is the durable cache tier. Implementations enforce the hard TTL:
// Get never returns an entry older than the configured retention.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
