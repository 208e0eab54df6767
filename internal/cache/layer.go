package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ComputeFunc produces a fresh payload on cache miss or revalidation.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// LayerOptions configures the two-tier cache layer.
type LayerOptions struct {
	// FreshTTL is the base age under which an entry is served without
	// revalidation. Default: 4h.
	FreshTTL time.Duration

	// HardTTL is the age past which an entry is unusable even as stale
	// content. Default: 24h. Must match the Store's retention.
	HardTTL time.Duration

	// MemoryMaxEntries bounds the in-process tier. Default: 1024.
	MemoryMaxEntries int

	// MaxRevalidations bounds concurrent background refreshes across all
	// keys. Default: 8.
	MaxRevalidations int

	// HotAccessThreshold: entries read at least this often count as hot and
	// get half the fresh TTL, so popular searches revalidate sooner. Entries
	// read once count as cold and get double. Default: 10.
	HotAccessThreshold int

	// RevalidateTimeout bounds one background refresh. Default: 60s.
	RevalidateTimeout time.Duration
}

// LayerStats counts cache outcomes.
type LayerStats struct {
	Hits          int64   `json:"hits"`
	StaleHits     int64   `json:"stale_hits"`
	Misses        int64   `json:"misses"`
	Revalidations int64   `json:"revalidations"`
	StoreErrors   int64   `json:"store_errors"`
	HitRate       float64 `json:"hit_rate"`
	MemoryEntries int     `json:"memory_entries"`
}

// Layer is the two-tier stale-while-revalidate cache. A fresh entry is
// served directly; a stale one inside the hard TTL is served immediately
// while at most one background refresh per key recomputes it; past the hard
// TTL the caller recomputes inline.
type Layer struct {
	mem   *MemoryCache
	store Store // nil disables the durable tier
	opts  LayerOptions

	revalidating sync.Map // key -> struct{}, the per-key refresh flag
	revalSem     chan struct{}

	hits          atomic.Int64
	staleHits     atomic.Int64
	misses        atomic.Int64
	revalidations atomic.Int64
	storeErrors   atomic.Int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time

	// wg tracks background refreshes so tests can drain them.
	wg sync.WaitGroup
}

// NewLayer creates the cache layer. store may be nil for memory-only
// operation.
func NewLayer(store Store, opts LayerOptions) *Layer {
	if opts.FreshTTL <= 0 {
		opts.FreshTTL = 4 * time.Hour
	}
	if opts.HardTTL <= 0 {
		opts.HardTTL = 24 * time.Hour
	}
	if opts.MemoryMaxEntries <= 0 {
		opts.MemoryMaxEntries = 1024
	}
	if opts.MaxRevalidations <= 0 {
		opts.MaxRevalidations = 8
	}
	if opts.HotAccessThreshold <= 0 {
		opts.HotAccessThreshold = 10
	}
	if opts.RevalidateTimeout <= 0 {
		opts.RevalidateTimeout = 60 * time.Second
	}
	return &Layer{
		mem:      NewMemoryCache(opts.MemoryMaxEntries),
		store:    store,
		opts:     opts,
		revalSem: make(chan struct{}, opts.MaxRevalidations),
		nowFunc:  time.Now,
	}
}

// GetOrCompute returns the cached payload for key, computing it when absent.
// The second return reports whether the payload is stale (served while a
// background refresh runs).
func (l *Layer) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, bool, error) {
	now := l.nowFunc()

	if payload, storedAt, accesses := l.mem.Get(key); payload != nil {
		age := now.Sub(storedAt)
		switch {
		case age < l.freshTTLFor(accesses):
			l.hits.Add(1)
			return payload, false, nil
		case age < l.opts.HardTTL:
			l.staleHits.Add(1)
			l.revalidate(key, compute)
			return payload, true, nil
		}
		// Past the hard TTL: unusable.
		l.mem.Delete(key)
	}

	if entry := l.storeGet(ctx, key); entry != nil {
		age := now.Sub(entry.StoredAt)
		if age < l.opts.HardTTL {
			l.mem.Put(key, entry.Payload, entry.StoredAt)
			// An entry promoted from the store has one access so far, so
			// it gets the cold-entry TTL like any other single-read key.
			if age < l.freshTTLFor(1) {
				l.hits.Add(1)
				return entry.Payload, false, nil
			}
			l.staleHits.Add(1)
			l.revalidate(key, compute)
			return entry.Payload, true, nil
		}
	}

	// Full miss: compute inline.
	l.misses.Add(1)
	payload, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	l.put(ctx, key, payload)
	return payload, false, nil
}

// Invalidate removes the key from both tiers.
func (l *Layer) Invalidate(ctx context.Context, key string) error {
	l.mem.Delete(key)
	if l.store == nil {
		return nil
	}
	return l.store.Delete(ctx, key)
}

// Stats returns a snapshot of the counters.
func (l *Layer) Stats() LayerStats {
	hits := l.hits.Load()
	stale := l.staleHits.Load()
	misses := l.misses.Load()

	var hitRate float64
	if total := hits + stale + misses; total > 0 {
		hitRate = float64(hits+stale) / float64(total)
	}
	return LayerStats{
		Hits:          hits,
		StaleHits:     stale,
		Misses:        misses,
		Revalidations: l.revalidations.Load(),
		StoreErrors:   l.storeErrors.Load(),
		HitRate:       hitRate,
		MemoryEntries: l.mem.Len(),
	}
}

// Wait blocks until in-flight background refreshes finish. Test hook.
func (l *Layer) Wait() {
	l.wg.Wait()
}

// freshTTLFor adapts the fresh TTL to access frequency: hot entries expire
// sooner (their users care about freshness), cold ones later.
func (l *Layer) freshTTLFor(accesses int) time.Duration {
	switch {
	case accesses >= l.opts.HotAccessThreshold:
		return l.opts.FreshTTL / 2
	case accesses <= 1:
		return l.opts.FreshTTL * 2
	default:
		return l.opts.FreshTTL
	}
}

// revalidate spawns at most one background refresh for the key. The CAS on
// the revalidating flag guarantees concurrent stale readers trigger a single
// recompute; the semaphore bounds refreshes globally, and a key that cannot
// acquire a slot simply stays stale until the next read.
func (l *Layer) revalidate(key string, compute ComputeFunc) {
	if _, inFlight := l.revalidating.LoadOrStore(key, struct{}{}); inFlight {
		return
	}

	select {
	case l.revalSem <- struct{}{}:
	default:
		l.revalidating.Delete(key)
		return
	}

	l.revalidations.Add(1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			<-l.revalSem
			l.revalidating.Delete(key)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.opts.RevalidateTimeout)
		defer cancel()

		payload, err := compute(ctx)
		if err != nil {
			zap.L().Warn("cache revalidation failed",
				zap.String("key", key),
				zap.Error(err),
			)
			return
		}
		l.put(ctx, key, payload)
	}()
}

// put writes both tiers. A durable-store failure downgrades to memory-only
// with a warning; it never fails the request.
func (l *Layer) put(ctx context.Context, key string, payload []byte) {
	l.mem.Put(key, payload, l.nowFunc())
	if l.store == nil {
		return
	}
	if err := l.store.Put(ctx, key, payload); err != nil {
		l.storeErrors.Add(1)
		zap.L().Warn("durable cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// storeGet reads the durable tier, treating failures as a miss.
func (l *Layer) storeGet(ctx context.Context, key string) *Entry {
	if l.store == nil {
		return nil
	}
	entry, err := l.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.storeErrors.Add(1)
			zap.L().Warn("durable cache read failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return nil
	}
	return entry
}
