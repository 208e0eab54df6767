package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	failGet bool
	failPut bool
	puts    atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*Entry)}
}

func (s *fakeStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, eris.New("store down")
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) Put(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts.Add(1)
	if s.failPut {
		return eris.New("store down")
	}
	s.entries[key] = &Entry{Key: key, Payload: payload, StoredAt: time.Now()}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func testLayer(store Store) *Layer {
	return NewLayer(store, LayerOptions{
		FreshTTL:          time.Hour,
		HardTTL:           24 * time.Hour,
		MemoryMaxEntries:  64,
		MaxRevalidations:  4,
		RevalidateTimeout: time.Second,
	})
}

func TestLayer_MissComputesAndCaches(t *testing.T) {
	store := newFakeStore()
	l := testLayer(store)

	var computes atomic.Int32
	compute := func(ctx context.Context) ([]byte, error) {
		computes.Add(1)
		return []byte("resultado"), nil
	}

	payload, stale, err := l.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("resultado"), payload)
	assert.False(t, stale)
	assert.Equal(t, int32(1), computes.Load())

	// Second read is a memory hit.
	payload, stale, err = l.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("resultado"), payload)
	assert.False(t, stale)
	assert.Equal(t, int32(1), computes.Load())

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLayer_ComputeErrorNotCached(t *testing.T) {
	l := testLayer(nil)

	_, _, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, eris.New("all sources down")
	})
	require.Error(t, err)

	payload, _, _ := l.mem.Get("k")
	assert.Nil(t, payload)
}

func TestLayer_StaleServedWhileRevalidating(t *testing.T) {
	l := testLayer(nil)

	base := time.Now()
	l.nowFunc = func() time.Time { return base }

	_, _, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	require.NoError(t, err)

	// Move past the fresh TTL but inside the hard TTL.
	l.nowFunc = func() time.Time { return base.Add(5 * time.Hour) }

	var recomputes atomic.Int32
	payload, stale, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		recomputes.Add(1)
		return []byte("v2"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), payload, "stale content is served immediately")
	assert.True(t, stale)

	l.Wait()
	assert.Equal(t, int32(1), recomputes.Load())

	// The refresh replaced the payload.
	payload, stale, err = l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, eris.New("should not recompute")
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), payload)
	assert.False(t, stale)
}

func TestLayer_ConcurrentStaleReadersSingleRecompute(t *testing.T) {
	l := testLayer(nil)

	base := time.Now()
	l.nowFunc = func() time.Time { return base }
	_, _, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	require.NoError(t, err)

	l.nowFunc = func() time.Time { return base.Add(5 * time.Hour) }

	var recomputes atomic.Int32
	slowCompute := func(ctx context.Context) ([]byte, error) {
		recomputes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte("v2"), nil
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, stale, err := l.GetOrCompute(context.Background(), "k", slowCompute)
			assert.NoError(t, err)
			assert.Equal(t, []byte("v1"), payload)
			assert.True(t, stale)
		}()
	}
	wg.Wait()
	l.Wait()

	assert.Equal(t, int32(1), recomputes.Load(), "20 stale readers must trigger exactly one recompute")
}

func TestLayer_HardExpiredRecomputesInline(t *testing.T) {
	l := testLayer(nil)

	base := time.Now()
	l.nowFunc = func() time.Time { return base }
	_, _, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	require.NoError(t, err)

	l.nowFunc = func() time.Time { return base.Add(25 * time.Hour) }

	payload, stale, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v2"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), payload, "past the hard TTL the entry is unusable")
	assert.False(t, stale)
}

func TestLayer_StoreFailureTreatedAsMiss(t *testing.T) {
	store := newFakeStore()
	store.failGet = true
	store.failPut = true
	l := testLayer(store)

	payload, stale, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	require.NoError(t, err, "store failure must not fail the request")
	assert.Equal(t, []byte("computed"), payload)
	assert.False(t, stale)
	assert.GreaterOrEqual(t, l.Stats().StoreErrors, int64(2))
}

func TestLayer_StoreHitPopulatesMemory(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Put(context.Background(), "k", []byte("durable")))
	l := testLayer(store)

	payload, stale, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, eris.New("should not compute")
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), payload)
	assert.False(t, stale)

	// Now cached in the memory tier.
	got, _, _ := l.mem.Get("k")
	assert.Equal(t, []byte("durable"), got)
}

func TestLayer_StoreHitGetsColdEntryTTL(t *testing.T) {
	store := newFakeStore()
	l := testLayer(store)

	// Aged past the base fresh TTL (1h) but inside the cold-entry TTL (2h).
	// A promotion from the store counts as the entry's first access.
	base := time.Now()
	l.nowFunc = func() time.Time { return base }
	store.entries["k"] = &Entry{Key: "k", Payload: []byte("durable"), StoredAt: base.Add(-90 * time.Minute)}

	payload, stale, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, eris.New("unexpected compute")
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), payload)
	assert.False(t, stale, "single-read entries stay fresh up to double the base TTL")
	assert.Equal(t, int64(0), l.Stats().Revalidations)

	// Past the cold-entry TTL the promoted entry is served stale.
	store.entries["k2"] = &Entry{Key: "k2", Payload: []byte("old"), StoredAt: base.Add(-3 * time.Hour)}
	payload, stale, err = l.GetOrCompute(context.Background(), "k2", func(ctx context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), payload)
	assert.True(t, stale)
	l.Wait()
}

func TestLayer_Invalidate(t *testing.T) {
	store := newFakeStore()
	l := testLayer(store)

	_, _, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	require.NoError(t, err)

	require.NoError(t, l.Invalidate(context.Background(), "k"))

	var computes atomic.Int32
	_, _, err = l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		computes.Add(1)
		return []byte("v2"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), computes.Load())
}

func TestLayer_HotEntriesRevalidateSooner(t *testing.T) {
	l := NewLayer(nil, LayerOptions{
		FreshTTL:           time.Hour,
		HardTTL:            24 * time.Hour,
		HotAccessThreshold: 3,
	})

	base := time.Now()
	l.nowFunc = func() time.Time { return base }
	_, _, err := l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	})
	require.NoError(t, err)

	// At 40 minutes the entry is inside the base fresh TTL but past the hot
	// window (30 min). Cold reads still see it fresh.
	l.nowFunc = func() time.Time { return base.Add(40 * time.Minute) }
	noCompute := func(ctx context.Context) ([]byte, error) {
		return nil, eris.New("unexpected compute")
	}

	_, stale, err := l.GetOrCompute(context.Background(), "k", noCompute)
	require.NoError(t, err)
	assert.False(t, stale)

	// Drive the access count over the hot threshold.
	_, _, _ = l.GetOrCompute(context.Background(), "k", noCompute)
	_, _, _ = l.GetOrCompute(context.Background(), "k", noCompute)

	_, stale, err = l.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v2"), nil
	})
	require.NoError(t, err)
	assert.True(t, stale, "hot entries expire at half the fresh TTL")
	l.Wait()
}
