package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_AllowUpToLimit(t *testing.T) {
	g := NewMemoryGuard(time.Hour, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := g.Allow(ctx, "caller-a", 3)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := g.Allow(ctx, "caller-a", 3)
	require.NoError(t, err)
	assert.False(t, ok, "fourth request exceeds the limit")

	used, err := g.Usage(ctx, "caller-a")
	require.NoError(t, err)
	assert.Equal(t, 3, used, "denied requests must not consume quota")
}

func TestMemoryGuard_IndependentCallers(t *testing.T) {
	g := NewMemoryGuard(time.Hour, 100)
	ctx := context.Background()

	ok, _ := g.Allow(ctx, "caller-a", 1)
	assert.True(t, ok)
	ok, _ = g.Allow(ctx, "caller-a", 1)
	assert.False(t, ok)

	ok, _ = g.Allow(ctx, "caller-b", 1)
	assert.True(t, ok, "caller-b has its own counter")
}

func TestMemoryGuard_WindowReset(t *testing.T) {
	g := NewMemoryGuard(time.Hour, 100)
	base := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	g.nowFunc = func() time.Time { return base }
	ctx := context.Background()

	ok, _ := g.Allow(ctx, "caller-a", 1)
	assert.True(t, ok)
	ok, _ = g.Allow(ctx, "caller-a", 1)
	assert.False(t, ok)

	// Next window: the counter resets.
	g.nowFunc = func() time.Time { return base.Add(time.Hour) }
	ok, _ = g.Allow(ctx, "caller-a", 1)
	assert.True(t, ok)
}

func TestMemoryGuard_BoundedKeys(t *testing.T) {
	g := NewMemoryGuard(time.Hour, 50)
	ctx := context.Background()

	// Far more distinct callers than the ceiling.
	for i := 0; i < 500; i++ {
		_, err := g.Allow(ctx, fmt.Sprintf("caller-%d", i), 10)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, g.Keys(), 50, "tracked keys must stay bounded")
}

func TestMemoryGuard_UsageDoesNotMutate(t *testing.T) {
	g := NewMemoryGuard(time.Hour, 2)
	ctx := context.Background()

	// Reading an unknown caller must not allocate a counter.
	used, err := g.Usage(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	assert.Equal(t, 0, g.Keys(), "usage reads must not create keys")

	// Nor may it refresh LRU order: a is oldest, reading it changes
	// nothing, so a is still the one evicted when c arrives.
	_, _ = g.Allow(ctx, "a", 10)
	_, _ = g.Allow(ctx, "b", 10)
	_, _ = g.Usage(ctx, "a")
	_, _ = g.Allow(ctx, "c", 10)

	used, _ = g.Usage(ctx, "a")
	assert.Equal(t, 0, used, "a was evicted despite the read")
	used, _ = g.Usage(ctx, "b")
	assert.Equal(t, 1, used, "b survives")
}

func TestMemoryGuard_LRUEvictsOldest(t *testing.T) {
	g := NewMemoryGuard(time.Hour, 2)
	ctx := context.Background()

	_, _ = g.Allow(ctx, "a", 10)
	_, _ = g.Allow(ctx, "b", 10)
	// Touch a so b becomes the oldest.
	_, _ = g.Allow(ctx, "a", 10)
	_, _ = g.Allow(ctx, "c", 10)

	used, _ := g.Usage(ctx, "a")
	assert.Equal(t, 2, used, "a survives eviction")
	used, _ = g.Usage(ctx, "b")
	assert.Equal(t, 0, used, "b was evicted and restarts at zero")
}
