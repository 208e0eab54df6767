package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is the in-process Limiter: fixed-window counters with LRU
// eviction, bounding memory no matter how many distinct caller keys appear.
// Evicting an active counter under key-cardinality attack resets that
// caller's count, which errs on the side of availability.
type MemoryGuard struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeys int

	counters map[string]*counter
	order    []string // LRU order: front=oldest, back=newest

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

type counter struct {
	windowStart time.Time
	used        int
}

// NewMemoryGuard creates a guard with the given window and key ceiling.
func NewMemoryGuard(window time.Duration, maxKeys int) *MemoryGuard {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryGuard{
		window:   window,
		maxKeys:  maxKeys,
		counters: make(map[string]*counter),
		nowFunc:  time.Now,
	}
}

func (g *MemoryGuard) Allow(ctx context.Context, callerKey string, limit int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.touch(callerKey)
	if c.used >= limit {
		return false, nil
	}
	c.used++
	return true, nil
}

// Usage reads the caller's count for the current window without allocating
// a counter or refreshing LRU order.
func (g *MemoryGuard) Usage(ctx context.Context, callerKey string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.counters[callerKey]
	if !ok || !c.windowStart.Equal(windowStart(g.nowFunc(), g.window)) {
		return 0, nil
	}
	return c.used, nil
}

// Keys returns the number of tracked caller keys.
func (g *MemoryGuard) Keys() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.counters)
}

// touch returns the caller's counter for the current window, creating or
// resetting it as needed and maintaining LRU order. Callers hold the lock.
func (g *MemoryGuard) touch(callerKey string) *counter {
	ws := windowStart(g.nowFunc(), g.window)

	c, ok := g.counters[callerKey]
	if ok {
		if !c.windowStart.Equal(ws) {
			c.windowStart = ws
			c.used = 0
		}
		g.removeFromOrder(callerKey)
		g.order = append(g.order, callerKey)
		return c
	}

	for len(g.counters) >= g.maxKeys && len(g.order) > 0 {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.counters, oldest)
	}

	c = &counter{windowStart: ws}
	g.counters[callerKey] = c
	g.order = append(g.order, callerKey)
	return c
}

func (g *MemoryGuard) removeFromOrder(key string) {
	for i, k := range g.order {
		if k == key {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}
