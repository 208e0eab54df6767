package quota

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Plan describes a caller's search entitlements.
type Plan struct {
	Name         string `json:"name"`
	SearchLimit  int    `json:"search_limit"`
	MaxPages     int    `json:"max_pages"`
	ArbiterCalls bool   `json:"arbiter_calls"`
}

// PlanOrigin tags where a plan lookup result came from.
type PlanOrigin string

const (
	// FromStore means the plan came from the live plan source.
	FromStore PlanOrigin = "store"
	// FromFallback means the lookup failed and the coded default applied.
	FromFallback PlanOrigin = "fallback"
)

// PlanResult is a plan plus its origin, so callers can tell an entitled
// limit from a degraded default.
type PlanResult struct {
	Plan   Plan
	Origin PlanOrigin
}

// PlanSource fetches the live plan for a caller.
type PlanSource interface {
	FetchPlan(ctx context.Context, callerKey string) (Plan, error)
}

// PlanSourceFunc adapts a function to PlanSource.
type PlanSourceFunc func(ctx context.Context, callerKey string) (Plan, error)

func (f PlanSourceFunc) FetchPlan(ctx context.Context, callerKey string) (Plan, error) {
	return f(ctx, callerKey)
}

// PlanLoader caches plan lookups for a TTL and falls back to a coded default
// when the source is unreachable, so quota enforcement keeps working through
// plan-service outages.
type PlanLoader struct {
	source   PlanSource
	fallback Plan
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]cachedPlan

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

type cachedPlan struct {
	result    PlanResult
	fetchedAt time.Time
}

// NewPlanLoader creates a loader. source may be nil, in which case every
// lookup returns the fallback.
func NewPlanLoader(source PlanSource, fallback Plan, ttl time.Duration) *PlanLoader {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PlanLoader{
		source:   source,
		fallback: fallback,
		ttl:      ttl,
		cache:    make(map[string]cachedPlan),
		nowFunc:  time.Now,
	}
}

// Load returns the caller's plan, tagged with its origin. Only successful
// store lookups are cached: a fallback answer is retried on the next call.
func (l *PlanLoader) Load(ctx context.Context, callerKey string) PlanResult {
	now := l.nowFunc()

	l.mu.Lock()
	if cached, ok := l.cache[callerKey]; ok && now.Sub(cached.fetchedAt) < l.ttl {
		l.mu.Unlock()
		return cached.result
	}
	l.mu.Unlock()

	if l.source == nil {
		return PlanResult{Plan: l.fallback, Origin: FromFallback}
	}

	plan, err := l.source.FetchPlan(ctx, callerKey)
	if err != nil {
		zap.L().Warn("plan lookup failed, using fallback",
			zap.String("caller", callerKey),
			zap.Error(err),
		)
		return PlanResult{Plan: l.fallback, Origin: FromFallback}
	}

	result := PlanResult{Plan: plan, Origin: FromStore}
	l.mu.Lock()
	l.cache[callerKey] = cachedPlan{result: result, fetchedAt: now}
	l.mu.Unlock()
	return result
}

// Invalidate drops the cached plan for a caller.
func (l *PlanLoader) Invalidate(callerKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, callerKey)
}
