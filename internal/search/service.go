package search

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tjsasakifln/licitasearch/internal/cache"
	"github.com/tjsasakifln/licitasearch/internal/model"
	"github.com/tjsasakifln/licitasearch/internal/quota"
)

// ErrQuotaExceeded is returned when the caller's plan budget is spent.
var ErrQuotaExceeded = eris.New("search: quota exceeded")

// Service is the front door: quota check, then cache, then orchestrator.
type Service struct {
	orch    *Orchestrator
	cache   *cache.Layer // nil disables caching
	limiter quota.Limiter
	plans   *quota.PlanLoader
}

// NewService wires the orchestrator behind quota and cache enforcement.
// limiter and cacheLayer may be nil to disable the respective check.
func NewService(orch *Orchestrator, cacheLayer *cache.Layer, limiter quota.Limiter, plans *quota.PlanLoader) *Service {
	return &Service{orch: orch, cache: cacheLayer, limiter: limiter, plans: plans}
}

// Search runs a search for the given caller. The bool return reports
// whether the result was served stale from cache.
func (s *Service) Search(ctx context.Context, callerKey string, req model.SearchRequest) (*model.SearchResult, bool, error) {
	if s.limiter != nil && s.plans != nil {
		plan := s.plans.Load(ctx, callerKey)
		if plan.Plan.MaxPages > 0 && (req.MaxPages == 0 || req.MaxPages > plan.Plan.MaxPages) {
			req.MaxPages = plan.Plan.MaxPages
		}

		allowed, err := s.limiter.Allow(ctx, callerKey, plan.Plan.SearchLimit)
		if err != nil {
			return nil, false, eris.Wrap(err, "search: quota check")
		}
		if !allowed {
			zap.L().Info("search denied by quota",
				zap.String("caller", callerKey),
				zap.String("plan", plan.Plan.Name),
				zap.String("plan_origin", string(plan.Origin)),
				zap.Int("limit", plan.Plan.SearchLimit),
			)
			return nil, false, ErrQuotaExceeded
		}
	}

	if s.cache == nil {
		result, err := s.orch.Search(ctx, req)
		return result, false, err
	}

	key := req.Fingerprint()
	payload, stale, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		result, err := s.orch.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		return nil, false, err
	}

	var result model.SearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, eris.Wrap(err, "search: decode cached result")
	}
	return &result, stale, nil
}

// Invalidate drops a cached search result by its fingerprint key.
func (s *Service) Invalidate(ctx context.Context, key string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, key)
}

// CacheStats exposes the cache counters, zero-valued when caching is off.
func (s *Service) CacheStats() cache.LayerStats {
	if s.cache == nil {
		return cache.LayerStats{}
	}
	return s.cache.Stats()
}
