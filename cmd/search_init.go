package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tjsasakifln/licitasearch/internal/cache"
	"github.com/tjsasakifln/licitasearch/internal/classify"
	"github.com/tjsasakifln/licitasearch/internal/quota"
	"github.com/tjsasakifln/licitasearch/internal/resilience"
	"github.com/tjsasakifln/licitasearch/internal/search"
	"github.com/tjsasakifln/licitasearch/internal/source"
	"github.com/tjsasakifln/licitasearch/pkg/llm"
)

// searchEnv bundles everything a command needs to run searches. Built once
// per invocation by initSearch and torn down via Close.
type searchEnv struct {
	Service  *search.Service
	Registry *source.Registry
	Breakers *resilience.ServiceBreakers
	Layer    *cache.Layer

	store cache.Store
}

// Close drains background cache refreshes and releases the durable store.
func (e *searchEnv) Close() {
	if e.Layer != nil {
		e.Layer.Wait()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

func initSearch(ctx context.Context, mode string) (*searchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		cfg.Circuit.DegradedThreshold,
		cfg.Circuit.FailureThreshold,
		cfg.Circuit.ResetTimeoutSecs,
	))

	retryCfg := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMS,
		cfg.Retry.MaxBackoffMS,
		cfg.Retry.Multiplier,
	)

	registry, err := source.BuildRegistry(cfg.Sources, breakers, retryCfg)
	if err != nil {
		return nil, err
	}

	var arbiter llm.Arbiter
	if cfg.Search.ArbiterMode != "off" && cfg.Anthropic.Key != "" {
		arbiter = llm.NewAnthropicArbiter(cfg.Anthropic.Key, cfg.Anthropic.HaikuModel)
		zap.L().Info("relevance arbiter enabled",
			zap.String("mode", cfg.Search.ArbiterMode),
			zap.String("model", cfg.Anthropic.HaikuModel),
		)
	} else {
		zap.L().Debug("relevance arbiter disabled, keyword filtering only")
	}

	filter := classify.NewFilter(classify.Options{
		Arbiter:              arbiter,
		Mode:                 cfg.Search.ArbiterMode,
		EscalationThreshold:  cfg.Search.EscalationThreshold,
		ArbiterTimeout:       time.Duration(cfg.Search.ArbiterTimeoutSecs) * time.Second,
		MaxConcurrentArbiter: cfg.Search.MaxConcurrentArbiter,
	})

	orch := search.NewOrchestrator(registry, filter, search.OrchestratorOptions{
		GlobalTimeout:     time.Duration(cfg.Search.GlobalTimeoutSecs) * time.Second,
		MaxPagesPerSource: cfg.Search.MaxPagesPerSource,
		OnProgress: func(ev search.ProgressEvent) {
			zap.L().Debug("source progress",
				zap.String("search_id", ev.SearchID),
				zap.String("source", ev.Source),
				zap.String("event", string(ev.Kind)),
				zap.Int("records", ev.Records),
				zap.String("reason", ev.Reason),
				zap.Duration("elapsed", ev.Elapsed),
			)
		},
	})

	store, err := initCacheStore(ctx)
	if err != nil {
		return nil, err
	}
	layer := cache.NewLayer(store, cache.LayerOptions{
		FreshTTL:           time.Duration(cfg.Cache.FreshTTLHours) * time.Hour,
		HardTTL:            time.Duration(cfg.Cache.HardTTLHours) * time.Hour,
		MemoryMaxEntries:   cfg.Cache.MemoryMaxEntries,
		MaxRevalidations:   cfg.Cache.MaxRevalidations,
		HotAccessThreshold: cfg.Cache.HotAccessThreshold,
	})

	limiter, err := initQuotaGuard()
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	var planSource quota.PlanSource
	if cfg.Quota.PlanEndpointURL != "" {
		planSource = quota.NewHTTPPlanSource(cfg.Quota.PlanEndpointURL)
	}
	fallback := quota.Plan{
		Name:         "default",
		SearchLimit:  cfg.Quota.DefaultLimit,
		MaxPages:     cfg.Search.MaxPagesPerSource,
		ArbiterCalls: true,
	}
	plans := quota.NewPlanLoader(planSource, fallback, time.Duration(cfg.Quota.PlanTTLMinutes)*time.Minute)

	return &searchEnv{
		Service:  search.NewService(orch, layer, limiter, plans),
		Registry: registry,
		Breakers: breakers,
		Layer:    layer,
		store:    store,
	}, nil
}

func initCacheStore(ctx context.Context) (cache.Store, error) {
	hardTTL := time.Duration(cfg.Cache.HardTTLHours) * time.Hour

	switch cfg.Cache.Driver {
	case "redis":
		store, err := cache.NewRedisStore(cfg.Cache.RedisURL, hardTTL)
		if err != nil {
			return nil, eris.Wrap(err, "init redis cache")
		}
		zap.L().Info("cache store: redis")
		return store, nil
	case "postgres":
		store, err := cache.NewPostgresStore(ctx, cfg.Cache.DatabaseURL, hardTTL)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres cache")
		}
		zap.L().Info("cache store: postgres")
		return store, nil
	case "none":
		zap.L().Info("cache store: memory only")
		return nil, nil
	default:
		return nil, eris.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}

func initQuotaGuard() (quota.Limiter, error) {
	window := time.Duration(cfg.Quota.WindowDays) * 24 * time.Hour

	switch cfg.Quota.Driver {
	case "redis":
		guard, err := quota.NewRedisGuard(cfg.Quota.RedisURL, window)
		if err != nil {
			return nil, eris.Wrap(err, "init redis quota")
		}
		zap.L().Info("quota guard: redis")
		return guard, nil
	case "memory":
		zap.L().Info("quota guard: memory")
		return quota.NewMemoryGuard(window, cfg.Quota.MaxTrackedKeys), nil
	default:
		return nil, eris.Errorf("unknown quota driver %q", cfg.Quota.Driver)
	}
}
