package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tjsasakifln/licitasearch/internal/classify"
	"github.com/tjsasakifln/licitasearch/internal/dedup"
	"github.com/tjsasakifln/licitasearch/internal/model"
	"github.com/tjsasakifln/licitasearch/internal/resilience"
	"github.com/tjsasakifln/licitasearch/internal/source"
)

// ErrAllSourcesUnavailable is returned when every enabled source failed.
var ErrAllSourcesUnavailable = eris.New("search: all sources unavailable")

// OrchestratorOptions configures the fan-out.
type OrchestratorOptions struct {
	// GlobalTimeout bounds the whole search. Default: 60s.
	GlobalTimeout time.Duration

	// PerSourceTimeout bounds each source's fetch inside the global
	// deadline. Zero means the global deadline alone applies.
	PerSourceTimeout time.Duration

	// MaxPagesPerSource is the default page ceiling; requests may lower it.
	MaxPagesPerSource int

	// OnProgress receives per-source events. Optional.
	OnProgress ProgressFunc
}

// Orchestrator fans a search out to every enabled source, classifies and
// consolidates what came back, and never lets one source's failure abort
// the others.
type Orchestrator struct {
	registry *source.Registry
	filter   *classify.Filter
	opts     OrchestratorOptions
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(registry *source.Registry, filter *classify.Filter, opts OrchestratorOptions) *Orchestrator {
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = 60 * time.Second
	}
	if opts.MaxPagesPerSource <= 0 {
		opts.MaxPagesPerSource = 20
	}
	return &Orchestrator{registry: registry, filter: filter, opts: opts}
}

type sourceOutcome struct {
	code    string
	records []model.UnifiedRecord
	err     error
}

// Search runs one multi-source search. Partial results are results: only
// when no source succeeds does Search return ErrAllSourcesUnavailable.
func (o *Orchestrator) Search(ctx context.Context, req model.SearchRequest) (*model.SearchResult, error) {
	searchID := uuid.NewString()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.opts.GlobalTimeout)
	defer cancel()

	entries := o.registry.Enabled()
	if len(entries) == 0 {
		return nil, eris.New("search: no sources enabled")
	}

	maxPages := o.opts.MaxPagesPerSource
	if req.MaxPages > 0 && req.MaxPages < maxPages {
		maxPages = req.MaxPages
	}

	outcomes := make([]sourceOutcome, len(entries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, entry := range entries {
		g.Go(func() error {
			outcome := o.fetchSource(gctx, searchID, entry, req, maxPages)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil // per-source failures never abort the group
		})
	}
	_ = g.Wait()

	result := &model.SearchResult{SearchID: searchID}
	var raw []model.UnifiedRecord
	for _, out := range outcomes {
		result.SourcesAttempted = append(result.SourcesAttempted, out.code)
		if out.err != nil {
			result.SourcesFailed = append(result.SourcesFailed, model.SourceFailure{
				Source: out.code,
				Reason: failureReason(out.err),
			})
			continue
		}
		result.SourcesSucceeded = append(result.SourcesSucceeded, out.code)
		raw = append(raw, out.records...)
	}

	if len(result.SourcesSucceeded) == 0 {
		zap.L().Error("search failed: no source responded",
			zap.String("search_id", searchID),
			zap.Int("sources_attempted", len(result.SourcesAttempted)),
		)
		return nil, ErrAllSourcesUnavailable
	}

	result.TotalRaw = len(raw)
	result.IsPartial = len(result.SourcesFailed) > 0

	decisions := o.filter.Apply(ctx, req, raw)
	kept := classify.Keep(decisions)
	result.TotalFiltered = len(kept)
	result.Records = dedup.Consolidate(kept, o.registry.Priority)

	sort.Strings(result.SourcesSucceeded)
	result.ElapsedMS = time.Since(start).Milliseconds()

	zap.L().Info("search completed",
		zap.String("search_id", result.SearchID),
		zap.Strings("sources_attempted", result.SourcesAttempted),
		zap.Strings("sources_succeeded", result.SourcesSucceeded),
		zap.Int("sources_failed", len(result.SourcesFailed)),
		zap.Int("total_raw", result.TotalRaw),
		zap.Int("total_filtered", result.TotalFiltered),
		zap.Int("records", len(result.Records)),
		zap.Bool("is_partial", result.IsPartial),
		zap.Int64("elapsed_ms", result.ElapsedMS),
	)
	return result, nil
}

// fetchSource drains one source's pages under its own timeout.
func (o *Orchestrator) fetchSource(ctx context.Context, searchID string, entry *source.Entry, req model.SearchRequest, maxPages int) sourceOutcome {
	code := entry.Adapter.Code()
	start := time.Now()
	o.emit(ProgressEvent{SearchID: searchID, Source: code, Kind: EventSourceStarted})

	if o.opts.PerSourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PerSourceTimeout)
		defer cancel()
	}

	records, err := source.NewIterator(entry.Client, req, maxPages).Drain(ctx)
	if err != nil {
		zap.L().Warn("source fetch failed",
			zap.String("search_id", searchID),
			zap.String("source", code),
			zap.String("reason", failureReason(err)),
			zap.Error(err),
		)
		o.emit(ProgressEvent{
			SearchID: searchID, Source: code, Kind: EventSourceFailed,
			Reason: failureReason(err), Elapsed: time.Since(start),
		})
		return sourceOutcome{code: code, err: err}
	}

	o.emit(ProgressEvent{
		SearchID: searchID, Source: code, Kind: EventSourceFinished,
		Records: len(records), Elapsed: time.Since(start),
	})
	return sourceOutcome{code: code, records: records}
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(ev)
	}
}

// failureReason maps an error onto the stable reason vocabulary recorded in
// SourcesFailed.
func failureReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var te *resilience.TransientError
	if errors.As(err, &te) {
		if te.StatusCode == 429 {
			return "rate_limited"
		}
		return "retries_exhausted"
	}
	var pe *resilience.PermanentError
	if errors.As(err, &pe) {
		return "rejected"
	}
	return "error"
}
