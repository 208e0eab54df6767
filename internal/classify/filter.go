// Package classify decides which fetched records are relevant to a search.
// Keyword matching handles the bulk of the load; an LLM arbiter is consulted
// only for zero-match records and low-confidence extractions.
package classify

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tjsasakifln/licitasearch/internal/model"
	"github.com/tjsasakifln/licitasearch/pkg/llm"
)

// DecisionSource records which mechanism decided a record's relevance.
type DecisionSource string

const (
	DecisionKeyword         DecisionSource = "KEYWORD"
	DecisionLLMZeroMatch    DecisionSource = "LLM_ZERO_MATCH"
	DecisionLLMStandard     DecisionSource = "LLM_STANDARD"
	DecisionLLMConservative DecisionSource = "LLM_CONSERVATIVE"
)

// Decision is the relevance outcome for one record.
type Decision struct {
	Record     model.UnifiedRecord
	Relevant   bool
	Source     DecisionSource
	Confidence float64

	// MatchedKeywords lists the request keywords found in the record's
	// object description, as the caller spelled them. Empty for records
	// admitted by zero-match arbitration alone.
	MatchedKeywords []string
}

// Options configures the filter.
type Options struct {
	// Arbiter is consulted for zero-match and low-confidence records.
	// Nil disables escalation entirely: zero-match records are excluded.
	Arbiter llm.Arbiter

	// Mode is "standard" or "conservative". In standard mode an arbiter
	// failure on a low-confidence keyword match keeps the keyword decision;
	// in conservative mode it drops the record. Zero-match escalation always
	// fails closed regardless of mode.
	Mode string

	// EscalationThreshold: keyword-matched records whose extraction
	// confidence falls below it are re-checked by the arbiter.
	EscalationThreshold float64

	// ArbiterTimeout bounds each arbiter call.
	ArbiterTimeout time.Duration

	// MaxConcurrentArbiter bounds parallel arbiter calls.
	MaxConcurrentArbiter int
}

// Filter applies exclusion terms, keyword matching, and arbiter escalation.
type Filter struct {
	opts Options
}

// NewFilter creates a classification filter.
func NewFilter(opts Options) *Filter {
	if opts.ArbiterTimeout <= 0 {
		opts.ArbiterTimeout = 10 * time.Second
	}
	if opts.MaxConcurrentArbiter <= 0 {
		opts.MaxConcurrentArbiter = 4
	}
	if opts.Mode == "" {
		opts.Mode = "standard"
	}
	return &Filter{opts: opts}
}

// Apply classifies every record, preserving input order in the returned
// decisions. Exclusion terms are checked before keywords: an excluded record
// never reaches the arbiter.
func (f *Filter) Apply(ctx context.Context, req model.SearchRequest, records []model.UnifiedRecord) []Decision {
	decisions := make([]Decision, len(records))

	type escalation struct {
		index   int
		source  DecisionSource
		matched []string
	}
	var escalations []escalation

	for i, rec := range records {
		text := model.NormalizeText(rec.ObjectDescription)

		if len(matchedPhrases(text, req.ExclusionTerms)) > 0 {
			decisions[i] = Decision{Record: rec, Relevant: false, Source: DecisionKeyword, Confidence: 1.0}
			continue
		}

		matched := matchedPhrases(text, req.Keywords)
		switch {
		case len(matched) > 0 && rec.ExtractionConfidence < f.opts.EscalationThreshold && f.opts.Arbiter != nil:
			src := DecisionLLMStandard
			if f.opts.Mode == "conservative" {
				src = DecisionLLMConservative
			}
			escalations = append(escalations, escalation{index: i, source: src, matched: matched})
		case len(matched) > 0:
			decisions[i] = Decision{Record: rec, Relevant: true, Source: DecisionKeyword, Confidence: rec.ExtractionConfidence, MatchedKeywords: matched}
		case f.opts.Arbiter != nil:
			escalations = append(escalations, escalation{index: i, source: DecisionLLMZeroMatch})
		default:
			decisions[i] = Decision{Record: rec, Relevant: false, Source: DecisionKeyword, Confidence: 1.0}
		}
	}

	if len(escalations) == 0 {
		return decisions
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.MaxConcurrentArbiter)

	for _, esc := range escalations {
		g.Go(func() error {
			rec := records[esc.index]
			d := f.arbitrate(gctx, req, rec, esc.source, esc.matched)
			mu.Lock()
			decisions[esc.index] = d
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines always return nil; failures are per-record

	return decisions
}

// arbitrate runs one arbiter call with its own timeout. Zero-match records
// fail closed on arbiter failure; low-confidence keyword matches fall back
// per mode.
func (f *Filter) arbitrate(ctx context.Context, req model.SearchRequest, rec model.UnifiedRecord, source DecisionSource, matched []string) Decision {
	callCtx, cancel := context.WithTimeout(ctx, f.opts.ArbiterTimeout)
	defer cancel()

	verdict, err := f.opts.Arbiter.Judge(callCtx, llm.JudgeRequest{
		Keywords:          req.Keywords,
		ExclusionTerms:    req.ExclusionTerms,
		ObjectDescription: rec.ObjectDescription,
		AgencyName:        rec.AgencyName,
	})
	if err != nil {
		zap.L().Warn("arbiter call failed",
			zap.String("decision_source", string(source)),
			zap.String("dedup_key", rec.DedupKey()),
			zap.Error(err),
		)
		// Standard mode lets a prior keyword hit stand; everything else
		// fails closed.
		relevant := len(matched) > 0 && source == DecisionLLMStandard
		return Decision{Record: rec, Relevant: relevant, Source: source, Confidence: 0, MatchedKeywords: matched}
	}

	return Decision{Record: rec, Relevant: verdict.Relevant, Source: source, Confidence: verdict.Confidence, MatchedKeywords: matched}
}

// Keep returns the records of the relevant decisions, in order.
func Keep(decisions []Decision) []model.UnifiedRecord {
	out := make([]model.UnifiedRecord, 0, len(decisions))
	for _, d := range decisions {
		if d.Relevant {
			out = append(out, d.Record)
		}
	}
	return out
}

// matchedPhrases returns the phrases that occur in the normalized text on
// word boundaries, in the order the caller listed them. Multi-word phrases
// must appear as a contiguous token sequence.
func matchedPhrases(normalizedText string, phrases []string) []string {
	if normalizedText == "" {
		return nil
	}
	var out []string
	padded := " " + normalizedText + " "
	for _, p := range phrases {
		np := model.NormalizeText(p)
		if np == "" {
			continue
		}
		if strings.Contains(padded, " "+np+" ") {
			out = append(out, p)
		}
	}
	return out
}
