package model

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SearchRequest describes one multi-source search.
type SearchRequest struct {
	Keywords       []string  `json:"keywords"`
	ExclusionTerms []string  `json:"exclusion_terms,omitempty"`
	States         []string  `json:"states,omitempty"`
	Municipality   string    `json:"municipality,omitempty"`
	DateFrom       time.Time `json:"date_from"`
	DateTo         time.Time `json:"date_to"`

	// MaxPages overrides the per-source page ceiling when > 0.
	MaxPages int `json:"max_pages,omitempty"`
}

// Fingerprint returns a stable cache key for the request. Keyword and state
// order does not change the fingerprint.
func (r SearchRequest) Fingerprint() string {
	kw := normalizeSet(r.Keywords)
	ex := normalizeSet(r.ExclusionTerms)
	st := normalizeSet(r.States)

	basis := strings.Join([]string{
		strings.Join(kw, ","),
		strings.Join(ex, ","),
		strings.Join(st, ","),
		NormalizeText(r.Municipality),
		r.DateFrom.UTC().Format("2006-01-02"),
		r.DateTo.UTC().Format("2006-01-02"),
		fmt.Sprintf("%d", r.MaxPages),
	}, "|")
	sum := sha256.Sum256([]byte(basis))
	return fmt.Sprintf("%x", sum[:16])
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := NormalizeText(s); n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// SourceFailure records why one source contributed nothing to a search.
type SourceFailure struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// SearchResult is the consolidated outcome of a multi-source search. The
// field set is consumed by reporting and export layers and must stay stable.
type SearchResult struct {
	SearchID         string          `json:"search_id"`
	Records          []UnifiedRecord `json:"records"`
	SourcesAttempted []string        `json:"sources_attempted"`
	SourcesSucceeded []string        `json:"sources_succeeded"`
	SourcesFailed    []SourceFailure `json:"sources_failed"`
	TotalRaw         int             `json:"total_raw"`
	TotalFiltered    int             `json:"total_filtered"`
	IsPartial        bool            `json:"is_partial"`
	ElapsedMS        int64           `json:"elapsed_ms"`
}
