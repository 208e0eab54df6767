// Package dedup merges records describing the same procurement across
// sources into a single representative.
package dedup

import (
	"sort"

	"github.com/tjsasakifln/licitasearch/internal/model"
)

// PriorityFunc returns the dedup priority for a source code; lower wins.
type PriorityFunc func(sourceCode string) int

// Consolidate collapses duplicate records. Records sharing a DedupKey are
// reduced to the one from the lowest-priority-number source, ties broken by
// lexicographically smallest source code. The function is pure and
// deterministic: output order is sorted by dedup key, so the result does not
// depend on input order, and consolidating twice is a no-op.
func Consolidate(records []model.UnifiedRecord, priority PriorityFunc) []model.UnifiedRecord {
	if len(records) == 0 {
		return nil
	}

	best := make(map[string]model.UnifiedRecord, len(records))
	for _, rec := range records {
		key := rec.DedupKey()
		cur, seen := best[key]
		if !seen || wins(rec, cur, priority) {
			best[key] = rec
		}
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.UnifiedRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, best[k])
	}
	return out
}

// wins reports whether a should replace b as the representative.
func wins(a, b model.UnifiedRecord, priority PriorityFunc) bool {
	pa, pb := priority(a.SourceName), priority(b.SourceName)
	if pa != pb {
		return pa < pb
	}
	return a.SourceName < b.SourceName
}
