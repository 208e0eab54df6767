// Package model defines the canonical data types shared across the search
// pipeline: unified procurement records, search requests, and search results.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// UnifiedRecord is the canonical procurement entry produced by every source
// adapter. Fields that a source cannot supply are left at their zero value;
// OpeningDate is nil when the source does not publish one.
type UnifiedRecord struct {
	// SourceID is the record's native identifier within its source, e.g.
	// the PNCP control number. Empty when the source publishes none.
	SourceID string `json:"source_id"`

	// SourceName is the registered source code ("pncp", "comprasnet", ...).
	// Priority lookups and dedup tie-breaks key on it.
	SourceName string `json:"source_name"`

	ObjectDescription string     `json:"object_description"`
	EstimatedValue    float64    `json:"estimated_value"`
	AgencyCNPJ        string     `json:"agency_cnpj"`
	AgencyName        string     `json:"agency_name"`
	StateCode         string     `json:"state_code"`
	Municipality      string     `json:"municipality"`
	PublicationDate   time.Time  `json:"publication_date"`
	OpeningDate       *time.Time `json:"opening_date,omitempty"`
	EditalNumber      string     `json:"edital_number,omitempty"`
	FiscalYear        int        `json:"fiscal_year,omitempty"`
	Link              string     `json:"link"`

	// ExtractionConfidence is only meaningful for records derived from
	// unstructured text. Structured API adapters set it to 1.0.
	ExtractionConfidence float64 `json:"extraction_confidence"`
}

// DefaultExtractionConfidence is assumed when a source does not report one.
const DefaultExtractionConfidence = 0.5

// DedupKey derives the cross-source identity of a procurement. Two records
// with equal keys are assumed to describe the same procurement regardless of
// which source produced them.
//
// When both the edital number and fiscal year are present the key is the
// human-readable triple {cnpj}:{edital}:{year}. Otherwise it falls back to a
// hash of the agency, the normalized object text, and the truncated value.
// The fallback is a heuristic: it does not guarantee the absence of false
// duplicates or false uniques.
func (r UnifiedRecord) DedupKey() string {
	cnpj := NormalizeCNPJ(r.AgencyCNPJ)
	if r.EditalNumber != "" && r.FiscalYear != 0 {
		return fmt.Sprintf("%s:%s:%d", cnpj, r.EditalNumber, r.FiscalYear)
	}
	basis := fmt.Sprintf("%s|%s|%d", cnpj, NormalizeText(r.ObjectDescription), int64(r.EstimatedValue))
	sum := sha256.Sum256([]byte(basis))
	return fmt.Sprintf("h:%x", sum[:12])
}

// NormalizeCNPJ strips everything but digits from a CNPJ, so that
// "09.464.383/0001-70" and "09464383000170" compare equal.
func NormalizeCNPJ(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
