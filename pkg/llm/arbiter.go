// Package llm provides the relevance arbiter: a small-model judgment call
// used when keyword matching cannot decide whether a procurement record is
// relevant to a search.
package llm

import (
	"context"
)

// JudgeRequest asks whether one procurement record matches the user's intent.
type JudgeRequest struct {
	Keywords          []string
	ExclusionTerms    []string
	ObjectDescription string
	AgencyName        string
}

// Verdict is the arbiter's answer.
type Verdict struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Arbiter decides record relevance. Implementations must be safe for
// concurrent use.
type Arbiter interface {
	Judge(ctx context.Context, req JudgeRequest) (Verdict, error)
}
