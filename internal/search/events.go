// Package search runs the multi-source procurement search: concurrent
// fan-out, classification, deduplication, and the caching/quota front door.
package search

import "time"

// EventKind labels a progress event.
type EventKind string

const (
	EventSourceStarted  EventKind = "source_started"
	EventSourceFinished EventKind = "source_finished"
	EventSourceFailed   EventKind = "source_failed"
)

// ProgressEvent reports per-source progress during a search. Events are
// emitted from the fan-out goroutines; callbacks must be safe for concurrent
// use.
type ProgressEvent struct {
	SearchID string
	Source   string
	Kind     EventKind
	Records  int
	Reason   string
	Elapsed  time.Duration
}

// ProgressFunc receives progress events.
type ProgressFunc func(ProgressEvent)
