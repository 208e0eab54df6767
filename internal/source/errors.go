package source

import "fmt"

// SourceUnavailableError reports that a source contributed nothing to a
// search because its circuit is open or its retries were exhausted. The
// orchestrator treats it as a per-source failure, never a search failure.
type SourceUnavailableError struct {
	Source     string
	LastStatus int
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	if e.LastStatus != 0 {
		return fmt.Sprintf("source %s unavailable (last status %d): %v", e.Source, e.LastStatus, e.Err)
	}
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}
