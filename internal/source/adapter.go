// Package source implements the government procurement portal adapters and
// the resilient HTTP client that talks to them.
package source

import (
	"context"
	"net/http"

	"github.com/tjsasakifln/licitasearch/internal/model"
)

// Page is one decoded page of results from a source API.
type Page struct {
	Records []model.UnifiedRecord

	// Number is the 1-based page number this Page holds.
	Number int

	// TotalPages is the page count reported by the source, 0 when the
	// source paginates without announcing a total.
	TotalPages int

	// TotalRecords is the record count reported by the source, 0 if unknown.
	TotalRecords int

	// HasMore reports whether the source has further pages after this one.
	HasMore bool
}

// Adapter translates between one portal's API and the unified record model.
// Implementations must be safe for concurrent use: BuildRequest and ParsePage
// are called from multiple goroutines during a fan-out search.
type Adapter interface {
	// Code is the stable short identifier ("pncp", "comprasnet", ...).
	Code() string

	// DisplayName is the human-readable portal name.
	DisplayName() string

	// BuildRequest constructs the HTTP request for the given search and
	// 1-based page number, including any credential headers.
	BuildRequest(ctx context.Context, req model.SearchRequest, page int) (*http.Request, error)

	// ParsePage decodes one response body into unified records. The page
	// argument is the 1-based number of the page that was requested.
	ParsePage(body []byte, page int) (*Page, error)
}
