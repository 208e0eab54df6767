package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/tjsasakifln/licitasearch/internal/model"
)

// Iterator walks a source's result pages in strict ascending order. Usage
// follows the bufio.Scanner pattern:
//
//	it := NewIterator(client, req, maxPages)
//	for it.Next(ctx) {
//		records = append(records, it.Page().Records...)
//	}
//	if err := it.Err(); err != nil { ... }
//
// Iteration stops at the source's last page or at the page ceiling,
// whichever comes first. Stopping at the ceiling with pages left logs a
// truncation warning; it is not an error.
type Iterator struct {
	client   *ResilientClient
	req      model.SearchRequest
	maxPages int

	page    int
	cur     *Page
	err     error
	done    bool
	fetched int
}

// NewIterator creates a page iterator. maxPages <= 0 means no ceiling.
func NewIterator(client *ResilientClient, req model.SearchRequest, maxPages int) *Iterator {
	return &Iterator{
		client:   client,
		req:      req,
		maxPages: maxPages,
	}
}

// Next fetches the next page. It returns false when iteration is finished,
// either normally or with an error (check Err).
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	if it.maxPages > 0 && it.page >= it.maxPages {
		it.done = true
		it.warnTruncated()
		return false
	}

	it.page++
	p, err := it.client.FetchPage(ctx, it.req, it.page)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}

	it.cur = p
	it.fetched++
	if !p.HasMore {
		it.done = true
	}
	return true
}

// Page returns the page fetched by the last successful Next call.
func (it *Iterator) Page() *Page {
	return it.cur
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Pages returns how many pages were fetched so far.
func (it *Iterator) Pages() int {
	return it.fetched
}

func (it *Iterator) warnTruncated() {
	if it.cur == nil || !it.cur.HasMore {
		return
	}
	fields := []zap.Field{
		zap.String("source", it.client.Source()),
		zap.Int("pages_fetched", it.fetched),
		zap.Int("max_pages", it.maxPages),
	}
	if it.cur.TotalPages > 0 {
		fields = append(fields, zap.Int("total_pages_reported", it.cur.TotalPages))
	}
	if it.cur.TotalRecords > 0 {
		fields = append(fields, zap.Int("total_records_reported", it.cur.TotalRecords))
	}
	zap.L().Warn("result set truncated at page ceiling", fields...)
}

// Drain runs the iterator to completion and returns all records.
func (it *Iterator) Drain(ctx context.Context) ([]model.UnifiedRecord, error) {
	var out []model.UnifiedRecord
	for it.Next(ctx) {
		out = append(out, it.Page().Records...)
	}
	return out, it.Err()
}
