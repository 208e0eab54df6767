package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjsasakifln/licitasearch/internal/classify"
	"github.com/tjsasakifln/licitasearch/internal/config"
	"github.com/tjsasakifln/licitasearch/internal/model"
	"github.com/tjsasakifln/licitasearch/internal/resilience"
	"github.com/tjsasakifln/licitasearch/internal/source"
)

// testAdapter fetches a single page of records from a test server.
type testAdapter struct {
	code string
	url  string
}

func (a *testAdapter) Code() string        { return a.code }
func (a *testAdapter) DisplayName() string { return a.code }

func (a *testAdapter) BuildRequest(ctx context.Context, req model.SearchRequest, page int) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
}

func (a *testAdapter) ParsePage(body []byte, page int) (*source.Page, error) {
	var records []model.UnifiedRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	return &source.Page{Records: records, Number: page}, nil
}

func serveRecords(t *testing.T, records []model.UnifiedRecord) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(records)
	require.NoError(t, err)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
}

func serveStatus(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func record(sourceCode, edital string, desc string) model.UnifiedRecord {
	return model.UnifiedRecord{
		SourceName:           sourceCode,
		ObjectDescription:    desc,
		AgencyCNPJ:           "12345678000190",
		EditalNumber:         edital,
		FiscalYear:           2025,
		ExtractionConfidence: 1.0,
	}
}

// buildTestRegistry registers one entry per server with ascending priority.
func buildTestRegistry(t *testing.T, servers map[string]*httptest.Server, priorities map[string]int) *source.Registry {
	t.Helper()
	reg := source.NewRegistry()
	for code, srv := range servers {
		cfg := config.SourceConfig{
			Code:         code,
			Enabled:      true,
			Priority:     priorities[code],
			RateLimitRPS: 1000,
		}
		adapter := &testAdapter{code: code, url: srv.URL}
		client := source.NewResilientClient(adapter, cfg, source.ClientOptions{
			HTTPClient: srv.Client(),
			Retry:      resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		})
		require.NoError(t, reg.Register(&source.Entry{Adapter: adapter, Config: cfg, Client: client}))
	}
	return reg
}

func newOrchestrator(reg *source.Registry, opts OrchestratorOptions) *Orchestrator {
	return NewOrchestrator(reg, classify.NewFilter(classify.Options{}), opts)
}

func merendaRequest() model.SearchRequest {
	return model.SearchRequest{Keywords: []string{"merenda"}}
}

func TestSearch_MergesAndDedupsAcrossSources(t *testing.T) {
	pncp := serveRecords(t, []model.UnifiedRecord{
		record("pncp", "90042", "fornecimento de merenda escolar"),
	})
	defer pncp.Close()
	comprasnet := serveRecords(t, []model.UnifiedRecord{
		record("comprasnet", "90042", "fornecimento de merenda escolar"),
		record("comprasnet", "90099", "aquisicao de merenda para creches"),
	})
	defer comprasnet.Close()

	reg := buildTestRegistry(t,
		map[string]*httptest.Server{"pncp": pncp, "comprasnet": comprasnet},
		map[string]int{"pncp": 1, "comprasnet": 2},
	)
	orch := newOrchestrator(reg, OrchestratorOptions{})

	result, err := orch.Search(context.Background(), merendaRequest())
	require.NoError(t, err)

	assert.Len(t, result.SourcesAttempted, 2)
	assert.Equal(t, []string{"comprasnet", "pncp"}, result.SourcesSucceeded)
	assert.Empty(t, result.SourcesFailed)
	assert.False(t, result.IsPartial)
	assert.Equal(t, 3, result.TotalRaw)
	assert.Equal(t, 3, result.TotalFiltered)

	// The shared edital collapsed to the priority-1 source.
	require.Len(t, result.Records, 2)
	sources := map[string]string{}
	for _, r := range result.Records {
		sources[r.EditalNumber] = r.SourceName
	}
	assert.Equal(t, "pncp", sources["90042"])
	assert.Equal(t, "comprasnet", sources["90099"])
	assert.NotEmpty(t, result.SearchID)
	assert.GreaterOrEqual(t, result.ElapsedMS, int64(0))
}

func TestSearch_PartialWhenOneSourceFails(t *testing.T) {
	ok := serveRecords(t, []model.UnifiedRecord{record("pncp", "1", "merenda escolar")})
	defer ok.Close()
	broken := serveStatus(http.StatusInternalServerError)
	defer broken.Close()

	reg := buildTestRegistry(t,
		map[string]*httptest.Server{"pncp": ok, "comprasnet": broken},
		map[string]int{"pncp": 1, "comprasnet": 2},
	)
	orch := newOrchestrator(reg, OrchestratorOptions{})

	result, err := orch.Search(context.Background(), merendaRequest())
	require.NoError(t, err, "one healthy source is a successful search")

	assert.True(t, result.IsPartial)
	assert.Equal(t, []string{"pncp"}, result.SourcesSucceeded)
	require.Len(t, result.SourcesFailed, 1)
	assert.Equal(t, "comprasnet", result.SourcesFailed[0].Source)
	assert.Equal(t, "retries_exhausted", result.SourcesFailed[0].Reason)
	assert.Len(t, result.Records, 1)
}

func TestSearch_FiveOfSixSourcesDown(t *testing.T) {
	servers := map[string]*httptest.Server{}
	priorities := map[string]int{}
	healthy := serveRecords(t, []model.UnifiedRecord{record("s0", "7", "merenda escolar")})
	defer healthy.Close()
	servers["s0"] = healthy
	priorities["s0"] = 1
	for i := 1; i < 6; i++ {
		srv := serveStatus(http.StatusServiceUnavailable)
		defer srv.Close()
		code := fmt.Sprintf("s%d", i)
		servers[code] = srv
		priorities[code] = i + 1
	}

	reg := buildTestRegistry(t, servers, priorities)
	orch := newOrchestrator(reg, OrchestratorOptions{})

	result, err := orch.Search(context.Background(), merendaRequest())
	require.NoError(t, err)
	assert.True(t, result.IsPartial)
	assert.Len(t, result.SourcesFailed, 5)
	assert.Len(t, result.Records, 1)
}

func TestSearch_AllSourcesDown(t *testing.T) {
	a := serveStatus(http.StatusBadGateway)
	defer a.Close()
	b := serveStatus(http.StatusServiceUnavailable)
	defer b.Close()

	reg := buildTestRegistry(t,
		map[string]*httptest.Server{"pncp": a, "comprasnet": b},
		map[string]int{"pncp": 1, "comprasnet": 2},
	)
	orch := newOrchestrator(reg, OrchestratorOptions{})

	_, err := orch.Search(context.Background(), merendaRequest())
	assert.True(t, errors.Is(err, ErrAllSourcesUnavailable))
}

func TestSearch_CircuitOpenRecordedAsSkip(t *testing.T) {
	healthy := serveRecords(t, []model.UnifiedRecord{record("pncp", "1", "merenda escolar")})
	defer healthy.Close()
	broken := serveStatus(http.StatusInternalServerError)
	defer broken.Close()

	reg := buildTestRegistry(t,
		map[string]*httptest.Server{"pncp": healthy, "comprasnet": broken},
		map[string]int{"pncp": 1, "comprasnet": 2},
	)

	// Trip the comprasnet breaker before searching.
	entry, _ := reg.Get("comprasnet")
	for range 5 {
		_, _ = entry.Client.FetchPage(context.Background(), model.SearchRequest{}, 1)
	}
	require.Equal(t, resilience.CircuitOpen, entry.Client.Breaker().State())

	orch := newOrchestrator(reg, OrchestratorOptions{})
	result, err := orch.Search(context.Background(), merendaRequest())
	require.NoError(t, err)

	require.Len(t, result.SourcesFailed, 1)
	assert.Equal(t, "circuit_open", result.SourcesFailed[0].Reason)
}

func TestSearch_NoSourcesEnabled(t *testing.T) {
	orch := newOrchestrator(source.NewRegistry(), OrchestratorOptions{})
	_, err := orch.Search(context.Background(), merendaRequest())
	assert.Error(t, err)
}

func TestSearch_ProgressEvents(t *testing.T) {
	healthy := serveRecords(t, []model.UnifiedRecord{record("pncp", "1", "merenda escolar")})
	defer healthy.Close()
	broken := serveStatus(http.StatusBadGateway)
	defer broken.Close()

	reg := buildTestRegistry(t,
		map[string]*httptest.Server{"pncp": healthy, "comprasnet": broken},
		map[string]int{"pncp": 1, "comprasnet": 2},
	)

	var mu sync.Mutex
	events := map[string][]EventKind{}
	orch := newOrchestrator(reg, OrchestratorOptions{
		OnProgress: func(ev ProgressEvent) {
			mu.Lock()
			events[ev.Source] = append(events[ev.Source], ev.Kind)
			mu.Unlock()
		},
	})

	_, err := orch.Search(context.Background(), merendaRequest())
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventSourceStarted, EventSourceFinished}, events["pncp"])
	assert.Equal(t, []EventKind{EventSourceStarted, EventSourceFailed}, events["comprasnet"])
}

func TestSearch_ExclusionTermsApplied(t *testing.T) {
	srv := serveRecords(t, []model.UnifiedRecord{
		record("pncp", "1", "merenda escolar municipal"),
		record("pncp", "2", "merenda escolar terceirizada"),
	})
	defer srv.Close()

	reg := buildTestRegistry(t, map[string]*httptest.Server{"pncp": srv}, map[string]int{"pncp": 1})
	orch := newOrchestrator(reg, OrchestratorOptions{})

	result, err := orch.Search(context.Background(), model.SearchRequest{
		Keywords:       []string{"merenda"},
		ExclusionTerms: []string{"terceirizada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRaw)
	assert.Equal(t, 1, result.TotalFiltered)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "1", result.Records[0].EditalNumber)
}
