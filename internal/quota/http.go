package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// HTTPPlanSource fetches caller plans from a billing endpoint. The endpoint
// receives GET {base}/plans/{callerKey} and answers with a Plan JSON body.
type HTTPPlanSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPlanSource creates a plan source against the given base URL.
func NewHTTPPlanSource(baseURL string) *HTTPPlanSource {
	return &HTTPPlanSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchPlan implements PlanSource.
func (s *HTTPPlanSource) FetchPlan(ctx context.Context, callerKey string) (Plan, error) {
	endpoint := fmt.Sprintf("%s/plans/%s", s.baseURL, url.PathEscape(callerKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Plan{}, eris.Wrap(err, "quota: build plan request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Plan{}, eris.Wrap(err, "quota: fetch plan")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Plan{}, eris.Errorf("quota: plan endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Plan{}, eris.Wrap(err, "quota: read plan body")
	}

	var plan Plan
	if err := json.Unmarshal(body, &plan); err != nil {
		return Plan{}, eris.Wrap(err, "quota: decode plan")
	}
	if plan.SearchLimit <= 0 {
		return Plan{}, eris.Errorf("quota: plan %q has no search limit", plan.Name)
	}
	return plan, nil
}
