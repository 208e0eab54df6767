package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tjsasakifln/licitasearch/internal/config"
	"github.com/tjsasakifln/licitasearch/internal/model"
	"github.com/tjsasakifln/licitasearch/internal/resilience"
)

const userAgent = "licitasearch/1.0"

// maxBodyBytes bounds how much of a response we are willing to decode.
const maxBodyBytes = 16 << 20

// ClientOptions configures a ResilientClient.
type ClientOptions struct {
	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
	Retry      resilience.RetryConfig
}

// ResilientClient fetches pages from one source through a rate limiter, a
// retry loop, and a circuit breaker. The breaker wraps the whole retry loop,
// so one logical fetch contributes one result to the breaker no matter how
// many attempts it took.
type ResilientClient struct {
	adapter Adapter
	cfg     config.SourceConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewResilientClient wraps an adapter with rate limiting, retry, and circuit
// breaking per the source's configuration.
func NewResilientClient(adapter Adapter, cfg config.SourceConfig, opts ClientOptions) *ResilientClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 2
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}

	return &ResilientClient{
		adapter: adapter,
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
		retry:   opts.Retry,
	}
}

// Source returns the adapter code.
func (c *ResilientClient) Source() string {
	return c.adapter.Code()
}

// Breaker exposes the circuit breaker for state inspection.
func (c *ResilientClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// FetchPage fetches and decodes one page. An open circuit or exhausted
// retries surface as *SourceUnavailableError; a page that decodes but is
// empty is not an error.
func (c *ResilientClient) FetchPage(ctx context.Context, req model.SearchRequest, page int) (*Page, error) {
	retryCfg := c.retry
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger(c.adapter.Code(), "fetch_page")
	}

	p, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Page, error) {
		return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Page, error) {
			return c.fetchOnce(ctx, req, page)
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &SourceUnavailableError{Source: c.adapter.Code(), Err: err}
		}
		var te *resilience.TransientError
		if errors.As(err, &te) {
			return nil, &SourceUnavailableError{Source: c.adapter.Code(), LastStatus: te.StatusCode, Err: err}
		}
		return nil, err
	}
	return p, nil
}

// fetchOnce performs a single rate-limited HTTP attempt.
func (c *ResilientClient) fetchOnce(ctx context.Context, req model.SearchRequest, page int) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "client: rate limiter wait")
	}

	httpReq, err := c.adapter.BuildRequest(ctx, req, page)
	if err != nil {
		return nil, eris.Wrap(err, "client: build request")
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", userAgent)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Transport errors are classified by IsTransient downstream.
		return nil, eris.Wrapf(err, "client: %s page %d", c.adapter.Code(), page)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "client: read body"), resp.StatusCode)
	}

	p, err := c.adapter.ParsePage(body, page)
	if err != nil {
		// Malformed payloads are not retried: the source answered, badly.
		zap.L().Warn("source returned unparseable page",
			zap.String("source", c.adapter.Code()),
			zap.Int("page", page),
			zap.Error(err),
		)
		return nil, resilience.NewPermanentError(err, resp.StatusCode)
	}
	return p, nil
}

// classifyStatus maps HTTP status codes onto transient/permanent errors.
// 429 carries the parsed Retry-After so the retry loop can honor it.
func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		te := resilience.NewTransientError(eris.Errorf("http 429 from %s", resp.Request.URL.Host), code)
		te.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return te
	case resilience.IsTransientHTTPStatus(code):
		return resilience.NewTransientError(eris.Errorf("http %d from %s", code, resp.Request.URL.Host), code)
	default:
		return resilience.NewPermanentError(eris.Errorf("http %d from %s", code, resp.Request.URL.Host), code)
	}
}

// parseRetryAfter handles both the delta-seconds and HTTP-date forms.
// Returns 0 when the header is absent or unintelligible.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
