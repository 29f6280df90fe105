package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"credence/internal/config"
)

const defaultHTTPTimeout = 30 * time.Second

// Client calls the external structured-extraction service with retries, a
// shared circuit breaker, response caching, and a heuristic fallback.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	retryMaxAttempts  int
	retryInitialDelay time.Duration
	retryMaxDelay     time.Duration
	sleeper           func(context.Context, time.Duration) error

	breaker *Breaker
	cache   *cache
	usage   *Usage
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBreaker shares an existing breaker across clients.
func WithBreaker(breaker *Breaker) Option {
	return func(c *Client) {
		if breaker != nil {
			c.breaker = breaker
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// NewClient constructs an extraction client from configuration.
func NewClient(cfg config.Extraction, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		baseURL:           strings.TrimSpace(cfg.BaseURL),
		apiKey:            strings.TrimSpace(cfg.APIKey),
		httpClient:        &http.Client{Timeout: timeout},
		retryMaxAttempts:  cfg.RetryMaxAttempts,
		retryInitialDelay: time.Duration(cfg.RetryInitialDelayMS) * time.Millisecond,
		retryMaxDelay:     time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		breaker: NewBreaker(BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Window:           time.Duration(cfg.BreakerWindowSeconds) * time.Second,
			Cooldown:         time.Duration(cfg.BreakerCooldownSeconds) * time.Second,
		}),
		cache: newCache(time.Duration(cfg.CacheTTLSeconds) * time.Second),
		usage: &Usage{},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.sleeper == nil {
		client.sleeper = sleepContext
	}
	return client
}

// Breaker exposes the shared circuit breaker for status queries.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Usage exposes the accounting counters.
func (c *Client) Usage() *Usage { return c.usage }

// Extract performs one structured extraction. Transient failures are retried
// with exponential backoff and jitter; malformed responses are returned as
// structured errors immediately. When the circuit is open the deterministic
// heuristic fallback is returned instead of an error.
func (c *Client) Extract(ctx context.Context, in Input) (Result, error) {
	hash := in.Hash()
	if result, ok := c.cache.lookup(hash); ok {
		c.usage.recordCacheHit()
		return result, nil
	}
	c.usage.recordCacheMiss()

	proceed, trial := c.breaker.Allow()
	if !proceed {
		c.usage.recordFallback()
		return heuristicExtract(in), nil
	}

	start := time.Now()
	result, attempts, err := c.extractWithRetry(ctx, in, trial)
	if errors.Is(err, errBreakerReopened) {
		// The half-open trial failed and the circuit is open again; behave
		// as every other caller does while it is open.
		c.usage.recordTrialFallback(attempts, time.Since(start))
		return heuristicExtract(in), nil
	}
	c.usage.recordCall(attempts, time.Since(start), err != nil)
	if err != nil {
		return Result{}, err
	}
	c.cache.store(hash, result)
	return result, nil
}

// errBreakerReopened marks a failed half-open trial call. The retry loop
// must not continue past it: the failure restarted the cooldown, and further
// attempts would reach the backend straight through it.
var errBreakerReopened = errors.New("circuit reopened by failed trial call")

func (c *Client) extractWithRetry(ctx context.Context, in Input, trial bool) (Result, int, error) {
	attempts := c.retryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := c.extractOnce(ctx, in)
		if err == nil {
			c.breaker.RecordSuccess(trial)
			return result, attempt, nil
		}
		lastErr = err
		c.breaker.RecordFailure(trial)
		if trial {
			return Result{}, attempt, fmt.Errorf("%w: %w", errBreakerReopened, err)
		}

		if !isTransient(err) {
			return Result{}, attempt, &Error{
				RequirementID: in.RequirementID,
				DocumentID:    in.DocumentID,
				Attempts:      attempt,
				Hint:          "response could not be parsed; check service compatibility",
				Err:           err,
			}
		}
		if attempt == attempts {
			break
		}
		delay := c.backoffDelay(attempt, err)
		if err := c.sleeper(ctx, delay); err != nil {
			return Result{}, attempt, err
		}
	}

	return Result{}, attempts, &Error{
		RequirementID: in.RequirementID,
		DocumentID:    in.DocumentID,
		Attempts:      attempts,
		Hint:          "re-run the extraction stage once the service recovers",
		Err:           fmt.Errorf("%w: %w", ErrTransient, lastErr),
	}
}

// backoffDelay doubles the initial delay per attempt up to the cap, with
// ±25% jitter. A server-provided Retry-After wins when it is longer.
func (c *Client) backoffDelay(attempt int, err error) time.Duration {
	delay := c.retryInitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.retryMaxDelay {
			delay = c.retryMaxDelay
			break
		}
	}
	jitter := 0.75 + rand.Float64()*0.5
	delay = time.Duration(float64(delay) * jitter)

	var httpErr *httpStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
		delay = httpErr.RetryAfter
	}
	return delay
}

type extractionRequest struct {
	ContentHash string   `json:"content_hash"`
	Fields      []string `json:"fields"`
	Context     string   `json:"context"`
}

type extractionResponse struct {
	Fields []Field `json:"fields"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("extraction request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) extractOnce(ctx context.Context, in Input) (Result, error) {
	if c.baseURL == "" {
		return Result{}, fmt.Errorf("%w: extraction.base_url is not configured", ErrMalformedResponse)
	}
	payload := extractionRequest{ContentHash: in.Hash(), Fields: in.Fields, Context: in.Context}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %w", ErrTransient, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		statusErr := &httpStatusError{StatusCode: resp.StatusCode, Body: string(body), RetryAfter: retryAfter}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return Result{}, fmt.Errorf("%w: %w", ErrTransient, statusErr)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, statusErr)
	}

	var decoded extractionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %w", ErrMalformedResponse, err)
	}
	if decoded.Error != nil {
		return Result{}, fmt.Errorf("%w: service error: %s", ErrMalformedResponse, strings.TrimSpace(decoded.Error.Message))
	}
	if decoded.Fields == nil {
		return Result{}, fmt.Errorf("%w: response carried no fields array", ErrMalformedResponse)
	}
	return Result{Fields: decoded.Fields}, nil
}

func isTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
