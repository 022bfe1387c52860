// Package contextapi fetches the per-segment conversation context that seeds a
// live session from the realtime-context endpoint.
//
// The endpoint is an external collaborator. It receives the segment being
// studied and returns the system instruction, background text, greeting
// prompts and voice for the session. [Client] wraps the call with OTel HTTP
// instrumentation, an optional [Cache] and a circuit breaker.
package contextapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/livetutor/internal/resilience"
)

// Path is appended to the configured base URL.
const Path = "/realtime-context"

// maxBody bounds the response size read from the endpoint.
const maxBody = 1 << 20

var (
	// ErrSegmentRequired is returned when Fetch is called without a segment.
	ErrSegmentRequired = errors.New("contextapi: segment id is required")

	// ErrUnavailable wraps failures that trip the circuit breaker: transport
	// errors, 5xx responses and an open breaker.
	ErrUnavailable = errors.New("contextapi: endpoint unavailable")

	// ErrResponseTooLarge is returned when a successful response body exceeds
	// the size limit. It does not count against the circuit breaker.
	ErrResponseTooLarge = errors.New("contextapi: response too large")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("contextapi: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("contextapi: unexpected status %d: %s", e.Code, e.Body)
}

// Context is the conversation context returned for a segment.
type Context struct {
	ContextText          string `json:"contextText"`
	SystemInstruction    string `json:"systemInstruction"`
	IntroductionPrompt   string `json:"introductionPrompt"`
	TransitionBackPrompt string `json:"transitionBackPrompt"`
	VoiceID              string `json:"voiceId"`
}

// request is the POST body.
type request struct {
	SegmentID string `json:"segmentId"`
	Timestamp int64  `json:"timestamp"`
}

// Metrics records fetch outcomes. *observe.Metrics implements it.
type Metrics interface {
	RecordContextFetch(ctx context.Context, d time.Duration, cached bool, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordContextFetch(context.Context, time.Duration, bool, error) {}

// Client calls the realtime-context endpoint.
type Client struct {
	url     string
	http    *http.Client
	cache   *Cache
	breaker *resilience.CircuitBreaker
	metrics Metrics
	now     func() time.Time
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithCache enables per-segment caching.
func WithCache(c *Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithBreaker guards calls with cb. Without it a breaker with default
// settings is used.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// WithMetrics records fetch latency.
func WithMetrics(m Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// WithClock overrides time.Now for the request timestamp.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// NewClient returns a Client for baseURL (e.g. "http://localhost:3000").
// timeout bounds each request; zero means no client-side timeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url: strings.TrimRight(baseURL, "/") + Path,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(0, 0, nil)
	}
	return c
}

// NewBreaker builds the circuit breaker used for the endpoint. Only
// [ErrUnavailable] failures count; a 4xx answer or a bad body does not.
func NewBreaker(maxFailures int, reset time.Duration, onChange func(from, to resilience.State)) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          "context_api",
		MaxFailures:   maxFailures,
		ResetTimeout:  reset,
		IsFailure:     func(err error) bool { return errors.Is(err, ErrUnavailable) },
		OnStateChange: onChange,
	})
}

// Breaker returns the client's circuit breaker, e.g. for readiness checks.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Fetch returns the context for segmentID, from the cache when possible.
func (c *Client) Fetch(ctx context.Context, segmentID string) (Context, error) {
	if segmentID == "" {
		return Context{}, ErrSegmentRequired
	}

	start := time.Now()
	if cached, ok := c.cache.Get(segmentID); ok {
		c.metrics.RecordContextFetch(ctx, time.Since(start), true, nil)
		slog.Debug("contextapi: cache hit", "segment_id", segmentID)
		return cached, nil
	}

	var out Context
	err := c.breaker.Execute(func() error {
		var err error
		out, err = c.post(ctx, segmentID)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c.metrics.RecordContextFetch(ctx, time.Since(start), false, err)
	if err != nil {
		return Context{}, err
	}

	c.cache.Put(segmentID, out)
	slog.Info("contextapi: fetched context",
		"segment_id", segmentID,
		"voice_id", out.VoiceID,
		"duration", time.Since(start),
	)
	return out, nil
}

func (c *Client) post(ctx context.Context, segmentID string) (Context, error) {
	body, err := json.Marshal(request{SegmentID: segmentID, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return Context{}, fmt.Errorf("contextapi: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Context{}, fmt.Errorf("contextapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return Context{}, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	tooLarge := len(data) > maxBody
	if tooLarge {
		data = data[:maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode >= 500 {
			return Context{}, fmt.Errorf("%w: %w", ErrUnavailable, serr)
		}
		return Context{}, serr
	}
	if tooLarge {
		return Context{}, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, maxBody)
	}

	var out Context
	if err := json.Unmarshal(data, &out); err != nil {
		return Context{}, fmt.Errorf("contextapi: decode response: %w", err)
	}
	return out, nil
}
