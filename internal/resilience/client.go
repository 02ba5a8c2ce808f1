package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Outcome is how a receipt endpoint answered one delivery.
type Outcome int

const (
	// Delivered: the endpoint accepted the receipt.
	Delivered Outcome = iota
	// Rejected: the endpoint is up but refused the payload. Not retried and not
	// held against the breaker.
	Rejected
	// Unavailable: transport failure, timeout, 5xx, 408 or 429. Retried and
	// counted as a breaker failure.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	}
	return "unavailable"
}

// Classify maps a response or transport error to an Outcome.
func Classify(resp *http.Response, err error) Outcome {
	if err != nil || resp == nil {
		return Unavailable
	}
	switch code := resp.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return Unavailable
	case code >= 400:
		return Rejected
	}
	return Delivered
}

// UpstreamError is returned when the last attempt got an unavailable status.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("resilience: %s answered %d %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

// NewTracedClient returns an http.Client whose transport emits client spans.
// timeout bounds each attempt.
func NewTracedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Client delivers requests through the breaker of their host and retries
// unavailable outcomes with backoff. Delivered and rejected responses are
// returned to the caller unread.
type Client struct {
	HTTP     *http.Client
	Breakers *Breakers
	// MaxAttempts defaults to 1.
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	// MaxRetryAfter caps how far a Retry-After header may push the next attempt.
	// Defaults to 30s.
	MaxRetryAfter time.Duration
}

// Do sends req, replaying its body from GetBody on every attempt.
func (c Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.HTTP == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, errors.New("resilience: request body cannot be replayed")
	}
	attempts := max(c.MaxAttempts, 1)
	var breaker *Breaker
	if c.Breakers != nil {
		breaker = c.Breakers.For(req.URL.String())
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if breaker != nil && !breaker.Allow(ctx) {
			return nil, fmt.Errorf("%s: %w", breaker.Endpoint(), ErrOpenCircuit)
		}
		resp, err := c.send(ctx, req)
		outcome := Classify(resp, err)
		if breaker != nil {
			breaker.Record(ctx, outcome)
		}
		if outcome != Unavailable {
			return resp, nil
		}

		var wait time.Duration
		if err != nil {
			lastErr = err
		} else {
			lastErr = &UpstreamError{Endpoint: req.URL.Host, StatusCode: resp.StatusCode}
			wait = c.retryAfter(resp)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if attempt == attempts {
			break
		}
		wait = max(wait, Backoff(c.BaseBackoff, attempt, c.Jitter))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attempt.Body = body
	}
	return c.HTTP.Do(attempt)
}

// retryAfter reads a delay-seconds Retry-After header. HTTP-date values are ignored.
func (c Client) retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	limit := c.MaxRetryAfter
	if limit <= 0 {
		limit = 30 * time.Second
	}
	return min(time.Duration(secs)*time.Second, limit)
}
