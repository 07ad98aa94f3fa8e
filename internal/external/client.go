// Package external is the anti-corruption layer between brokerdesk domain
// logic and third-party vendor APIs: the market data feed, the WhatsApp
// gateway, and the Stripe payment gateway. All outbound HTTP calls go
// through BaseClient, which applies circuit breaking, bounded retries, and
// error mapping to the AppError taxonomy.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"brokerdesk/internal/types"
)

// RetryPolicy configures retry behavior for outbound calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the standard policy for vendor API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BaseClient wraps an *http.Client and a circuit breaker so every vendor
// client inherits the same resilience behavior. Retries apply to 429 and
// 5xx responses only; an open breaker fails fast.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the inter-retry sleep. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient with a named circuit breaker that trips
// after five consecutive failures and probes again after thirty seconds.
func NewBaseClient(httpClient *http.Client, breakerName string, retryPolicy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return NewBaseClientWithBreaker(httpClient, cb, retryPolicy, userAgent, opts...)
}

// NewBaseClientWithBreaker creates a BaseClient around a caller-supplied
// breaker. Tests use this to control trip thresholds.
func NewBaseClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], retryPolicy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes the request through the breaker with bounded retries on 429
// and 5xx. The request ID from the context is propagated as X-Request-Id.
// On success the response is returned as-is and the caller owns the body;
// on exhausted retries or an open breaker an AppError is returned.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so retries can replay it.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support", err)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 429 and 5xx count as failures for the breaker.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if resp != nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return resp, nil
		}
		if attempt < maxAttempts-1 {
			c.sleepFn(c.computeBackoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// computeBackoff honors a numeric Retry-After header when present, otherwise
// applies exponential backoff with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				wait := time.Duration(seconds) * time.Second
				if wait > c.retryPolicy.MaxWait {
					wait = c.retryPolicy.MaxWait
				}
				return wait
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	if max := float64(c.retryPolicy.MaxWait); base > max {
		base = max
	}
	min := float64(c.retryPolicy.MinWait)
	if base <= min {
		return c.retryPolicy.MinWait
	}
	return time.Duration(min + rand.Float64()*(base-min))
}

// mapError translates transport-level failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamDown,
			"circuit breaker is open; upstream service unavailable", err)
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimit,
				"upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamDown,
				fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
		}
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, "upstream request failed", err)
}
