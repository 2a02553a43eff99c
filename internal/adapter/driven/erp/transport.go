// Package erp implements the ERPClient and OAuthExchanger ports against the
// external ERP REST API. Every API request passes through one shared Transport,
// which paces, retries and classifies it.
package erp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/ericfisherdev/erpsync/internal/domain/port/driven"
)

// maxBodyBytes bounds how much of a response body is read into memory.
const maxBodyBytes = 16 << 20

// TransportConfig holds the timeout and retry policy of a Transport.
type TransportConfig struct {
	Timeout    time.Duration // Per attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64 // Randomization factor in [0, 1]; zero gives a deterministic schedule.

	// BreakerFailures is how many consecutive exhausted calls open the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open before a probe is allowed.
	BreakerCooldown time.Duration
}

// DefaultTransportConfig returns the production retry policy: 3 retries,
// 1s doubling to at most 10s, 30s per attempt.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes ERP API requests. All callers must share one instance so
// the Gate sees every outbound request.
type Transport struct {
	base    http.RoundTripper
	gate    Gate
	cfg     TransportConfig
	breaker *gobreaker.CircuitBreaker
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a Transport. A nil base keeps detail GETs in a bounded
// httpcache over http.DefaultTransport; every cached entry is revalidated by
// ETag before use, so each request still reaches the ERP.
func NewTransport(base http.RoundTripper, gate Gate, cfg TransportConfig) *Transport {
	if base == nil {
		base = newRevalidatingTransport(http.DefaultTransport, DefaultCacheEntries)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	t := &Transport{
		base:  base,
		gate:  gate,
		cfg:   cfg,
		sleep: sleepContext,
	}

	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "erp-api",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only exhausted transient failures count against the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || !driven.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("erp circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return t
}

// Do sends req, retrying 429, 5xx and network failures with exponential
// backoff. Any other non-2xx status fails at once. On failure the returned
// error wraps a *driven.APIError.
func (t *Transport) Do(req *http.Request) (*Response, error) {
	result, err := t.breaker.Execute(func() (any, error) {
		return t.doWithRetry(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &driven.APIError{Kind: driven.ErrUnreachable, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (t *Transport) doWithRetry(req *http.Request) (*Response, error) {
	ctx := req.Context()
	schedule := t.newBackOff()

	var prevDelay time.Duration
	for attempt := 0; ; attempt++ {
		resp, err := t.attempt(req)
		if err == nil {
			return resp, nil
		}

		if !driven.IsRetryable(err) {
			return nil, err
		}
		if attempt >= t.cfg.MaxRetries {
			return nil, fmt.Errorf("%s %s: giving up after %d attempts: %w", req.Method, req.URL.Path, attempt+1, err)
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			delay = t.cfg.MaxDelay
		}
		if ra := retryAfter(resp); ra > delay {
			delay = min(ra, t.cfg.MaxDelay)
		}
		delay = max(delay, prevDelay)
		prevDelay = delay

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		slog.Warn("erp request failed, retrying",
			"method", req.Method,
			"path", req.URL.Path,
			"attempt", attempt+1,
			"status", status,
			"delay", delay,
			"error", err,
		)

		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs one paced request. On a classified HTTP failure it returns
// the response alongside the error so Retry-After can be read.
func (t *Transport) attempt(req *http.Request) (*Response, error) {
	ctx := req.Context()
	if err := t.gate.Wait(ctx); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	out := req.Clone(attemptCtx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}

	httpResp, err := t.base.RoundTrip(out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &driven.APIError{Kind: driven.ErrUnreachable, Retryable: true, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &driven.APIError{Kind: driven.ErrUnreachable, Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if err := classifyStatus(resp); err != nil {
		return resp, err
	}

	return resp, nil
}

func (t *Transport) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.BaseDelay
	b.MaxInterval = t.cfg.MaxDelay
	b.Multiplier = t.cfg.Multiplier
	b.RandomizationFactor = t.cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// classifyStatus maps a non-2xx status to a typed APIError.
func classifyStatus(resp *Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &driven.APIError{Kind: driven.ErrRateLimited, StatusCode: code, Retryable: true}
	case code >= 500:
		return &driven.APIError{Kind: driven.ErrServerError, StatusCode: code, Retryable: true}
	case code == http.StatusNotFound:
		return &driven.APIError{Kind: driven.ErrNotFound, StatusCode: code}
	default:
		return &driven.APIError{Kind: driven.ErrRequestRejected, StatusCode: code, Err: errors.New(snippet(resp.Body))}
	}
}

// retryAfter parses a Retry-After header in seconds or HTTP-date form.
func retryAfter(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at)
	}
	return 0
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
