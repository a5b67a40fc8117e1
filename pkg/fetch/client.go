// Package fetch is the upstream HTTP client shared by the ESI resolver and
// the killboard fetcher. Every request flows through the rate limiter and the
// coalescer, so concurrent identical requests share one upstream call and the
// per-service budget holds.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"wanderer-kills/pkg/coalesce"
	"wanderer-kills/pkg/ratelimit"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServiceZkb and ServiceESI name the upstream services known to the limiter.
const (
	ServiceZkb = "zkb"
	ServiceESI = "esi"
)

// Options tunes the client.
type Options struct {
	UserAgent       string
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Timeouts        map[string]time.Duration // per service
	EnableTelemetry bool
}

// Client composes retries, rate limiting and request coalescing.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	coalescer  *coalesce.Coalescer
	opts       Options
}

// NewClient creates the upstream HTTP client.
func NewClient(limiter *ratelimit.Limiter, coalescer *coalesce.Coalescer, opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if opts.EnableTelemetry {
		transport = otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Host)
			}),
		)
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		limiter:    limiter,
		coalescer:  coalescer,
		opts:       opts,
	}
}

// Get fetches url from the named service at the given priority. Concurrent
// calls for the same method+url share one upstream request.
func (c *Client) Get(ctx context.Context, service, url string, priority ratelimit.Priority, headers http.Header) ([]byte, error) {
	v, err := c.coalescer.Do(coalesce.Key(service, "GET "+url), func() (interface{}, error) {
		var body []byte
		submitErr := c.limiter.Submit(ctx, service, priority, func() error {
			var err error
			body, err = c.doWithRetry(ctx, service, url, headers)
			return err
		})
		if submitErr != nil {
			return nil, submitErr
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// doWithRetry performs the request, retrying retryable failures with
// exponential backoff and jitter. Rate-limited responses are returned to the
// scheduler, which freezes dispatch and re-enqueues.
func (c *Client) doWithRetry(ctx context.Context, service, url string, headers http.Header) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		body, err := c.doOnce(ctx, service, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var fe *Error
		if !errors.As(err, &fe) || !fe.Retryable() || fe.Kind == KindRateLimited {
			return nil, err
		}

		slog.Debug("Retrying upstream request",
			"service", service, "url", url, "attempt", attempt+1, "error", err)
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, service, url string, headers http.Header) ([]byte, error) {
	if timeout, ok := c.opts.Timeouts[service]; ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindBadResponse, Service: service, URL: url, Err: err}
	}

	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Service: service, URL: url, Err: err}
		}
		return nil, &Error{Kind: KindConnectionFailed, Service: service, URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: KindBadResponse, Service: service, URL: url, Err: err}
		}
		return body, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Service: service, URL: url, StatusCode: resp.StatusCode}

	case resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindForbidden, Service: service, URL: url, StatusCode: resp.StatusCode}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			Service:    service,
			URL:        url,
			StatusCode: resp.StatusCode,
			retryAfter: retryAfterHint(resp.Header),
		}

	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindServerError, Service: service, URL: url, StatusCode: resp.StatusCode}

	default:
		return nil, &Error{Kind: KindBadResponse, Service: service, URL: url, StatusCode: resp.StatusCode}
	}
}

// backoff sleeps for base×2^(attempt-1) capped at MaxDelay, with up to 25%
// jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.opts.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.opts.MaxDelay {
		delay = c.opts.MaxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func retryAfterHint(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
