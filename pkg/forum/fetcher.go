package forum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/metrics"
	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

const maxBodyBytes = 8 << 20

// Option customises an adapter.
type Option func(*fetcher)

// WithHTTPClient replaces the default client. Its Timeout is overwritten by
// Config.Timeout when that is set.
func WithHTTPClient(c *http.Client) Option {
	return func(f *fetcher) { f.http = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *fetcher) { f.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *fetcher) { f.metrics = m }
}

// WithSleep replaces the backoff sleep; tests use it to skip real waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *fetcher) { f.sleep = sleep }
}

// fetcher issues paced, rate-limited GETs with retry and decodes JSON.
type fetcher struct {
	platform types.Platform
	cfg      Config
	headers  map[string]string
	http     *http.Client
	pacer    *ratelimit.Pacer
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func newFetcher(p types.Platform, cfg Config, headers map[string]string, opts []Option) *fetcher {
	f := &fetcher{
		platform: p,
		cfg:      cfg,
		headers:  headers,
		pacer:    ratelimit.NewPacer(cfg.RequestDelay),
		sleep:    sleepCtx,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.http == nil {
		f.http = &http.Client{}
	}
	client := *f.http
	client.Timeout = cfg.Timeout
	f.http = &client
	f.logger = f.logger.With(zap.String("platform", string(p)))
	return f
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// getJSON fetches one page. A returned *blockedError means the rate limit
// refused the call and no further calls should be made; context errors are
// returned unwrapped; anything else is a per-page failure.
func (f *fetcher) getJSON(ctx context.Context, endpoint, path string, query url.Values, rl *ratelimit.Tracker) (gjson.Result, error) {
	u := f.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	var wait time.Duration
	for attempt := 0; attempt < f.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, wait); err != nil {
				return gjson.Result{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return gjson.Result{}, err
		}
		if ok, diag := rl.Acquire(); !ok {
			f.metrics.ForumRequest(string(f.platform), endpoint, "blocked")
			return gjson.Result{}, &blockedError{msg: diag}
		}
		if err := f.pacer.Wait(ctx); err != nil {
			return gjson.Result{}, err
		}

		body, status, retryAfter, err := f.do(ctx, u)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return gjson.Result{}, ctxErr
			}
			f.metrics.ForumRequest(string(f.platform), endpoint, "error")
			lastErr = err
			wait = f.backoff(attempt)
		case status == http.StatusTooManyRequests:
			f.metrics.ForumRequest(string(f.platform), endpoint, "throttled")
			f.metrics.ForumThrottled(string(f.platform))
			wait = retryAfter
			if wait <= 0 {
				wait = f.backoff(attempt)
			}
			until := rl.Throttled(wait)
			lastErr = fmt.Errorf("HTTP 429, retry after %s", wait)
			f.logger.Warn("forum throttled",
				zap.String("endpoint", endpoint),
				zap.Duration("retry_after", wait),
				zap.Time("blocked_until", until))
			if wait > f.cfg.MaxRetryWait || attempt == f.cfg.Retries-1 {
				return gjson.Result{}, &blockedError{msg: fmt.Sprintf("%s throttled by %s until %s", endpoint, f.platform, until.Format(time.RFC3339))}
			}
		case status >= 500:
			f.metrics.ForumRequest(string(f.platform), endpoint, "error")
			lastErr = fmt.Errorf("HTTP %d", status)
			wait = f.backoff(attempt)
		case status != http.StatusOK:
			f.metrics.ForumRequest(string(f.platform), endpoint, "error")
			return gjson.Result{}, fmt.Errorf("HTTP %d", status)
		default:
			if !gjson.ValidBytes(body) {
				f.metrics.ForumRequest(string(f.platform), endpoint, "invalid")
				return gjson.Result{}, errors.New("response is not valid JSON")
			}
			f.metrics.ForumRequest(string(f.platform), endpoint, "ok")
			return gjson.ParseBytes(body), nil
		}
		f.logger.Debug("forum request failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return gjson.Result{}, fmt.Errorf("giving up after %d attempts: %w", f.cfg.Retries, lastErr)
}

func (f *fetcher) do(ctx context.Context, u string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resp.StatusCode, retryAfter, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, retryAfter, nil
}

// backoff is the delay before retry attempt+1: exponential with up to 50%
// jitter, capped at MaxBackoff.
func (f *fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.Backoff << attempt
	if d <= 0 || d > f.cfg.MaxBackoff {
		d = f.cfg.MaxBackoff
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int64N(half))
	}
	return d
}

// parseRetryAfter understands both delta-seconds and HTTP-date values.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
