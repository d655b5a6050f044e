// Package ratelimit tracks per-forum request budgets.
//
// A Tracker counts outbound requests in fixed windows and records a
// blocked-until deadline when the ceiling is hit or the server answers 429.
// It never sleeps: callers decide whether to wait or report. Pacer, in
// contrast, enforces the minimum delay between two consecutive requests and
// does block.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// Config bounds one forum's request budget.
type Config struct {
	MaxRequests int           // ceiling per window
	Window      time.Duration // counter reset interval
	Cooldown    time.Duration // block length once the ceiling trips
}

// DefaultConfig matches the forums' observed tolerance: 30 requests a
// minute, then a one minute pause.
func DefaultConfig() Config {
	return Config{MaxRequests: 30, Window: time.Minute, Cooldown: time.Minute}
}

// State is a snapshot of a tracker.
type State struct {
	RequestCount int       `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"` // zero means not blocked
}

// Blocked reports whether requests are refused at now.
func (s State) Blocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}

// Tracker is the mutable rate limit state of one forum. It is safe for
// concurrent use; every read-modify-write happens under its mutex.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	state State
	now   func() time.Time
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = cfg.Window
	}
	return &Tracker{cfg: cfg, now: now, state: State{WindowStart: now()}}
}

// Snapshot returns the current state, resetting the window if it expired.
func (t *Tracker) Snapshot() State {
	if t == nil {
		return State{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollWindow(t.now())
	return t.state
}

// Acquire reserves one request. When the tracker is blocked, or when the
// reservation would exceed the ceiling, it refuses and returns a diagnostic.
// Hitting the ceiling sets BlockedUntil to now plus the cooldown, so the
// count never passes the ceiling while unblocked. A nil tracker always grants.
func (t *Tracker) Acquire() (bool, string) {
	if t == nil {
		return true, ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.rollWindow(now)
	if t.state.Blocked(now) {
		return false, blockedMessage(t.state.BlockedUntil, now)
	}
	if t.state.RequestCount >= t.cfg.MaxRequests {
		t.state.BlockedUntil = now.Add(t.cfg.Cooldown)
		return false, fmt.Sprintf("request ceiling %d reached within %s; %s",
			t.cfg.MaxRequests, t.cfg.Window, blockedMessage(t.state.BlockedUntil, now))
	}
	t.state.RequestCount++
	return true, ""
}

// Throttled records a 429 from the server. The block lasts retryAfter when
// the server gave one, otherwise the configured cooldown. An existing longer
// block is kept.
func (t *Tracker) Throttled(retryAfter time.Duration) time.Time {
	if t == nil {
		return time.Time{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if retryAfter <= 0 {
		retryAfter = t.cfg.Cooldown
	}
	until := t.now().Add(retryAfter)
	if until.After(t.state.BlockedUntil) {
		t.state.BlockedUntil = until
	}
	return t.state.BlockedUntil
}

// Check reports whether requests are currently allowed without reserving one.
func (t *Tracker) Check() (bool, string) {
	if t == nil {
		return true, ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if t.state.Blocked(now) {
		return false, blockedMessage(t.state.BlockedUntil, now)
	}
	return true, ""
}

func (t *Tracker) rollWindow(now time.Time) {
	if now.Sub(t.state.WindowStart) >= t.cfg.Window {
		t.state.RequestCount = 0
		t.state.WindowStart = now
	}
	if !t.state.BlockedUntil.IsZero() && !now.Before(t.state.BlockedUntil) {
		t.state.BlockedUntil = time.Time{}
	}
}

func blockedMessage(until, now time.Time) string {
	return fmt.Sprintf("rate limited until %s (%s)",
		until.Format("2006-01-02 15:04:05"), humanize.RelTime(until, now, "ago", "from now"))
}

// Pacer spaces consecutive requests by at least a fixed delay.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a pacer allowing one request per delay. A non-positive
// delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next request may go out or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.lim.Wait(ctx)
}
