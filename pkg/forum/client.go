// Package forum adapts the LIHKG and HKGolden APIs to one interface.
//
// Adapters absorb everything a flaky upstream can throw at them: HTTP
// errors, 429s, undecodable bodies and records with missing fields all turn
// into diagnostics, and the call returns whatever parsed. Only context
// cancellation is returned as an error.
package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

// Client is one forum's adapter.
type Client interface {
	Platform() types.Platform
	// ValidateCategory rejects ids that cannot belong to this forum.
	ValidateCategory(id types.CategoryID) error
	FetchThreadList(ctx context.Context, req ListRequest, rl *ratelimit.Tracker) (*ListResult, error)
	FetchThreadDetail(ctx context.Context, req DetailRequest, rl *ratelimit.Tracker) (*DetailResult, error)
}

// ListRequest asks for MaxPages topic list pages starting at StartPage.
type ListRequest struct {
	CategoryID types.CategoryID
	StartPage  int
	MaxPages   int
}

// ListResult holds the usable threads of a list fetch.
type ListResult struct {
	Threads     []types.ThreadSummary
	Diagnostics []string
	// Records counts raw list entries seen, usable or not.
	Records int
	// Dropped counts entries discarded for missing id or title.
	Dropped   int
	Pages     int
	Truncated bool // stopped early by the rate limit
	RateLimit ratelimit.State
}

// DetailRequest asks for up to MaxReplies replies of a thread. With Latest
// the tail of the thread is fetched instead of the head. KnownReplies, when
// positive, is the list view's reply count and lets a latest fetch jump
// straight to the last pages.
type DetailRequest struct {
	ThreadID     string
	CategoryID   types.CategoryID
	MaxReplies   int
	Latest       bool
	KnownReplies int
}

// DetailResult holds a thread's replies and whatever metadata the content
// endpoint reported.
type DetailResult struct {
	Detail      types.ThreadDetail
	Diagnostics []string
	Pages       int
	Truncated   bool
	RateLimit   ratelimit.State
}

// Config is the transport configuration shared by both adapters.
type Config struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration // per HTTP call
	Retries      int           // attempts per page, including the first
	Backoff      time.Duration // first retry delay, doubled per attempt
	MaxBackoff   time.Duration
	MaxRetryWait time.Duration // longest Retry-After honoured in place
	RequestDelay time.Duration // minimum gap between consecutive calls
	PageSize     int           // replies per content page
	MaxPages     int           // content pages fetched per thread at most
	MaxReplies   int           // reply cap when a request gives none
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func (c Config) withDefaults(baseURL string) Config {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 16 * time.Second
	}
	if c.MaxRetryWait <= 0 {
		c.MaxRetryWait = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 25
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 20
	}
	if c.MaxReplies <= 0 {
		c.MaxReplies = 60
	}
	return c
}

// IsContextError reports whether err comes from cancellation or a deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// blockedError means the rate limit refused the call; the caller must stop
// issuing requests for the current logical fetch.
type blockedError struct {
	msg string
}

func (e *blockedError) Error() string { return e.msg }

func isBlocked(err error) bool {
	var b *blockedError
	return errors.As(err, &b)
}

func pageDiag(what string, page int, err error) string {
	return fmt.Sprintf("%s page %d: %v", what, page, err)
}
