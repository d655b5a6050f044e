// Package digest answers a user's question from forum content. An
// Orchestrator turns the question into a fetch policy, pulls and filters
// threads from the selected forum, builds a bounded prompt and summarises
// it, degrading to a locally built answer when the LLM is unavailable.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/cache"
	"github.com/cpunion/hkforum/pkg/config"
	"github.com/cpunion/hkforum/pkg/forum"
	"github.com/cpunion/hkforum/pkg/history"
	"github.com/cpunion/hkforum/pkg/intent"
	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/metrics"
	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

// Request-terminating error kinds. Process wraps them in *UserError.
var (
	ErrConfig  = errors.New("invalid category configuration")
	ErrNoData  = errors.New("no threads fetched")
	ErrNoMatch = errors.New("no threads matched")
)

// UserError carries a message fit for showing to the user.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string { return e.Msg }
func (e *UserError) Unwrap() error { return e.Err }

// Status is how a request ended.
type Status string

const (
	StatusAnswered    Status = "answered"     // the LLM answered
	StatusFallback    Status = "fallback"     // the LLM failed; answer built locally
	StatusPrompt      Status = "prompt"       // preview: prompt only
	StatusDuplicate   Status = "duplicate"    // resubmitted too quickly
	StatusRateLimited Status = "rate_limited" // forum budget exhausted
	StatusConfigError Status = "config_error"
	StatusNoData      Status = "no_data"
	StatusNoMatch     Status = "no_match"
	StatusCanceled    Status = "canceled"
)

// Request is one user question.
type Request struct {
	Question string
	Platform types.Platform
	// Categories maps display names to ids. Nil uses the configured map.
	Categories       types.CategoryMap
	SelectedCategory string
	// ReturnPrompt stops after prompt assembly.
	ReturnPrompt bool
	Stream       bool
}

func (r Request) mode() string {
	switch {
	case r.ReturnPrompt:
		return "prompt"
	case r.Stream:
		return "stream"
	}
	return "answer"
}

func (r Request) key() string {
	return strings.Join([]string{r.Question, string(r.Platform), r.SelectedCategory, r.mode()}, "\x00")
}

// ThreadData is a selected thread as it went into the prompt.
type ThreadData struct {
	types.ThreadSummary
	TotalReplies int `json:"total_replies"`
	// Replies holds usable replies only; noise is never kept.
	Replies []types.Reply `json:"replies"`
	// FirstReply is the earliest usable reply in posting order, whatever
	// order Replies is in.
	FirstReply      string `json:"first_reply,omitempty"`
	NoUsableReplies bool   `json:"no_usable_replies,omitempty"`
	Note            string `json:"note,omitempty"`
}

// Result is the outcome of Process. Results may be shared between
// coalesced callers and must be treated as read-only.
type Result struct {
	RequestID string `json:"request_id"`
	Status    Status `json:"status"`
	// Message explains non-answer statuses to the user.
	Message string `json:"message,omitempty"`
	// Answer is the full answer of a non-streaming call.
	Answer    string      `json:"answer,omitempty"`
	ShareText string      `json:"share_text,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Stream    *llm.Stream `json:"-"`
	Prompt    string      `json:"prompt,omitempty"`
	// PromptTruncated is set when replies were cut to fit the budget.
	PromptTruncated bool              `json:"prompt_truncated,omitempty"`
	Limits          Limits            `json:"limits"`
	Policy          types.FetchPolicy `json:"policy"`
	Category        string            `json:"category,omitempty"`
	CategoryID      types.CategoryID  `json:"category_id,omitempty"`
	Threads         []ThreadData      `json:"threads,omitempty"`
	Diagnostics     []string          `json:"diagnostics,omitempty"`
	RateLimit       ratelimit.State   `json:"rate_limit"`
	// Coalesced says how this caller was served.
	Coalesced string `json:"coalesced,omitempty"`
}

// Summarizer is the LLM boundary.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, stream bool) llm.Result
}

// Analyzer derives a fetch policy from a question.
type Analyzer interface {
	Analyze(ctx context.Context, question string, platform types.Platform) types.FetchPolicy
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHistory records every processed request.
func WithHistory(h history.Recorder) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithAnalyzer replaces the LLM intent analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithClock sets the clock used by caches, rate limits and filters.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the retry backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// platform is one forum's adapter with its settings and shared state.
type platform struct {
	client  forum.Client
	cfg     config.ForumConfig
	tracker *ratelimit.Tracker
	lists   *cache.TTL[string, *forum.ListResult]
}

// Orchestrator is safe for concurrent use. Rate limit trackers and caches
// are shared by all requests it serves.
type Orchestrator struct {
	cfg       config.DigestConfig
	sumCfg    config.SummarizerConfig
	platforms map[types.Platform]*platform
	llm       Summarizer
	analyzer  Analyzer
	content   *cache.TTL[string, types.ThreadDetail]
	requests  *cache.Coalescer[*Result]
	logger    *zap.Logger
	metrics   *metrics.Metrics
	history   history.Recorder
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator over clients, taking per-forum settings from
// cfg. Clients for platforms cfg does not know are ignored.
func New(cfg *config.Config, clients []forum.Client, s Summarizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.Digest,
		sumCfg:    cfg.Summarizer,
		platforms: make(map[types.Platform]*platform),
		llm:       s,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.analyzer == nil {
		o.analyzer = intent.NewAnalyzer(s, o.logger)
	}
	for _, c := range clients {
		fc, ok := cfg.Forum(c.Platform())
		if !ok {
			continue
		}
		o.platforms[c.Platform()] = &platform{
			client:  c,
			cfg:     fc,
			tracker: ratelimit.NewTracker(fc.Limits(), o.now),
			lists:   cache.NewTTL[string, *forum.ListResult](fc.CacheDuration, o.now),
		}
	}
	o.content = cache.NewTTL[string, types.ThreadDetail](o.cfg.ContentCacheTTL, o.now)
	o.requests = cache.NewCoalescer[*Result](o.cfg.CoalesceTTL, o.cfg.DuplicateWindow, o.now)
	return o
}

// Tracker returns the rate limit tracker of p, or nil.
func (o *Orchestrator) Tracker(p types.Platform) *ratelimit.Tracker {
	if pl := o.platforms[p]; pl != nil {
		return pl.tracker
	}
	return nil
}

// Categories returns the configured category names of p in order.
func (o *Orchestrator) Categories(p types.Platform) []string {
	if pl := o.platforms[p]; pl != nil {
		return pl.cfg.CategoryNames()
	}
	return nil
}

// Process answers req. Identical requests within the duplicate window are
// rejected with StatusDuplicate; later ones within the coalescing TTL join
// the in-flight call and block until it completes, or reuse its result.
//
// The returned error is non-nil only for request-terminating conditions:
// a *UserError wrapping ErrConfig, ErrNoData or ErrNoMatch, or a context
// error. The Result is returned alongside it where one was produced.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	req.Question = strings.TrimSpace(req.Question)
	req.SelectedCategory = strings.TrimSpace(req.SelectedCategory)

	res, err := o.serve(ctx, req)
	if res != nil {
		o.metrics.Orchestration(string(res.Status))
		o.record(req, res, start)
	}
	return res, err
}

func (o *Orchestrator) serve(ctx context.Context, req Request) (*Result, error) {
	pl := o.platforms[req.Platform]
	if pl == nil {
		ue := &UserError{Msg: fmt.Sprintf("不支援的討論區：%q", req.Platform), Err: ErrConfig}
		return &Result{RequestID: uuid.NewString(), Status: StatusConfigError, Message: ue.Msg}, ue
	}
	if ok, msg := pl.tracker.Check(); !ok {
		return &Result{
			RequestID: uuid.NewString(),
			Status:    StatusRateLimited,
			Message:   fmt.Sprintf("%s 請求過於頻繁，請稍後再試：%s", req.Platform, msg),
			RateLimit: pl.tracker.Snapshot(),
		}, nil
	}

	res, outcome, err := o.requests.Do(ctx, req.key(), func(ctx context.Context) (*Result, error) {
		return o.process(ctx, pl, req)
	})
	if outcome == cache.Duplicate {
		o.logger.Info("duplicate submission rejected", zap.String("question", req.Question))
		return &Result{
			RequestID: uuid.NewString(),
			Status:    StatusDuplicate,
			Message:   "相同的問題剛剛已提交，請勿重複提交，稍等片刻再試。",
			Coalesced: outcome.String(),
		}, nil
	}
	if res == nil {
		if forum.IsContextError(err) {
			// This caller gave up; a call it started keeps running for others.
			return &Result{RequestID: uuid.NewString(), Status: StatusCanceled, Message: err.Error(), Coalesced: outcome.String()}, err
		}
		return nil, err
	}
	// Callers get their own copy; the cached result stays untouched.
	own := *res
	own.Coalesced = outcome.String()
	return &own, err
}

func (o *Orchestrator) record(req Request, res *Result, start time.Time) {
	if o.history == nil {
		return
	}
	e := history.Entry{
		RequestID:   res.RequestID,
		Timestamp:   start,
		Question:    req.Question,
		Platform:    string(req.Platform),
		Category:    res.Category,
		Status:      string(res.Status),
		PromptChars: len([]rune(res.Prompt)),
		Diagnostics: res.Diagnostics,
		DurationMS:  o.now().Sub(start).Milliseconds(),
	}
	if e.Category == "" {
		e.Category = req.SelectedCategory
	}
	for _, t := range res.Threads {
		e.ThreadIDs = append(e.ThreadIDs, t.ThreadID)
	}
	if err := o.history.Record(e); err != nil {
		o.logger.Warn("failed to record history", zap.Error(err))
	}
}

// run carries the state of one orchestration.
type run struct {
	o      *Orchestrator
	pl     *platform
	req    Request
	res    *Result
	logger *zap.Logger
}

func (r *run) diag(msg string) {
	r.res.Diagnostics = append(r.res.Diagnostics, msg)
	r.logger.Warn("diagnostic", zap.String("detail", msg))
}

// fail ends the run with a user-facing terminal error.
func (r *run) fail(status Status, kind error, msg string) (*Result, error) {
	r.res.Status = status
	r.res.Message = msg
	r.res.RateLimit = r.pl.tracker.Snapshot()
	r.logger.Info("request ended", zap.String("status", string(status)), zap.String("reason", msg))
	return r.res, &UserError{Msg: msg, Err: kind}
}

func (r *run) canceled(err error) (*Result, error) {
	r.res.Status = StatusCanceled
	r.res.Message = err.Error()
	return r.res, err
}

func (o *Orchestrator) process(ctx context.Context, pl *platform, req Request) (*Result, error) {
	id := uuid.NewString()
	r := &run{
		o:   o,
		pl:  pl,
		req: req,
		res: &Result{RequestID: id},
		logger: o.logger.With(
			zap.String("request_id", id),
			zap.String("platform", string(req.Platform))),
	}
	r.logger.Info("processing question", zap.String("question", req.Question), zap.String("category", req.SelectedCategory), zap.String("mode", req.mode()))

	var cancel context.CancelFunc = func() {}
	if o.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	pl.lists.EvictExpired()
	o.content.EvictExpired()

	name, catID, err := r.resolveCategory()
	if err != nil {
		return r.fail(StatusConfigError, ErrConfig, err.Error())
	}
	r.res.Category, r.res.CategoryID = name, catID

	policy := o.analyzer.Analyze(ctx, req.Question, req.Platform)
	if err := ctx.Err(); err != nil {
		return r.canceled(err)
	}
	r.res.Policy = policy
	r.logger.Info("fetch policy",
		zap.String("intent", policy.Intent),
		zap.Int("thread_count", policy.ThreadCount),
		zap.Stringer("reply_strategy", policy.ReplyStrategy),
		zap.String("filter", policy.FilterCondition))

	list, err := r.fetchList(ctx, catID, policy.ThreadCount)
	if err != nil {
		return r.canceled(err)
	}
	if list.Records == 0 {
		return r.fail(StatusNoData, ErrNoData, fmt.Sprintf("未能從 %s「%s」抓取到任何帖子，請稍後再試。", req.Platform, name))
	}
	if len(list.Threads) == 0 {
		return r.fail(StatusNoMatch, ErrNoMatch, fmt.Sprintf("已抓取 %d 個帖子，但沒有一個可以使用，請換個分類或問題再試。", list.Records))
	}

	filter := intent.ParseFilter(policy.FilterCondition)
	selected, notes := selectThreads(list.Threads, policy.ThreadCount, filter, selection{
		now:        o.now(),
		staleness:  o.cfg.StalenessWindow,
		minReplies: pl.cfg.MinReplies,
	})
	for _, n := range notes {
		r.diag(n)
	}
	if len(selected) == 0 {
		return r.fail(StatusNoMatch, ErrNoMatch, fmt.Sprintf("已抓取 %d 個帖子，但沒有符合條件的帖子。", list.Records))
	}

	threads, err := r.fetchContent(ctx, catID, selected, policy.ReplyStrategy)
	if err != nil {
		return r.canceled(err)
	}
	r.res.Threads = threads

	p := buildPrompt(promptInput{
		Question: req.Question,
		Platform: req.Platform,
		Category: name,
		Policy:   policy,
		Threads:  threads,
		Budget:   o.cfg.PromptBudget,
		Now:      o.now(),
	})
	r.res.Prompt, r.res.Limits, r.res.PromptTruncated = p.Text, p.Limits, p.Truncated
	r.res.RateLimit = pl.tracker.Snapshot()

	if req.ReturnPrompt {
		r.res.Status = StatusPrompt
		r.logger.Info("prompt preview built", zap.Int("chars", len([]rune(p.Text))))
		return r.res, nil
	}

	if req.Stream {
		handedOff = r.answerStream(ctx, cancel)
	} else {
		r.answer(ctx)
	}
	if err := ctx.Err(); err != nil && !handedOff {
		return r.canceled(err)
	}
	r.logger.Info("request answered", zap.String("status", string(r.res.Status)), zap.Int("threads", len(threads)))
	return r.res, nil
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
