package llm

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/metrics"
	"github.com/cpunion/hkforum/pkg/textclean"
)

// Status is the outcome of one summariser call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result of a summariser call. On success Text holds the answer, or Stream
// does for streaming calls. On error Text holds the reason.
type Result struct {
	Status    Status
	Text      string
	Stream    *Stream
	Truncated bool // the prompt was cut to fit MaxPromptChars
	Err       error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

type SummarizerConfig struct {
	MaxPromptChars int           // 0 disables pre-truncation
	Timeout        time.Duration // per call; 0 means none
}

// Summarizer makes exactly one backend call per Summarize. Retries belong to
// the caller.
type Summarizer struct {
	provider Provider
	cfg      SummarizerConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewSummarizer(p Provider, cfg SummarizerConfig, logger *zap.Logger, m *metrics.Metrics) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{provider: p, cfg: cfg, logger: logger, metrics: m}
}

// Name returns the backend model name.
func (s *Summarizer) Name() string { return s.provider.Name() }

// TruncationMarker is appended to prompts cut by the summariser.
const TruncationMarker = "\n\n[提示過長，已截斷：原長 %d 字，保留 %d 字]"

// FitPrompt cuts prompt to at most limit runes, marker included.
func FitPrompt(prompt string, limit int) (string, bool) {
	n := textclean.Len(prompt)
	if limit <= 0 || n <= limit {
		return prompt, false
	}
	keep := limit - textclean.Len(fmt.Sprintf(TruncationMarker, n, limit))
	if keep <= 0 {
		return string([]rune(prompt)[:limit]), true
	}
	return string([]rune(prompt)[:keep]) + fmt.Sprintf(TruncationMarker, n, keep), true
}

// Summarize sends prompt to the backend. A streaming call reads the first
// chunk before returning so that a backend failing up front is reported as
// an error rather than as an empty stream.
func (s *Summarizer) Summarize(ctx context.Context, prompt string, stream bool) Result {
	prompt, truncated := FitPrompt(prompt, s.cfg.MaxPromptChars)
	if truncated {
		s.logger.Warn("prompt truncated before summarizing", zap.Int("max_chars", s.cfg.MaxPromptChars))
	}
	mode := "generate"
	if stream {
		mode = "stream"
	}

	if !stream {
		callCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		text, err := s.provider.Generate(callCtx, prompt)
		if err != nil {
			s.metrics.SummarizerCall(mode, "error")
			s.logger.Warn("summarizer call failed", zap.String("model", s.provider.Name()), zap.Error(err))
			return Result{Status: StatusError, Text: err.Error(), Truncated: truncated, Err: err}
		}
		s.metrics.SummarizerCall(mode, "ok")
		return Result{Status: StatusSuccess, Text: text, Truncated: truncated}
	}

	st := NewStream(s.timedStream(ctx, prompt))
	for _, err := range st.Chunks() {
		if err != nil {
			st.Close()
			s.metrics.SummarizerCall(mode, "error")
			s.logger.Warn("summarizer stream failed", zap.String("model", s.provider.Name()), zap.Error(err))
			return Result{Status: StatusError, Text: err.Error(), Truncated: truncated, Err: err}
		}
		break
	}
	s.metrics.SummarizerCall(mode, "ok")
	return Result{Status: StatusSuccess, Stream: st, Truncated: truncated}
}

func (s *Summarizer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// timedStream applies the call timeout to the whole stream and releases it
// when the stream ends or its reader stops.
func (s *Summarizer) timedStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		callCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		for chunk, err := range s.provider.Stream(callCtx, prompt) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}
