package digest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/forum"
	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/textclean"
)

const (
	fallbackNotice   = "（AI 摘要暫時未能使用，以下內容直接取自已抓取的帖子資料）"
	fallbackShare    = "《%s》共 %d 則回覆。"
	fallbackReason   = "首則回覆：%s"
	fallbackNoReply  = "（冇可用回覆）"
	fallbackSnippet  = 100
	streamBrokenNote = "\n\n（串流中斷，以下為重新生成的完整回答）\n\n"
)

var (
	shareLabel  = regexp.MustCompile(`(?im)^[ \t>*#-]*(?:分享內容|分享内容|分享文字|share[ _-]?text)[ \t*]*[:：]`)
	reasonLabel = regexp.MustCompile(`(?im)^[ \t>*#-]*(?:理由|原因|reason)[ \t*]*[:：]`)
)

// sections are the labeled parts of an answer.
type sections struct {
	Share     string
	Reason    string
	HasShare  bool
	HasReason bool
}

// parseSections extracts the share text and reason. Each section runs to
// the start of the other label or to the end of the text.
func parseSections(text string) sections {
	var s sections
	si := shareLabel.FindStringIndex(text)
	ri := reasonLabel.FindStringIndex(text)
	if si != nil {
		end := len(text)
		if ri != nil && ri[0] > si[1] {
			end = ri[0]
		}
		s.Share, s.HasShare = strings.TrimSpace(text[si[1]:end]), true
	}
	if ri != nil {
		end := len(text)
		if si != nil && si[0] > ri[1] {
			end = si[0]
		}
		s.Reason, s.HasReason = strings.TrimSpace(text[ri[1]:end]), true
	}
	return s
}

// fit applies the length targets. An answer without a share label is used
// whole as the share text.
func (s sections) fit(text string, l Limits) (share, reason string) {
	share = s.Share
	if !s.HasShare {
		share = strings.TrimSpace(text)
	}
	return textclean.Truncate(share, l.Share), textclean.Truncate(s.Reason, l.Reason)
}

func renderAnswer(share, reason string) string {
	if reason == "" {
		return share
	}
	return share + "\n\n理由：" + reason
}

// fallbackSections builds an answer from fetched metadata alone: the first
// thread's title and reply count, and its first usable reply.
func fallbackSections(threads []ThreadData) (share, reason string) {
	if len(threads) == 0 {
		return fallbackNoReply, fallbackNoReply
	}
	t := threads[0]
	share = fmt.Sprintf(fallbackShare, t.Title, t.TotalReplies)
	reason = fallbackNoReply
	if first := t.firstReply(); first != "" {
		reason = fmt.Sprintf(fallbackReason, textclean.Truncate(first, fallbackSnippet))
	}
	return share, reason
}

func (t ThreadData) firstReply() string {
	if t.FirstReply != "" {
		return t.FirstReply
	}
	if len(t.Replies) > 0 {
		return t.Replies[0].Body
	}
	return ""
}

// FallbackAnswer renders the answer used when the summarizer fails.
func FallbackAnswer(threads []ThreadData) string {
	share, reason := fallbackSections(threads)
	return fallbackNotice + "\n分享內容：" + share + "\n理由：" + reason
}

// summarize calls the summarizer up to the configured attempts with
// exponential backoff between them.
func (r *run) summarize(ctx context.Context, stream bool) (llm.Result, bool) {
	attempts := max(r.o.sumCfg.Retries, 1)
	var last llm.Result
	for i := range attempts {
		if i > 0 {
			if err := r.o.sleep(ctx, r.o.sumCfg.Backoff<<(i-1)); err != nil {
				return llm.Result{Status: llm.StatusError, Text: err.Error(), Err: err}, false
			}
		}
		last = r.o.llm.Summarize(ctx, r.res.Prompt, stream)
		if last.OK() {
			if last.Truncated {
				r.diag("prompt exceeded the summarizer limit and was truncated")
			}
			return last, true
		}
		r.diag(fmt.Sprintf("summarizer attempt %d/%d failed: %s", i+1, attempts, last.Text))
		if ctx.Err() != nil {
			break
		}
	}
	return last, false
}

func (r *run) fallback() {
	share, reason := fallbackSections(r.res.Threads)
	r.res.Status = StatusFallback
	r.res.ShareText, r.res.Reason = share, reason
	r.res.Answer = FallbackAnswer(r.res.Threads)
	r.diag("summarizer unavailable; answer built from fetched thread data")
}

func (r *run) answer(ctx context.Context) {
	res, ok := r.summarize(ctx, false)
	if !ok {
		r.fallback()
		return
	}
	share, reason := parseSections(res.Text).fit(res.Text, r.res.Limits)
	r.res.Status = StatusAnswered
	r.res.ShareText, r.res.Reason = share, reason
	r.res.Answer = renderAnswer(share, reason)
}

// answerStream attaches the answer stream. It reports whether the stream
// took over cancel, which it calls once drained.
func (r *run) answerStream(ctx context.Context, cancel context.CancelFunc) bool {
	res, ok := r.summarize(ctx, true)
	if !ok {
		r.fallback()
		r.res.Stream = llm.StreamOf(r.res.Answer)
		return false
	}
	r.res.Status = StatusAnswered
	r.res.Stream = r.guard(ctx, res.Stream, cancel)
	return true
}

// guard relays src. If src breaks mid-way the answer is regenerated once
// without streaming, and failing that replaced by the fallback answer.
func (r *run) guard(ctx context.Context, src *llm.Stream, cancel context.CancelFunc) *llm.Stream {
	o, logger := r.o, r.logger
	prompt, threads := r.res.Prompt, r.res.Threads
	return llm.NewStream(func(yield func(string, error) bool) {
		defer cancel()
		for chunk, err := range src.Chunks() {
			if err == nil {
				if !yield(chunk, nil) {
					return
				}
				continue
			}
			if forum.IsContextError(err) {
				yield("", err)
				return
			}
			logger.Warn("answer stream broke, retrying without streaming", zap.Error(err))
			text := FallbackAnswer(threads)
			if res := o.llm.Summarize(ctx, prompt, false); res.OK() {
				text = res.Text
			} else {
				logger.Warn("non-streaming retry failed, using fallback answer", zap.String("reason", res.Text))
			}
			yield(streamBrokenNote+text, nil)
			return
		}
	})
}
