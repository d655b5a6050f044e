package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/types"
)

// Summary length targets, interpolated over the assembled prompt length.
const (
	shortPromptChars = 1000
	longPromptChars  = 20000
	minShareChars    = 150
	maxShareChars    = 1000
	minReasonChars   = 60
	maxReasonChars   = 300
)

const (
	defaultPromptBudget = 24000
	maxQuestionChars    = 500
	maxReplyChars       = 800
	// maxHeaderValueChars caps each policy value echoed in the header.
	maxHeaderValueChars = 100
	// markerReserve bounds the rendered length of either marker.
	markerReserve = 48
)

const (
	// ReplyTruncationMarker follows the last reply shown of a cut thread.
	ReplyTruncationMarker = "[回覆已截斷：此帖只顯示 %d / %d 則回覆]"
	// ThreadTruncationMarker replaces threads that did not fit at all.
	ThreadTruncationMarker = "[帖子已截斷：尚有 %d 個帖子因長度限制未能顯示]"
)

const footerTemplate = `
請只根據以上帖子資料回答用戶問題，不要編造資料以外的內容；如帖子標明沒有可用回覆，請直接說明。
請用以下格式回答：
分享內容：<不多於 %d 字>
理由：<不多於 %d 字>`

// Limits are the answer length targets in runes.
type Limits struct {
	Share  int `json:"share_chars"`
	Reason int `json:"reason_chars"`
}

// LimitsFor interpolates the targets for a prompt of n runes: short prompts
// get the minimums, long ones the maximums.
func LimitsFor(n int) Limits {
	return Limits{
		Share:  lerp(n, minShareChars, maxShareChars),
		Reason: lerp(n, minReasonChars, maxReasonChars),
	}
}

func lerp(n, lo, hi int) int {
	switch {
	case n <= shortPromptChars:
		return lo
	case n >= longPromptChars:
		return hi
	}
	return lo + (hi-lo)*(n-shortPromptChars)/(longPromptChars-shortPromptChars)
}

type promptInput struct {
	Question string
	Platform types.Platform
	Category string
	Policy   types.FetchPolicy
	Threads  []ThreadData
	Budget   int // runes, footer included
	Now      time.Time
}

type builtPrompt struct {
	Text      string
	Limits    Limits
	Truncated bool
}

// budgetWriter appends text while tracking its rune length.
type budgetWriter struct {
	sb    strings.Builder
	n     int
	limit int
}

// fits reports whether s can be written and still leave reserve runes.
func (w *budgetWriter) fits(s string, reserve int) bool {
	return w.n+textclean.Len(s)+reserve <= w.limit
}

func (w *budgetWriter) write(s string) {
	w.sb.WriteString(s)
	w.n += textclean.Len(s)
}

// buildPrompt renders the prompt within in.Budget runes. Every write keeps
// room for one reply marker and one thread marker, so a marker can always
// be appended after the last item that fit.
func buildPrompt(in promptInput) builtPrompt {
	budget := in.Budget
	if budget <= 0 {
		budget = defaultPromptBudget
	}
	footerMax := textclean.Len(fmt.Sprintf(footerTemplate, maxShareChars, maxReasonChars))
	w := &budgetWriter{limit: budget - footerMax}
	reserve := 2 * markerReserve
	truncated := false

	header := promptHeader(in)
	if !w.fits(header, reserve) {
		header = textclean.Truncate(header, w.limit-reserve-1) + "\n"
		truncated = true
	}
	w.write(header)
	for i, t := range in.Threads {
		block := threadBlock(i+1, t, in.Now)
		if !w.fits(block, reserve) {
			w.write(fmt.Sprintf(ThreadTruncationMarker, len(in.Threads)-i) + "\n")
			truncated = true
			break
		}
		w.write(block)

		shown := 0
		for _, rep := range t.Replies {
			line := replyLine(rep)
			if !w.fits(line, reserve) {
				break
			}
			w.write(line)
			shown++
		}
		if shown < len(t.Replies) {
			w.write(fmt.Sprintf(ReplyTruncationMarker, shown, len(t.Replies)) + "\n")
			truncated = true
		}
	}

	limits := LimitsFor(w.n)
	return builtPrompt{
		Text:      w.sb.String() + fmt.Sprintf(footerTemplate, limits.Share, limits.Reason),
		Limits:    limits,
		Truncated: truncated,
	}
}

func promptHeader(in promptInput) string {
	p := in.Policy
	filter := p.FilterCondition
	if filter == "" {
		filter = "無"
	}
	capped := func(s string) string { return textclean.Truncate(s, maxHeaderValueChars) }
	var sb strings.Builder
	fmt.Fprintf(&sb, "用戶問題：%s\n", textclean.Truncate(in.Question, maxQuestionChars))
	fmt.Fprintf(&sb, "討論區：%s｜分類：%s\n", in.Platform, capped(in.Category))
	fmt.Fprintf(&sb, "意圖：%s\n", capped(p.Intent))
	fmt.Fprintf(&sb, "需要欄位：%s\n", capped(strings.Join(p.DataFields, ", ")))
	fmt.Fprintf(&sb, "帖子數目：%d\n", p.ThreadCount)
	fmt.Fprintf(&sb, "回覆策略：%s\n", capped(p.ReplyStrategy.String()))
	fmt.Fprintf(&sb, "篩選條件：%s\n", capped(filter))
	sb.WriteString("\n以下是抓取到的帖子資料：\n")
	return sb.String()
}

func threadBlock(n int, t ThreadData, now time.Time) string {
	last := "未知"
	if ts := t.LastReplyTime(); !ts.IsZero() {
		last = humanize.RelTime(ts, now, "ago", "from now")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n### 帖子 %d：%s\n", n, t.Title)
	fmt.Fprintf(&sb, "ID：%s｜回覆：%s｜正評：%d｜負評：%d｜最後回覆：%s\n",
		t.ThreadID, humanize.Comma(int64(t.TotalReplies)), t.LikeCount, t.DislikeCount, last)
	if t.NoUsableReplies {
		fmt.Fprintf(&sb, "（%s：此帖沒有可用的回覆內容，回答時請明確說明，不要編造）\n", t.Note)
	}
	return sb.String()
}

func replyLine(r types.Reply) string {
	return fmt.Sprintf("- (正評 %d｜負評 %d) %s\n", r.LikeCount, r.DislikeCount, textclean.Truncate(r.Body, maxReplyChars))
}
