package digest

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/cpunion/hkforum/pkg/intent"
	"github.com/cpunion/hkforum/pkg/types"
)

// futureSkew is how far ahead of now a timestamp may be before it is
// treated as corrupt.
const futureSkew = time.Hour

type selection struct {
	now        time.Time
	staleness  time.Duration // 0 disables the bound
	minReplies int           // qualifying threshold for popularity sort
}

// selectThreads picks up to n threads. Hard filters drop threads without
// replies and threads whose last reply is stale or in the future. The
// filter's soft rules then narrow the set; when nothing survives them the
// hard-filtered set is used sorted by recency, and when that is empty too
// the first n threads as listed. threads is not modified.
func selectThreads(threads []types.ThreadSummary, n int, f intent.Filter, sel selection) ([]types.ThreadSummary, []string) {
	n = types.ClampThreadCount(n)
	var notes []string

	hard := make([]types.ThreadSummary, 0, len(threads))
	for _, t := range threads {
		if t.ReplyCount <= 0 || !sel.fresh(t) {
			continue
		}
		hard = append(hard, t)
	}

	soft := hard
	if f.Soft() {
		soft = make([]types.ThreadSummary, 0, len(hard))
		for _, t := range hard {
			if sel.inWindow(t, f.Window) && f.MatchTitle(t.Title) {
				soft = append(soft, t)
			}
		}
	}

	var picked []types.ThreadSummary
	switch {
	case len(soft) > 0:
		picked = slices.Clone(soft)
		if f.ByRecency {
			sortByRecency(picked)
		} else {
			sortByPopularity(picked, sel.minReplies)
		}
	case len(hard) > 0:
		notes = append(notes, "沒有帖子符合篩選條件，改為顯示最新帖子")
		picked = slices.Clone(hard)
		sortByRecency(picked)
	default:
		notes = append(notes, fmt.Sprintf("%d 個帖子全被過濾（沒有回覆或時間異常），改為按原本次序顯示", len(threads)))
		picked = slices.Clone(threads)
	}
	if len(picked) > n {
		picked = picked[:n]
	}
	return picked, notes
}

// fresh reports whether t passes the staleness bound. Unknown timestamps
// pass.
func (s selection) fresh(t types.ThreadSummary) bool {
	if t.LastReplyAt <= 0 {
		return true
	}
	last := t.LastReplyTime()
	if last.After(s.now.Add(futureSkew)) {
		return false
	}
	return s.staleness <= 0 || s.now.Sub(last) <= s.staleness
}

// inWindow reports whether t's last reply is within w. Unknown timestamps
// cannot be placed in a window and fail.
func (s selection) inWindow(t types.ThreadSummary, w time.Duration) bool {
	if w <= 0 {
		return true
	}
	return t.LastReplyAt > 0 && s.now.Sub(t.LastReplyTime()) <= w
}

func sortByRecency(ts []types.ThreadSummary) {
	slices.SortStableFunc(ts, func(a, b types.ThreadSummary) int {
		return cmp.Compare(b.LastReplyAt, a.LastReplyAt)
	})
}

// sortByPopularity ranks threads reaching minReplies first, by reply count.
// The rest follow by recency.
func sortByPopularity(ts []types.ThreadSummary, minReplies int) {
	slices.SortStableFunc(ts, func(a, b types.ThreadSummary) int {
		qa, qb := a.ReplyCount >= minReplies, b.ReplyCount >= minReplies
		switch {
		case qa && qb:
			return cmp.Compare(b.ReplyCount, a.ReplyCount)
		case qa:
			return -1
		case qb:
			return 1
		}
		return cmp.Compare(b.LastReplyAt, a.LastReplyAt)
	})
}
