package intent

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// TodayWindow is how far back "today" reaches.
const TodayWindow = 24 * time.Hour

// HumorTitleWords mark a thread title as humorous.
var HumorTitleWords = []string{"on9", "搞笑", "爆笑", "好笑", "笑死", "笑到", "膠", "癲", "lol", "趣"}

var keywordFilter = regexp.MustCompile(`(?i)(?:keyword|關鍵字|关键字|標題包含|标题包含)\s*[:=：]?\s*([^,，;；]+)`)

// Filter is the rule form of a policy's filter condition.
type Filter struct {
	// Window keeps threads whose last reply is within it; 0 keeps all.
	Window time.Duration
	// ByRecency sorts by last reply time instead of reply count.
	ByRecency bool
	// Keywords keep threads whose title contains any of them.
	Keywords []string
}

// Soft reports whether the filter narrows the thread set.
func (f Filter) Soft() bool {
	return f.Window > 0 || len(f.Keywords) > 0
}

// ParseFilter maps a free-text filter condition onto rules. It accepts the
// canonical tokens as well as looser English and Chinese phrasing.
func ParseFilter(cond string) Filter {
	var f Filter
	c := strings.ToLower(strings.TrimSpace(cond))
	if c == "" {
		return f
	}
	if containsAny(c, todayWords) {
		f.Window = TodayWindow
		f.ByRecency = true
	}
	if containsAny(c, slices.Concat(latestWords, []string{"recent", "recency", "last_reply", "時間", "时间"})) {
		f.ByRecency = true
	}
	if containsAny(c, slices.Concat(funnyWords, []string{"humor", "humour", "幽默"})) {
		f.Keywords = append(f.Keywords, HumorTitleWords...)
	}
	for _, m := range keywordFilter.FindAllStringSubmatch(cond, -1) {
		if kw := strings.TrimSpace(m[1]); kw != "" {
			f.Keywords = append(f.Keywords, kw)
		}
	}
	return f
}

// MatchTitle reports whether title passes the keyword rule.
func (f Filter) MatchTitle(title string) bool {
	if len(f.Keywords) == 0 {
		return true
	}
	t := strings.ToLower(title)
	for _, kw := range f.Keywords {
		if strings.Contains(t, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
