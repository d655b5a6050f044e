package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cpunion/hkforum/pkg/types"
)

// Canonical filter tokens written by question overrides.
const (
	FilterToday  = "today"
	FilterLatest = "latest"
	FilterFunny  = "funny"
)

var (
	// A count followed by a time unit ("1個月") is a period, not a count;
	// the trailing group catches that case.
	digitCount   = regexp.MustCompile(`(?i)(\d+)\s*(?:個|个|篇|條|条|則|则|topics?|threads?|posts?)([月星鐘钟小禮礼]?)`)
	topCount     = regexp.MustCompile(`(?i)(?:top|前)\s*(\d+)`)
	chineseCount = regexp.MustCompile(`([一二兩两三四五六七八九十]+)\s*(?:個|个|篇|條|条|則|则)([月星鐘钟小禮礼]?)`)

	todayWords  = []string{"今日", "今天", "today", "24小時", "24小时"}
	latestWords = []string{"最新", "最近", "newest", "latest"}
	funnyWords  = []string{"on9", "搞笑", "爆笑", "好笑", "笑死", "funny"}
)

// Override is what the question text alone says about the policy.
type Override struct {
	ThreadCount int      // 0 when the question names no count
	Filters     []string // canonical tokens, in a fixed order
}

// Overrides scans question for an explicit thread count and for recency or
// humour words.
func Overrides(question string) Override {
	var o Override
	q := strings.ToLower(question)

	if m := digitCount.FindStringSubmatch(q); m != nil && m[2] == "" {
		o.ThreadCount, _ = strconv.Atoi(m[1])
	} else if m := chineseCount.FindStringSubmatch(q); m != nil && m[2] == "" {
		o.ThreadCount = chineseNumber(m[1])
	} else if m := topCount.FindStringSubmatch(q); m != nil {
		o.ThreadCount, _ = strconv.Atoi(m[1])
	}

	switch {
	case containsAny(q, todayWords):
		o.Filters = append(o.Filters, FilterToday)
	case containsAny(q, latestWords):
		o.Filters = append(o.Filters, FilterLatest)
	}
	if containsAny(q, funnyWords) {
		o.Filters = append(o.Filters, FilterFunny)
	}
	return o
}

// Apply overlays the override on p. Counts are clamped.
func (o Override) Apply(p types.FetchPolicy) types.FetchPolicy {
	if o.ThreadCount > 0 {
		p.ThreadCount = types.ClampThreadCount(o.ThreadCount)
	}
	if len(o.Filters) > 0 {
		p.FilterCondition = strings.Join(o.Filters, ",")
	}
	return p
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// chineseNumber reads numerals up to 九十九. Unknown input is 0.
func chineseNumber(s string) int {
	digit := map[rune]int{'一': 1, '二': 2, '兩': 2, '两': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9}
	rs := []rune(s)
	switch {
	case len(rs) == 1 && rs[0] == '十':
		return 10
	case len(rs) == 1:
		return digit[rs[0]]
	case len(rs) == 2 && rs[0] == '十':
		return 10 + digit[rs[1]]
	case len(rs) == 2 && rs[1] == '十':
		return digit[rs[0]] * 10
	case len(rs) == 3 && rs[1] == '十':
		return digit[rs[0]]*10 + digit[rs[2]]
	}
	return 0
}
