package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/types"
)

// Free-text values from the model are echoed into the summary prompt, so
// they are capped here.
const (
	MaxValueChars = 100
	maxFields     = 12
)

// Answer is the typed form of the LLM's labeled-line reply. The Has flags
// report which lines parsed; absent fields keep the policy default.
type Answer struct {
	Intent           string
	HasIntent        bool
	Fields           []string
	HasFields        bool
	ThreadCount      int
	HasThreadCount   bool
	ReplyStrategy    types.ReplyStrategy
	HasReplyStrategy bool
	Filter           string
	HasFilter        bool
}

var (
	labelLine = regexp.MustCompile(`^[\s*\-#>]*([A-Za-z_ ]+?)\s*\**\s*[:：]\s*(.*)$`)
	firstInt  = regexp.MustCompile(`-?\d+`)
	latestN   = regexp.MustCompile(`(?i)^(?:latest|最新)[\s\-_]*(?:n)?\s*[\(（]?\s*(\d+)?\s*[\)）]?$`)
)

// Parse reads the labeled lines of an analysis answer. Unknown labels,
// unparseable values and out-of-range thread counts are ignored.
func Parse(text string) Answer {
	var a Answer
	for _, line := range strings.Split(text, "\n") {
		m := labelLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		label := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"))
		value := strings.Trim(strings.TrimSpace(m[2]), "*`\"'")
		switch label {
		case "INTENT":
			if value != "" {
				a.Intent, a.HasIntent = textclean.Truncate(value, MaxValueChars), true
			}
		case "FIELDS", "DATA_FIELDS", "REQUESTED_DATA_FIELDS":
			if fields := splitList(value); len(fields) > 0 {
				a.Fields, a.HasFields = fields, true
			}
		case "THREAD_COUNT", "THREADS":
			s := firstInt.FindString(value)
			n, err := strconv.Atoi(s)
			if err == nil && n >= types.MinThreadCount && n <= types.MaxThreadCount {
				a.ThreadCount, a.HasThreadCount = n, true
			}
		case "REPLY_STRATEGY", "REPLIES":
			if rs, ok := ParseReplyStrategy(value); ok {
				a.ReplyStrategy, a.HasReplyStrategy = rs, true
			}
		case "FILTER", "FILTER_CONDITION":
			switch strings.ToLower(value) {
			case "none", "no", "無", "无", "-", "n/a":
				value = ""
			}
			a.Filter, a.HasFilter = textclean.Truncate(value, MaxValueChars), true
		}
	}
	return a
}

// Apply overlays the parsed fields on p.
func (a Answer) Apply(p types.FetchPolicy) types.FetchPolicy {
	if a.HasIntent {
		p.Intent = a.Intent
	}
	if a.HasFields {
		p.DataFields = a.Fields
	}
	if a.HasThreadCount {
		p.ThreadCount = a.ThreadCount
	}
	if a.HasReplyStrategy {
		p.ReplyStrategy = a.ReplyStrategy
	}
	if a.HasFilter {
		p.FilterCondition = a.Filter
	}
	return p
}

// ParseReplyStrategy understands "all", "latest-N(20)", "latest 20",
// "no-content-needed" and their Chinese forms. Any other non-empty text is
// kept as a free-text strategy.
func ParseReplyStrategy(s string) (types.ReplyStrategy, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.ReplyStrategy{}, false
	}
	lower := strings.ToLower(s)
	switch lower {
	case "all", "全部", "所有":
		return types.ReplyStrategy{Kind: types.ReplyAll}, true
	case "no-content-needed", "no-content", "none", "no_content_needed", "不需要內容", "不需要":
		return types.ReplyStrategy{Kind: types.ReplyNoContent}, true
	}
	if m := latestN.FindStringSubmatch(lower); m != nil {
		n := types.DefaultLatestN
		if m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
				n = v
			}
		}
		return types.LatestN(n), true
	}
	return types.ReplyStrategy{Kind: types.ReplyFreeText, Raw: textclean.Truncate(s, MaxValueChars)}, true
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == ';'
	}) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, textclean.Truncate(f, MaxValueChars))
		}
		if len(out) == maxFields {
			break
		}
	}
	return out
}
