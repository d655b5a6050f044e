package types

import (
	"fmt"
	"strings"
)

// Platform identifies a source forum.
type Platform string

const (
	PlatformLIHKG    Platform = "LIHKG"
	PlatformHKGolden Platform = "HKGolden"
)

// ParsePlatform accepts the canonical names plus the display names used by
// the chat front end.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lihkg", "連登":
		return PlatformLIHKG, nil
	case "hkgolden", "golden", "高登", "高登討論區":
		return PlatformHKGolden, nil
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

// CategoryID is a forum-specific category identifier. LIHKG uses positive
// integers, HKGolden uses short letter codes.
type CategoryID string

// CategoryMap maps a category display name to its forum id.
type CategoryMap map[string]CategoryID

// ReplyStrategyKind selects how many replies a thread fetch should gather.
type ReplyStrategyKind string

const (
	ReplyAll       ReplyStrategyKind = "all"
	ReplyLatestN   ReplyStrategyKind = "latest-N"
	ReplyNoContent ReplyStrategyKind = "no-content-needed"
	ReplyFreeText  ReplyStrategyKind = "free-text"
)

// DefaultLatestN is the reply depth used when a strategy gives no number.
const DefaultLatestN = 10

// ReplyStrategy is the parsed reply strategy of a fetch policy.
type ReplyStrategy struct {
	Kind ReplyStrategyKind `json:"kind"`
	N    int               `json:"n,omitempty"`
	Raw  string            `json:"raw,omitempty"`
}

// LatestN returns a latest-N strategy.
func LatestN(n int) ReplyStrategy {
	return ReplyStrategy{Kind: ReplyLatestN, N: n}
}

func (r ReplyStrategy) String() string {
	switch r.Kind {
	case ReplyAll:
		return "all"
	case ReplyLatestN:
		return fmt.Sprintf("latest-N(%d)", r.N)
	case ReplyNoContent:
		return "no-content-needed"
	}
	return r.Raw
}

// Policy thread count bounds.
const (
	MinThreadCount = 1
	MaxThreadCount = 10
)

// FetchPolicy is the plan derived from a user's question.
type FetchPolicy struct {
	Intent          string        `json:"intent"`
	DataFields      []string      `json:"requested_data_fields"`
	ThreadCount     int           `json:"thread_count"`
	ReplyStrategy   ReplyStrategy `json:"reply_strategy"`
	FilterCondition string        `json:"filter_condition"`
}

// DefaultFetchPolicy is used whenever intent analysis cannot produce a plan.
func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{
		Intent:        "summarize_posts",
		DataFields:    []string{"title", "reply_count", "replies"},
		ThreadCount:   1,
		ReplyStrategy: LatestN(DefaultLatestN),
	}
}

// ClampThreadCount bounds n to [MinThreadCount, MaxThreadCount].
func ClampThreadCount(n int) int {
	if n < MinThreadCount {
		return MinThreadCount
	}
	if n > MaxThreadCount {
		return MaxThreadCount
	}
	return n
}
