package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/types"
)

type fakeLLM struct {
	text    string
	err     error
	prompts []string
}

func (f *fakeLLM) Summarize(ctx context.Context, prompt string, stream bool) llm.Result {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return llm.Result{Status: llm.StatusError, Text: f.err.Error(), Err: f.err}
	}
	return llm.Result{Status: llm.StatusSuccess, Text: f.text}
}

func TestParse(t *testing.T) {
	text := strings.Join([]string{
		"以下係分析：",
		"INTENT: find_funny",
		"**FIELDS**：title, reply_count，replies",
		"THREAD_COUNT: 4 個",
		"REPLY_STRATEGY: latest-N(20)",
		"FILTER: funny",
		"EXTRA: ignored",
	}, "\n")
	got := Parse(text)
	want := Answer{
		Intent: "find_funny", HasIntent: true,
		Fields: []string{"title", "reply_count", "replies"}, HasFields: true,
		ThreadCount: 4, HasThreadCount: true,
		ReplyStrategy: types.LatestN(20), HasReplyStrategy: true,
		Filter: "funny", HasFilter: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_IgnoresBadLines(t *testing.T) {
	got := Parse("THREAD_COUNT: 25\nTHREAD_COUNT: many\nREPLY_STRATEGY:\nINTENT:\nFILTER: none")
	want := Answer{HasFilter: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
	policy := got.Apply(types.DefaultFetchPolicy())
	if diff := cmp.Diff(types.DefaultFetchPolicy(), policy); diff != "" {
		t.Fatalf("bad lines changed the default policy:\n%s", diff)
	}
}

func TestParse_CapsLongValues(t *testing.T) {
	long := strings.Repeat("長", 3000)
	fields := strings.TrimSuffix(strings.Repeat(long+",", 20), ",")
	got := Parse("INTENT: " + long + "\nFIELDS: " + fields + "\nFILTER: " + long + "\nREPLY_STRATEGY: " + long)

	for name, v := range map[string]string{
		"intent":   got.Intent,
		"filter":   got.Filter,
		"strategy": got.ReplyStrategy.Raw,
	} {
		if n := len([]rune(v)); n != MaxValueChars {
			t.Errorf("%s has %d runes, want %d", name, n, MaxValueChars)
		}
	}
	if len(got.Fields) != maxFields {
		t.Fatalf("expected %d fields, got %d", maxFields, len(got.Fields))
	}
	for _, f := range got.Fields {
		if len([]rune(f)) > MaxValueChars {
			t.Fatalf("field not capped: %d runes", len([]rune(f)))
		}
	}
}

func TestParseReplyStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want types.ReplyStrategy
		ok   bool
	}{
		{"all", types.ReplyStrategy{Kind: types.ReplyAll}, true},
		{"全部", types.ReplyStrategy{Kind: types.ReplyAll}, true},
		{"latest-N(5)", types.LatestN(5), true},
		{"latest 30", types.LatestN(30), true},
		{"latest", types.LatestN(types.DefaultLatestN), true},
		{"最新20", types.LatestN(20), true},
		{"no-content-needed", types.ReplyStrategy{Kind: types.ReplyNoContent}, true},
		{"most liked first", types.ReplyStrategy{Kind: types.ReplyFreeText, Raw: "most liked first"}, true},
		{"  ", types.ReplyStrategy{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseReplyStrategy(tt.in)
		if ok != tt.ok {
			t.Fatalf("ParseReplyStrategy(%q) ok = %v", tt.in, ok)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("ParseReplyStrategy(%q) mismatch:\n%s", tt.in, diff)
		}
	}
}

func TestOverrides(t *testing.T) {
	tests := []struct {
		question string
		want     Override
	}{
		{"分享3個吹水台帖子", Override{ThreadCount: 3}},
		{"分享三個搞笑帖", Override{ThreadCount: 3, Filters: []string{FilterFunny}}},
		{"今日最新嘅十篇", Override{ThreadCount: 10, Filters: []string{FilterToday}}},
		{"show me the newest 5 threads", Override{ThreadCount: 5, Filters: []string{FilterLatest}}},
		{"過去1個月有咩熱門話題", Override{}},
		{"前 7 熱門", Override{ThreadCount: 7}},
		{"分享20個帖", Override{ThreadCount: 20}},
	}
	for _, tt := range tests {
		got := Overrides(tt.question)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("Overrides(%q) mismatch (-want +got):\n%s", tt.question, diff)
		}
	}
}

func TestAnalyze_ExplicitCountWins(t *testing.T) {
	f := &fakeLLM{text: "INTENT: summarize_posts\nTHREAD_COUNT: 8\nREPLY_STRATEGY: all\nFILTER: popular"}
	a := NewAnalyzer(f, nil)

	policy := a.Analyze(context.Background(), "分享3個吹水台帖子", types.PlatformLIHKG)
	if policy.ThreadCount != 3 {
		t.Fatalf("expected thread_count 3, got %d", policy.ThreadCount)
	}
	if policy.ReplyStrategy.Kind != types.ReplyAll {
		t.Fatalf("expected reply strategy from LLM, got %s", policy.ReplyStrategy)
	}
	if policy.FilterCondition != "popular" {
		t.Fatalf("expected filter from LLM, got %q", policy.FilterCondition)
	}
	if len(f.prompts) != 1 || !strings.Contains(f.prompts[0], "LIHKG") || !strings.Contains(f.prompts[0], "分享3個吹水台帖子") {
		t.Fatalf("unexpected analysis prompt %q", f.prompts)
	}
}

func TestAnalyze_LLMFailureUsesDefault(t *testing.T) {
	a := NewAnalyzer(&fakeLLM{err: errors.New("timeout")}, nil)
	got := a.Analyze(context.Background(), "有咩好睇", types.PlatformHKGolden)
	if diff := cmp.Diff(types.DefaultFetchPolicy(), got); diff != "" {
		t.Fatalf("expected default policy:\n%s", diff)
	}
	if got.ReplyStrategy.String() != "latest-N(10)" {
		t.Fatalf("unexpected default strategy %s", got.ReplyStrategy)
	}
}

func TestAnalyze_LLMFailureKeepsOverrides(t *testing.T) {
	a := NewAnalyzer(&fakeLLM{err: errors.New("timeout")}, nil)
	got := a.Analyze(context.Background(), "分享3個吹水台帖子", types.PlatformLIHKG)
	if got.ThreadCount != 3 {
		t.Fatalf("expected thread_count 3, got %d", got.ThreadCount)
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		cond string
		want Filter
	}{
		{"", Filter{}},
		{"popular", Filter{}},
		{"today", Filter{Window: 24 * time.Hour, ByRecency: true}},
		{"latest", Filter{ByRecency: true}},
		{"today,funny", Filter{Window: 24 * time.Hour, ByRecency: true, Keywords: HumorTitleWords}},
		{"keyword=iPhone, latest", Filter{ByRecency: true, Keywords: []string{"iPhone"}}},
		{"按時間排序", Filter{ByRecency: true}},
	}
	for _, tt := range tests {
		got := ParseFilter(tt.cond)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("ParseFilter(%q) mismatch (-want +got):\n%s", tt.cond, diff)
		}
	}
}

func TestFilter_MatchTitle(t *testing.T) {
	f := ParseFilter("funny")
	if !f.MatchTitle("真係ON9到爆") {
		t.Fatalf("expected humour match")
	}
	if f.MatchTitle("今日天氣") {
		t.Fatalf("unexpected match")
	}
	if !(Filter{}).MatchTitle("anything") {
		t.Fatalf("empty filter must match")
	}
}
