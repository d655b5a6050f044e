// Package intent turns a user's question into a fetch policy: how many
// threads to read, how deep, and how to filter them.
package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/llm"
	"github.com/cpunion/hkforum/pkg/types"
)

// Summarizer is the LLM call the analyzer depends on.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, stream bool) llm.Result
}

// Analyzer asks the LLM for a labeled-line policy and layers deterministic
// overrides from the question text on top.
type Analyzer struct {
	llm    Summarizer
	logger *zap.Logger
}

func NewAnalyzer(s Summarizer, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{llm: s, logger: logger}
}

const promptTemplate = `你是香港討論區助手，負責分析用戶問題，決定要從%s抓取甚麼資料。
只用以下格式逐行回答，不要加任何其他內容：
INTENT: <簡短英文標籤，例如 summarize_posts、list_titles、find_funny>
FIELDS: <以逗號分隔，可選 title, reply_count, like_count, last_reply_at, replies>
THREAD_COUNT: <1 至 10 的整數>
REPLY_STRATEGY: <all | latest-N(數字) | no-content-needed>
FILTER: <篩選條件，例如 popular、latest、today、funny、keyword=字詞，或 none>

用戶問題：%s`

// Prompt renders the analysis instruction for question.
func Prompt(question string, platform types.Platform) string {
	return fmt.Sprintf(promptTemplate, platform, strings.TrimSpace(question))
}

// Analyze returns the policy for question. It never fails: an LLM error
// yields the default policy, and unparseable lines keep their defaults.
// Question overrides apply in every case.
func (a *Analyzer) Analyze(ctx context.Context, question string, platform types.Platform) types.FetchPolicy {
	policy := types.DefaultFetchPolicy()

	res := a.llm.Summarize(ctx, Prompt(question, platform), false)
	if res.OK() {
		parsed := Parse(res.Text)
		policy = parsed.Apply(policy)
		a.logger.Debug("intent parsed",
			zap.String("intent", policy.Intent),
			zap.Int("thread_count", policy.ThreadCount),
			zap.Stringer("reply_strategy", policy.ReplyStrategy),
			zap.String("filter", policy.FilterCondition))
	} else {
		a.logger.Warn("intent analysis failed, using default policy", zap.String("reason", res.Text))
	}

	ov := Overrides(question)
	policy = ov.Apply(policy)
	policy.ThreadCount = types.ClampThreadCount(policy.ThreadCount)
	return policy
}
