package digest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cpunion/hkforum/pkg/forum"
	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/types"
)

const (
	defaultMaxReplies  = 60
	maxDetailInFlight  = 5
	noUsableRepliesMsg = "沒有可用回覆"
	fetchFailedMsg     = "未能抓取回覆"
)

// resolveCategory maps the selected category to an id. A question naming
// another configured category switches to it.
func (r *run) resolveCategory() (string, types.CategoryID, error) {
	cats := r.req.Categories
	if cats == nil {
		cats = r.pl.cfg.CategoryMap()
	}
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) == 0 {
		return "", "", fmt.Errorf("%s 未設定任何分類，請檢查分類設定。", r.req.Platform)
	}

	name := r.req.SelectedCategory
	id, ok := cats[name]
	if !ok {
		return "", "", fmt.Errorf("分類「%s」不在 %s 的分類設定之中（可選：%s），請檢查分類設定。",
			name, r.req.Platform, strings.Join(names, "、"))
	}
	if err := r.pl.client.ValidateCategory(id); err != nil {
		return "", "", fmt.Errorf("分類「%s」的設定無效（%v），請檢查分類設定。", name, err)
	}

	if alt := mentionedCategory(r.req.Question, names, name); alt != "" {
		altID := cats[alt]
		if err := r.pl.client.ValidateCategory(altID); err != nil {
			r.diag(fmt.Sprintf("question mentions category %q but its id is invalid: %v", alt, err))
		} else {
			r.logger.Info("category overridden by question", zap.String("from", name), zap.String("to", alt))
			r.diag(fmt.Sprintf("問題提及「%s」，改為使用該分類", alt))
			return alt, altID, nil
		}
	}
	return name, id, nil
}

// mentionedCategory returns the longest category name, other than current,
// that appears in question.
func mentionedCategory(question string, names []string, current string) string {
	best := ""
	for _, n := range names {
		if n == current || textclean.Len(n) < 2 || !strings.Contains(question, n) {
			continue
		}
		if strings.Contains(current, n) {
			continue
		}
		if textclean.Len(n) > textclean.Len(best) {
			best = n
		}
	}
	return best
}

// fetchList reads the topic list through the platform's list cache. The
// page budget is min(max pages, max(min pages, thread count)).
func (r *run) fetchList(ctx context.Context, id types.CategoryID, threadCount int) (*forum.ListResult, error) {
	cfg := r.pl.cfg
	pages := min(cfg.MaxListPages, max(cfg.MinListPages, threadCount))
	key := fmt.Sprintf("%s|%d", id, pages)

	if lr, ok := r.pl.lists.Get(key); ok {
		r.o.metrics.CacheLookup("list", true)
		r.logger.Debug("topic list cache hit", zap.String("key", key))
		return lr, nil
	}
	r.o.metrics.CacheLookup("list", false)

	lr, err := r.pl.client.FetchThreadList(ctx, forum.ListRequest{CategoryID: id, StartPage: 1, MaxPages: pages}, r.pl.tracker)
	if err != nil {
		return nil, err
	}
	for _, d := range lr.Diagnostics {
		r.diag(d)
	}
	if lr.Records > 0 && !lr.Truncated {
		r.pl.lists.Set(key, lr)
	}
	r.logger.Info("fetched topic list",
		zap.Int("pages", lr.Pages),
		zap.Int("records", lr.Records),
		zap.Int("threads", len(lr.Threads)),
		zap.Bool("truncated", lr.Truncated))
	return lr, nil
}

// replyPlan is how deep to read each selected thread.
type replyPlan struct {
	skip        bool // metadata only
	max         int
	latest      bool
	sortByLikes bool
}

func (o *Orchestrator) planReplies(s types.ReplyStrategy) replyPlan {
	limit := o.cfg.MaxRepliesPerThread
	if limit <= 0 {
		limit = defaultMaxReplies
	}
	switch s.Kind {
	case types.ReplyAll:
		return replyPlan{max: limit, sortByLikes: true}
	case types.ReplyNoContent:
		return replyPlan{skip: true}
	case types.ReplyLatestN:
		n := s.N
		if n <= 0 {
			n = types.DefaultLatestN
		}
		return replyPlan{max: min(n, limit), latest: true}
	}
	return replyPlan{max: min(types.DefaultLatestN, limit), latest: true}
}

// fetchContent reads the selected threads with bounded concurrency. Only
// context errors are returned; failed fetches become metadata-only entries.
func (r *run) fetchContent(ctx context.Context, id types.CategoryID, selected []types.ThreadSummary, s types.ReplyStrategy) ([]ThreadData, error) {
	out := make([]ThreadData, len(selected))
	for i, t := range selected {
		out[i] = ThreadData{ThreadSummary: t, TotalReplies: t.ReplyCount}
	}
	plan := r.o.planReplies(s)
	if plan.skip {
		return out, nil
	}

	diags := make([][]string, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(max(r.o.cfg.DetailConcurrency, 1), maxDetailInFlight))
	for i, t := range selected {
		g.Go(func() error {
			detail, ok, d, err := r.threadDetail(gctx, id, t, plan)
			if err != nil {
				return err
			}
			diags[i] = d
			out[i] = threadData(t, detail, ok, plan)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, d := range diags {
		for _, msg := range d {
			r.diag(msg)
		}
	}
	return out, nil
}

// threadDetail reads one thread through the content cache. ok is false when
// the fetch produced nothing usable.
func (r *run) threadDetail(ctx context.Context, id types.CategoryID, t types.ThreadSummary, plan replyPlan) (types.ThreadDetail, bool, []string, error) {
	key := fmt.Sprintf("%s|%s|%t|%d", r.req.Platform, t.ThreadID, plan.latest, plan.max)
	if d, ok := r.o.content.Get(key); ok {
		r.o.metrics.CacheLookup("thread", true)
		return d, true, nil, nil
	}
	r.o.metrics.CacheLookup("thread", false)

	res, err := r.pl.client.FetchThreadDetail(ctx, forum.DetailRequest{
		ThreadID:     t.ThreadID,
		CategoryID:   id,
		MaxReplies:   plan.max,
		Latest:       plan.latest,
		KnownReplies: t.ReplyCount,
	}, r.pl.tracker)
	if err != nil {
		return types.ThreadDetail{}, false, nil, err
	}
	if !res.Truncated && len(res.Diagnostics) == 0 {
		r.o.content.Set(key, res.Detail)
	}
	return res.Detail, res.Pages > 0, res.Diagnostics, nil
}

// threadData keeps the usable replies of detail. List metadata wins over
// the content endpoint's, which only fills gaps.
func threadData(t types.ThreadSummary, detail types.ThreadDetail, ok bool, plan replyPlan) ThreadData {
	td := ThreadData{ThreadSummary: t, TotalReplies: detail.TotalReplies}
	if td.TotalReplies == 0 {
		td.TotalReplies = t.ReplyCount
	}
	if detail.LastReplyAt > td.LastReplyAt {
		td.LastReplyAt = detail.LastReplyAt
	}
	if td.LikeCount == 0 {
		td.LikeCount = detail.LikeCount
	}
	if td.DislikeCount == 0 {
		td.DislikeCount = detail.DislikeCount
	}

	for _, rep := range detail.Replies {
		if !textclean.IsNoise(rep.Body) {
			td.Replies = append(td.Replies, rep)
		}
	}
	if len(td.Replies) > 0 {
		td.FirstReply = td.Replies[0].Body
	}
	if plan.sortByLikes {
		slices.SortStableFunc(td.Replies, func(a, b types.Reply) int {
			return cmp.Compare(b.LikeCount, a.LikeCount)
		})
	}
	if len(td.Replies) == 0 {
		td.NoUsableReplies = true
		td.Note = noUsableRepliesMsg
		if !ok {
			td.Note = fetchFailedMsg
		}
	}
	return td
}
