package forum

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

// listPageFunc fetches one topic list page and reports whether more pages
// may follow.
type listPageFunc func(ctx context.Context, page int) (items []gjson.Result, more bool, err error)

// collectList walks list pages until the page budget runs out, a page is
// empty, a page fails or the rate limit refuses a call.
func (f *fetcher) collectList(ctx context.Context, req ListRequest, rl *ratelimit.Tracker, fetch listPageFunc, parse func(gjson.Result) types.ThreadSummary) (*ListResult, error) {
	start := max(req.StartPage, 1)
	pages := max(req.MaxPages, 1)
	res := &ListResult{}
	seen := make(map[string]bool)

	for page := start; page < start+pages; page++ {
		items, more, err := fetch(ctx, page)
		if err != nil {
			if IsContextError(err) {
				return nil, err
			}
			res.Diagnostics = append(res.Diagnostics, pageDiag("topic list", page, err))
			if isBlocked(err) {
				res.Truncated = true
			}
			break
		}
		res.Pages++
		for _, it := range items {
			res.Records++
			s := parse(it)
			s.Platform = f.platform
			if !s.Usable() {
				res.Dropped++
				continue
			}
			if seen[s.ThreadID] {
				continue
			}
			seen[s.ThreadID] = true
			res.Threads = append(res.Threads, s)
		}
		if !more || len(items) == 0 {
			break
		}
	}
	if res.Dropped > 0 {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("dropped %d list records without id or title", res.Dropped))
	}
	res.RateLimit = rl.Snapshot()
	f.logger.Info("fetched topic list",
		zap.String("category", string(req.CategoryID)),
		zap.Int("pages", res.Pages),
		zap.Int("records", res.Records),
		zap.Int("threads", len(res.Threads)),
		zap.Bool("truncated", res.Truncated))
	return res, nil
}
