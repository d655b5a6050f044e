package forum

import (
	"context"

	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

// replyPage is one content page as parsed by an adapter.
type replyPage struct {
	meta       types.ThreadSummary // whatever thread metadata the page carried
	total      int                 // total replies reported, 0 if unknown
	totalPages int                 // 0 if unknown
	replies    []types.Reply
}

type replyPageFunc func(ctx context.Context, page int) (*replyPage, error)

// collectReplies pages through a thread. A head fetch reads from page 1
// until MaxReplies are collected. A latest fetch starts from the tail,
// computed from KnownReplies or from the page count reported by page 1, and
// keeps the last MaxReplies. Paging stops at the reported last page, on an
// empty page, on a short page when the page count is unknown, or after
// Config.MaxPages pages.
func (f *fetcher) collectReplies(ctx context.Context, req DetailRequest, rl *ratelimit.Tracker, fetch replyPageFunc) (*DetailResult, error) {
	limit := req.MaxReplies
	if limit <= 0 {
		limit = f.cfg.MaxReplies
	}
	size := f.cfg.PageSize
	span := (limit + size - 1) / size

	page := 1
	if req.Latest && req.KnownReplies > 0 {
		last := max((req.KnownReplies+size-1)/size, 1)
		page = max(last-span, 1)
	}

	res := &DetailResult{}
	res.Detail.ThreadID = req.ThreadID
	res.Detail.Platform = f.platform
	var replies []types.Reply
	total := 0
	jumped := page > 1

	for n := 0; n < f.cfg.MaxPages; n++ {
		p, err := fetch(ctx, page)
		if err != nil {
			if IsContextError(err) {
				return nil, err
			}
			res.Diagnostics = append(res.Diagnostics, pageDiag("thread "+req.ThreadID, page, err))
			if isBlocked(err) {
				res.Truncated = true
			}
			break
		}
		res.Pages++
		mergeMeta(&res.Detail.ThreadSummary, p.meta)
		if p.total > 0 {
			total = p.total
		}

		if len(p.replies) == 0 {
			// A stale reply count can point past the end; retry once from
			// the real tail.
			if len(replies) == 0 && page > 1 && jumped {
				jumped = false
				page = 1
				if p.totalPages > 0 {
					page = max(p.totalPages-span, 1)
				}
				continue
			}
			break
		}
		if req.Latest && !jumped && page == 1 && p.totalPages > span+1 {
			jumped = true
			page = p.totalPages - span
			continue
		}

		replies = append(replies, p.replies...)
		if !req.Latest && len(replies) >= limit {
			break
		}
		if p.totalPages > 0 && page >= p.totalPages {
			break
		}
		if p.totalPages == 0 && len(p.replies) < size {
			break
		}
		page++
	}

	if len(replies) > limit {
		if req.Latest {
			replies = replies[len(replies)-limit:]
		} else {
			replies = replies[:limit]
		}
	}
	res.Detail.Replies = replies
	if total == 0 {
		total = max(req.KnownReplies, len(replies))
	}
	res.Detail.TotalReplies = total
	if res.Detail.ReplyCount == 0 {
		res.Detail.ReplyCount = total
	}
	res.RateLimit = rl.Snapshot()
	f.logger.Debug("fetched thread",
		zap.String("thread_id", req.ThreadID),
		zap.Int("pages", res.Pages),
		zap.Int("replies", len(replies)),
		zap.Bool("latest", req.Latest))
	return res, nil
}

func mergeMeta(dst *types.ThreadSummary, src types.ThreadSummary) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.ReplyCount == 0 {
		dst.ReplyCount = src.ReplyCount
	}
	if dst.CreatedAt == 0 {
		dst.CreatedAt = src.CreatedAt
	}
	if src.LastReplyAt > dst.LastReplyAt {
		dst.LastReplyAt = src.LastReplyAt
	}
	if dst.LikeCount == 0 {
		dst.LikeCount = src.LikeCount
	}
	if dst.DislikeCount == 0 {
		dst.DislikeCount = src.DislikeCount
	}
}
