package forum

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/types"
)

const HKGoldenBaseURL = "https://api.hkgolden.com"

var hkgoldenCategory = regexp.MustCompile(`^[A-Za-z]{1,4}$`)

// HKGolden talks to the api.hkgolden.com v1 endpoints.
type HKGolden struct {
	f *fetcher
}

var _ Client = (*HKGolden)(nil)

func NewHKGolden(cfg Config, opts ...Option) *HKGolden {
	cfg = cfg.withDefaults(HKGoldenBaseURL)
	headers := map[string]string{
		"Referer": "https://forum.hkgolden.com/",
		"Origin":  "https://forum.hkgolden.com",
	}
	return &HKGolden{f: newFetcher(types.PlatformHKGolden, cfg, headers, opts)}
}

func (c *HKGolden) Platform() types.Platform { return types.PlatformHKGolden }

// ValidateCategory accepts letter codes such as "BW" or "CA".
func (c *HKGolden) ValidateCategory(id types.CategoryID) error {
	if !hkgoldenCategory.MatchString(string(id)) {
		return fmt.Errorf("HKGolden category %q must be a letter code", id)
	}
	return nil
}

func (c *HKGolden) FetchThreadList(ctx context.Context, req ListRequest, rl *ratelimit.Tracker) (*ListResult, error) {
	fetch := func(ctx context.Context, page int) ([]gjson.Result, bool, error) {
		path := fmt.Sprintf("/v1/topics/%s/%d", url.PathEscape(string(req.CategoryID)), page)
		doc, err := c.f.getJSON(ctx, "list", path, url.Values{"thumb": {"Y"}, "sort": {"0"}}, rl)
		if err != nil {
			return nil, false, err
		}
		if err := hkgoldenError(doc); err != nil {
			return nil, false, err
		}
		items := first(doc, "data.list", "items").Array()
		more := len(items) > 0
		if last := intField(doc, "data.totalPage", "data.maxPage"); last > 0 && page >= last {
			more = false
		}
		return items, more, nil
	}
	return c.f.collectList(ctx, req, rl, fetch, parseHKGoldenThread)
}

func (c *HKGolden) FetchThreadDetail(ctx context.Context, req DetailRequest, rl *ratelimit.Tracker) (*DetailResult, error) {
	fetch := func(ctx context.Context, page int) (*replyPage, error) {
		path := fmt.Sprintf("/v1/view/%s/%d", url.PathEscape(req.ThreadID), page)
		doc, err := c.f.getJSON(ctx, "thread", path, nil, rl)
		if err != nil {
			return nil, err
		}
		if err := hkgoldenError(doc); err != nil {
			return nil, err
		}
		body := doc.Get("data")
		if !body.Exists() {
			body = doc
		}
		p := &replyPage{
			meta:       parseHKGoldenThread(body),
			total:      intField(body, "totalReplies", "no_of_reply"),
			totalPages: intField(body, "maxPage", "totalPage"),
		}
		for _, it := range body.Get("replies").Array() {
			p.replies = append(p.replies, types.Reply{
				Body:         textclean.Clean(stringField(it, "content", "messageBody", "msg")),
				LikeCount:    intField(it, "marksGood", "like_count"),
				DislikeCount: intField(it, "marksBad", "dislike_count"),
			})
		}
		return p, nil
	}
	return c.f.collectReplies(ctx, req, rl, fetch)
}

// hkgoldenError turns a {"result":false} envelope into an error.
func hkgoldenError(doc gjson.Result) error {
	ok := doc.Get("result")
	if !ok.Exists() || ok.Bool() {
		return nil
	}
	if msg := stringField(doc, "error", "message"); msg != "" {
		return fmt.Errorf("api error: %s", msg)
	}
	return errors.New("api error")
}

func parseHKGoldenThread(it gjson.Result) types.ThreadSummary {
	return types.ThreadSummary{
		ThreadID:     stringField(it, "id", "threadId", "thread_id"),
		Title:        textclean.Clean(stringField(it, "title")),
		ReplyCount:   intField(it, "totalReplies", "no_of_reply"),
		CreatedAt:    unixField(it, "messageDate", "rt"),
		LastReplyAt:  unixField(it, "lastReplyDate", "lrt"),
		LikeCount:    intField(it, "marksGood", "like_count"),
		DislikeCount: intField(it, "marksBad", "dislike_count"),
	}
}
