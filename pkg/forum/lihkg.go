package forum

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/textclean"
	"github.com/cpunion/hkforum/pkg/types"
)

const LIHKGBaseURL = "https://lihkg.com"

// LIHKG talks to the lihkg.com api_v2 endpoints.
type LIHKG struct {
	f *fetcher
}

var _ Client = (*LIHKG)(nil)

func NewLIHKG(cfg Config, opts ...Option) *LIHKG {
	cfg = cfg.withDefaults(LIHKGBaseURL)
	headers := map[string]string{
		"Referer":          cfg.BaseURL + "/",
		"X-LI-DEVICE-TYPE": "browser",
	}
	return &LIHKG{f: newFetcher(types.PlatformLIHKG, cfg, headers, opts)}
}

func (c *LIHKG) Platform() types.Platform { return types.PlatformLIHKG }

// ValidateCategory accepts positive integer ids.
func (c *LIHKG) ValidateCategory(id types.CategoryID) error {
	n, err := strconv.Atoi(string(id))
	if err != nil || n <= 0 {
		return fmt.Errorf("LIHKG category %q must be a positive integer", id)
	}
	return nil
}

func (c *LIHKG) FetchThreadList(ctx context.Context, req ListRequest, rl *ratelimit.Tracker) (*ListResult, error) {
	fetch := func(ctx context.Context, page int) ([]gjson.Result, bool, error) {
		q := url.Values{
			"cat_id": {string(req.CategoryID)},
			"page":   {strconv.Itoa(page)},
			"count":  {"60"},
			"type":   {"now"},
		}
		doc, err := c.f.getJSON(ctx, "list", "/api_v2/thread/category", q, rl)
		if err != nil {
			return nil, false, err
		}
		if err := lihkgError(doc); err != nil {
			return nil, false, err
		}
		items := first(doc, "response.items", "items").Array()
		pg := doc.Get("response.is_pagination")
		more := len(items) > 0 && (!pg.Exists() || pg.Bool())
		return items, more, nil
	}
	return c.f.collectList(ctx, req, rl, fetch, parseLIHKGThread)
}

func (c *LIHKG) FetchThreadDetail(ctx context.Context, req DetailRequest, rl *ratelimit.Tracker) (*DetailResult, error) {
	fetch := func(ctx context.Context, page int) (*replyPage, error) {
		path := fmt.Sprintf("/api_v2/thread/%s/page/%d", url.PathEscape(req.ThreadID), page)
		doc, err := c.f.getJSON(ctx, "thread", path, url.Values{"order": {"reply"}}, rl)
		if err != nil {
			return nil, err
		}
		if err := lihkgError(doc); err != nil {
			return nil, err
		}
		body := doc.Get("response")
		if !body.Exists() {
			body = doc
		}
		p := &replyPage{
			meta:       parseLIHKGThread(body),
			total:      intField(body, "no_of_reply", "total_replies"),
			totalPages: intField(body, "total_page"),
		}
		for _, it := range first(body, "item_data", "replies").Array() {
			p.replies = append(p.replies, types.Reply{
				Body:         textclean.Clean(stringField(it, "msg", "content")),
				LikeCount:    intField(it, "like_count"),
				DislikeCount: intField(it, "dislike_count"),
			})
		}
		return p, nil
	}
	return c.f.collectReplies(ctx, req, rl, fetch)
}

// lihkgError turns a {"success":0} envelope into an error.
func lihkgError(doc gjson.Result) error {
	ok := doc.Get("success")
	if !ok.Exists() || ok.Int() == 1 || ok.Bool() {
		return nil
	}
	if msg := stringField(doc, "error_message"); msg != "" {
		return fmt.Errorf("api error: %s", msg)
	}
	return errors.New("api error")
}

func parseLIHKGThread(it gjson.Result) types.ThreadSummary {
	return types.ThreadSummary{
		ThreadID:     stringField(it, "thread_id", "id"),
		Title:        textclean.Clean(stringField(it, "title")),
		ReplyCount:   intField(it, "no_of_reply", "reply_count"),
		CreatedAt:    unixField(it, "create_time", "rt"),
		LastReplyAt:  unixField(it, "last_reply_time", "lrt"),
		LikeCount:    intField(it, "like_count"),
		DislikeCount: intField(it, "dislike_count"),
	}
}
