package forum

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testConfig(url string) Config {
	return Config{BaseURL: url, Backoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, PageSize: 25}
}

func newTracker(clock *testClock, max int) *ratelimit.Tracker {
	return ratelimit.NewTracker(ratelimit.Config{MaxRequests: max, Window: time.Minute, Cooldown: time.Minute}, clock.Now)
}

// lihkgReplies renders page p of a thread with total replies, 25 per page.
func lihkgReplies(page, total int) string {
	var items []string
	for i := (page-1)*25 + 1; i <= min(page*25, total); i++ {
		items = append(items, fmt.Sprintf(`{"msg":"<p>reply %d</p>","like_count":%d,"dislike_count":"1"}`, i, i))
	}
	pages := (total + 24) / 25
	return fmt.Sprintf(`{"success":1,"response":{"thread_id":"42","title":"Thread","no_of_reply":%d,"total_page":%d,"like_count":9,"item_data":[%s]}}`,
		total, pages, strings.Join(items, ","))
}

func TestLIHKG_FetchThreadList(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api_v2/thread/category", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("cat_id"))
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"success":1,"response":{"is_pagination":true,"items":[
				{"thread_id":"100","title":"第一 &amp; 二","no_of_reply":"120","create_time":1740800000,"last_reply_time":1740830000,"like_count":5,"dislike_count":2},
				{"thread_id":"101","title":"","no_of_reply":3},
				{"title":"no id"}
			]}}`)
		case "2":
			fmt.Fprint(w, `{"success":1,"response":{"is_pagination":false,"items":[
				{"thread_id":"100","title":"dup","no_of_reply":1},
				{"thread_id":102,"title":"second","no_of_reply":60,"last_reply_time":"1740830000000"}
			]}}`)
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := NewLIHKG(testConfig(srv.URL))
	res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", StartPage: 1, MaxPages: 5}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 5, res.Records)
	assert.Equal(t, 2, res.Dropped)
	require.Len(t, res.Threads, 2)

	got := res.Threads[0]
	assert.Equal(t, types.ThreadSummary{
		ThreadID: "100", Platform: types.PlatformLIHKG, Title: "第一 & 二", ReplyCount: 120,
		CreatedAt: 1740800000, LastReplyAt: 1740830000, LikeCount: 5, DislikeCount: 2,
	}, got)
	assert.Equal(t, "102", res.Threads[1].ThreadID)
	assert.EqualValues(t, 1740830000, res.Threads[1].LastReplyAt)
	assert.Contains(t, strings.Join(res.Diagnostics, "\n"), "dropped 2")
}

func TestLIHKG_FetchThreadDetailHead(t *testing.T) {
	var pages []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		page, _ := strconv.Atoi(parts[len(parts)-1])
		mu.Lock()
		pages = append(pages, parts[len(parts)-1])
		mu.Unlock()
		fmt.Fprint(w, lihkgReplies(page, 75))
	}))
	defer srv.Close()

	c := NewLIHKG(testConfig(srv.URL))
	res, err := c.FetchThreadDetail(context.Background(), DetailRequest{ThreadID: "42", MaxReplies: 30}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, res.Detail.Replies, 30)
	assert.Equal(t, "reply 1", res.Detail.Replies[0].Body)
	assert.Equal(t, "reply 30", res.Detail.Replies[29].Body)
	assert.Equal(t, 1, res.Detail.Replies[0].DislikeCount)
	assert.Equal(t, "Thread", res.Detail.Title)
	assert.Equal(t, 75, res.Detail.TotalReplies)
	assert.Equal(t, 9, res.Detail.LikeCount)
}

func TestLIHKG_FetchThreadDetailLatest(t *testing.T) {
	tests := []struct {
		name  string
		known int
		want  []string
	}{
		{"jump from list count", 75, []string{"2", "3"}},
		{"jump from page one", 0, []string{"1", "2", "3"}},
		{"stale count past the end", 200, []string{"7", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pages []string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				parts := strings.Split(r.URL.Path, "/")
				page, _ := strconv.Atoi(parts[len(parts)-1])
				pages = append(pages, parts[len(parts)-1])
				fmt.Fprint(w, lihkgReplies(page, 75))
			}))
			defer srv.Close()

			c := NewLIHKG(testConfig(srv.URL))
			res, err := c.FetchThreadDetail(context.Background(),
				DetailRequest{ThreadID: "42", MaxReplies: 10, Latest: true, KnownReplies: tt.known}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pages)
			require.Len(t, res.Detail.Replies, 10)
			assert.Equal(t, "reply 66", res.Detail.Replies[0].Body)
			assert.Equal(t, "reply 75", res.Detail.Replies[9].Body)
		})
	}
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"success":1,"response":{"is_pagination":false,"items":[{"thread_id":"1","title":"ok"}]}}`)
	}))
	defer srv.Close()

	clock := newTestClock()
	c := NewLIHKG(testConfig(srv.URL), WithSleep(clock.sleep))
	res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 1}, newTracker(clock, 30))
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	require.Len(t, res.Threads, 1)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, 3, res.RateLimit.RequestCount)
}

func TestFetcher_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clock := newTestClock()
	c := NewLIHKG(testConfig(srv.URL), WithSleep(clock.sleep))
	res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 3}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Empty(t, res.Threads)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "giving up after 3 attempts")
}

func TestFetcher_HonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"success":1,"response":{"is_pagination":false,"items":[{"thread_id":"1","title":"ok"}]}}`)
	}))
	defer srv.Close()

	clock := newTestClock()
	start := clock.Now()
	c := NewLIHKG(testConfig(srv.URL), WithSleep(clock.sleep))
	res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 1}, newTracker(clock, 30))
	require.NoError(t, err)
	require.Len(t, res.Threads, 1)
	assert.Equal(t, 5*time.Second, clock.Now().Sub(start))
	assert.False(t, res.RateLimit.Blocked(clock.Now()))
}

func TestFetcher_LongRetryAfterBlocks(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	clock := newTestClock()
	rl := newTracker(clock, 30)
	c := NewLIHKG(testConfig(srv.URL), WithSleep(clock.sleep))
	res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 3}, rl)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, res.Truncated)
	assert.Equal(t, clock.Now().Add(10*time.Minute), res.RateLimit.BlockedUntil)

	// The next call short-circuits without touching the network.
	res, err = c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 3}, rl)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, res.Threads)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "rate limited until")
}

func TestFetcher_CeilingTruncatesPaging(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"success":1,"response":{"is_pagination":true,"items":[{"thread_id":"%d","title":"t"}]}}`, n)
	}))
	defer srv.Close()

	clock := newTestClock()
	c := NewLIHKG(testConfig(srv.URL))
	res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 5}, newTracker(clock, 2))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Len(t, res.Threads, 2)
	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.RateLimit.RequestCount)
	assert.True(t, res.RateLimit.Blocked(clock.Now()))
	assert.Contains(t, res.Diagnostics[0], "request ceiling 2")
}

func TestFetcher_BadBodiesBecomeDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `<html>maintenance</html>`, "not valid JSON"},
		{"api failure", `{"success":0,"error_message":"category not found"}`, "category not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewLIHKG(testConfig(srv.URL))
			res, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "1", MaxPages: 2}, nil)
			require.NoError(t, err)
			assert.Empty(t, res.Threads)
			require.Len(t, res.Diagnostics, 1)
			assert.Contains(t, res.Diagnostics[0], tt.want)
		})
	}
}

func TestFetcher_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewLIHKG(testConfig(srv.URL))
	_, err := c.FetchThreadList(ctx, ListRequest{CategoryID: "1"}, nil)
	require.Error(t, err)
	assert.True(t, IsContextError(err))
}

func TestHKGolden_ListAndDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/topics/BW/1":
			fmt.Fprint(w, `{"result":true,"data":{"totalPage":1,"list":[
				{"id":7001234,"title":"高登 thread","totalReplies":88,"messageDate":"/Date(1740800000000)/","lastReplyDate":"2025-03-01T12:00:00+08:00","marksGood":"7","marksBad":1}
			]}}`)
		case r.URL.Path == "/v1/view/7001234/1":
			fmt.Fprint(w, `{"result":true,"data":{"title":"高登 thread","totalReplies":2,"maxPage":1,"replies":[
				{"content":"<div>first <img alt=\"[sosad]\"/></div>","marksGood":3,"marksBad":0},
				{"content":"second","marksGood":0,"marksBad":2}
			]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHKGolden(testConfig(srv.URL))
	list, err := c.FetchThreadList(context.Background(), ListRequest{CategoryID: "BW", MaxPages: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Pages)
	require.Len(t, list.Threads, 1)
	th := list.Threads[0]
	assert.Equal(t, "7001234", th.ThreadID)
	assert.Equal(t, types.PlatformHKGolden, th.Platform)
	assert.EqualValues(t, 1740800000, th.CreatedAt)
	assert.EqualValues(t, time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC).Unix(), th.LastReplyAt)
	assert.Equal(t, 7, th.LikeCount)

	detail, err := c.FetchThreadDetail(context.Background(), DetailRequest{ThreadID: th.ThreadID, CategoryID: "BW", MaxReplies: 10}, nil)
	require.NoError(t, err)
	require.Len(t, detail.Detail.Replies, 2)
	assert.Equal(t, "first [sosad]", detail.Detail.Replies[0].Body)
	assert.Equal(t, 2, detail.Detail.Replies[1].DislikeCount)
	assert.Equal(t, 2, detail.Detail.TotalReplies)
}

func TestHKGolden_FailedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":false,"error":"thread deleted"}`)
	}))
	defer srv.Close()

	c := NewHKGolden(testConfig(srv.URL))
	res, err := c.FetchThreadDetail(context.Background(), DetailRequest{ThreadID: "1", MaxReplies: 5}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Detail.Replies)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "thread deleted")
}

func TestValidateCategory(t *testing.T) {
	l := NewLIHKG(Config{})
	h := NewHKGolden(Config{})
	assert.NoError(t, l.ValidateCategory("1"))
	assert.NoError(t, l.ValidateCategory("31"))
	assert.Error(t, l.ValidateCategory("0"))
	assert.Error(t, l.ValidateCategory("BW"))
	assert.NoError(t, h.ValidateCategory("BW"))
	assert.NoError(t, h.ValidateCategory("ET"))
	assert.Error(t, h.ValidateCategory("1"))
	assert.Error(t, h.ValidateCategory(""))
}
