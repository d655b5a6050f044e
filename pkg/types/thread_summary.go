// Package types defines the shared forum and policy types for hkforum.
package types

import "time"

// ThreadSummary is a thread's list-view metadata as returned by a forum's
// topic list. Records are immutable once built by an adapter.
type ThreadSummary struct {
	ThreadID     string   `json:"thread_id"`
	Platform     Platform `json:"platform"`
	Title        string   `json:"title"`
	ReplyCount   int      `json:"reply_count"`
	CreatedAt    int64    `json:"created_at"`    // Unix seconds, 0 if unknown
	LastReplyAt  int64    `json:"last_reply_at"` // Unix seconds, 0 if unknown
	LikeCount    int      `json:"like_count"`
	DislikeCount int      `json:"dislike_count"`
}

// Usable reports whether the record carries the fields every consumer relies on.
func (t ThreadSummary) Usable() bool {
	return t.ThreadID != "" && t.Title != ""
}

// LastReplyTime returns LastReplyAt as a time, or the zero time when unknown.
func (t ThreadSummary) LastReplyTime() time.Time {
	if t.LastReplyAt <= 0 {
		return time.Time{}
	}
	return time.Unix(t.LastReplyAt, 0)
}

// Reply is a single post within a thread, with its body already cleaned.
type Reply struct {
	Body         string `json:"body"`
	LikeCount    int    `json:"like_count"`
	DislikeCount int    `json:"dislike_count"`
}

// ThreadDetail is a thread summary plus the replies fetched for it.
type ThreadDetail struct {
	ThreadSummary
	Replies []Reply `json:"replies"`
	// TotalReplies is the count reported by the content endpoint. It can
	// differ from the list view's ReplyCount.
	TotalReplies int `json:"total_replies"`
}
