package danmaku

import (
	"context"
	"errors"
	"time"
)

// ErrSourceGone marks a comment source failure that retrying cannot fix,
// such as a video without comments or a missing archive.
var ErrSourceGone = errors.New("comment source unavailable")

// Comment is one time-stamped danmaku. DueAtMs is an offset on the video
// timeline, not a wall-clock time.
type Comment struct {
	ID        string `json:"id"`
	AuthorRef string `json:"authorRef"`
	Content   string `json:"content"`
	DueAtMs   int64  `json:"dueAtMs"`
}

// DueAt returns the comment's due position as a duration.
func (c Comment) DueAt() time.Duration {
	return time.Duration(c.DueAtMs) * time.Millisecond
}

// Cursor is a keyset position in a video's comment stream ordered by
// (DueAtMs, ID). An empty AfterID means "strictly after AfterMs".
type Cursor struct {
	AfterMs int64  `json:"afterMs"`
	AfterID string `json:"afterId,omitempty"`
}

// Before reports whether the cursor sorts before c, i.e. c is still ahead.
func (cur Cursor) Before(c Comment) bool {
	if c.DueAtMs != cur.AfterMs {
		return cur.AfterMs < c.DueAtMs
	}
	return cur.AfterID != "" && cur.AfterID < c.ID
}

// CursorAt returns the cursor positioned on c.
func CursorAt(c Comment) Cursor {
	return Cursor{AfterMs: c.DueAtMs, AfterID: c.ID}
}

// Page is one batch of comments from a source, in ascending (DueAtMs, ID)
// order. When Done is false, Next continues the stream.
type Page struct {
	Comments []Comment `json:"comments"`
	Next     Cursor    `json:"nextCursor"`
	Done     bool      `json:"done"`
}

// CommentSource serves a video's comments page by page.
type CommentSource interface {
	FetchPage(ctx context.Context, videoID string, after Cursor, limit int) (Page, error)
}

// ReactionKind is a viewer's verdict on a danmaku.
type ReactionKind string

const (
	Like    ReactionKind = "like"
	Dislike ReactionKind = "dislike"
)

// Valid reports whether k is a known reaction.
func (k ReactionKind) Valid() bool {
	return k == Like || k == Dislike
}

// Reaction is emitted when a viewer likes or dislikes a live element.
type Reaction struct {
	Comment Comment
	Kind    ReactionKind
}

// Reactor records reactions made through element controls.
type Reactor interface {
	React(ctx context.Context, commentID string, kind ReactionKind) error
}
