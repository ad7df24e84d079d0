// Package comment stores danmaku in Postgres and serves them over HTTP.
package comment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/database"
)

// ErrNotFound is returned when a comment does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("comment not found")

const (
	DefaultPageSize = 200
	MaxPageSize     = 1000
)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

// Store reads and writes danmaku_comments. It implements
// danmaku.CommentSource so a server-side player or exporter can page
// through a video directly.
type Store struct {
	db database.DBTX
}

func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// FetchPage returns up to limit comments after the cursor, ordered by
// (due_at_ms, id).
func (s *Store) FetchPage(ctx context.Context, videoID string, after danmaku.Cursor, limit int) (danmaku.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	rows, err := s.db.Query(ctx,
		`SELECT id, author_id, content, due_at_ms FROM danmaku_comments
		 WHERE video_id = $1 AND (due_at_ms > $2 OR (due_at_ms = $2 AND $3 <> '' AND id > $3))
		 ORDER BY due_at_ms, id LIMIT $4`,
		videoID, after.AfterMs, after.AfterID, limit+1,
	)
	if err != nil {
		return danmaku.Page{}, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := make([]danmaku.Comment, 0, limit)
	for rows.Next() {
		var c danmaku.Comment
		if err := rows.Scan(&c.ID, &c.AuthorRef, &c.Content, &c.DueAtMs); err != nil {
			return danmaku.Page{}, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return danmaku.Page{}, fmt.Errorf("iterate comments: %w", err)
	}

	page := danmaku.Page{Comments: comments, Next: after, Done: true}
	if len(comments) > limit {
		page.Comments = comments[:limit]
		page.Done = false
	}
	if n := len(page.Comments); n > 0 {
		page.Next = danmaku.CursorAt(page.Comments[n-1])
	}
	return page, nil
}

// Insert stores a new comment and returns it with its generated id.
func (s *Store) Insert(ctx context.Context, videoID, authorID, content string, dueAtMs int64) (danmaku.Comment, error) {
	c := danmaku.Comment{AuthorRef: authorID, Content: content, DueAtMs: dueAtMs}
	err := s.db.QueryRow(ctx,
		`INSERT INTO danmaku_comments (video_id, author_id, content, due_at_ms) VALUES ($1, $2, $3, $4) RETURNING id`,
		videoID, authorID, content, dueAtMs,
	).Scan(&c.ID)
	if err != nil {
		return danmaku.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// Delete removes a comment written by authorID.
func (s *Store) Delete(ctx context.Context, videoID, commentID, authorID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM danmaku_comments WHERE id = $1 AND video_id = $2 AND author_id = $3`,
		commentID, videoID, authorID,
	)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// React records viewerID's reaction to a comment, replacing any earlier one.
func (s *Store) React(ctx context.Context, commentID, viewerID string, kind danmaku.ReactionKind) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO danmaku_reactions (comment_id, viewer_id, kind) VALUES ($1, $2, $3)
		 ON CONFLICT (comment_id, viewer_id) DO UPDATE SET kind = EXCLUDED.kind, created_at = now()`,
		commentID, viewerID, string(kind),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

// Counts returns the like and dislike totals for a comment.
func (s *Store) Counts(ctx context.Context, commentID string) (likes, dislikes int, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE kind = 'like'), count(*) FILTER (WHERE kind = 'dislike')
		 FROM danmaku_reactions WHERE comment_id = $1`,
		commentID,
	).Scan(&likes, &dislikes)
	if err != nil {
		return 0, 0, fmt.Errorf("count reactions: %w", err)
	}
	return likes, dislikes, nil
}
