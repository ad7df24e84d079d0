// Package localstore keeps danmaku, reactions and playback settings in a
// local SQLite file so the terminal player works without a server.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/validate"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a comment does not exist.
var ErrNotFound = errors.New("comment not found")

const (
	DefaultPageSize = 200
	MaxPageSize     = 1000

	defaultProfile = "default"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Store is a single-viewer comment store. It implements
// danmaku.CommentSource, danmaku.SettingsPersister and danmaku.Reactor.
type Store struct {
	db      *sql.DB
	profile string
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	s := &Store{db: db, profile: defaultProfile}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// Closing m would close the shared *sql.DB.
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// FetchPage returns up to limit comments after the cursor, ordered by
// (due_at_ms, id).
func (s *Store) FetchPage(ctx context.Context, videoID string, after danmaku.Cursor, limit int) (danmaku.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author_ref, content, due_at_ms FROM comments
		 WHERE video_id = ? AND (due_at_ms > ? OR (due_at_ms = ? AND ? <> '' AND id > ?))
		 ORDER BY due_at_ms, id LIMIT ?`,
		videoID, after.AfterMs, after.AfterMs, after.AfterID, after.AfterID, limit+1,
	)
	if err != nil {
		return danmaku.Page{}, fmt.Errorf("query comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// Insert validates and stores a new comment under a generated id.
func (s *Store) Insert(ctx context.Context, videoID, authorRef, content string, dueAtMs int64) (danmaku.Comment, error) {
	if msg := validate.VideoID(videoID); msg != "" {
		return danmaku.Comment{}, errors.New(msg)
	}
	if msg := validate.Danmaku(content); msg != "" {
		return danmaku.Comment{}, errors.New(msg)
	}
	if dueAtMs < 0 {
		return danmaku.Comment{}, errors.New("dueAtMs must not be negative")
	}

	c := danmaku.Comment{ID: uuid.NewString(), AuthorRef: authorRef, Content: content, DueAtMs: dueAtMs}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, video_id, author_ref, content, due_at_ms) VALUES (?, ?, ?, ?, ?)`,
		c.ID, videoID, c.AuthorRef, c.Content, c.DueAtMs,
	); err != nil {
		return danmaku.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// Import copies comments into the store, keeping their ids. Comments that
// are already present are skipped. It returns how many rows were added.
func (s *Store) Import(ctx context.Context, videoID string, comments []danmaku.Comment) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO comments (id, video_id, author_ref, content, due_at_ms) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	added := 0
	for _, c := range comments {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		res, err := stmt.ExecContext(ctx, c.ID, videoID, c.AuthorRef, c.Content, max(c.DueAtMs, 0))
		if err != nil {
			return 0, fmt.Errorf("import comment %s: %w", c.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return added, nil
}

// Delete removes a comment and its reaction.
func (s *Store) Delete(ctx context.Context, commentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// React records the local viewer's reaction, replacing any earlier one.
func (s *Store) React(ctx context.Context, commentID string, kind danmaku.ReactionKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown reaction %q", kind)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reactions (comment_id, kind)
		 SELECT id, ? FROM comments WHERE id = ?
		 ON CONFLICT (comment_id) DO UPDATE SET kind = excluded.kind, reacted_at = CURRENT_TIMESTAMP`,
		string(kind), commentID,
	)
	if err != nil {
		return fmt.Errorf("record reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Reaction returns the local viewer's reaction to a comment, if any.
func (s *Store) Reaction(ctx context.Context, commentID string) (danmaku.ReactionKind, bool, error) {
	var kind string
	err := s.db.QueryRowContext(ctx, `SELECT kind FROM reactions WHERE comment_id = ?`, commentID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query reaction: %w", err)
	}
	return danmaku.ReactionKind(kind), true, nil
}

// SaveSettings stores the settings blob for the local profile.
func (s *Store) SaveSettings(ctx context.Context, settings danmaku.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (profile, settings, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (profile) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		s.profile, string(blob),
	); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the stored settings, or the defaults when nothing has
// been saved. Fields missing from an older blob keep their defaults.
func (s *Store) LoadSettings(ctx context.Context) (danmaku.Settings, error) {
	settings := danmaku.DefaultSettings()
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT settings FROM settings WHERE profile = ?`, s.profile).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("load settings: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &settings); err != nil {
		return danmaku.DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...any) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
