// Package archive exports a video's danmaku to object storage as numbered
// JSON pages and plays them back as a comment source.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/database"
)

// ErrNoArchive is returned when a video has never been exported.
var ErrNoArchive = errors.New("no danmaku archive")

const DefaultPageSize = 500

// ObjectStore is the slice of storage.Storage the archive needs. GetJSON
// must return an error matching storage.ErrNotFound for missing keys.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, v any) error
	GetJSON(ctx context.Context, key string, v any) error
}

// Manifest lists an export's pages in stream order.
type Manifest struct {
	VideoID      string     `json:"videoId"`
	Pages        []PageInfo `json:"pages"`
	CommentCount int        `json:"commentCount"`
	ExportedAt   time.Time  `json:"exportedAt"`
}

// PageInfo describes one page object. Pages never overlap: each page's
// comments sort after every comment of the previous page.
type PageInfo struct {
	Key          string `json:"key"`
	Count        int    `json:"count"`
	FirstDueAtMs int64  `json:"firstDueAtMs"`
	LastDueAtMs  int64  `json:"lastDueAtMs"`
}

type pageObject struct {
	Comments []danmaku.Comment `json:"comments"`
}

func ManifestKey(videoID string) string {
	return fmt.Sprintf("danmaku/%s/manifest.json", videoID)
}

func PageKey(videoID string, n int) string {
	return fmt.Sprintf("danmaku/%s/pages/%d.json", videoID, n)
}

// Exporter copies comments from a live source into object storage.
type Exporter struct {
	source   danmaku.CommentSource
	objects  ObjectStore
	db       database.DBTX
	pageSize int
	now      func() time.Time
}

// NewExporter creates an exporter. db records finished exports in
// danmaku_archives and may be nil when nothing tracks them.
func NewExporter(source danmaku.CommentSource, objects ObjectStore, db database.DBTX, pageSize int) *Exporter {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Exporter{source: source, objects: objects, db: db, pageSize: pageSize, now: time.Now}
}

// Export writes every page of videoID's comments followed by the manifest,
// so readers never see a manifest naming a page that is not there yet.
func (e *Exporter) Export(ctx context.Context, videoID string) (Manifest, error) {
	m := Manifest{VideoID: videoID, Pages: []PageInfo{}}
	var cursor danmaku.Cursor
	for {
		page, err := e.source.FetchPage(ctx, videoID, cursor, e.pageSize)
		if err != nil {
			return Manifest{}, fmt.Errorf("fetch page %d: %w", len(m.Pages), err)
		}
		if n := len(page.Comments); n > 0 {
			info := PageInfo{
				Key:          PageKey(videoID, len(m.Pages)),
				Count:        n,
				FirstDueAtMs: page.Comments[0].DueAtMs,
				LastDueAtMs:  page.Comments[n-1].DueAtMs,
			}
			if err := e.objects.PutJSON(ctx, info.Key, pageObject{Comments: page.Comments}); err != nil {
				return Manifest{}, fmt.Errorf("write page %d: %w", len(m.Pages), err)
			}
			m.Pages = append(m.Pages, info)
			m.CommentCount += n
		}
		if page.Done || len(page.Comments) == 0 {
			break
		}
		cursor = page.Next
	}

	m.ExportedAt = e.now().UTC()
	if err := e.objects.PutJSON(ctx, ManifestKey(videoID), m); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}

	if e.db != nil {
		if _, err := e.db.Exec(ctx,
			`INSERT INTO danmaku_archives (video_id, pages, comment_count, exported_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (video_id) DO UPDATE SET pages = EXCLUDED.pages, comment_count = EXCLUDED.comment_count, exported_at = EXCLUDED.exported_at`,
			videoID, len(m.Pages), m.CommentCount, m.ExportedAt,
		); err != nil {
			return Manifest{}, fmt.Errorf("record export: %w", err)
		}
	}
	return m, nil
}

// ExportStale exports up to limit videos whose comments changed since their
// last export. Failures are logged and the remaining videos still run.
func (e *Exporter) ExportStale(ctx context.Context, limit int) int {
	rows, err := e.db.Query(ctx,
		`SELECT c.video_id FROM danmaku_comments c
		 LEFT JOIN danmaku_archives a ON a.video_id = c.video_id
		 GROUP BY c.video_id, a.exported_at
		 HAVING a.exported_at IS NULL OR max(c.created_at) > a.exported_at
		 ORDER BY c.video_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		slog.Error("archive: failed to query stale videos", "error", err)
		return 0
	}
	var videoIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("archive: failed to scan video id", "error", err)
			continue
		}
		videoIDs = append(videoIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		slog.Error("archive: row iteration error", "error", err)
	}

	exported := 0
	for _, id := range videoIDs {
		m, err := e.Export(ctx, id)
		if err != nil {
			slog.Error("archive: export failed", "video_id", id, "error", err)
			continue
		}
		slog.Info("archive: exported danmaku", "video_id", id, "pages", len(m.Pages), "comments", m.CommentCount)
		exported++
	}
	return exported
}

// StartArchiveLoop exports stale videos every interval until ctx is done.
func StartArchiveLoop(ctx context.Context, e *Exporter, interval time.Duration, batch int) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("archive: shutting down")
				return
			case <-ticker.C:
				e.ExportStale(ctx, batch)
			}
		}
	}()
}
