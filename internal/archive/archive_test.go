package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
	putErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: make(map[string][]byte)}
}

func (m *memoryObjects) PutJSON(_ context.Context, key string, v any) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memoryObjects) GetJSON(_ context.Context, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	b, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("get object %s: %w", key, storage.ErrNotFound)
	}
	return json.Unmarshal(b, v)
}

// sliceSource pages through sorted comments the way the Postgres store does.
type sliceSource []danmaku.Comment

func (s sliceSource) FetchPage(_ context.Context, _ string, after danmaku.Cursor, limit int) (danmaku.Page, error) {
	page := danmaku.Page{Next: after, Done: true}
	for _, c := range s {
		if !after.Before(c) {
			continue
		}
		if len(page.Comments) == limit {
			page.Done = false
			break
		}
		page.Comments = append(page.Comments, c)
		page.Next = danmaku.CursorAt(c)
	}
	return page, nil
}

func seven() sliceSource {
	var out sliceSource
	for i := range 7 {
		out = append(out, danmaku.Comment{
			ID:        fmt.Sprintf("c%d", i),
			AuthorRef: "u1",
			Content:   fmt.Sprintf("comment %d", i),
			DueAtMs:   int64(1000 * (i/2 + 1)),
		})
	}
	return out
}

func readAll(t *testing.T, src danmaku.CommentSource, limit int) []danmaku.Comment {
	t.Helper()
	var out []danmaku.Comment
	var cursor danmaku.Cursor
	for range 100 {
		page, err := src.FetchPage(context.Background(), "v1", cursor, limit)
		require.NoError(t, err)
		out = append(out, page.Comments...)
		if page.Done {
			return out
		}
		cursor = page.Next
	}
	t.Fatal("source never finished")
	return nil
}

func TestExport_WritesPagesThenManifest(t *testing.T) {
	objects := newMemoryObjects()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exportedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO danmaku_archives \(video_id, pages, comment_count, exported_at\) VALUES \(\$1, \$2, \$3, \$4\) ON CONFLICT \(video_id\) DO UPDATE`).
		WithArgs("v1", 3, 7, exportedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := NewExporter(seven(), objects, mock, 3)
	e.now = func() time.Time { return exportedAt }

	m, err := e.Export(context.Background(), "v1")
	require.NoError(t, err)

	assert.Equal(t, 7, m.CommentCount)
	require.Len(t, m.Pages, 3)
	assert.Equal(t, PageInfo{Key: "danmaku/v1/pages/0.json", Count: 3, FirstDueAtMs: 1000, LastDueAtMs: 2000}, m.Pages[0])
	assert.Equal(t, PageInfo{Key: "danmaku/v1/pages/2.json", Count: 1, FirstDueAtMs: 4000, LastDueAtMs: 4000}, m.Pages[2])
	assert.Contains(t, objects.objects, ManifestKey("v1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_EmptyVideo(t *testing.T) {
	objects := newMemoryObjects()
	m, err := NewExporter(sliceSource{}, objects, nil, 10).Export(context.Background(), "v1")
	require.NoError(t, err)
	assert.Empty(t, m.Pages)
	assert.Zero(t, m.CommentCount)
	assert.Len(t, objects.objects, 1)
}

func TestExport_StorageFailureSkipsManifest(t *testing.T) {
	objects := newMemoryObjects()
	objects.putErr = errors.New("bucket unavailable")

	_, err := NewExporter(seven(), objects, nil, 3).Export(context.Background(), "v1")
	require.Error(t, err)
	assert.NotContains(t, objects.objects, ManifestKey("v1"))
}

func TestExportStale(t *testing.T) {
	objects := newMemoryObjects()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT c\.video_id FROM danmaku_comments c LEFT JOIN danmaku_archives a ON a\.video_id = c\.video_id GROUP BY c\.video_id, a\.exported_at HAVING a\.exported_at IS NULL OR max\(c\.created_at\) > a\.exported_at`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"video_id"}).AddRow("v1").AddRow("v2"))
	mock.ExpectExec(`INSERT INTO danmaku_archives`).
		WithArgs("v1", 1, 7, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO danmaku_archives`).
		WithArgs("v2", 1, 7, pgxmock.AnyArg()).
		WillReturnError(errors.New("deadlock detected"))

	n := NewExporter(seven(), objects, mock, 100).ExportStale(context.Background(), 10)

	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSource_MatchesLiveStream(t *testing.T) {
	objects := newMemoryObjects()
	_, err := NewExporter(seven(), objects, nil, 3).Export(context.Background(), "v1")
	require.NoError(t, err)

	src := NewSource(objects)
	for _, limit := range []int{1, 2, 3, 5, 50} {
		assert.Equal(t, []danmaku.Comment(seven()), readAll(t, src, limit), "limit %d", limit)
	}
}

func TestSource_StartsMidStream(t *testing.T) {
	objects := newMemoryObjects()
	_, err := NewExporter(seven(), objects, nil, 3).Export(context.Background(), "v1")
	require.NoError(t, err)

	page, err := NewSource(objects).FetchPage(context.Background(), "v1", danmaku.Cursor{AfterMs: 2000, AfterID: "c2"}, 2)
	require.NoError(t, err)

	require.Len(t, page.Comments, 2)
	assert.Equal(t, "c3", page.Comments[0].ID)
	assert.Equal(t, "c4", page.Comments[1].ID)
	assert.False(t, page.Done)
	assert.Equal(t, danmaku.Cursor{AfterMs: 3000, AfterID: "c4"}, page.Next)
}

func TestSource_CachesObjects(t *testing.T) {
	objects := newMemoryObjects()
	_, err := NewExporter(seven(), objects, nil, 3).Export(context.Background(), "v1")
	require.NoError(t, err)

	src := NewSource(objects)
	readAll(t, src, 50)
	gets := objects.gets
	readAll(t, src, 50)
	assert.Equal(t, gets, objects.gets, "second pass should be served from cache")
}

func TestSource_MissingArchiveIsPermanent(t *testing.T) {
	_, err := NewSource(newMemoryObjects()).FetchPage(context.Background(), "v1", danmaku.Cursor{}, 10)
	assert.ErrorIs(t, err, danmaku.ErrSourceGone)
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestSource_FeedsWindow(t *testing.T) {
	objects := newMemoryObjects()
	_, err := NewExporter(seven(), objects, nil, 3).Export(context.Background(), "v1")
	require.NoError(t, err)

	w := danmaku.NewWindow(NewSource(objects), "v1", danmaku.WindowOptions{PageSize: 2})
	w.StartFrom(0)
	w.Start(t.Context())

	require.Eventually(t, func() bool {
		_, _, complete := w.Loaded()
		return complete
	}, 2*time.Second, time.Millisecond)

	got := w.Read(3 * time.Second)
	assert.Len(t, got, 6)
	assert.Equal(t, "c5", got[len(got)-1].ID)
}

type fakeSigner struct{}

func (fakeSigner) GenerateDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.example.com/" + key + "?sig=1", nil
}

func TestHandler(t *testing.T) {
	objects := newMemoryObjects()
	h := NewHandler(NewExporter(seven(), objects, nil, 3), objects, fakeSigner{})
	r := chi.NewRouter()
	r.Get("/api/videos/{videoID}/danmaku/archive", h.Get)
	r.Post("/api/videos/{videoID}/danmaku/archive", h.Export)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/v1/danmaku/archive", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos/v1/danmaku/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/v1/danmaku/archive", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp archiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Manifest.CommentCount)
	assert.Equal(t, "https://cdn.example.com/danmaku/v1/manifest.json?sig=1", resp.ManifestURL)
	assert.False(t, resp.ExpiresAt.IsZero())
}
