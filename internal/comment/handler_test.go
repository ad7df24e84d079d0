package comment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sendrec/danmaku/internal/auth"
	"github.com/sendrec/danmaku/internal/danmaku"
)

const (
	testJWTSecret = "test-secret"
	testViewerID  = "viewer-1"
)

func newTestRouter(t *testing.T) (chi.Router, pgxmock.PgxPoolIface) {
	t.Helper()
	mock := newMock(t)
	handler := NewHandler(mock)
	authHandler := auth.NewHandler(nil, testJWTSecret, false)

	r := chi.NewRouter()
	r.Get("/api/videos/{videoID}/danmaku", handler.List)
	r.Get("/api/danmaku/{commentID}/reactions", handler.Reactions)
	r.Group(func(r chi.Router) {
		r.Use(authHandler.Middleware)
		r.Post("/api/videos/{videoID}/danmaku", handler.Post)
		r.Delete("/api/videos/{videoID}/danmaku/{commentID}", handler.Delete)
		r.Post("/api/danmaku/{commentID}/reactions", handler.React)
	})
	return r, mock
}

func authenticatedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	token, err := auth.GenerateAccessToken(testJWTSecret, testViewerID)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestList_ReturnsPage(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery(fetchPageSQL).
		WithArgs("v1", int64(4000), "c2", 3).
		WillReturnRows(commentRows().
			AddRow("c3", "u1", "8888", int64(4000)).
			AddRow("c4", "u2", "lol", int64(5200)).
			AddRow("c5", "u2", "next", int64(6000)))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/v1/danmaku?after=4000&afterId=c2&limit=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var page danmaku.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if page.Done || len(page.Comments) != 2 || page.Next.AfterID != "c4" || page.Next.AfterMs != 5200 {
		t.Errorf("unexpected page %+v", page)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestList_EmptyVideoEncodesEmptyArray(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery(fetchPageSQL).
		WithArgs("v1", int64(0), "", DefaultPageSize+1).
		WillReturnRows(commentRows())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/videos/v1/danmaku", nil))

	if !strings.Contains(rec.Body.String(), `"comments":[]`) {
		t.Errorf("expected an empty comments array, got %s", rec.Body.String())
	}
}

func TestList_RejectsBadQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"negative cursor", "/api/videos/v1/danmaku?after=-5"},
		{"non-numeric cursor", "/api/videos/v1/danmaku?after=abc"},
		{"zero limit", "/api/videos/v1/danmaku?limit=0"},
		{"bad video id", "/api/videos/v.1/danmaku"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
		})
	}
}

func TestPost_CreatesComment(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery(`INSERT INTO danmaku_comments \(video_id, author_id, content, due_at_ms\) VALUES \(\$1, \$2, \$3, \$4\) RETURNING id`).
		WithArgs("v1", testViewerID, "first!", int64(12500)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("c-new"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/videos/v1/danmaku", `{"content":"  first! ","dueAtMs":12500}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	var c danmaku.Comment
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	want := danmaku.Comment{ID: "c-new", AuthorRef: testViewerID, Content: "first!", DueAtMs: 12500}
	if c != want {
		t.Errorf("expected %+v, got %+v", want, c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPost_ZeroDueTimeMovesToFirstMillisecond(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery(`INSERT INTO danmaku_comments`).
		WithArgs("v1", testViewerID, "hi", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("c1"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/videos/v1/danmaku", `{"content":"hi","dueAtMs":0}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPost_Validation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{"empty content", `{"content":"   ","dueAtMs":10}`, "danmaku content is required"},
		{"too long", `{"content":"` + strings.Repeat("w", 101) + `","dueAtMs":10}`, "danmaku content must be 100 characters or fewer"},
		{"negative due time", `{"content":"hi","dueAtMs":-1}`, "invalid due time"},
		{"unknown field", `{"content":"hi","dueAtMs":1,"color":"red"}`, "invalid request body"},
		{"not json", `hello`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock := newTestRouter(t)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/videos/v1/danmaku", tt.body))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}
			var body struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Error != tt.wantError {
				t.Errorf("expected error %q, got %q", tt.wantError, body.Error)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("expected no queries: %v", err)
			}
		})
	}
}

func TestPost_RequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos/v1/danmaku", strings.NewReader(`{"content":"hi","dueAtMs":1}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name       string
		affected   int64
		err        error
		wantStatus int
	}{
		{"own comment", 1, nil, http.StatusNoContent},
		{"not found", 0, nil, http.StatusNotFound},
		{"database error", 0, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock := newTestRouter(t)
			exp := mock.ExpectExec(`DELETE FROM danmaku_comments WHERE id = \$1 AND video_id = \$2 AND author_id = \$3`).
				WithArgs("c1", "v1", testViewerID)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("DELETE", tt.affected))
			}

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, authenticatedRequest(t, http.MethodDelete, "/api/videos/v1/danmaku/c1", ""))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet pgxmock expectations: %v", err)
			}
		})
	}
}

func TestReact(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectExec(`INSERT INTO danmaku_reactions \(comment_id, viewer_id, kind\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(comment_id, viewer_id\) DO UPDATE SET kind = EXCLUDED\.kind`).
		WithArgs("c1", testViewerID, "dislike").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/danmaku/c1/reactions", `{"kind":"dislike"}`))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d: %s", http.StatusNoContent, rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestReact_RejectsUnknownKind(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authenticatedRequest(t, http.MethodPost, "/api/danmaku/c1/reactions", `{"kind":"love"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestReactions_Counts(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery(`SELECT count\(\*\) FILTER \(WHERE kind = 'like'\), count\(\*\) FILTER \(WHERE kind = 'dislike'\) FROM danmaku_reactions WHERE comment_id = \$1`).
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{"likes", "dislikes"}).AddRow(7, 2))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/danmaku/c1/reactions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"likes":7,"dislikes":2}` {
		t.Errorf("unexpected body %s", got)
	}
}
