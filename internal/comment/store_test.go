package comment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sendrec/danmaku/internal/danmaku"
)

const fetchPageSQL = `SELECT id, author_id, content, due_at_ms FROM danmaku_comments WHERE video_id = \$1 AND \(due_at_ms > \$2 OR \(due_at_ms = \$2 AND \$3 <> '' AND id > \$3\)\) ORDER BY due_at_ms, id LIMIT \$4`

func commentRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "author_id", "content", "due_at_ms"})
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestStore_FetchPage_MoreAvailable(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(fetchPageSQL).
		WithArgs("v1", int64(1000), "c1", 3).
		WillReturnRows(commentRows().
			AddRow("c2", "u1", "hi", int64(1000)).
			AddRow("c3", "u2", "yo", int64(1500)).
			AddRow("c4", "u1", "ok", int64(2000)))

	page, err := store.FetchPage(context.Background(), "v1", danmaku.Cursor{AfterMs: 1000, AfterID: "c1"}, 2)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	want := danmaku.Page{
		Comments: []danmaku.Comment{
			{ID: "c2", AuthorRef: "u1", Content: "hi", DueAtMs: 1000},
			{ID: "c3", AuthorRef: "u2", Content: "yo", DueAtMs: 1500},
		},
		Next: danmaku.Cursor{AfterMs: 1500, AfterID: "c3"},
	}
	if diff := cmp.Diff(want, page); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestStore_FetchPage_LastPage(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(fetchPageSQL).
		WithArgs("v1", int64(0), "", DefaultPageSize+1).
		WillReturnRows(commentRows().AddRow("c1", "u1", "first", int64(10)))

	page, err := store.FetchPage(context.Background(), "v1", danmaku.Cursor{}, 0)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !page.Done || len(page.Comments) != 1 || page.Next != (danmaku.Cursor{AfterMs: 10, AfterID: "c1"}) {
		t.Errorf("unexpected last page %+v", page)
	}
}

func TestStore_FetchPage_Empty(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	after := danmaku.Cursor{AfterMs: 9000, AfterID: "z"}
	mock.ExpectQuery(fetchPageSQL).
		WithArgs("v1", int64(9000), "z", MaxPageSize+1).
		WillReturnRows(commentRows())

	page, err := store.FetchPage(context.Background(), "v1", after, 5000)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !page.Done || page.Comments == nil || len(page.Comments) != 0 || page.Next != after {
		t.Errorf("expected an empty final page that keeps the cursor, got %+v", page)
	}
}

func TestStore_FetchPage_QueryError(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(fetchPageSQL).
		WithArgs("v1", int64(0), "", 11).
		WillReturnError(errors.New("connection reset"))

	if _, err := store.FetchPage(context.Background(), "v1", danmaku.Cursor{}, 10); err == nil {
		t.Fatal("expected an error")
	}
}

func TestStore_Delete_NotAuthor(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectExec(`DELETE FROM danmaku_comments WHERE id = \$1 AND video_id = \$2 AND author_id = \$3`).
		WithArgs("c1", "v1", "u2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := store.Delete(context.Background(), "v1", "c1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_React_UnknownComment(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectExec(`INSERT INTO danmaku_reactions`).
		WithArgs("missing", "u1", "like").
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	if err := store.React(context.Background(), "missing", "u1", danmaku.Like); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ImplementsCommentSource(t *testing.T) {
	var _ danmaku.CommentSource = (*Store)(nil)
}
