package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/sendrec/danmaku/internal/danmaku"
)

type mockPersister struct {
	called bool
	saved  danmaku.Settings
	err    error
}

func (m *mockPersister) SaveSettings(_ context.Context, s danmaku.Settings) error {
	m.called = true
	m.saved = s
	return m.err
}

type mockReactor struct {
	called    bool
	commentID string
	kind      danmaku.ReactionKind
	err       error
}

func (m *mockReactor) React(_ context.Context, commentID string, kind danmaku.ReactionKind) error {
	m.called = true
	m.commentID = commentID
	m.kind = kind
	return m.err
}

func TestMultiPersister_CallsAll(t *testing.T) {
	n1 := &mockPersister{}
	n2 := &mockPersister{}
	multi := NewMultiPersister(n1, n2)

	s := danmaku.DefaultSettings()
	s.Speed = 300
	if err := multi.SaveSettings(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n1.called || !n2.called {
		t.Error("expected both persisters to be called")
	}
	if n2.saved != s {
		t.Errorf("expected settings to be forwarded, got %+v", n2.saved)
	}
}

func TestMultiPersister_ContinuesOnError(t *testing.T) {
	n1 := &mockPersister{err: errors.New("disk full")}
	n2 := &mockPersister{}
	multi := NewMultiPersister(n1, n2)

	if err := multi.SaveSettings(context.Background(), danmaku.DefaultSettings()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !n2.called {
		t.Error("expected second persister to be called despite first failing")
	}
}

func TestMultiPersister_SkipsNil(t *testing.T) {
	multi := NewMultiPersister(nil, &mockPersister{})
	if multi.Len() != 1 {
		t.Errorf("expected 1 persister, got %d", multi.Len())
	}
}

func TestMultiReactor_CallsAllAndContinuesOnError(t *testing.T) {
	r1 := &mockReactor{err: errors.New("offline")}
	r2 := &mockReactor{}
	multi := NewMultiReactor(r1, nil, r2)

	if multi.Len() != 2 {
		t.Fatalf("expected 2 reactors, got %d", multi.Len())
	}
	if err := multi.React(context.Background(), "c1", danmaku.Like); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !r1.called || r2.commentID != "c1" || r2.kind != danmaku.Like {
		t.Errorf("expected reaction forwarded to both, got %+v %+v", r1, r2)
	}
}
