// Package fanout delivers player side effects to several backends, such as
// the local store and the service, so either one can fail alone.
package fanout

import (
	"context"
	"log/slog"

	"github.com/sendrec/danmaku/internal/danmaku"
)

var (
	_ danmaku.SettingsPersister = (*MultiPersister)(nil)
	_ danmaku.Reactor           = (*MultiReactor)(nil)
)

// MultiPersister saves settings to every registered persister.
type MultiPersister struct {
	persisters []danmaku.SettingsPersister
}

// NewMultiPersister skips nil persisters.
func NewMultiPersister(persisters ...danmaku.SettingsPersister) *MultiPersister {
	m := &MultiPersister{}
	for _, p := range persisters {
		if p != nil {
			m.persisters = append(m.persisters, p)
		}
	}
	return m
}

func (m *MultiPersister) Len() int { return len(m.persisters) }

// SaveSettings logs each failure and never fails itself.
func (m *MultiPersister) SaveSettings(ctx context.Context, s danmaku.Settings) error {
	for _, p := range m.persisters {
		if err := p.SaveSettings(ctx, s); err != nil {
			slog.Error("fanout: save settings failed", "error", err)
		}
	}
	return nil
}

// MultiReactor records a reaction with every registered reactor.
type MultiReactor struct {
	reactors []danmaku.Reactor
}

func NewMultiReactor(reactors ...danmaku.Reactor) *MultiReactor {
	m := &MultiReactor{}
	for _, r := range reactors {
		if r != nil {
			m.reactors = append(m.reactors, r)
		}
	}
	return m
}

func (m *MultiReactor) Len() int { return len(m.reactors) }

func (m *MultiReactor) React(ctx context.Context, commentID string, kind danmaku.ReactionKind) error {
	for _, r := range m.reactors {
		if err := r.React(ctx, commentID, kind); err != nil {
			slog.Error("fanout: reaction failed", "comment_id", commentID, "error", err)
		}
	}
	return nil
}
