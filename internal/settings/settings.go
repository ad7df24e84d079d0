// Package settings persists each viewer's playback settings blob.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/sendrec/danmaku/internal/auth"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/database"
	"github.com/sendrec/danmaku/internal/httputil"
)

type Store struct {
	db database.DBTX
}

func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

// Get returns the viewer's stored settings, or the defaults when none are
// stored. Fields missing from an older stored blob keep their defaults.
func (s *Store) Get(ctx context.Context, viewerID string) (danmaku.Settings, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT settings FROM playback_settings WHERE viewer_id = $1`,
		viewerID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return danmaku.DefaultSettings(), nil
	}
	if err != nil {
		return danmaku.Settings{}, fmt.Errorf("query settings: %w", err)
	}

	out := danmaku.DefaultSettings()
	if err := json.Unmarshal(raw, &out); err != nil {
		return danmaku.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

// Save replaces the viewer's settings blob.
func (s *Store) Save(ctx context.Context, viewerID string, settings danmaku.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO playback_settings (viewer_id, settings, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (viewer_id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()`,
		viewerID, raw,
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

type Handler struct {
	store *Store
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{store: NewStore(db)}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.ViewerIDFromContext(r.Context())
	s, err := h.store.Get(r.Context(), viewerID)
	if err != nil {
		slog.Error("settings: load failed", "viewer_id", viewerID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load settings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s)
}

// Put stores the full settings blob. Omitted fields take their defaults.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.ViewerIDFromContext(r.Context())

	s := danmaku.DefaultSettings()
	if err := httputil.ReadJSON(w, r, &s); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.store.Save(r.Context(), viewerID, s)
	if errors.Is(err, danmaku.ErrInvalidSettings) {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("settings: save failed", "viewer_id", viewerID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not save settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
