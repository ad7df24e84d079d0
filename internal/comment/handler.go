package comment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sendrec/danmaku/internal/auth"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/database"
	"github.com/sendrec/danmaku/internal/httputil"
	"github.com/sendrec/danmaku/internal/validate"
)

type Handler struct {
	store *Store
}

func NewHandler(db database.DBTX) *Handler {
	return &Handler{store: NewStore(db)}
}

// Store exposes the handler's store for in-process consumers such as the
// archive exporter.
func (h *Handler) Store() *Store { return h.store }

type postRequest struct {
	Content string `json:"content"`
	DueAtMs int64  `json:"dueAtMs"`
}

type reactRequest struct {
	Kind danmaku.ReactionKind `json:"kind"`
}

type reactionCounts struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

// List serves one keyset page: ?after=<ms>&afterId=<id>&limit=<n>.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if msg := validate.VideoID(videoID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	q := r.URL.Query()
	var cursor danmaku.Cursor
	if v := q.Get("after"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor.AfterMs = ms
	}
	cursor.AfterID = q.Get("afterId")

	limit := DefaultPageSize
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, MaxPageSize)
	}

	page, err := h.store.FetchPage(r.Context(), videoID, cursor, limit)
	if err != nil {
		slog.Error("comment: list failed", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not list danmaku")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.ViewerIDFromContext(r.Context())
	videoID := chi.URLParam(r, "videoID")
	if msg := validate.VideoID(videoID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var req postRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if msg := validate.Danmaku(req.Content); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if req.DueAtMs < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid due time")
		return
	}
	// Reads serve (cursor, position], so a comment due at 0 would never
	// surface from a fresh start.
	if req.DueAtMs == 0 {
		req.DueAtMs = 1
	}

	c, err := h.store.Insert(r.Context(), videoID, viewerID, req.Content, req.DueAtMs)
	if err != nil {
		slog.Error("comment: insert failed", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not post danmaku")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.ViewerIDFromContext(r.Context())
	videoID := chi.URLParam(r, "videoID")
	commentID := chi.URLParam(r, "commentID")

	err := h.store.Delete(r.Context(), videoID, commentID, viewerID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "danmaku not found")
		return
	}
	if err != nil {
		slog.Error("comment: delete failed", "comment_id", commentID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete danmaku")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	viewerID := auth.ViewerIDFromContext(r.Context())
	commentID := chi.URLParam(r, "commentID")

	var req reactRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Kind.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "kind must be like or dislike")
		return
	}

	err := h.store.React(r.Context(), commentID, viewerID, req.Kind)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "danmaku not found")
		return
	}
	if err != nil {
		slog.Error("comment: react failed", "comment_id", commentID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not save reaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reactions(w http.ResponseWriter, r *http.Request) {
	commentID := chi.URLParam(r, "commentID")
	likes, dislikes, err := h.store.Counts(r.Context(), commentID)
	if err != nil {
		slog.Error("comment: count reactions failed", "comment_id", commentID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not count reactions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reactionCounts{Likes: likes, Dislikes: dislikes})
}
