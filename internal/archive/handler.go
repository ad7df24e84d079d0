package archive

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sendrec/danmaku/internal/httputil"
	"github.com/sendrec/danmaku/internal/storage"
	"github.com/sendrec/danmaku/internal/validate"
)

const downloadURLExpiry = 15 * time.Minute

// URLSigner presigns object downloads.
type URLSigner interface {
	GenerateDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Handler struct {
	exporter *Exporter
	objects  ObjectStore
	signer   URLSigner
}

func NewHandler(exporter *Exporter, objects ObjectStore, signer URLSigner) *Handler {
	return &Handler{exporter: exporter, objects: objects, signer: signer}
}

type archiveResponse struct {
	Manifest    Manifest  `json:"manifest"`
	ManifestURL string    `json:"manifestUrl,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
}

// Export snapshots the video's danmaku now.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if msg := validate.VideoID(videoID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	m, err := h.exporter.Export(r.Context(), videoID)
	if err != nil {
		slog.Error("archive: export failed", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not export danmaku")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.respond(r.Context(), m))
}

// Get returns the latest manifest with a presigned link to it.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if msg := validate.VideoID(videoID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var m Manifest
	err := h.objects.GetJSON(r.Context(), ManifestKey(videoID), &m)
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		slog.Error("archive: load manifest failed", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load archive")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.respond(r.Context(), m))
}

func (h *Handler) respond(ctx context.Context, m Manifest) archiveResponse {
	resp := archiveResponse{Manifest: m}
	if h.signer == nil {
		return resp
	}
	url, err := h.signer.GenerateDownloadURL(ctx, ManifestKey(m.VideoID), downloadURLExpiry)
	if err != nil {
		slog.Warn("archive: presign manifest failed", "video_id", m.VideoID, "error", err)
		return resp
	}
	resp.ManifestURL = url
	resp.ExpiresAt = time.Now().Add(downloadURLExpiry).UTC()
	return resp
}
