package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sendrec/danmaku/internal/database"
	"github.com/sendrec/danmaku/internal/httputil"
	"github.com/sendrec/danmaku/internal/validate"
)

type contextKey string

const viewerIDKey contextKey = "viewerID"

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
)

// Handler issues guest identities. Viewers never register: the first visit
// creates a viewer row and a rotating refresh token kept in a cookie.
type Handler struct {
	db            database.DBTX
	jwtSecret     string
	secureCookies bool
}

func NewHandler(db database.DBTX, jwtSecret string, secureCookies bool) *Handler {
	return &Handler{db: db, jwtSecret: jwtSecret, secureCookies: secureCookies}
}

type guestRequest struct {
	DisplayName string `json:"displayName"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ViewerID    string `json:"viewerId"`
}

func (h *Handler) Guest(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if r.ContentLength != 0 {
		if err := httputil.ReadJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	viewerID := uuid.NewString()
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = "guest-" + viewerID[:8]
	}
	if msg := validate.DisplayName(name); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`INSERT INTO viewers (id, display_name) VALUES ($1, $2)`,
		viewerID, name,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not create viewer")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), viewerID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusCreated, tokenResponse{AccessToken: accessToken, ViewerID: viewerID})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "refresh token not found")
		return
	}

	claims, err := ValidateToken(h.jwtSecret, cookie.Value, RefreshToken)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.validateStoredRefreshToken(r.Context(), claims.ViewerID, claims.ID); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.revokeRefreshToken(r.Context(), claims.ID); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to revoke refresh token")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), claims.ViewerID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken, ViewerID: claims.ViewerID})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if claims, err := ValidateToken(h.jwtSecret, cookie.Value, RefreshToken); err == nil {
			_ = h.revokeRefreshToken(r.Context(), claims.ID)
		}
	}
	h.clearRefreshTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Middleware requires a bearer access token and stores its viewer id in the
// request context.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := ValidateToken(h.jwtSecret, tokenStr, AccessToken)
		if err != nil {
			if errors.Is(err, errWrongTokenType) {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid token type")
				return
			}
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithViewerID(r.Context(), claims.ViewerID)))
	})
}

func ContextWithViewerID(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, viewerIDKey, viewerID)
}

func ViewerIDFromContext(ctx context.Context) string {
	viewerID, _ := ctx.Value(viewerIDKey).(string)
	return viewerID
}

func (h *Handler) setRefreshTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(RefreshTokenDuration / time.Second),
	})
}

func (h *Handler) clearRefreshTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (h *Handler) issueTokens(ctx context.Context, viewerID string) (accessToken, refreshToken string, err error) {
	tokenID := uuid.NewString()
	expiresAt := time.Now().Add(RefreshTokenDuration)
	if _, err := h.db.Exec(ctx,
		`INSERT INTO refresh_tokens (token_id, viewer_id, expires_at, revoked) VALUES ($1, $2, $3, false)`,
		tokenID, viewerID, expiresAt,
	); err != nil {
		return "", "", fmt.Errorf("store refresh token: %w", err)
	}

	accessToken, err = GenerateAccessToken(h.jwtSecret, viewerID)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = GenerateRefreshToken(h.jwtSecret, viewerID, tokenID)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (h *Handler) validateStoredRefreshToken(ctx context.Context, viewerID, tokenID string) error {
	var revoked bool
	var expiresAt time.Time
	err := h.db.QueryRow(ctx,
		`SELECT revoked, expires_at FROM refresh_tokens WHERE token_id = $1 AND viewer_id = $2`,
		tokenID, viewerID,
	).Scan(&revoked, &expiresAt)
	if err != nil {
		return err
	}
	if revoked || time.Now().After(expiresAt) {
		return errors.New("token revoked or expired")
	}
	return nil
}

func (h *Handler) revokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := h.db.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE token_id = $1`,
		tokenID,
	)
	return err
}
