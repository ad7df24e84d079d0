package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sendrec/danmaku/internal/archive"
	"github.com/sendrec/danmaku/internal/auth"
	"github.com/sendrec/danmaku/internal/comment"
	"github.com/sendrec/danmaku/internal/docs"
	"github.com/sendrec/danmaku/internal/database"
	"github.com/sendrec/danmaku/internal/httputil"
	"github.com/sendrec/danmaku/internal/ratelimit"
	"github.com/sendrec/danmaku/internal/settings"
	"github.com/sendrec/danmaku/internal/validate"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// ArchiveStorage is the object store archives are written to.
type ArchiveStorage interface {
	archive.ObjectStore
	archive.URLSigner
}

type Config struct {
	DB              database.DBTX
	Pinger          Pinger
	Storage         ArchiveStorage
	JWTSecret       string
	BaseURL         string
	AllowedOrigins  []string
	ArchivePageSize int
	LimiterOptions  []ratelimit.Option
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	authHandler     *auth.Handler
	commentHandler  *comment.Handler
	settingsHandler *settings.Handler
	archiveHandler  *archive.Handler
	exporter        *archive.Exporter
	limiterOptions  []ratelimit.Option
	limiters        []*ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
	}))

	s := &Server{router: r, pinger: cfg.Pinger, limiterOptions: cfg.LimiterOptions}

	if cfg.DB != nil {
		jwtSecret := cfg.JWTSecret
		if jwtSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}

		secureCookies := strings.HasPrefix(cfg.BaseURL, "https://")
		s.authHandler = auth.NewHandler(cfg.DB, jwtSecret, secureCookies)
		s.commentHandler = comment.NewHandler(cfg.DB)
		s.settingsHandler = settings.NewHandler(cfg.DB)

		if cfg.Storage != nil {
			s.exporter = archive.NewExporter(s.commentHandler.Store(), cfg.Storage, cfg.DB, cfg.ArchivePageSize)
			s.archiveHandler = archive.NewHandler(s.exporter, cfg.Storage, cfg.Storage)
		}
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Exporter returns the archive exporter, or nil when no storage is
// configured.
func (s *Server) Exporter() *archive.Exporter {
	return s.exporter
}

// StartCleanupLoops forgets idle rate limit buckets until ctx is done.
func (s *Server) StartCleanupLoops(ctx context.Context) {
	for _, l := range s.limiters {
		l.StartCleanupLoop(ctx)
	}
}

func (s *Server) newLimiter(rate float64, burst int, opts ...ratelimit.Option) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(rate, burst, append(append([]ratelimit.Option{}, s.limiterOptions...), opts...)...)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)
	docs.Mount(s.router)

	if s.authHandler == nil {
		return
	}

	authLimiter := s.newLimiter(0.5, 5)
	s.router.Route("/api/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/guest", s.authHandler.Guest)
		r.Post("/refresh", s.authHandler.Refresh)
		r.Post("/logout", s.authHandler.Logout)
	})

	readLimiter := s.newLimiter(10, 40)
	postLimiter := s.newLimiter(1, 5, ratelimit.WithKey(func(r *http.Request) string {
		return auth.ViewerIDFromContext(r.Context())
	}))

	s.router.Group(func(r chi.Router) {
		r.Use(readLimiter.Middleware)
		r.Get("/api/videos/{videoID}/danmaku", s.commentHandler.List)
		r.Get("/api/danmaku/{commentID}/reactions", s.commentHandler.Reactions)
		if s.archiveHandler != nil {
			r.Get("/api/videos/{videoID}/danmaku/archive", s.archiveHandler.Get)
		}
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.authHandler.Middleware)
		r.Use(postLimiter.Middleware)
		r.Post("/api/videos/{videoID}/danmaku", s.commentHandler.Post)
		r.Delete("/api/videos/{videoID}/danmaku/{commentID}", s.commentHandler.Delete)
		r.Post("/api/danmaku/{commentID}/reactions", s.commentHandler.React)
		if s.archiveHandler != nil {
			r.Post("/api/videos/{videoID}/danmaku/archive", s.archiveHandler.Export)
		}
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.authHandler.Middleware)
		r.Get("/api/settings", s.settingsHandler.Get)
		r.Put("/api/settings", s.settingsHandler.Put)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}
