// Package api provides the HTTP API server and handlers for the Inkwell application.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inkwellapp/inkwell-server/internal/config"
	"github.com/inkwellapp/inkwell-server/internal/http/response"
	"github.com/inkwellapp/inkwell-server/internal/ratelimit"
	"github.com/inkwellapp/inkwell-server/internal/service"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	cfg          *config.Config
	authService  *service.AuthService
	postService  *service.PostService
	shareLimiter *ratelimit.KeyedRateLimiter
	router       *chi.Mux
	logger       *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(cfg *config.Config, authService *service.AuthService, postService *service.PostService, shareLimiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		authService:  authService,
		postService:  postService,
		shareLimiter: shareLimiter,
		router:       chi.NewRouter(),
		logger:       logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	if len(s.cfg.Server.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check.
	s.router.Get("/health", s.handleHealthCheck)

	// Share landing page for social previews (HTML, not enveloped).
	s.router.Get("/share/blog/{id}", s.handleSharePage)

	// API v1.
	s.router.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (public).
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleGetCurrentUser)
		})

		r.Route("/blogs", func(r chi.Router) {
			// Public reads.
			r.Get("/public", s.handleListPublicPosts)
			r.Get("/{id}", s.handleGetPost)
			r.Get("/{id}/cover", s.handleGetCover)

			// Anyone may share; rate limited per client IP since the
			// counter is writable without auth.
			r.With(RateLimitMiddleware(s.shareLimiter, s.logger)).
				Put("/{id}/share", s.handleSharePost)

			// Writes and owner-scoped reads require auth.
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/post", s.handleCreatePost)
				r.Get("/all", s.handleListOwnPosts)
				r.Get("/search", s.handleSearchPosts)
				r.Delete("/{id}", s.handleDeletePost)
				r.Put("/{id}/cover", s.handleUploadCover)
			})
		})
	})
}

// handleHealthCheck returns server health status.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, map[string]string{
		"status": "healthy",
		"name":   s.cfg.Server.Name,
	}, s.logger)
}
