package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dropzone/internal/logger"
	"github.com/marmos91/dropzone/pkg/api/handlers"
	apimiddleware "github.com/marmos91/dropzone/pkg/api/middleware"
	"github.com/marmos91/dropzone/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET  /health - liveness probe
//   - GET  /health/ready - readiness probe
//   - GET  /metrics - Prometheus metrics (when enabled)
//   - POST /api/v1/auth/login - user authentication
//   - POST /api/v1/auth/refresh - token refresh
//   - GET  /api/v1/auth/me - current user info
//   - POST /api/v1/uploads - start or resume an upload session
//   - GET  /api/v1/uploads/{id} - session status for resume
//   - PUT  /api/v1/uploads/{id}/chunks/{index} - store one chunk
//   - POST /api/v1/uploads/{id}/finalize - assemble the file
//   - DELETE /api/v1/uploads/{id} - abort the session
//   - /api/v1/users/* - user and grant management (admin only)
//
// The finalize route is exempt from the request timeout: assembling a large
// file takes proportionally long and must always run to completion.
func (s *Server) newRouter() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(s.deps.Sandbox, s.deps.Sessions)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	authHandler := handlers.NewAuthHandler(s.deps.Users, s.jwtService)
	userHandler := handlers.NewUserHandler(s.deps.Users, s.deps.Resolver)
	uploadHandler := handlers.NewUploadHandler(
		s.deps.Sandbox,
		s.deps.Resolver,
		s.deps.Sessions,
		s.deps.Receiver,
		s.deps.Finalizer,
		s.deps.Reaper,
		s.deps.Metrics,
		s.deps.MaxUploadSize,
	)

	authEnabled := s.config.IsAuthEnabled()
	requireAuth := apimiddleware.AnonymousPrincipal()
	if authEnabled {
		requireAuth = apimiddleware.JWTAuth(s.jwtService)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if authEnabled {
			r.Route("/auth", func(r chi.Router) {
				r.Use(middleware.Timeout(s.config.RequestTimeout))
				r.Post("/login", authHandler.Login)
				r.Post("/refresh", authHandler.Refresh)

				r.Group(func(r chi.Router) {
					r.Use(requireAuth)
					r.Get("/me", authHandler.Me)
				})
			})
		}

		r.Route("/uploads", func(r chi.Router) {
			r.Use(requireAuth)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.config.RequestTimeout))
				r.Post("/", uploadHandler.Init)
				r.Get("/{id}", uploadHandler.Status)
				r.Delete("/{id}", uploadHandler.Abort)
			})

			// Chunk writes stream request bodies and finalize concatenates
			// arbitrarily large files; neither runs under the timeout.
			r.Put("/{id}/chunks/{index}", uploadHandler.Chunk)
			r.Post("/{id}/finalize", uploadHandler.Finalize)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(middleware.Timeout(s.config.RequestTimeout))
			r.Use(requireAuth)
			r.Use(apimiddleware.RequireAdmin(authEnabled))

			r.Post("/", userHandler.Create)
			r.Get("/", userHandler.List)
			r.Post("/cleanup-grants", userHandler.CleanupGrants)
			r.Delete("/{username}", userHandler.Delete)
			r.Post("/{username}/password", userHandler.SetPassword)
			r.Put("/{username}/grants", userHandler.SetGrant)
			r.Delete("/{username}/grants", userHandler.RemoveGrant)
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests using the internal logger. Healthcheck
// requests are logged at DEBUG to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
