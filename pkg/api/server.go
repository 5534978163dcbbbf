package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dropzone/internal/bytesize"
	"github.com/marmos91/dropzone/internal/logger"
	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/api/auth"
	"github.com/marmos91/dropzone/pkg/metrics"
	"github.com/marmos91/dropzone/pkg/sandbox"
	"github.com/marmos91/dropzone/pkg/upload"
)

// Deps bundles the components the API server exposes over HTTP.
type Deps struct {
	Sandbox       *sandbox.Sandbox
	Users         *acl.Store
	Resolver      *acl.Resolver
	Sessions      *upload.SessionStore
	Receiver      *upload.Receiver
	Finalizer     *upload.Finalizer
	Reaper        *upload.Reaper
	Metrics       *metrics.UploadMetrics
	MaxUploadSize bytesize.Size
}

// Server provides the HTTP server for the upload and administration API.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	jwtService   *auth.JWTService
	deps         Deps
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state; call Start to begin serving.
// When authentication is enabled the JWT secret must be configured via
// config.JWT.Secret or the DROPZONE_API_JWT_SECRET environment variable.
func NewServer(config APIConfig, deps Deps) (*Server, error) {
	config.ApplyDefaults()

	s := &Server{deps: deps, config: config}

	if config.IsAuthEnabled() {
		jwtSecret := config.GetJWTSecret()
		if len(jwtSecret) < 32 {
			return nil, fmt.Errorf("JWT secret must be at least 32 characters; set via %s env var or config", EnvJWTSecret)
		}
		jwtService, err := auth.NewJWTService(auth.JWTConfig{
			Secret:               jwtSecret,
			Issuer:               "dropzone",
			AccessTokenDuration:  config.JWT.AccessTokenDuration,
			RefreshTokenDuration: config.JWT.RefreshTokenDuration,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
		s.jwtService = jwtService
	} else {
		logger.Warn("API authentication is disabled; every caller has full access")
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.newRouter(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "port", s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// A fresh context: the cancelled one would abort the shutdown
		// immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server. Safe to call multiple
// times and concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Handler returns the configured HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Port returns the TCP port the server is configured to listen on.
func (s *Server) Port() int {
	return s.config.Port
}
