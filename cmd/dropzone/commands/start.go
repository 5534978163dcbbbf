package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dropzone/internal/logger"
	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/api"
	"github.com/marmos91/dropzone/pkg/config"
	"github.com/marmos91/dropzone/pkg/metrics"
	"github.com/marmos91/dropzone/pkg/sandbox"
	"github.com/marmos91/dropzone/pkg/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dropzone server",
	Long: `Start the dropzone HTTP server with the specified configuration.

Examples:
  # Start with the default config location
  dropzone start

  # Start with a custom config file
  dropzone start --config /etc/dropzone/config.yaml

  # Override config values via environment
  DROPZONE_LOGGING_LEVEL=DEBUG dropzone start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metrics must be initialized before any collector is created.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics collection enabled")
	} else {
		logger.Info("metrics collection disabled")
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		return err
	}

	if cfg.API.IsAuthEnabled() {
		if err := ensureAdminUser(deps.Users); err != nil {
			return err
		}
	}

	server, err := api.NewServer(cfg.API, deps)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	// Reload logging settings when the config file changes.
	if configPath := resolvedConfigPath(); configPath != "" {
		go func() {
			if err := config.Watch(ctx, configPath); err != nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop", "port", server.Port())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
		logger.Info("server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}

// buildDeps constructs the sandbox, user store, upload pipeline and metrics
// from the loaded configuration.
func buildDeps(cfg *config.Config) (api.Deps, error) {
	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		return api.Deps{}, fmt.Errorf("failed to create root directory: %w", err)
	}

	sb, err := sandbox.New(cfg.Storage.Root)
	if err != nil {
		return api.Deps{}, fmt.Errorf("failed to open sandbox root: %w", err)
	}

	users, err := acl.NewStore(cfg.Storage.UsersFile())
	if err != nil {
		return api.Deps{}, fmt.Errorf("failed to open user database: %w", err)
	}
	resolver := acl.NewResolver(sb, users, cfg.API.IsAuthEnabled())

	sessions, err := upload.NewSessionStore(cfg.Storage.ChunksDir())
	if err != nil {
		return api.Deps{}, fmt.Errorf("failed to open session store: %w", err)
	}

	reaper := upload.NewReaper(sessions, cfg.Storage.DownloadsFile(),
		cfg.Upload.SessionTTL, cfg.Upload.DownloadTTL)

	logger.Info("storage initialized",
		"root", cfg.Storage.Root,
		"data_dir", cfg.Storage.DataDir,
		"session_ttl", cfg.Upload.SessionTTL.String(),
	)

	return api.Deps{
		Sandbox:       sb,
		Users:         users,
		Resolver:      resolver,
		Sessions:      sessions,
		Receiver:      upload.NewReceiver(sessions),
		Finalizer:     upload.NewFinalizer(sessions, sb, resolver),
		Reaper:        reaper,
		Metrics:       metrics.NewUploadMetrics(),
		MaxUploadSize: cfg.Upload.MaxUploadSize,
	}, nil
}

// ensureAdminUser creates the initial admin account when the user database
// is empty. The generated password is printed once and never stored in
// plain text.
func ensureAdminUser(users *acl.Store) error {
	db, err := users.Load()
	if err != nil {
		return fmt.Errorf("failed to load user database: %w", err)
	}
	if len(db.Users) > 0 {
		return nil
	}

	password, err := generateSecret(12)
	if err != nil {
		return fmt.Errorf("failed to generate admin password: %w", err)
	}
	if err := users.AddUser("admin", password, acl.RoleAdmin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", "username", "admin")
	fmt.Printf("\n*** Admin user created with password: %s ***\n", password)
	fmt.Println("Please save this password. It will not be shown again.")
	fmt.Println()
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// resolvedConfigPath returns the config file actually in use, empty when
// running on pure defaults.
func resolvedConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}
