package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dropzone/internal/bytesize"
)

const (
	// DefaultChunkSize is the chunk size hint advertised to clients.
	DefaultChunkSize = 10 * bytesize.MiB

	// DefaultMaxUploadSize is the declared-size ceiling for new uploads.
	// Deliberately enormous; it exists to reject absurd declarations, not
	// to enforce quota.
	DefaultMaxUploadSize = 1024 * bytesize.TiB

	// DefaultSessionTTL is how long an idle upload session survives.
	DefaultSessionTTL = time.Hour

	// DefaultDownloadTTL is how long prepared download artifacts survive.
	DefaultDownloadTTL = 6 * time.Hour

	// DefaultShutdownTimeout is the graceful shutdown window.
	DefaultShutdownTimeout = 30 * time.Second
)

var validate = validator.New()

// ApplyDefaults fills in zero values with defaults. Values already set by
// the config file or environment are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Storage.DataDir == "" && cfg.Storage.Root != "" {
		cfg.Storage.DataDir = filepath.Join(filepath.Dir(filepath.Clean(cfg.Storage.Root)), "storage")
	}

	if cfg.Upload.ChunkSize == 0 {
		cfg.Upload.ChunkSize = DefaultChunkSize
	}
	if cfg.Upload.MaxUploadSize == 0 {
		cfg.Upload.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.Upload.SessionTTL == 0 {
		cfg.Upload.SessionTTL = DefaultSessionTTL
	}
	if cfg.Upload.DownloadTTL == 0 {
		cfg.Upload.DownloadTTL = DefaultDownloadTTL
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	cfg.API.ApplyDefaults()
}

// GetDefaultConfig returns a fully populated configuration for the given
// file root, suitable for writing out by the init command.
func GetDefaultConfig(root string) *Config {
	cfg := &Config{
		Storage: StorageConfig{Root: root},
	}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks structural constraints on a loaded configuration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", cfg.API.Port)
	}
	if cfg.Upload.SessionTTL < time.Minute {
		return fmt.Errorf("upload.session_ttl must be at least 1m, got %s", cfg.Upload.SessionTTL)
	}
	if cfg.Upload.DownloadTTL < time.Minute {
		return fmt.Errorf("upload.download_ttl must be at least 1m, got %s", cfg.Upload.DownloadTTL)
	}
	if cfg.Upload.MaxUploadSize < cfg.Upload.ChunkSize {
		return fmt.Errorf("upload.max_upload_size (%s) must not be smaller than upload.chunk_size (%s)",
			cfg.Upload.MaxUploadSize, cfg.Upload.ChunkSize)
	}
	return nil
}
