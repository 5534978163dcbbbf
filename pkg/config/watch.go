package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dropzone/internal/logger"
)

// Watch monitors the configuration file and re-applies the logging settings
// when it changes. Only logging changes take effect at runtime; everything
// else requires a restart.
//
// The parent directory is watched rather than the file itself because most
// editors replace the file on save, which would drop a file-level watch.
// Watch blocks until the context is cancelled.
func Watch(ctx context.Context, configPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	base := filepath.Base(configPath)
	logger.Debug("watching config file for changes", "path", configPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloadLogging(configPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

// reloadLogging re-reads the config file and applies the logging section.
// Errors are logged, never fatal; a half-written file on the next event will
// simply be read again.
func reloadLogging(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		logger.Warn("config reload failed, keeping current settings", "error", err)
		return
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	logger.Info("logging configuration reloaded",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
}
