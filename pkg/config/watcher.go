package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce interval for file-system events. Editors often fire several
// write events for a single save.
var reloadDebounce = 500 * time.Millisecond

// Provider hands out the current configuration snapshot and refreshes it
// when the file on disk changes. Readers always get a complete, validated
// Config; a reload that fails validation keeps the previous snapshot.
type Provider struct {
	configDir string
	current   atomic.Pointer[Config]
	logger    *slog.Logger
}

// NewProvider wraps an already loaded configuration.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{
		configDir: cfg.ConfigDir(),
		logger:    slog.With("component", "config_provider"),
	}
	p.current.Store(cfg)
	return p
}

// Current returns the active configuration snapshot. The returned value
// must be treated as read-only.
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// Watch blocks until ctx is cancelled, reloading the configuration file
// whenever it is rewritten. Reload failures are logged and the previous
// snapshot stays active.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewLoadError("could not initialize config watcher", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			p.logger.Error("Could not close config watcher", "error", err)
		}
	}()

	// Watch the directory rather than the file: editors and config
	// management tools replace files by rename, which drops a watch
	// placed on the file itself.
	if err := watcher.Add(p.configDir); err != nil {
		return NewLoadError("could not watch config directory", err)
	}

	configPath := filepath.Join(p.configDir, ConfigFileName)
	p.logger.Info("Watching configuration for changes", "path", configPath)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Stop()
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			p.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("Config watcher error", "error", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Provider) reload() {
	cfg, err := load(p.configDir)
	if err != nil {
		p.logger.Error("Config reload failed, keeping previous snapshot", "error", err)
		return
	}
	if err := NewValidator(cfg).ValidateAll(); err != nil {
		p.logger.Error("Reloaded config is invalid, keeping previous snapshot", "error", err)
		return
	}
	p.current.Store(cfg)
	stats := cfg.Stats()
	p.logger.Info("Configuration reloaded",
		"channels", stats.Channels,
		"notification_channels", stats.NotificationChannels,
		"ensemble_models", stats.EnsembleModels,
		"hybrid_search", stats.HybridEnabled)
}
