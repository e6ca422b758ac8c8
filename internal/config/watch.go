package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the configuration whenever config.yaml or config.json changes
// and passes the new value to onChange. A reload that fails is logged and the
// previous configuration stays active. Watch blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched so that rename-on-save and newly created files
	// are seen.
	if err := watcher.Add(m.baseDir); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	logger.Info("Config watcher started", "dir", m.baseDir)

	var (
		timer *time.Timer
		fire  = make(chan struct{}, 1)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("config watcher events channel closed")
			}
			if !m.isConfigFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}

			logger.Debug("Config file event", "path", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = time.AfterFunc(DefaultDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(DefaultDebounce)
			}

		case <-fire:
			cfg, err := m.Load()
			if err != nil {
				logger.Error("Config reload failed, keeping current config", "error", err)
				continue
			}
			logger.Info("Config reloaded", "path", m.GetPath())
			if onChange != nil {
				onChange(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("config watcher errors channel closed")
			}
			logger.Error("Config watcher error", "error", err)
		}
	}
}

func (m *Manager) isConfigFile(path string) bool {
	name := filepath.Base(path)
	return name == DefaultYAMLFilename || name == DefaultConfigFilename
}
