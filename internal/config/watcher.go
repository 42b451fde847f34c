package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadCallback receives the freshly loaded config after a change on disk.
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and triggers a reload when it changes.
// Editors replace files with rename/create sequences, so the parent
// directory is watched and events are debounced until the file is stable.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	loader     *Loader
	onReload   ReloadCallback
	logger     zerolog.Logger

	debounce time.Duration
	timerMu  sync.Mutex
	timer    *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a config file watcher.
func NewWatcher(configPath string, onReload ReloadCallback, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		watcher:    fw,
		configPath: configPath,
		loader:     NewLoader(configPath),
		onReload:   onReload,
		logger:     logger.With().Str("component", "config-watcher").Logger(),
		debounce:   200 * time.Millisecond,
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}
	if err := NewValidator().Validate(cfg); err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config is invalid, keeping previous configuration")
		return
	}

	w.logger.Info().Int("accounts", len(cfg.Accounts)).Msg("Config reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
