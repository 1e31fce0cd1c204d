// Package watcher reloads the server configuration when its file changes on disk.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nghyane/medistream/internal/config"
	log "github.com/nghyane/medistream/internal/logging"
)

const configReloadDebounce = 150 * time.Millisecond

// ConfigWatcher watches one config file and calls the reload callback with each new
// configuration that parses and validates.
type ConfigWatcher struct {
	configPath     string
	reloadCallback func(*config.Config)
	watcher        *fsnotify.Watcher

	mu                sync.Mutex
	config            *config.Config
	lastConfigHash    string
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	debounce          time.Duration
}

// NewConfigWatcher creates a watcher for configPath. cfg is the configuration
// currently in effect and is used to describe changes.
func NewConfigWatcher(configPath string, cfg *config.Config, reloadCallback func(*config.Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &ConfigWatcher{
		configPath:     abs,
		reloadCallback: reloadCallback,
		watcher:        fw,
		config:         cfg,
		debounce:       configReloadDebounce,
	}
	if data, err := os.ReadFile(abs); err == nil && len(data) > 0 {
		w.lastConfigHash = hashBytes(data)
	}
	return w, nil
}

// Start watches the directory holding the config file, so editors that replace
// the file by rename are seen too.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch config directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *ConfigWatcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// Config returns the configuration most recently applied.
func (w *ConfigWatcher) Config() *config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config
}

func (w *ConfigWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	configOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
	if filepath.Clean(event.Name) != w.configPath || event.Op&configOps == 0 {
		return
	}
	log.Debugf("config file event: %s %s", event.Op.String(), event.Name)
	w.scheduleConfigReload()
}

func (w *ConfigWatcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(w.debounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadIfChanged()
	})
}

func (w *ConfigWatcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

// reloadIfChanged reloads when the file content hash differs from the last applied
// one. It reports whether the callback ran.
func (w *ConfigWatcher) reloadIfChanged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return false
	}
	if len(data) == 0 {
		log.Debug("ignoring empty config file write event")
		return false
	}
	newHash := hashBytes(data)
	if w.lastConfigHash == newHash {
		log.Debug("config file content unchanged (hash match), skipping reload")
		return false
	}

	newConfig, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return false
	}
	for _, d := range describeChanges(w.config, newConfig) {
		log.Infof("config change: %s", d)
	}

	w.lastConfigHash = newHash
	w.config = newConfig
	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
	log.Infof("config reloaded from %s", w.configPath)
	return true
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
