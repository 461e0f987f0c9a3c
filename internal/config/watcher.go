// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceDelay coalesces editor write bursts into a single reload.
const debounceDelay = 300 * time.Millisecond

// Watcher watches the configuration file and invokes a reload callback
// when it changes. Reloads that fail to parse or validate are logged and
// discarded; the previous configuration stays active.
type Watcher struct {
	configPath string
	reload     func(*Config)

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	timer   *time.Timer
	started bool
}

// NewWatcher creates a watcher for configPath. The reload callback receives
// each successfully loaded configuration.
func NewWatcher(configPath string, reload func(*Config)) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if reload == nil {
		return nil, fmt.Errorf("reload callback cannot be nil")
	}
	return &Watcher{configPath: configPath, reload: reload}, nil
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("config watcher already started")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	dir := filepath.Dir(w.configPath)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.fw = fw
	w.started = true
	w.mu.Unlock()

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.fw != nil {
			_ = w.fw.Close()
			w.fw = nil
		}
		w.started = false
		w.mu.Unlock()
	}()

	target := filepath.Clean(w.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		cfg, err := LoadConfig(w.configPath)
		if err != nil {
			log.Warnf("config reload skipped: %v", err)
			return
		}
		log.Info("configuration reloaded")
		w.reload(cfg)
	})
}
