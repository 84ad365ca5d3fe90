// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers index cycles from filesystem events.
//
// Description:
//
//	Watches the vault recursively and debounces events: a burst of
//	writes (an editor saving, a sync tool landing files) collapses
//	into one trigger after the window goes quiet. The trigger itself
//	is cheap; the cycle re-scans and decides what actually changed.
//
// Thread Safety: safe for concurrent use.
type Watcher struct {
	root     string
	debounce time.Duration
	trigger  func()
	excluded func(relPath string) bool
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// DebounceWindow is how long to wait for the event burst to end.
	// Default 2s; a vault sync can land many files in quick succession.
	DebounceWindow time.Duration
}

// NewWatcher creates a Watcher over the manager's vault. Events under
// excluded paths are ignored using the same rules as the scanner.
func NewWatcher(m *Manager, cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 2 * time.Second
	}
	return &Watcher{
		root:     m.cfg.VaultPath,
		debounce: cfg.DebounceWindow,
		trigger:  m.ForceUpdate,
		excluded: m.detector.Excluded,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns after registering the watch tree;
// event handling runs on a background goroutine until Stop or context
// cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// addRecursive watches a directory tree, skipping excluded directories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		if rel := w.rel(path); rel != "." && w.excluded(rel) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// loop debounces events into ForceUpdate calls.
func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if rel := w.rel(event.Name); rel != "." && w.excluded(rel) {
				continue
			}
			// New directories join the watch tree immediately so files
			// created inside them are seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch new directory failed",
							slog.String("path", event.Name), slog.String("error", err.Error()))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", slog.String("error", err.Error()))
		}
	}
}
