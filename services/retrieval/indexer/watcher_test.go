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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_TriggersAfterDebounce(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(f.manager, WatcherConfig{DebounceWindow: 50 * time.Millisecond}, f.manager.logger)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	f.write(t, "note.md", "freshly written")

	assert.Eventually(t, func() bool {
		return len(f.manager.pending) == 1
	}, 3*time.Second, 20*time.Millisecond, "debounced event should force an update")
}

func TestWatcher_IgnoresExcludedDirectories(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.vault, ".git"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(f.manager, WatcherConfig{DebounceWindow: 50 * time.Millisecond}, f.manager.logger)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(f.vault, ".git", "HEAD"), []byte("ref: main"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, f.manager.pending, "events under excluded paths must not trigger updates")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)

	w, err := NewWatcher(f.manager, WatcherConfig{}, f.manager.logger)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
