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
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/scan"
	"github.com/AleutianAI/kodiak/services/retrieval/storage/badger"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

type stubEmbedder struct {
	mu      sync.Mutex
	err     error
	batches int
}

func (s *stubEmbedder) vectorFor(text string) []float32 {
	return []float32{1, float32(len(text)%7) + 1, 1}
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.batches++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vectorFor(t)
	}
	return out, nil
}

func (s *stubEmbedder) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

type fixture struct {
	vault    string
	manager  *Manager
	store    *repository.Store
	embedder *stubEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	vault := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewStore(db, 16, logger)
	fingerprints := repository.NewFingerprintStore(db)
	registry := scan.DefaultRegistry()
	detector := scan.NewDetector(scan.DefaultConfig(vault), registry, fingerprints, logger)
	embedder := &stubEmbedder{}

	cfg := DefaultConfig(vault)
	cfg.EmbedConcurrency = 2
	mgr := NewManager(cfg, detector, registry, store, fingerprints, vectorindex.New(), embedder, logger)
	return &fixture{vault: vault, manager: mgr, store: store, embedder: embedder}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.vault, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunCycle_AddsNewFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "notes/alpha.md", "alpha contents for the index")
	f.write(t, "beta.txt", "beta contents for the index")

	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 0, report.Modified)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.Fragments)
	assert.Equal(t, 2, f.manager.index.Len())
	assert.Equal(t, StateIdle, f.manager.State())

	count, err := f.store.Count(ctx, repository.FamilyDocuments)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunCycle_SecondCycleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "alpha.md", "stable contents")

	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)
	batches := f.embedder.batchCount()
	version := f.manager.index.Version()

	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Added+report.Modified+report.Removed+report.Failed)
	assert.Equal(t, batches, f.embedder.batchCount(), "unchanged files must not re-embed")
	assert.Equal(t, version, f.manager.index.Version(), "no-op cycle must not republish")
}

func TestRunCycle_ModifiedReplacesFragments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "alpha.md", "original contents")
	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	f.write(t, "alpha.md", "rewritten contents, rather longer than before")
	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Modified)
	assert.Equal(t, 0, report.Added)

	fragments, err := f.store.ListFamily(ctx, repository.FamilyDocuments)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Contains(t, fragments[0].Text, "rewritten")
}

func TestRunCycle_RemovedFileDropsFragments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "alpha.md", "soon to vanish")
	f.write(t, "beta.md", "here to stay")
	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.vault, "alpha.md")))
	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, f.manager.index.Len())

	sources, err := f.store.SourceKeys(ctx, repository.FamilyDocuments)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta.md"}, sources)
}

func TestRunCycle_RemovingEverythingResetsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "only.md", "the only document")
	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.manager.index.Len())

	require.NoError(t, os.Remove(filepath.Join(f.vault, "only.md")))
	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 0, f.manager.index.Len())
}

func TestRunCycle_EmbedFailureRetriesNextCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "alpha.md", "contents that fail to embed")

	f.embedder.err = errors.New("embedding service down")
	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 0, f.manager.index.Len())

	// Fingerprint was not advanced, so the file is retried and succeeds.
	f.embedder.mu.Lock()
	f.embedder.err = nil
	f.embedder.mu.Unlock()
	report, err = f.manager.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, f.manager.index.Len())
}

func TestRunCycle_EmptyFileSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "empty.md", "   \n\t\n")

	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 0, f.manager.index.Len())

	// The fingerprint advanced, so the file is not re-read every cycle.
	report, err = f.manager.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Skipped)
}

func TestRunCycle_ModifiedToEmptyDropsIndexEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "alpha.md", "real contents for the index")
	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.manager.index.Len())

	// Emptying the file deletes its fragments even though the cycle
	// reports it as skipped; the snapshot must not keep stale entries.
	f.write(t, "alpha.md", "   \n")
	report, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Modified)

	count, err := f.store.Count(ctx, repository.FamilyDocuments)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, f.manager.index.Len())
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "alpha.md", "searchable contents")
	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	results, err := f.manager.Search(ctx, "searchable contents", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, float32(0.9))
}

func TestForceUpdateCoalesces(t *testing.T) {
	f := newFixture(t)

	f.manager.ForceUpdate()
	f.manager.ForceUpdate()
	f.manager.ForceUpdate()

	assert.Len(t, f.manager.pending, 1)
}

func TestCollectStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "b.md", "second document")
	f.write(t, "a.md", "first document")
	_, err := f.manager.RunCycle(ctx)
	require.NoError(t, err)

	stats, err := f.manager.CollectStats(ctx)
	require.NoError(t, err)

	require.Len(t, stats.Documents, 2)
	assert.Equal(t, "a.md", stats.Documents[0].Path)
	assert.Equal(t, ".md", stats.Documents[0].Type)
	assert.Equal(t, 1, stats.Documents[0].Fragments)
	assert.Equal(t, 2, stats.Fragments)
	assert.Equal(t, 2, stats.IndexEntries)
	assert.Equal(t, StateIdle, stats.State)
	assert.Greater(t, stats.TotalSize, int64(0))
}
