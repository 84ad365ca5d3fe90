// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer keeps the document index in sync with the vault.
//
// A cycle scans the vault, diffs files against stored fingerprints,
// chunks and embeds what changed, persists the fragments, and publishes
// a fresh index snapshot. Cycles run one at a time; requests arriving
// mid-cycle coalesce into a single follow-up cycle.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kodiak/services/retrieval/chunker"
	"github.com/AleutianAI/kodiak/services/retrieval/embed"
	"github.com/AleutianAI/kodiak/services/retrieval/observability"
	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/scan"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

// State is the current phase of the index manager.
type State int32

const (
	// StateIdle means no cycle is running.
	StateIdle State = iota

	// StateScanning means the vault walk is in progress.
	StateScanning

	// StateDiffing means scan results are being partitioned.
	StateDiffing

	// StateEmbedding means changed files are being chunked and embedded.
	StateEmbedding

	// StateIndexUpdating means fragments are being persisted and the
	// snapshot republished.
	StateIndexUpdating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateDiffing:
		return "diffing"
	case StateEmbedding:
		return "embedding"
	case StateIndexUpdating:
		return "index_updating"
	default:
		return "unknown"
	}
}

// Config tunes the index manager.
type Config struct {
	// VaultPath is the document root.
	VaultPath string

	// ScanInterval is the periodic cycle cadence for Run.
	ScanInterval time.Duration

	// EmbedConcurrency bounds parallel per-file embedding work.
	EmbedConcurrency int

	// Chunking configures the splitter.
	Chunking chunker.Config
}

// DefaultConfig returns the production indexing configuration.
func DefaultConfig(vaultPath string) Config {
	return Config{
		VaultPath:        vaultPath,
		ScanInterval:     5 * time.Minute,
		EmbedConcurrency: 4,
		Chunking:         chunker.DefaultConfig(),
	}
}

// CycleReport summarizes one index cycle.
type CycleReport struct {
	// Added, Modified, Removed count files applied to the index.
	Added    int
	Modified int
	Removed  int

	// Skipped counts unsupported or empty files.
	Skipped int

	// Failed counts files whose extraction, chunking, or embedding
	// failed. Their fingerprints are not advanced, so the next cycle
	// retries them.
	Failed int

	// Fragments is the number of new fragments written this cycle.
	Fragments int

	Duration time.Duration
}

// changed reports whether the cycle altered the repository.
func (r CycleReport) changed() bool {
	return r.Added+r.Modified+r.Removed > 0
}

// Manager drives the document indexing pipeline.
//
// Thread Safety: safe for concurrent use. One cycle runs at a time;
// ForceUpdate never blocks.
type Manager struct {
	cfg          Config
	detector     *scan.Detector
	registry     *scan.Registry
	store        *repository.Store
	fingerprints *repository.FingerprintStore
	index        *vectorindex.Index
	embedder     embed.Embedder
	logger       *slog.Logger
	metrics      *observability.Metrics

	cycleMu sync.Mutex
	state   atomic.Int32
	pending chan struct{}
}

// NewManager creates an index Manager. The index must be dedicated to
// document fragments.
func NewManager(cfg Config, detector *scan.Detector, registry *scan.Registry, store *repository.Store, fingerprints *repository.FingerprintStore, index *vectorindex.Index, embedder embed.Embedder, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		detector:     detector,
		registry:     registry,
		store:        store,
		fingerprints: fingerprints,
		index:        index,
		embedder:     embedder,
		logger:       logger,
		pending:      make(chan struct{}, 1),
	}
}

// SetMetrics attaches cycle instrumentation. Call before Run.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// State returns the current cycle phase.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// ForceUpdate requests a cycle without blocking.
//
// Description:
//
//	Multiple requests while a cycle runs coalesce into one pending
//	cycle. Only meaningful when Run is active.
func (m *Manager) ForceUpdate() {
	select {
	case m.pending <- struct{}{}:
	default:
	}
}

// Run executes cycles until the context is canceled.
//
// Description:
//
//	Runs one cycle immediately, then on every tick of ScanInterval and
//	on every ForceUpdate. Cycle errors are logged, not fatal; the loop
//	only stops with the context.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	m.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.pending:
		}
		m.runLogged(ctx)
	}
}

func (m *Manager) runLogged(ctx context.Context) {
	report, err := m.RunCycle(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Error("index cycle failed", slog.String("error", err.Error()))
		}
		return
	}
	m.logger.Info("index cycle complete",
		slog.Int("added", report.Added),
		slog.Int("modified", report.Modified),
		slog.Int("removed", report.Removed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("fragments", report.Fragments),
		slog.Duration("duration", report.Duration),
	)
}

// fileResult is the embedding outcome for one changed file.
type fileResult struct {
	change    scan.FileChange
	fragments []*repository.Fragment
	skipped   bool
	err       error
}

// RunCycle executes one full index cycle.
//
// Description:
//
//	Scan, diff, chunk+embed changed files with bounded parallelism,
//	then persist and republish. Per-file failures are counted and
//	retried next cycle; only scan or storage failures abort the cycle.
//	The published snapshot is never touched by a failed cycle.
func (m *Manager) RunCycle(ctx context.Context) (CycleReport, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	defer m.setState(StateIdle)

	start := time.Now()
	report, err := m.runCycle(ctx)
	report.Duration = time.Since(start)

	if m.metrics != nil {
		m.metrics.RecordCycle(err == nil, report.Duration.Seconds())
		m.metrics.AddFragments(string(repository.FamilyDocuments), report.Fragments)
		m.metrics.SetIndexState(string(repository.FamilyDocuments), m.index.Len(), m.index.Version())
		cache := m.store.CacheStats()
		m.metrics.SetCacheCounters(cache.Hits, cache.Misses, cache.Evictions)
	}
	return report, err
}

func (m *Manager) runCycle(ctx context.Context) (CycleReport, error) {
	m.setState(StateScanning)
	scanned, err := m.detector.Scan(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("indexer: scan: %w", err)
	}

	m.setState(StateDiffing)
	var toEmbed []scan.FileChange
	var removed []scan.FileChange
	for _, change := range scanned.Changes {
		if change.Class == scan.Removed {
			removed = append(removed, change)
		} else {
			toEmbed = append(toEmbed, change)
		}
	}

	m.setState(StateEmbedding)
	results := make([]fileResult, len(toEmbed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.EmbedConcurrency)
	for i, change := range toEmbed {
		i, change := i, change
		g.Go(func() error {
			results[i] = m.processFile(gctx, change)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CycleReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return CycleReport{}, err
	}

	m.setState(StateIndexUpdating)
	report := CycleReport{Removed: len(removed)}

	// purged counts fragments deleted from the repository this cycle.
	// It drives the rebuild decision independently of the file counters:
	// a modified file that now yields zero chunks is reported as skipped,
	// but its old fragments are still gone and the snapshot must follow.
	purged := 0

	for _, change := range removed {
		n, err := m.store.DeleteSource(ctx, repository.FamilyDocuments, change.Path)
		if err != nil {
			return report, fmt.Errorf("indexer: remove %s: %w", change.Path, err)
		}
		purged += n
		if err := m.fingerprints.Delete(ctx, change.Path); err != nil {
			return report, fmt.Errorf("indexer: drop fingerprint %s: %w", change.Path, err)
		}
	}

	for _, res := range results {
		switch {
		case res.err != nil:
			report.Failed++
			m.logger.Warn("file failed, will retry next cycle",
				slog.String("path", res.change.Path), slog.String("error", res.err.Error()))
			continue
		case res.skipped:
			report.Skipped++
		}

		if res.change.Class == scan.Modified {
			n, err := m.store.DeleteSource(ctx, repository.FamilyDocuments, res.change.Path)
			if err != nil {
				return report, fmt.Errorf("indexer: replace %s: %w", res.change.Path, err)
			}
			purged += n
		}
		for _, f := range res.fragments {
			if err := m.store.Put(ctx, f); err != nil {
				return report, fmt.Errorf("indexer: store fragment of %s: %w", res.change.Path, err)
			}
		}
		report.Fragments += len(res.fragments)
		if err := m.fingerprints.Put(ctx, res.change.Fingerprint); err != nil {
			return report, fmt.Errorf("indexer: store fingerprint %s: %w", res.change.Path, err)
		}
		if !res.skipped {
			switch res.change.Class {
			case scan.Added:
				report.Added++
			case scan.Modified:
				report.Modified++
			}
		}
	}

	// Unchanged files may still need their fingerprint refreshed so the
	// size+mtime fast path holds next cycle.
	for _, change := range scanned.Unchanged {
		if err := m.fingerprints.Put(ctx, change.Fingerprint); err != nil {
			return report, fmt.Errorf("indexer: refresh fingerprint %s: %w", change.Path, err)
		}
	}

	if report.changed() || purged > 0 {
		if err := m.rebuild(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// processFile extracts, chunks, and embeds one added or modified file.
// No store writes happen here; results are applied sequentially after
// all embedding finishes.
func (m *Manager) processFile(ctx context.Context, change scan.FileChange) fileResult {
	res := fileResult{change: change}

	extractor, ok := m.registry.For(change.Path)
	if !ok {
		res.skipped = true
		return res
	}

	absPath := filepath.Join(m.cfg.VaultPath, filepath.FromSlash(change.Path))
	text, err := extractor.Extract(absPath)
	if err != nil {
		res.err = fmt.Errorf("extract: %w", err)
		return res
	}

	chunks, err := chunker.Split(text, m.cfg.Chunking)
	if err != nil {
		res.err = fmt.Errorf("chunk: %w", err)
		return res
	}
	if len(chunks) == 0 {
		// Empty or whitespace-only file. Fingerprint still advances so
		// it is not re-read every cycle.
		res.skipped = true
		return res
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		res.err = fmt.Errorf("embed: %w", err)
		return res
	}

	res.fragments = make([]*repository.Fragment, len(chunks))
	for i, c := range chunks {
		sum := sha256.Sum256([]byte(c.Text))
		res.fragments[i] = &repository.Fragment{
			Family:        repository.FamilyDocuments,
			SourceKey:     change.Path,
			Text:          c.Text,
			ContentHash:   hex.EncodeToString(sum[:]),
			SequenceIndex: c.Sequence,
			Vector:        vectors[i],
		}
	}
	return res
}

// rebuild republishes the document index from the repository.
func (m *Manager) rebuild(ctx context.Context) error {
	fragments, err := m.store.ListFamily(ctx, repository.FamilyDocuments)
	if err != nil {
		return fmt.Errorf("indexer: list fragments: %w", err)
	}
	if len(fragments) == 0 {
		m.index.Reset()
		return nil
	}

	entries := make([]vectorindex.Entry, 0, len(fragments))
	for _, f := range fragments {
		if len(f.Vector) == 0 {
			m.logger.Warn("fragment has no stored vector, skipping",
				slog.String("id", f.ID), slog.String("source", f.SourceKey))
			continue
		}
		entries = append(entries, vectorindex.Entry{FragmentID: f.ID, Vector: f.Vector})
	}
	if len(entries) == 0 {
		m.index.Reset()
		return nil
	}
	if err := m.index.Rebuild(entries); err != nil {
		return fmt.Errorf("indexer: rebuild: %w", err)
	}
	return nil
}

// Restore republishes the index from the repository without scanning.
// Used at process start, since the snapshot lives only in memory.
func (m *Manager) Restore(ctx context.Context) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.rebuild(ctx)
}

// Search embeds a query and returns raw index hits.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]vectorindex.Result, error) {
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("indexer: embed query: %w", err)
	}
	results, err := m.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("indexer: search: %w", err)
	}
	return results, nil
}
