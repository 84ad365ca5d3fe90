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
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/kodiak/services/retrieval/repository"
)

// DocumentStat describes one indexed vault file.
type DocumentStat struct {
	Path      string
	Type      string
	Size      int64
	Fragments int
	LastSeen  time.Time
}

// Stats summarizes index state.
type Stats struct {
	State        State
	Documents    []DocumentStat
	TotalSize    int64
	Fragments    int
	IndexEntries int
	IndexVersion uint64
	Cache        repository.CacheStats
}

// CollectStats gathers document index statistics.
//
// Description:
//
//	Reads fingerprints and per-source fragment counts; does not touch
//	the vault. Documents are sorted by path.
func (m *Manager) CollectStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		State:        m.State(),
		IndexEntries: m.index.Len(),
		IndexVersion: m.index.Version(),
		Cache:        m.store.CacheStats(),
	}

	fingerprints, err := m.fingerprints.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("indexer: list fingerprints: %w", err)
	}
	for path, fp := range fingerprints {
		count, err := m.store.CountBySource(ctx, repository.FamilyDocuments, path)
		if err != nil {
			return Stats{}, err
		}
		stats.Documents = append(stats.Documents, DocumentStat{
			Path:      path,
			Type:      filepath.Ext(path),
			Size:      fp.Size,
			Fragments: count,
			LastSeen:  fp.LastChecked,
		})
		stats.TotalSize += fp.Size
		stats.Fragments += count
	}
	sort.Slice(stats.Documents, func(i, j int) bool {
		return stats.Documents[i].Path < stats.Documents[j].Path
	})
	return stats, nil
}
