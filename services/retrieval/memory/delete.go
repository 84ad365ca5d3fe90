// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

// Delete removes a conversation from memory.
//
// Description:
//
//	A soft delete flips the deletion mark on the conversation record,
//	an O(1) write; rows and index entries stay but search filters them
//	out. A hard delete removes the fragments, transcript, and record,
//	then rebuilds the memory index from the surviving stored vectors
//	without re-embedding anything.
func (m *Manager) Delete(ctx context.Context, convID string, hard bool) error {
	rec, err := m.GetRecord(ctx, convID)
	if err != nil {
		return err
	}

	if !hard {
		now := time.Now().UTC()
		rec.IsDeleted = true
		rec.DeletedAt = &now
		return m.putRecord(ctx, rec)
	}

	if err := m.removeRows(ctx, convID); err != nil {
		return err
	}
	return m.RebuildIndex(ctx)
}

// removeRows deletes a conversation's fragments, transcript, and record.
func (m *Manager) removeRows(ctx context.Context, convID string) error {
	if _, err := m.store.DeleteSource(ctx, repository.FamilyMemory, convID); err != nil {
		return fmt.Errorf("memory: delete fragments of %s: %w", convID, err)
	}
	if _, err := m.db.DeletePrefix(ctx, exchangePrefix(convID)); err != nil {
		return fmt.Errorf("memory: delete transcript of %s: %w", convID, err)
	}
	err := m.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Delete(recordKey(convID))
	})
	if err != nil {
		return fmt.Errorf("memory: delete record of %s: %w", convID, err)
	}
	return nil
}

// RebuildIndex republishes the memory index from stored fragments.
//
// Description:
//
//	Replays persisted vectors, so no embedding calls happen. Fragments
//	of soft-deleted conversations are included (search filters them);
//	only hard-deleted rows are gone. An empty store resets the index.
func (m *Manager) RebuildIndex(ctx context.Context) error {
	fragments, err := m.store.ListFamily(ctx, repository.FamilyMemory)
	if err != nil {
		return fmt.Errorf("memory: list fragments: %w", err)
	}
	if len(fragments) == 0 {
		m.index.Reset()
		return nil
	}

	entries := make([]vectorindex.Entry, 0, len(fragments))
	for _, f := range fragments {
		if len(f.Vector) == 0 {
			m.logger.Warn("memory fragment has no stored vector, skipping",
				slog.String("id", f.ID), slog.String("conversation", f.SourceKey))
			continue
		}
		entries = append(entries, vectorindex.Entry{FragmentID: f.ID, Vector: f.Vector})
	}
	if len(entries) == 0 {
		m.index.Reset()
		return nil
	}
	if err := m.index.Rebuild(entries); err != nil {
		return fmt.Errorf("memory: rebuild index: %w", err)
	}
	return nil
}

// PurgeDeleted hard-deletes every soft-deleted conversation and drops
// orphaned memory fragments whose conversation record is gone.
//
// Outputs:
//
//	int - Number of conversations purged.
func (m *Manager) PurgeDeleted(ctx context.Context) (int, error) {
	records := make(map[string]Record)
	err := m.db.IteratePrefix(ctx, recordPrefix, func(key, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		records[rec.ConversationID] = rec
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory: list records: %w", err)
	}

	purged := 0
	for convID, rec := range records {
		if !rec.IsDeleted {
			continue
		}
		if err := m.removeRows(ctx, convID); err != nil {
			return purged, err
		}
		purged++
	}

	// Orphan sweep: fragments whose conversation record vanished.
	sources, err := m.store.SourceKeys(ctx, repository.FamilyMemory)
	if err != nil {
		return purged, fmt.Errorf("memory: list sources: %w", err)
	}
	orphans := 0
	for _, source := range sources {
		if _, ok := records[source]; ok && !records[source].IsDeleted {
			continue
		}
		if _, ok := records[source]; ok {
			// Already removed above.
			continue
		}
		n, err := m.store.DeleteSource(ctx, repository.FamilyMemory, source)
		if err != nil {
			return purged, fmt.Errorf("memory: delete orphans of %s: %w", source, err)
		}
		orphans += n
	}
	if orphans > 0 {
		m.logger.Info("removed orphaned memory fragments", slog.Int("count", orphans))
	}

	if purged > 0 || orphans > 0 {
		if err := m.RebuildIndex(ctx); err != nil {
			return purged, err
		}
	}
	return purged, nil
}

// Stats summarizes memory state.
type Stats struct {
	Conversations        int
	DeletedConversations int
	Exchanges            int
	Fragments            int
	IndexEntries         int
}

// CollectStats gathers memory statistics.
func (m *Manager) CollectStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := m.db.IteratePrefix(ctx, recordPrefix, func(key, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		stats.Conversations++
		if rec.IsDeleted {
			stats.DeletedConversations++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("memory: count records: %w", err)
	}

	exchanges, err := m.db.CountPrefix(ctx, []byte("tx:"))
	if err != nil {
		return Stats{}, fmt.Errorf("memory: count exchanges: %w", err)
	}
	stats.Exchanges = exchanges

	fragments, err := m.store.Count(ctx, repository.FamilyMemory)
	if err != nil {
		return Stats{}, fmt.Errorf("memory: count fragments: %w", err)
	}
	stats.Fragments = fragments
	stats.IndexEntries = m.index.Len()
	return stats, nil
}
