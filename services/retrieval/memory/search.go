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
	"fmt"
	"strings"

	"github.com/AleutianAI/kodiak/services/retrieval/repository"
)

// Hit is one long-term memory search result.
type Hit struct {
	ConversationID string
	Text           string
	Score          float32
	SequenceIndex  int
}

// SearchOptions narrows a long-term search.
type SearchOptions struct {
	// ConversationID restricts hits to one conversation when set.
	ConversationID string
}

// SearchLongTerm finds past exchanges relevant to a query.
//
// Description:
//
//	Embeds the query and searches the memory index with headroom over
//	MaxMemoryResults, because deleted-conversation hits and
//	below-threshold scores are filtered afterwards. Soft-deleted
//	conversations never surface here even though their rows remain.
func (m *Manager) SearchLongTerm(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if m.index.Len() == 0 {
		return nil, nil
	}

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	// Headroom for post-filtering.
	k := m.cfg.MaxMemoryResults * 4
	if k < 8 {
		k = 8
	}
	results, err := m.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("memory: search index: %w", err)
	}

	ids := make([]string, 0, len(results))
	scores := make(map[string]float32, len(results))
	for _, r := range results {
		if r.Score < m.cfg.RelevanceThreshold {
			continue
		}
		ids = append(ids, r.FragmentID)
		scores[r.FragmentID] = r.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	fragments, err := m.store.GetMany(ctx, repository.FamilyMemory, ids)
	if err != nil {
		return nil, fmt.Errorf("memory: load fragments: %w", err)
	}

	deleted := make(map[string]bool)
	var hits []Hit
	for _, f := range fragments {
		if opts.ConversationID != "" && f.SourceKey != opts.ConversationID {
			continue
		}
		isDeleted, known := deleted[f.SourceKey]
		if !known {
			rec, err := m.GetRecord(ctx, f.SourceKey)
			if err != nil {
				// Orphaned fragment; treat as deleted.
				isDeleted = true
			} else {
				isDeleted = rec.IsDeleted
			}
			deleted[f.SourceKey] = isDeleted
		}
		if isDeleted {
			continue
		}
		hits = append(hits, Hit{
			ConversationID: f.SourceKey,
			Text:           f.Text,
			Score:          scores[f.ID],
			SequenceIndex:  f.SequenceIndex,
		})
		if len(hits) >= m.cfg.MaxMemoryResults {
			break
		}
	}
	return hits, nil
}

// GetContext assembles the memory portion of a prompt.
//
// Description:
//
//	Combines the short-term transcript window (chronological, numbered)
//	with relevant long-term exchanges from the same conversation.
//	Returns an empty string when the conversation has no usable memory.
func (m *Manager) GetContext(ctx context.Context, convID, query string) (string, error) {
	var b strings.Builder

	recent, err := m.ShortTerm(ctx, convID)
	if err != nil {
		return "", err
	}
	if len(recent) > 0 {
		b.WriteString("Recent conversation context:\n")
		// ShortTerm is newest first; display chronologically.
		for i := len(recent) - 1; i >= 0; i-- {
			e := recent[i]
			n := len(recent) - i
			fmt.Fprintf(&b, "%d. User: %s\n   Assistant: %s\n", n, e.UserText, e.AssistantText)
		}
	}

	hits, err := m.SearchLongTerm(ctx, query, SearchOptions{ConversationID: convID})
	if err != nil {
		return "", err
	}
	if len(hits) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Relevant past exchanges from this conversation:\n")
		for i, h := range hits {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h.Text)
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
