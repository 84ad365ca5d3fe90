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
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/storage/badger"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for range texts {
		v, err := s.Embed(ctx, "")
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *stubEmbedder) {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewStore(db, 16, logger)
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}}
	mgr := NewManager(db, store, vectorindex.New(), embedder, cfg, logger)
	return mgr, embedder
}

func TestAppendAndShortTerm(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "first question", "first answer"))
	require.NoError(t, mgr.Append(ctx, "conv-1", "second question", "second answer"))
	require.NoError(t, mgr.Append(ctx, "conv-1", "third question", "third answer"))

	recent, err := mgr.ShortTerm(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, recent, 3)

	assert.Equal(t, "third question", recent[0].UserText)
	assert.Equal(t, "first question", recent[2].UserText)
	assert.Equal(t, uint64(2), recent[0].Sequence)
	assert.Equal(t, uint64(0), recent[2].Sequence)

	assert.Equal(t, 3, mgr.index.Len())
}

func TestShortTermWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxShortTermExchanges = 2
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	for _, u := range []string{"one", "two", "three"} {
		require.NoError(t, mgr.Append(ctx, "conv-1", u, "ack"))
	}

	recent, err := mgr.ShortTerm(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].UserText)
	assert.Equal(t, "two", recent[1].UserText)
}

func TestShortTermTokenBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxShortTermExchanges = 10
	// Each exchange below is ~100 chars, ~25 tokens. A 40-token budget
	// fits one exchange but not two.
	cfg.ShortTermTokenBudget = 40
	mgr, _ := newTestManager(t, cfg)
	ctx := context.Background()

	long := strings.Repeat("w", 50)
	require.NoError(t, mgr.Append(ctx, "conv-1", long, long))
	require.NoError(t, mgr.Append(ctx, "conv-1", "latest "+long, long))

	recent, err := mgr.ShortTerm(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, strings.HasPrefix(recent[0].UserText, "latest"))
}

func TestSearchLongTerm(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "where is the invoice", "in the archive"))
	require.NoError(t, mgr.Append(ctx, "conv-2", "unrelated chatter", "ok"))

	hits, err := mgr.SearchLongTerm(ctx, "invoice", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	scoped, err := mgr.SearchLongTerm(ctx, "invoice", SearchOptions{ConversationID: "conv-1"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "conv-1", scoped[0].ConversationID)
	assert.Contains(t, scoped[0].Text, "invoice")
}

func TestSearchLongTermEmptyIndex(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	hits, err := mgr.SearchLongTerm(context.Background(), "anything", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSoftDeleteHidesFromSearch(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "secret plans", "noted"))
	require.NoError(t, mgr.Delete(ctx, "conv-1", false))

	rec, err := mgr.GetRecord(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, rec.IsDeleted)
	require.NotNil(t, rec.DeletedAt)

	hits, err := mgr.SearchLongTerm(ctx, "secret", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Rows survive a soft delete.
	recent, err := mgr.ShortTerm(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, 1, mgr.index.Len())
}

func TestHardDeleteRemovesRows(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "keep me", "ok"))
	require.NoError(t, mgr.Append(ctx, "conv-2", "drop me", "ok"))

	require.NoError(t, mgr.Delete(ctx, "conv-2", true))

	_, err := mgr.GetRecord(ctx, "conv-2")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	recent, err := mgr.ShortTerm(ctx, "conv-2")
	require.NoError(t, err)
	assert.Empty(t, recent)

	// The other conversation and its index entry survive the rebuild.
	assert.Equal(t, 1, mgr.index.Len())
	hits, err := mgr.SearchLongTerm(ctx, "keep", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "conv-1", hits[0].ConversationID)
}

func TestDeleteUnknownConversation(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	err := mgr.Delete(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestAppendRevivesSoftDeleted(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "before delete", "ok"))
	require.NoError(t, mgr.Delete(ctx, "conv-1", false))
	require.NoError(t, mgr.Append(ctx, "conv-1", "after delete", "ok"))

	rec, err := mgr.GetRecord(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, rec.IsDeleted)
	assert.Nil(t, rec.DeletedAt)

	hits, err := mgr.SearchLongTerm(ctx, "delete", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestPurgeDeleted(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "keep", "ok"))
	require.NoError(t, mgr.Append(ctx, "conv-2", "purge", "ok"))
	require.NoError(t, mgr.Delete(ctx, "conv-2", false))

	purged, err := mgr.PurgeDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = mgr.GetRecord(ctx, "conv-2")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	stats, err := mgr.CollectStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 0, stats.DeletedConversations)
	assert.Equal(t, 1, stats.Fragments)
	assert.Equal(t, 1, stats.Exchanges)
	assert.Equal(t, 1, stats.IndexEntries)
}

func TestEmbedFailureKeepsTranscript(t *testing.T) {
	mgr, embedder := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	embedder.err = errors.New("embedding service down")
	err := mgr.Append(ctx, "conv-1", "question", "answer")
	require.Error(t, err)

	// The transcript entry was written before embedding.
	recent, err := mgr.ShortTerm(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, 0, mgr.index.Len())

	// Recovery: the next append gets the next sequence number.
	embedder.err = nil
	require.NoError(t, mgr.Append(ctx, "conv-1", "retry", "ok"))
	recent, err = mgr.ShortTerm(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(1), recent[0].Sequence)
}

func TestGetContext(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, mgr.Append(ctx, "conv-1", "hello", "hi there"))

	text, err := mgr.GetContext(ctx, "conv-1", "hello")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(text, "Recent conversation context:\n"))
	assert.Contains(t, text, "1. User: hello\n   Assistant: hi there")
	assert.Contains(t, text, "Relevant past exchanges from this conversation:\n")
	assert.False(t, strings.HasSuffix(text, "\n"))
}

func TestGetContextEmptyConversation(t *testing.T) {
	mgr, _ := newTestManager(t, DefaultConfig())

	text, err := mgr.GetContext(context.Background(), "conv-none", "query")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestDistill(t *testing.T) {
	t.Run("small exchange untouched", func(t *testing.T) {
		got := distill("hi", "hello", 1000)
		assert.Equal(t, "User: hi\n\nAssistant: hello", got)
	})

	t.Run("oversized exchange truncates both sides", func(t *testing.T) {
		user := strings.Repeat("u", 500)
		assistant := strings.Repeat("a", 500)
		got := distill(user, assistant, 300)
		assert.Contains(t, got, strings.Repeat("u", 100)+"...")
		assert.Contains(t, got, strings.Repeat("a", 100)+"...")
		assert.Less(t, len(got), 300)
	})
}
