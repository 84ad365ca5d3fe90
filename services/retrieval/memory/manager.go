// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory maintains two-tier conversational memory.
//
// The short-term tier is a literal transcript window: the last N
// exchanges of a conversation, replayed verbatim. The long-term tier
// distills each exchange into an embedded fragment searchable across
// the whole history. Conversations support soft delete (hidden from
// search, still stored) and hard delete (rows removed, memory index
// rebuilt from the surviving stored vectors).
//
// The memory index is separate from the document index; the two
// families never mix in search results.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/services/retrieval/embed"
	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/storage/badger"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

// Config tunes memory behavior.
type Config struct {
	// MaxShortTermExchanges is the transcript window size.
	MaxShortTermExchanges int

	// ShortTermTokenBudget bounds the window by estimated tokens
	// (chars/4). Zero disables the bound.
	ShortTermTokenBudget int

	// MemoryChunkSize caps the distilled memory text length. Oversized
	// exchanges are truncated proportionally.
	MemoryChunkSize int

	// RelevanceThreshold drops long-term hits below this similarity.
	RelevanceThreshold float32

	// MaxMemoryResults caps long-term hits per search.
	MaxMemoryResults int
}

// DefaultConfig returns the production memory configuration.
func DefaultConfig() Config {
	return Config{
		MaxShortTermExchanges: 10,
		ShortTermTokenBudget:  2000,
		MemoryChunkSize:       1000,
		RelevanceThreshold:    0.3,
		MaxMemoryResults:      5,
	}
}

// Exchange is one user/assistant turn of a conversation.
type Exchange struct {
	Sequence      uint64    `json:"sequence"`
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Record is conversation-level metadata.
type Record struct {
	ConversationID string     `json:"conversation_id"`
	CreatedAt      time.Time  `json:"created_at"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func recordKey(convID string) []byte {
	return []byte("cm:" + convID)
}

var recordPrefix = []byte("cm:")

func exchangeKey(convID string, seq uint64) []byte {
	key := make([]byte, 0, 3+len(convID)+1+8)
	key = append(key, "tx:"...)
	key = append(key, convID...)
	key = append(key, ':')
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(key, seqBytes[:]...)
}

func exchangePrefix(convID string) []byte {
	return []byte("tx:" + convID + ":")
}

// Manager is the conversational memory service.
//
// Thread Safety: safe for concurrent use across conversations.
// Concurrent appends to the same conversation may race on sequence
// numbers; callers serialize per conversation.
type Manager struct {
	db       *badger.DB
	store    *repository.Store
	index    *vectorindex.Index
	embedder embed.Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewManager creates a memory Manager. The index must be dedicated to
// memory fragments.
func NewManager(db *badger.DB, store *repository.Store, index *vectorindex.Index, embedder embed.Embedder, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		db:       db,
		store:    store,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Append records one exchange and distills it into long-term memory.
//
// Description:
//
//	Stores the transcript entry, embeds the distilled memory text, and
//	appends the fragment to the memory index. Appending to a
//	soft-deleted conversation revives it. On embedding failure the
//	transcript entry survives but no fragment is created; the exchange
//	stays out of long-term memory.
func (m *Manager) Append(ctx context.Context, convID, userText, assistantText string) error {
	if convID == "" {
		return errors.New("memory: conversation id is required")
	}

	if err := m.ensureRecord(ctx, convID); err != nil {
		return err
	}

	seq, err := m.nextSequence(ctx, convID)
	if err != nil {
		return err
	}

	exchange := Exchange{
		Sequence:      seq,
		UserText:      userText,
		AssistantText: assistantText,
		CreatedAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(exchange)
	if err != nil {
		return fmt.Errorf("memory: marshal exchange: %w", err)
	}
	err = m.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set(exchangeKey(convID, seq), data)
	})
	if err != nil {
		return fmt.Errorf("memory: store exchange: %w", err)
	}

	text := distill(userText, assistantText, m.cfg.MemoryChunkSize)
	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("memory: embed exchange %d of %s: %w", seq, convID, err)
	}

	sum := sha256.Sum256([]byte(text))
	fragment := &repository.Fragment{
		Family:        repository.FamilyMemory,
		SourceKey:     convID,
		Text:          text,
		ContentHash:   hex.EncodeToString(sum[:]),
		SequenceIndex: int(seq),
		Vector:        vector,
	}
	if err := m.store.Put(ctx, fragment); err != nil {
		return fmt.Errorf("memory: store fragment: %w", err)
	}
	if err := m.index.Append([]vectorindex.Entry{{FragmentID: fragment.ID, Vector: vector}}); err != nil {
		return fmt.Errorf("memory: index fragment: %w", err)
	}
	return nil
}

// ShortTerm returns the most recent exchanges, newest first.
//
// Description:
//
//	The window is bounded by MaxShortTermExchanges and, when
//	configured, by the estimated token budget. The budget drops the
//	oldest exchanges first.
func (m *Manager) ShortTerm(ctx context.Context, convID string) ([]Exchange, error) {
	var exchanges []Exchange
	err := m.db.IteratePrefix(ctx, exchangePrefix(convID), func(key, value []byte) error {
		var e Exchange
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		exchanges = append(exchanges, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: load transcript: %w", err)
	}

	// Keys are big-endian sequence numbers, so iteration order is
	// chronological. Keep the tail of the window.
	if n := m.cfg.MaxShortTermExchanges; n > 0 && len(exchanges) > n {
		exchanges = exchanges[len(exchanges)-n:]
	}
	if budget := m.cfg.ShortTermTokenBudget; budget > 0 {
		for len(exchanges) > 1 && estimateWindowTokens(exchanges) > budget {
			exchanges = exchanges[1:]
		}
	}

	// Newest first.
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}

// GetRecord returns the conversation record, including soft-deleted
// conversations.
func (m *Manager) GetRecord(ctx context.Context, convID string) (Record, error) {
	var rec Record
	err := m.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(recordKey(convID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return Record{}, ErrConversationNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("memory: load record %s: %w", convID, err)
	}
	return rec, nil
}

// ensureRecord creates the conversation record if needed and clears a
// soft-delete mark.
func (m *Manager) ensureRecord(ctx context.Context, convID string) error {
	rec, err := m.GetRecord(ctx, convID)
	switch {
	case errors.Is(err, ErrConversationNotFound):
		rec = Record{ConversationID: convID, CreatedAt: time.Now().UTC()}
	case err != nil:
		return err
	case rec.IsDeleted:
		m.logger.Info("reviving soft-deleted conversation", slog.String("conversation", convID))
		rec.IsDeleted = false
		rec.DeletedAt = nil
	default:
		return nil
	}
	return m.putRecord(ctx, rec)
}

func (m *Manager) putRecord(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("memory: marshal record: %w", err)
	}
	err = m.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set(recordKey(rec.ConversationID), data)
	})
	if err != nil {
		return fmt.Errorf("memory: store record %s: %w", rec.ConversationID, err)
	}
	return nil
}

// nextSequence returns the next transcript position for a conversation.
func (m *Manager) nextSequence(ctx context.Context, convID string) (uint64, error) {
	n, err := m.db.CountPrefix(ctx, exchangePrefix(convID))
	if err != nil {
		return 0, fmt.Errorf("memory: next sequence: %w", err)
	}
	return uint64(n), nil
}

// distill builds the long-term memory text for an exchange. Oversized
// exchanges truncate each side to a third of the cap, leaving headroom
// for the role labels.
func distill(userText, assistantText string, maxSize int) string {
	text := "User: " + userText + "\n\nAssistant: " + assistantText
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}
	part := maxSize / 3
	return "User: " + truncate(userText, part) + "\n\nAssistant: " + truncate(assistantText, part)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// estimateWindowTokens estimates tokens for a window at chars/4.
func estimateWindowTokens(exchanges []Exchange) int {
	chars := 0
	for _, e := range exchanges {
		chars += len(e.UserText) + len(e.AssistantText)
	}
	return chars / 4
}
