// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repository stores text fragments in a two-tier layout: a
// bounded in-memory cache over a durable BadgerDB store.
//
// The durable tier is canonical. Every write lands there first; the
// cache holds a strict subset and can be dropped at any time without
// data loss. Fragments are grouped into families (documents vs
// conversational memory) that never mix in lookups.
package repository

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Family partitions fragments by origin.
type Family string

const (
	// FamilyDocuments holds fragments chunked from vault files.
	FamilyDocuments Family = "doc"

	// FamilyMemory holds fragments distilled from conversation
	// exchanges.
	FamilyMemory Family = "mem"
)

// Fragment is one embeddable unit of text with its provenance.
type Fragment struct {
	// ID is the stable unique identifier (UUID).
	ID string

	// Family is the fragment's partition.
	Family Family

	// SourceKey identifies the origin: a vault-relative file path for
	// documents, a conversation id for memory.
	SourceKey string

	// Text is the fragment content.
	Text string

	// ContentHash is the SHA-256 hex digest of Text.
	ContentHash string

	// SequenceIndex is the fragment's position within its source.
	// Unique per (Family, SourceKey).
	SequenceIndex int

	// Vector is the embedding. Persisted so index rebuilds do not
	// re-embed unchanged content.
	Vector []float32

	// Metadata carries optional origin attributes.
	Metadata map[string]string

	// CreatedAt is when the fragment was stored.
	CreatedAt time.Time
}

// storedFragment is the durable encoding. The vector travels as packed
// little-endian float32 bytes instead of a JSON number array, which
// keeps records roughly 4x smaller.
type storedFragment struct {
	ID            string            `json:"id"`
	Family        string            `json:"family"`
	SourceKey     string            `json:"source_key"`
	Text          string            `json:"text"`
	ContentHash   string            `json:"content_hash"`
	SequenceIndex int               `json:"sequence_index"`
	VectorData    []byte            `json:"vector_data,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func encodeFragment(f *Fragment) ([]byte, error) {
	stored := storedFragment{
		ID:            f.ID,
		Family:        string(f.Family),
		SourceKey:     f.SourceKey,
		Text:          f.Text,
		ContentHash:   f.ContentHash,
		SequenceIndex: f.SequenceIndex,
		VectorData:    encodeVector(f.Vector),
		Metadata:      f.Metadata,
		CreatedAt:     f.CreatedAt,
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal fragment %s: %w", f.ID, err)
	}
	return data, nil
}

func decodeFragment(data []byte) (*Fragment, error) {
	var stored storedFragment
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal fragment: %w", err)
	}
	vector, err := decodeVector(stored.VectorData)
	if err != nil {
		return nil, fmt.Errorf("fragment %s: %w", stored.ID, err)
	}
	return &Fragment{
		ID:            stored.ID,
		Family:        Family(stored.Family),
		SourceKey:     stored.SourceKey,
		Text:          stored.Text,
		ContentHash:   stored.ContentHash,
		SequenceIndex: stored.SequenceIndex,
		Vector:        vector,
		Metadata:      stored.Metadata,
		CreatedAt:     stored.CreatedAt,
	}, nil
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks little-endian bytes into a float32 slice.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector data length %d is not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}
