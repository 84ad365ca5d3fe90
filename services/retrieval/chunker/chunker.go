// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunker splits document text into overlapping fragments for
// embedding.
//
// The splitter prefers sentence boundaries: when a cut point falls
// mid-text, it searches the trailing window of the candidate chunk for
// the last terminator (. ! ?) followed by whitespace and cuts there
// instead. Consecutive chunks overlap so context is not lost at the
// seams. Undersized chunks are merged into their predecessor when the
// combined chunk still fits the maximum; otherwise they stand alone.
//
// All sizes are measured in runes, not bytes, so multi-byte text is
// never cut inside a code point.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// boundaryWindow is how far back from a cut point the splitter looks
// for a sentence terminator.
const boundaryWindow = 500

// Config controls chunk sizing.
type Config struct {
	// MaxChunkSize is the hard upper bound on chunk length in runes.
	MaxChunkSize int

	// MinChunkSize is the merge threshold. Chunks shorter than this are
	// appended to the previous chunk.
	MinChunkSize int

	// Overlap is how many runes consecutive chunks share.
	// Must be smaller than MaxChunkSize.
	Overlap int
}

// DefaultConfig returns the sizing used for document indexing.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: 1000,
		MinChunkSize: 100,
		Overlap:      200,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MaxChunkSize <= 0 {
		return &ChunkingError{Reason: "max chunk size must be positive"}
	}
	if c.MinChunkSize < 0 {
		return &ChunkingError{Reason: "min chunk size must not be negative"}
	}
	if c.MinChunkSize > c.MaxChunkSize {
		return &ChunkingError{Reason: "min chunk size exceeds max chunk size"}
	}
	if c.Overlap < 0 {
		return &ChunkingError{Reason: "overlap must not be negative"}
	}
	if c.Overlap >= c.MaxChunkSize {
		return &ChunkingError{Reason: "overlap must be smaller than max chunk size"}
	}
	return nil
}

// Chunk is one piece of a split document.
type Chunk struct {
	// Text is the chunk content, trimmed of surrounding whitespace.
	Text string

	// Sequence is the zero-based position of the chunk within its
	// source document.
	Sequence int
}

// Split divides text into chunks per the configuration.
//
// Description:
//
//	Empty or whitespace-only input yields no chunks and no error. Text
//	that fits within MaxChunkSize becomes a single chunk. Longer text
//	is cut at sentence boundaries where possible, with Overlap runes
//	carried between consecutive chunks.
//
// Inputs:
//
//	text - Document content. Must be valid UTF-8.
//	cfg - Sizing configuration.
//
// Outputs:
//
//	[]Chunk - Chunks in document order with contiguous Sequence values.
//	error - *ChunkingError on invalid config or invalid UTF-8.
func Split(text string, cfg Config) ([]Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(text) {
		return nil, &ChunkingError{Reason: "text is not valid UTF-8"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= cfg.MaxChunkSize {
		return []Chunk{{Text: strings.TrimSpace(text), Sequence: 0}}, nil
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + cfg.MaxChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			if boundary := findSentenceBoundary(runes, start, end); boundary > start {
				end = boundary + 1
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}

		if end >= len(runes) {
			break
		}
		next := end - cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	merged := mergeSmall(pieces, cfg.MinChunkSize, cfg.MaxChunkSize)

	chunks := make([]Chunk, 0, len(merged))
	for i, piece := range merged {
		chunks = append(chunks, Chunk{
			Text:     truncateRunes(piece, cfg.MaxChunkSize),
			Sequence: i,
		})
	}
	return chunks, nil
}

// findSentenceBoundary returns the index of the last sentence terminator
// followed by whitespace within the trailing window of runes[start:end],
// or -1 if none exists.
func findSentenceBoundary(runes []rune, start, end int) int {
	searchStart := end - boundaryWindow
	if searchStart < start {
		searchStart = start
	}
	for i := end - 1; i >= searchStart; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				return i
			}
		}
	}
	return -1
}

// mergeSmall folds pieces shorter than min into their predecessor,
// but only when the combined piece stays within max; otherwise the
// short piece is kept on its own so no text is lost to the hard cut.
// A leading short piece has no predecessor and is kept as is.
func mergeSmall(pieces []string, min, max int) []string {
	if min <= 0 {
		return pieces
	}
	var merged []string
	for _, piece := range pieces {
		if len(merged) > 0 && utf8.RuneCountInString(piece) < min {
			prev := merged[len(merged)-1]
			if utf8.RuneCountInString(prev)+1+utf8.RuneCountInString(piece) <= max {
				merged[len(merged)-1] = prev + " " + piece
				continue
			}
		}
		merged = append(merged, piece)
	}
	return merged
}

// truncateRunes hard-cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
