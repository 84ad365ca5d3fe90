// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex implements a flat in-memory similarity index.
//
// The index holds every vector in a single immutable snapshot published
// through an atomic pointer. Readers search whatever snapshot is current
// with no locks; writers build a replacement snapshot aside and swap it
// in atomically, serialized by a mutex among themselves. A search never
// observes a half-applied mutation.
//
// The index supports append and full rebuild only. Point deletion is
// deliberately absent: callers that remove content rebuild from their
// canonical store instead.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Entry pairs a fragment id with its vector.
type Entry struct {
	FragmentID string
	Vector     []float32
}

// Result is a single search hit.
type Result struct {
	FragmentID string
	Score      float32
}

// snapshot is an immutable view of the index contents. Norms are
// precomputed so a search costs one dot product per entry.
type snapshot struct {
	entries []Entry
	norms   []float32
	dim     int
	version uint64
}

var emptySnapshot = &snapshot{}

// Index is a flat cosine-similarity index.
//
// Thread Safety: Search and Len are lock-free and safe to call
// concurrently with mutations. Append, Rebuild, and Reset serialize
// among themselves.
type Index struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex
	version atomic.Uint64
}

// New returns an empty index.
func New() *Index {
	idx := &Index{}
	idx.current.Store(emptySnapshot)
	return idx
}

// Len returns the number of entries in the current snapshot.
func (idx *Index) Len() int {
	return len(idx.current.Load().entries)
}

// Dim returns the vector dimensionality of the current snapshot, or 0
// when the index is empty.
func (idx *Index) Dim() int {
	return idx.current.Load().dim
}

// Version returns the publish counter. It increases by one on every
// successful Append, Rebuild, or Reset, so callers can detect staleness.
func (idx *Index) Version() uint64 {
	return idx.current.Load().version
}

// Append adds entries to the index.
//
// Description:
//
//	Copies the current snapshot, adds the new entries, and publishes
//	the result. Vectors must share the dimensionality of the existing
//	contents; on mismatch nothing is published and the index is
//	unchanged.
//
// Outputs:
//
//	error - *ConsistencyError on dimension mismatch or empty vector.
func (idx *Index) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.current.Load()
	dim := cur.dim
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return &ConsistencyError{Reason: "empty vector for fragment " + e.FragmentID}
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return &ConsistencyError{Reason: "dimension mismatch for fragment " + e.FragmentID}
		}
	}

	next := &snapshot{
		entries: make([]Entry, 0, len(cur.entries)+len(entries)),
		norms:   make([]float32, 0, len(cur.entries)+len(entries)),
		dim:     dim,
	}
	next.entries = append(next.entries, cur.entries...)
	next.norms = append(next.norms, cur.norms...)
	for _, e := range entries {
		next.entries = append(next.entries, e)
		next.norms = append(next.norms, norm(e.Vector))
	}

	idx.publish(next)
	return nil
}

// Rebuild replaces the index contents wholesale.
//
// Description:
//
//	Builds a fresh snapshot from the given entries and publishes it.
//	An empty entry set returns ErrEmptyRebuild and leaves the current
//	snapshot in place; use Reset for a deliberate wipe.
//
// Outputs:
//
//	error - ErrEmptyRebuild for an empty set, *ConsistencyError for
//	mixed dimensionality.
func (idx *Index) Rebuild(entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyRebuild
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	dim := 0
	next := &snapshot{
		entries: make([]Entry, 0, len(entries)),
		norms:   make([]float32, 0, len(entries)),
	}
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return &ConsistencyError{Reason: "empty vector for fragment " + e.FragmentID}
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return &ConsistencyError{Reason: "dimension mismatch for fragment " + e.FragmentID}
		}
		next.entries = append(next.entries, e)
		next.norms = append(next.norms, norm(e.Vector))
	}
	next.dim = dim

	idx.publish(next)
	return nil
}

// Reset publishes an empty snapshot. This is the deliberate wipe path
// for the legitimate all-content-removed case.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.publish(&snapshot{})
}

func (idx *Index) publish(next *snapshot) {
	next.version = idx.version.Add(1)
	idx.current.Store(next)
}

// Search returns the k entries most similar to the query vector.
//
// Description:
//
//	Scores every entry by cosine similarity against the snapshot
//	current at call time. Results come back in non-increasing score
//	order; equal scores tie-break by ascending fragment id so repeated
//	searches over identical contents are deterministic.
//
// Inputs:
//
//	ctx - Checked for cancellation before scoring.
//	query - Query vector. Must match the index dimensionality.
//	k - Maximum results. Values above the entry count are clamped.
//
// Outputs:
//
//	[]Result - Up to k hits. Empty index yields an empty result, not
//	an error.
//	error - *ConsistencyError on dimension mismatch.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := idx.current.Load()
	if len(snap.entries) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != snap.dim {
		return nil, &ConsistencyError{Reason: "query dimension does not match index"}
	}

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, &ConsistencyError{Reason: "query vector has zero norm"}
	}

	results := make([]Result, 0, len(snap.entries))
	for i, e := range snap.entries {
		score := dot(query, e.Vector)
		denom := queryNorm * snap.norms[i]
		if denom > 0 {
			score /= denom
		}
		results = append(results, Result{FragmentID: e.FragmentID, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FragmentID < results[j].FragmentID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
