// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestSearch_EmptyIndex(t *testing.T) {
	idx := New()
	results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestAppend_And_Search(t *testing.T) {
	idx := New()
	err := idx.Append([]Entry{
		{FragmentID: "a", Vector: []float32{1, 0}},
		{FragmentID: "b", Vector: []float32{0, 1}},
		{FragmentID: "c", Vector: []float32{0.7, 0.7}},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	results, err := idx.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].FragmentID != "a" {
		t.Errorf("top hit = %s, want a", results[0].FragmentID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not in non-increasing order: %v", results)
	}
}

func TestSearch_TieBreaksByFragmentID(t *testing.T) {
	idx := New()
	// Same vector, so identical scores for any query.
	err := idx.Append([]Entry{
		{FragmentID: "zeta", Vector: []float32{1, 1}},
		{FragmentID: "alpha", Vector: []float32{1, 1}},
		{FragmentID: "mid", Vector: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	results, err := idx.Search(context.Background(), []float32{1, 1}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if results[i].FragmentID != w {
			t.Errorf("position %d = %s, want %s", i, results[i].FragmentID, w)
		}
	}
}

func TestSearch_KClamped(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "only", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	results, err := idx.Search(context.Background(), []float32{1}, 100)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "a", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, err := idx.Search(context.Background(), []float32{1, 0, 0}, 1)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConsistencyError, got %v", err)
	}
}

func TestAppend_DimensionMismatch(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "a", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := idx.Append([]Entry{{FragmentID: "b", Vector: []float32{1, 0, 0}}})
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConsistencyError, got %v", err)
	}
	if idx.Len() != 1 {
		t.Errorf("failed append mutated index: len = %d", idx.Len())
	}
}

func TestRebuild_ReplacesContents(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "old", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := idx.Rebuild([]Entry{
		{FragmentID: "new1", Vector: []float32{0, 1}},
		{FragmentID: "new2", Vector: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("len = %d, want 2", idx.Len())
	}
	results, err := idx.Search(context.Background(), []float32{0, 1}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.FragmentID == "old" {
			t.Error("old entry survived rebuild")
		}
	}
}

func TestRebuild_EmptyKeepsSnapshot(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "keep", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	version := idx.Version()

	err := idx.Rebuild(nil)
	if !errors.Is(err, ErrEmptyRebuild) {
		t.Fatalf("expected ErrEmptyRebuild, got %v", err)
	}
	if idx.Len() != 1 {
		t.Errorf("snapshot replaced on empty rebuild: len = %d", idx.Len())
	}
	if idx.Version() != version {
		t.Errorf("version advanced on failed rebuild")
	}
}

func TestReset_WipesIndex(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "a", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before := idx.Version()
	idx.Reset()
	if idx.Len() != 0 {
		t.Errorf("len = %d after Reset, want 0", idx.Len())
	}
	if idx.Version() <= before {
		t.Errorf("Reset did not advance version")
	}
	if idx.Dim() != 0 {
		t.Errorf("Dim = %d after Reset, want 0", idx.Dim())
	}
}

func TestVersion_AdvancesPerPublish(t *testing.T) {
	idx := New()
	if idx.Version() != 0 {
		t.Fatalf("fresh index version = %d, want 0", idx.Version())
	}
	if err := idx.Append([]Entry{{FragmentID: "a", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx.Version() != 1 {
		t.Errorf("version = %d after append, want 1", idx.Version())
	}
	if err := idx.Rebuild([]Entry{{FragmentID: "b", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if idx.Version() != 2 {
		t.Errorf("version = %d after rebuild, want 2", idx.Version())
	}
}

func TestSearch_Deterministic(t *testing.T) {
	idx := New()
	var entries []Entry
	for i := 0; i < 50; i++ {
		entries = append(entries, Entry{
			FragmentID: fmt.Sprintf("frag-%02d", i),
			Vector:     []float32{float32(i % 7), float32(i % 3), 1},
		})
	}
	if err := idx.Rebuild(entries); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	query := []float32{1, 2, 3}
	first, err := idx.Search(context.Background(), query, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := idx.Search(context.Background(), query, 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for i := range first {
			if first[i] != again[i] {
				t.Fatalf("run %d differs at position %d", run, i)
			}
		}
	}
}

func TestConcurrentSearchDuringMutation(t *testing.T) {
	idx := New()
	if err := idx.Append([]Entry{{FragmentID: "seed", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var writerWG, readerWG sync.WaitGroup
	stop := make(chan struct{})

	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			entries := []Entry{
				{FragmentID: fmt.Sprintf("r-%d-a", i), Vector: []float32{1, 0}},
				{FragmentID: fmt.Sprintf("r-%d-b", i), Vector: []float32{0, 1}},
			}
			if err := idx.Rebuild(entries); err != nil {
				t.Errorf("Rebuild: %v", err)
				return
			}
		}
	}()

	for g := 0; g < 4; g++ {
		readerWG.Add(1)
		go func() {
			defer readerWG.Done()
			for i := 0; i < 200; i++ {
				results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
				if err != nil {
					t.Errorf("Search: %v", err)
					return
				}
				// Every observed snapshot is internally consistent.
				for j := 1; j < len(results); j++ {
					if results[j-1].Score < results[j].Score {
						t.Errorf("unsorted results: %v", results)
						return
					}
				}
			}
		}()
	}

	readerWG.Wait()
	close(stop)
	writerWG.Wait()
}
