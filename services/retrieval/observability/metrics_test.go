// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCycle(true, 1.5)
	m.RecordCycle(true, 0.2)
	m.RecordCycle(false, 0.1)

	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error cycles = %v, want 1", got)
	}
}

func TestGaugeMirrors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetIndexState("doc", 42, 7)
	m.SetEmbeddingUsage(10, 2500, 1)
	m.SetCacheCounters(100, 20, 5)
	m.AddFragments("doc", 12)

	if got := testutil.ToFloat64(m.IndexEntries.WithLabelValues("doc")); got != 42 {
		t.Errorf("index entries = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.IndexVersion.WithLabelValues("doc")); got != 7 {
		t.Errorf("index version = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.EmbeddingTokens); got != 2500 {
		t.Errorf("embedding tokens = %v, want 2500", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses); got != 20 {
		t.Errorf("cache misses = %v, want 20", got)
	}
	if got := testutil.ToFloat64(m.FragmentsIndexedTotal.WithLabelValues("doc")); got != 12 {
		t.Errorf("fragments indexed = %v, want 12", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different instances")
	}
}
