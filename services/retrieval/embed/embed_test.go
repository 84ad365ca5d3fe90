// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

// fakeClient records requests and returns canned responses.
type fakeClient struct {
	lastInputs []string
	response   openai.EmbeddingResponse
	err        error
	calls      int
}

func (f *fakeClient) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if req, ok := conv.(openai.EmbeddingRequest); ok {
		if inputs, ok := req.Input.([]string); ok {
			f.lastInputs = inputs
		}
	}
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	return f.response, nil
}

func responseFor(vectors ...[]float32) openai.EmbeddingResponse {
	resp := openai.EmbeddingResponse{}
	for i, v := range vectors {
		resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: v})
	}
	resp.Usage.TotalTokens = 42
	return resp
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateway_EmbedBatch(t *testing.T) {
	client := &fakeClient{response: responseFor([]float32{1, 0}, []float32{0, 1})}
	g := newGateway(client, Config{Model: openai.SmallEmbedding3}, testLogger())

	vectors, err := g.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Errorf("vectors not aligned with inputs: %v", vectors)
	}
	if client.calls != 1 {
		t.Errorf("expected one batched call, got %d", client.calls)
	}
}

func TestGateway_Embed(t *testing.T) {
	client := &fakeClient{response: responseFor([]float32{0.5, 0.5})}
	g := newGateway(client, Config{Model: openai.SmallEmbedding3}, testLogger())

	vector, err := g.Embed(context.Background(), "solo")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 2 {
		t.Errorf("got %d dims, want 2", len(vector))
	}
}

func TestGateway_TruncatesOversizedInput(t *testing.T) {
	client := &fakeClient{response: responseFor([]float32{1})}
	g := newGateway(client, Config{Model: openai.SmallEmbedding3}, testLogger())

	long := strings.Repeat("x", maxInputChars+500)
	if _, err := g.EmbedBatch(context.Background(), []string{long}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(client.lastInputs[0]) != maxInputChars {
		t.Errorf("input not truncated: %d chars", len(client.lastInputs[0]))
	}
	if g.Usage().Truncations != 1 {
		t.Errorf("truncations = %d, want 1", g.Usage().Truncations)
	}
}

func TestGateway_TruncationKeepsValidUTF8(t *testing.T) {
	client := &fakeClient{response: responseFor([]float32{1})}
	g := newGateway(client, Config{Model: openai.SmallEmbedding3}, testLogger())

	// Pad so a three-byte code point straddles the cut position.
	long := strings.Repeat("x", maxInputChars-4) + strings.Repeat("世", 200)
	if _, err := g.EmbedBatch(context.Background(), []string{long}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	sent := client.lastInputs[0]
	if len(sent) > maxInputChars {
		t.Errorf("input not truncated: %d bytes", len(sent))
	}
	if !utf8.ValidString(sent) {
		t.Errorf("truncated input is not valid UTF-8: %q", sent[len(sent)-4:])
	}
	if !strings.HasSuffix(sent, "世") {
		t.Errorf("expected cut before the split code point, got suffix %q", sent[len(sent)-4:])
	}
}

func TestGateway_EmptyBatch(t *testing.T) {
	client := &fakeClient{}
	g := newGateway(client, Config{}, testLogger())

	vectors, err := g.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil vectors, got %v", vectors)
	}
	if client.calls != 0 {
		t.Errorf("no service call expected, got %d", client.calls)
	}
}

func TestGateway_ServiceError(t *testing.T) {
	cause := errors.New("boom")
	client := &fakeClient{err: cause}
	g := newGateway(client, Config{}, testLogger())

	_, err := g.EmbedBatch(context.Background(), []string{"a"})
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ServiceError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not wrapped: %v", err)
	}
}

func TestGateway_CountMismatch(t *testing.T) {
	client := &fakeClient{response: responseFor([]float32{1})}
	g := newGateway(client, Config{}, testLogger())

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	var cm *CountMismatchError
	if !errors.As(err, &cm) {
		t.Fatalf("expected *CountMismatchError, got %v", err)
	}
	if cm.Want != 2 || cm.Got != 1 {
		t.Errorf("mismatch fields = %+v", cm)
	}
}

func TestGateway_UsageAccounting(t *testing.T) {
	client := &fakeClient{response: responseFor([]float32{1})}
	g := newGateway(client, Config{}, testLogger())

	if _, err := g.EmbedBatch(context.Background(), []string{"abcd"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	usage := g.Usage()
	if usage.Requests != 1 {
		t.Errorf("requests = %d, want 1", usage.Requests)
	}
	if usage.Tokens != 42 {
		t.Errorf("tokens = %d, want 42 (from response usage)", usage.Tokens)
	}
}

func TestGateway_TokenEstimateFallback(t *testing.T) {
	resp := responseFor([]float32{1})
	resp.Usage.TotalTokens = 0
	client := &fakeClient{response: resp}
	g := newGateway(client, Config{}, testLogger())

	input := strings.Repeat("a", 40)
	if _, err := g.EmbedBatch(context.Background(), []string{input}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := g.Usage().Tokens; got != 10 {
		t.Errorf("estimated tokens = %d, want 10", got)
	}
}
