// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed turns text into dense vectors via an embedding service.
//
// The Gateway wraps the OpenAI embeddings endpoint with client-side rate
// limiting, input truncation, and usage accounting. Callers depend on the
// Embedder interface so tests can substitute a deterministic stub.
package embed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// maxInputChars is the hard cap on text sent to the embedding service.
// Longer inputs are truncated with a warning rather than rejected.
const maxInputChars = 6000

// Embedder produces dense vectors for text.
//
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// embeddingClient is the slice of the OpenAI client the gateway needs.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Usage is a snapshot of cumulative gateway activity.
type Usage struct {
	// Requests is the number of service calls made.
	Requests int64

	// Tokens is the cumulative token count. When the service omits
	// usage data, tokens are estimated at one per four characters.
	Tokens int64

	// Truncations counts inputs that exceeded the length cap.
	Truncations int64
}

// Config configures a Gateway.
type Config struct {
	// Model is the embedding model name.
	Model openai.EmbeddingModel

	// RequestsPerSecond caps the call rate to the service.
	// Zero or negative disables rate limiting.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size. Defaults to 1 when
	// rate limiting is enabled.
	Burst int

	// Dimensions requests reduced-dimension vectors from models that
	// support it. Zero uses the model default.
	Dimensions int
}

// DefaultConfig returns the production gateway configuration.
func DefaultConfig() Config {
	return Config{
		Model:             openai.SmallEmbedding3,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// Gateway is an Embedder backed by the OpenAI embeddings endpoint.
//
// Thread Safety: safe for concurrent use.
type Gateway struct {
	client     embeddingClient
	model      openai.EmbeddingModel
	dimensions int
	limiter    *rate.Limiter
	logger     *slog.Logger

	requests    atomic.Int64
	tokens      atomic.Int64
	truncations atomic.Int64
}

// NewGateway creates a Gateway over an OpenAI client.
//
// Inputs:
//
//	client - The OpenAI API client.
//	cfg - Gateway configuration.
//	logger - Logger for truncation warnings. Must not be nil.
func NewGateway(client *openai.Client, cfg Config, logger *slog.Logger) *Gateway {
	return newGateway(client, cfg, logger)
}

func newGateway(client embeddingClient, cfg Config, logger *slog.Logger) *Gateway {
	g := &Gateway{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// Embed returns the vector for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in input order.
//
// Description:
//
//	Truncates oversized inputs, waits on the rate limiter, and issues a
//	single batched request. A response with a vector count that does not
//	match the input count is treated as a service error.
//
// Outputs:
//
//	[][]float32 - Vectors aligned with the input slice.
//	error - *ServiceError wrapping the underlying cause.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		if len(text) > maxInputChars {
			g.truncations.Add(1)
			g.logger.Warn("embedding input truncated",
				slog.Int("original_chars", len(text)),
				slog.Int("max_chars", maxInputChars))
			text = truncateToRuneBoundary(text, maxInputChars)
		}
		inputs[i] = text
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &ServiceError{Op: "rate limit wait", Err: err}
		}
	}

	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      g.model,
		Dimensions: g.dimensions,
	})
	if err != nil {
		return nil, &ServiceError{Op: "create embeddings", Err: err}
	}
	if len(resp.Data) != len(inputs) {
		return nil, &ServiceError{
			Op:  "create embeddings",
			Err: &CountMismatchError{Want: len(inputs), Got: len(resp.Data)},
		}
	}

	g.requests.Add(1)
	tokens := int64(resp.Usage.TotalTokens)
	if tokens == 0 {
		tokens = estimateTokens(inputs)
	}
	g.tokens.Add(tokens)

	vectors := make([][]float32, len(inputs))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, &ServiceError{
				Op:  "create embeddings",
				Err: &CountMismatchError{Want: len(inputs), Got: data.Index},
			}
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

// Usage returns a snapshot of cumulative gateway activity.
func (g *Gateway) Usage() Usage {
	return Usage{
		Requests:    g.requests.Load(),
		Tokens:      g.tokens.Load(),
		Truncations: g.truncations.Load(),
	}
}

// truncateToRuneBoundary cuts s to at most max bytes without splitting
// a multi-byte code point, so the service never sees invalid UTF-8.
func truncateToRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(inputs []string) int64 {
	total := 0
	for _, s := range inputs {
		total += len(s)
	}
	return int64(total / 4)
}
