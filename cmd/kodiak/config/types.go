// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

type KodiakConfig struct {
	// Vault: the document root that gets indexed
	Vault VaultConfig `yaml:"vault" validate:"required"`

	// Index: scan cadence and chunking shape
	Index IndexConfig `yaml:"index"`

	// Embedding: embedding service model and rate limits
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval: context assembly budgets
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Memory: conversational memory windows and thresholds
	Memory MemoryConfig `yaml:"memory"`

	// Storage: badger location and cache size
	Storage StorageConfig `yaml:"storage"`

	// Logging: level and log directory
	Logging LoggingConfig `yaml:"logging"`

	// Metrics: prometheus endpoint for the watch process
	Metrics MetricsConfig `yaml:"metrics"`
}

type VaultConfig struct {
	Path string `yaml:"path" validate:"required"` // e.g. ~/Documents/notes

	// Excluded path segments, matched anywhere in the tree.
	Excluded []string `yaml:"excluded"`
}

type IndexConfig struct {
	ScanIntervalSeconds int `yaml:"scan_interval_seconds" validate:"min=1"`
	EmbedConcurrency    int `yaml:"embed_concurrency" validate:"min=1"`
	MaxChunkSize        int `yaml:"max_chunk_size" validate:"min=1"`
	MinChunkSize        int `yaml:"min_chunk_size" validate:"min=0"`
	Overlap             int `yaml:"overlap" validate:"min=0"`
}

type EmbeddingConfig struct {
	Model             string  `yaml:"model" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Dimensions requests reduced-dimension vectors. Zero keeps the
	// model default.
	Dimensions int `yaml:"dimensions" validate:"min=0"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the embedding service key from the environment.
func (c EmbeddingConfig) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}

type RetrievalConfig struct {
	MaxK             int     `yaml:"max_k" validate:"min=1"`
	MaxContextBudget int     `yaml:"max_context_budget" validate:"min=1"`
	PerSourceCap     int     `yaml:"per_source_cap" validate:"min=0"`
	SummaryMaxLength int     `yaml:"summary_max_length" validate:"min=1"`
	MinScore         float32 `yaml:"min_score" validate:"min=0,max=1"`
}

type MemoryConfig struct {
	MaxShortTermExchanges int     `yaml:"max_short_term_exchanges" validate:"min=1"`
	ShortTermTokenBudget  int     `yaml:"short_term_token_budget" validate:"min=0"`
	MemoryChunkSize       int     `yaml:"memory_chunk_size" validate:"min=1"`
	RelevanceThreshold    float32 `yaml:"relevance_threshold" validate:"min=0,max=1"`
	MaxMemoryResults      int     `yaml:"max_memory_results" validate:"min=1"`
}

type StorageConfig struct {
	Path              string `yaml:"path" validate:"required"` // badger directory
	CacheCapacity     int    `yaml:"cache_capacity" validate:"min=1"`
	GCIntervalSeconds int    `yaml:"gc_interval_seconds" validate:"min=1"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"` // empty disables file logging
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. :9090
}

func DefaultConfig() KodiakConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return KodiakConfig{
		Vault: VaultConfig{
			Path:     filepath.Join(home, "Documents", "notes"),
			Excluded: []string{".git", ".obsidian", ".trash", "node_modules"},
		},
		Index: IndexConfig{
			ScanIntervalSeconds: 300,
			EmbedConcurrency:    4,
			MaxChunkSize:        1000,
			MinChunkSize:        100,
			Overlap:             200,
		},
		Embedding: EmbeddingConfig{
			Model:             "text-embedding-3-small",
			RequestsPerSecond: 10,
			Burst:             5,
			APIKeyEnv:         "OPENAI_API_KEY",
		},
		Retrieval: RetrievalConfig{
			MaxK:             30,
			MaxContextBudget: 24000,
			PerSourceCap:     4,
			SummaryMaxLength: 1500,
			MinScore:         0.2,
		},
		Memory: MemoryConfig{
			MaxShortTermExchanges: 10,
			ShortTermTokenBudget:  2000,
			MemoryChunkSize:       1000,
			RelevanceThreshold:    0.3,
			MaxMemoryResults:      5,
		},
		Storage: StorageConfig{
			Path:              filepath.Join(home, ".kodiak", "data"),
			CacheCapacity:     100,
			GCIntervalSeconds: 600,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(home, ".kodiak", "logs"),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
		},
	}
}
