// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/kodiak/cmd/kodiak/config"
	"github.com/AleutianAI/kodiak/pkg/logging"
	"github.com/AleutianAI/kodiak/services/retrieval/chunker"
	"github.com/AleutianAI/kodiak/services/retrieval/embed"
	"github.com/AleutianAI/kodiak/services/retrieval/indexer"
	"github.com/AleutianAI/kodiak/services/retrieval/memory"
	"github.com/AleutianAI/kodiak/services/retrieval/planner"
	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/scan"
	"github.com/AleutianAI/kodiak/services/retrieval/storage/badger"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

// app is the wired retrieval stack shared by all commands.
type app struct {
	cfg     config.KodiakConfig
	logger  *logging.Logger
	db      *badger.DB
	store   *repository.Store
	gateway *embed.Gateway
	indexer *indexer.Manager
	planner *planner.Planner
	memory  *memory.Manager
}

// newApp loads the config and wires the full stack. The document index
// snapshot is restored from the repository so search works without
// running a cycle first.
func newApp(ctx context.Context, service string) (*app, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	cfg := config.Global

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: service,
		JSON:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slogger := logger.Slog()

	storageCfg := badger.DefaultConfig()
	storageCfg.Path = expandHome(cfg.Storage.Path)
	storageCfg.Logger = slogger
	storageCfg.GCInterval = time.Duration(cfg.Storage.GCIntervalSeconds) * time.Second
	db, err := badger.OpenDB(storageCfg)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	store := repository.NewStore(db, cfg.Storage.CacheCapacity, slogger)
	fingerprints := repository.NewFingerprintStore(db)

	apiKey := cfg.Embedding.APIKey()
	if apiKey == "" {
		logger.Warn("no embedding API key in environment, embedding calls will fail",
			"env", cfg.Embedding.APIKeyEnv)
	}
	gateway := embed.NewGateway(openai.NewClient(apiKey), embed.Config{
		Model:             openai.EmbeddingModel(cfg.Embedding.Model),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
		Dimensions:        cfg.Embedding.Dimensions,
	}, slogger)

	vaultPath := expandHome(cfg.Vault.Path)
	scanCfg := scan.DefaultConfig(vaultPath)
	if len(cfg.Vault.Excluded) > 0 {
		scanCfg.ExcludedSegments = cfg.Vault.Excluded
	}
	registry := scan.DefaultRegistry()
	detector := scan.NewDetector(scanCfg, registry, fingerprints, slogger)

	indexCfg := indexer.Config{
		VaultPath:        vaultPath,
		ScanInterval:     time.Duration(cfg.Index.ScanIntervalSeconds) * time.Second,
		EmbedConcurrency: cfg.Index.EmbedConcurrency,
		Chunking: chunker.Config{
			MaxChunkSize: cfg.Index.MaxChunkSize,
			MinChunkSize: cfg.Index.MinChunkSize,
			Overlap:      cfg.Index.Overlap,
		},
	}
	docIndex := vectorindex.New()
	manager := indexer.NewManager(indexCfg, detector, registry, store, fingerprints, docIndex, gateway, slogger)
	if err := manager.Restore(ctx); err != nil {
		db.Close()
		logger.Close()
		return nil, err
	}

	plannerCfg := planner.DefaultConfig()
	plannerCfg.MaxK = cfg.Retrieval.MaxK
	plannerCfg.MaxContextBudget = cfg.Retrieval.MaxContextBudget
	plannerCfg.PerSourceCap = cfg.Retrieval.PerSourceCap
	plannerCfg.SummaryMaxLength = cfg.Retrieval.SummaryMaxLength
	plannerCfg.MinScore = cfg.Retrieval.MinScore
	retriever := planner.New(plannerCfg, docIndex, store, gateway, nil)

	memIndex := vectorindex.New()
	mem := memory.NewManager(db, store, memIndex, gateway, memory.Config{
		MaxShortTermExchanges: cfg.Memory.MaxShortTermExchanges,
		ShortTermTokenBudget:  cfg.Memory.ShortTermTokenBudget,
		MemoryChunkSize:       cfg.Memory.MemoryChunkSize,
		RelevanceThreshold:    cfg.Memory.RelevanceThreshold,
		MaxMemoryResults:      cfg.Memory.MaxMemoryResults,
	}, slogger)
	if err := mem.RebuildIndex(ctx); err != nil {
		db.Close()
		logger.Close()
		return nil, err
	}
	retriever.SetMemory(mem)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		store:   store,
		gateway: gateway,
		indexer: manager,
		planner: retriever,
		memory:  mem,
	}, nil
}

// close releases storage and log handles.
func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("close storage", "error", err.Error())
	}
	a.logger.Close()
}

// expandHome resolves a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
