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
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/services/retrieval/indexer"
	"github.com/AleutianAI/kodiak/services/retrieval/observability"
)

// runWatch keeps the index in sync until interrupted.
//
// Description:
//
//	Runs the periodic cycle loop, a debounced filesystem watcher that
//	forces cycles on vault changes, and (when enabled) a Prometheus
//	/metrics endpoint. SIGINT/SIGTERM shut everything down.
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, "kodiak-watch")
	if err != nil {
		return err
	}
	defer app.close()

	metrics := observability.Default()
	app.indexer.SetMetrics(metrics)
	app.planner.SetMetrics(metrics)

	watcher, err := indexer.NewWatcher(app.indexer, indexer.WatcherConfig{}, app.logger.Slog())
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	var metricsServer *http.Server
	if app.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: app.cfg.Metrics.Address, Handler: mux}
		go func() {
			app.logger.Info("metrics endpoint up", "address", app.cfg.Metrics.Address)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("metrics server failed", "error", err.Error())
			}
		}()

		// Mirror the gateway's usage counters into gauges.
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					usage := app.gateway.Usage()
					metrics.SetEmbeddingUsage(usage.Requests, usage.Tokens, usage.Truncations)
				}
			}
		}()
	}

	app.logger.Info("watching vault", "path", app.cfg.Vault.Path)
	err = app.indexer.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
