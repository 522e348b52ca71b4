// Package main is the entry point for the firehose ingest worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/feedmixer/internal/config"
	"github.com/onnwee/feedmixer/internal/content"
	"github.com/onnwee/feedmixer/internal/db"
	"github.com/onnwee/feedmixer/internal/idempotency"
	"github.com/onnwee/feedmixer/internal/ingest"
	"github.com/onnwee/feedmixer/internal/jobs"
	"github.com/onnwee/feedmixer/internal/middleware"
	"github.com/onnwee/feedmixer/internal/social"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Feedmixer Ingest Worker")
		fmt.Println()
		fmt.Println("Usage: ingest [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingest worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbConn.Close()

	contentStore := content.NewPostgresStore(dbConn, logger)
	graph := social.NewPostgresGraph(dbConn, logger)
	tracker := ingest.NewPostgresSequenceTracker(dbConn, logger)
	applied := idempotency.NewPostgresRepository(dbConn, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	ingestMetrics := ingest.NewMetrics()
	if err := ingestMetrics.Register(registry); err != nil {
		return fmt.Errorf("register ingest metrics: %w", err)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		return fmt.Errorf("register job metrics: %w", err)
	}

	processor, err := ingest.NewProcessor(ingest.ProcessorConfig{
		Store:   contentStore,
		Graph:   graph,
		Tracker: tracker,
		Applied: applied,
		Metrics: ingestMetrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build processor: %w", err)
	}

	clientConfig := ingest.DefaultConfig(cfg.FirehoseURL)
	clientConfig.CursorFunc = tracker.GetLastSequence
	client, err := ingest.NewClient(clientConfig, processor.Handler(ctx), logger)
	if err != nil {
		return fmt.Errorf("build firehose client: %w", err)
	}

	// Background maintenance: prune old content, expire applied-event keys.
	pruneJob := content.NewPruneJob(content.PruneJobConfig{
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, contentStore)
	if err := pruneJob.Start(ctx); err != nil {
		return fmt.Errorf("start prune job: %w", err)
	}
	defer pruneJob.Stop()

	cleanup := ingest.NewCleanupService(applied, ingest.CleanupConfig{
		Logger:     logger,
		JobMetrics: jobMetrics,
	})
	cleanup.Start(ctx)
	defer cleanup.Stop()

	// Metrics endpoint on its own listener; the worker serves no API.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Port),
		Handler:     metricsMux,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Port)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting firehose client", "url", cfg.FirehoseURL)
	return client.Run(ctx)
}
