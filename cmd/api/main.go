// Package main is the entry point for the feed API server.
package main

import (
	"context"
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
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/feedmixer/internal/api"
	"github.com/onnwee/feedmixer/internal/auth"
	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/config"
	"github.com/onnwee/feedmixer/internal/content"
	"github.com/onnwee/feedmixer/internal/db"
	"github.com/onnwee/feedmixer/internal/experiment"
	"github.com/onnwee/feedmixer/internal/feed"
	"github.com/onnwee/feedmixer/internal/feedcache"
	"github.com/onnwee/feedmixer/internal/health"
	"github.com/onnwee/feedmixer/internal/middleware"
	"github.com/onnwee/feedmixer/internal/pool"
	"github.com/onnwee/feedmixer/internal/scoring"
	"github.com/onnwee/feedmixer/internal/snapshot"
	"github.com/onnwee/feedmixer/internal/social"
	"github.com/onnwee/feedmixer/internal/tracing"
)

const serviceName = "feedmixer-api"

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Feedmixer API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
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

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Database
	dbConn, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbConn.Close()

	// Redis is optional; without it the feed cache is in-process and the
	// rate limiter is per-replica.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-grpc",
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}
	feedMetrics := feed.NewMetrics()
	if err := feedMetrics.Register(registry); err != nil {
		return fmt.Errorf("register feed metrics: %w", err)
	}

	// Stores and graph
	contentStore := content.NewPostgresStore(dbConn, logger)
	graph := social.NewPostgresGraph(dbConn, logger)
	compositionStore := composition.NewPostgresStore(dbConn, logger)

	// Candidate sources: one store-backed source serves every pool.
	poolRegistry := pool.NewRegistry()
	source, err := content.NewStoreSource(content.SourceConfig{
		Store: contentStore,
		Graph: graph,
	})
	if err != nil {
		return fmt.Errorf("build candidate source: %w", err)
	}
	if err := source.RegisterAll(poolRegistry); err != nil {
		return fmt.Errorf("register candidate source: %w", err)
	}

	// Scoring
	engine, err := scoring.NewEngine(scoring.EngineConfig{
		Weights: scoring.Weights{
			Interest:   cfg.ScoringInterestWeight,
			Connection: cfg.ScoringConnectionWeight,
			Time:       cfg.ScoringTimeWeight,
		},
		DecayLambda:       cfg.ScoringDecayLambda,
		SecondDegreeScore: cfg.ScoringSecondDegreeScore,
	})
	if err != nil {
		return fmt.Errorf("build scoring engine: %w", err)
	}

	// Feed cache: Redis when configured, otherwise in-process.
	var cache feed.Cache
	if redisClient != nil {
		cache = feedcache.NewRedisCache(redisClient, cfg.FeedCacheMaxAge)
	} else {
		cache = feedcache.NewMemoryCache(cfg.FeedCacheMaxAge)
	}

	// Experiments
	var assigner *experiment.Assigner
	if cfg.ExperimentName != "" && len(cfg.ExperimentVariants) > 0 {
		variants, err := experimentVariants(cfg.ExperimentVariants)
		if err != nil {
			return fmt.Errorf("experiment variants: %w", err)
		}
		assigner, err = experiment.NewAssigner(cfg.ExperimentName, variants)
		if err != nil {
			return fmt.Errorf("build experiment assigner: %w", err)
		}
	}

	defaultWeights, err := poolWeightTable(cfg.DefaultPoolWeights)
	if err != nil {
		return fmt.Errorf("default pool weights: %w", err)
	}

	composer, err := feed.NewComposer(feed.ComposerConfig{
		Store:    compositionStore,
		Sources:  poolRegistry,
		Engine:   engine,
		Users:    graph,
		Cache:    cache,
		Assigner: assigner,

		Logger:  logger,
		Metrics: feedMetrics,

		DefaultWeights:  defaultWeights,
		MaxSize:         cfg.MaxFeedSize,
		OverfetchFactor: cfg.OverfetchFactor,
		PoolTimeout:     cfg.PoolTimeout,
		CacheTTL:        cfg.FeedCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("build composer: %w", err)
	}

	// Snapshot archival is optional; without R2 credentials the endpoint
	// reports 503.
	var archiver api.Archiver
	if cfg.R2BucketName != "" {
		snapshotService, err := snapshot.NewService(snapshot.ServiceConfig{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			return fmt.Errorf("build snapshot service: %w", err)
		}
		archiver = snapshotService
	}

	// Auth
	var jwtService *auth.JWTService
	if cfg.JWTPreviousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}

	// Handlers
	feedHandlers := api.NewFeedHandlers(composer, jwtService, archiver, cfg.DefaultFeedSize)
	compositionHandlers := api.NewCompositionHandlers(composer, jwtService)

	healthConfig := api.HealthHandlersConfig{
		DBChecker: health.NewDBChecker(dbConn),
	}
	if redisClient != nil {
		healthConfig.CacheChecker = health.NewRedisChecker(redisClient)
	}
	healthHandlers := api.NewHealthHandlers(healthConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", feedHandlers.GetFeed)
	mux.HandleFunc("/feed/experiment", feedHandlers.GetExperiment)
	mux.HandleFunc("/feed/snapshot", feedHandlers.Snapshot)
	mux.HandleFunc("/composition", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			compositionHandlers.UpdateComposition(w, r)
		default:
			compositionHandlers.GetComposition(w, r)
		}
	})
	mux.HandleFunc("/composition/reset", compositionHandlers.ResetComposition)
	mux.HandleFunc("/healthz", healthHandlers.Health)
	mux.HandleFunc("/readyz", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"feedmixer-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Rate limiting: Redis-backed when available so limits hold across
	// replicas.
	var limitStore middleware.RateLimitStore
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStoreWithMetrics(redisClient, httpMetrics)
	} else {
		limitStore = middleware.NewInMemoryRateLimitStore()
	}
	limitConfig := middleware.DefaultGlobalLimit()
	limitConfig.RequestsPerWindow = cfg.RateLimitPerMinute

	// Middleware chain, outermost first: RequestID -> Logging -> Metrics ->
	// RateLimiter -> CORS -> Tracing.
	var handler http.Handler = mux
	handler = middleware.Tracing(serviceName)(handler)
	if cfg.ProfilingEnabled {
		handler = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(handler)
	}
	if origins := cfg.CORSOrigins(); len(origins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins:   origins,
			AllowCredentials: true,
		})(handler)
	}
	handler = middleware.RateLimiter(limitStore, limitConfig, middleware.UserKeyFunc(), httpMetrics)(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// poolWeightTable converts a config weight table keyed by pool name into
// the typed form the composer takes. A nil input stays nil, selecting the
// built-in defaults.
func poolWeightTable(weights map[string]float64) (map[pool.Kind]float64, error) {
	if weights == nil {
		return nil, nil
	}
	table := make(map[pool.Kind]float64, len(weights))
	for name, w := range weights {
		kind, err := pool.ParseKind(name)
		if err != nil {
			return nil, err
		}
		table[kind] = w
	}
	return table, nil
}

// experimentVariants converts file-declared variants into the typed form
// the assigner takes.
func experimentVariants(variants []config.ExperimentVariant) ([]experiment.Variant, error) {
	out := make([]experiment.Variant, 0, len(variants))
	for _, v := range variants {
		weights, err := poolWeightTable(v.Weights)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", v.Name, err)
		}
		out = append(out, experiment.Variant{
			Name:    v.Name,
			Percent: v.Percent,
			Weights: weights,
		})
	}
	return out, nil
}
