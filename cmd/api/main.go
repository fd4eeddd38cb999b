// Package main is the entry point for the café index API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/cafeindex/internal/api"
	"github.com/onnwee/cafeindex/internal/auth"
	"github.com/onnwee/cafeindex/internal/config"
	"github.com/onnwee/cafeindex/internal/crowd"
	"github.com/onnwee/cafeindex/internal/health"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/store"
	"github.com/onnwee/cafeindex/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file; environment variables override it")
	flag.Parse()

	if *help {
		fmt.Println("Café Index API Server")
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
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	metrics, err := newMetricSet()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	idx, err := newIndex(cfg, logger, metrics.venue)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	origins := middleware.ParseOrigins(cfg.CORSAllowedOrigins)
	rc := routerConfig(idx, logger, metrics, origins)
	checks := api.HealthHandlersConfig{IndexChecker: health.NewIndexChecker(idx)}

	var crowdSource crowd.Source
	var lister venueLister
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		st := store.NewPostgresStore(db, logger)
		rc.Store = st
		lister = st
		crowdSource = st
		checks.DBChecker = health.NewDBChecker(db)
	}

	objects, err := objectGetter(cfg)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if _, err := loadVenues(ctx, cfg, idx, lister, objects, metrics.jobs, logger); err != nil {
		return err
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		rc.RateStore = middleware.NewRedisRateLimitStore(rdb, metrics.http, logger)
		crowdSource = crowd.NewRedisSource(rdb, cfg.CrowdRedisKey, logger)
		checks.RedisChecker = health.NewRedisChecker(rdb)
	} else if mem, ok := rc.RateStore.(*middleware.InMemoryRateLimitStore); ok {
		go sweepRateLimits(ctx, mem, 5*time.Minute)
	}

	if crowdSource != nil && cfg.CrowdRefreshInterval > 0 {
		refresher := crowd.NewRefresher(crowd.Config{
			Interval: cfg.CrowdRefreshInterval,
			Logger:   logger,
			Metrics:  metrics.jobs,
		}, crowdSource, idx)
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	if cfg.JWTSecret != "" {
		rc.JWT = auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)
	} else {
		logger.Warn("JWT_SECRET not set, mutating endpoints are open")
	}
	rc.Health = api.NewHealthHandlers(checks)

	handler := newHandler(api.NewRouter(rc), logger, metrics.http, origins)
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.ProfilingEnabled,
		Environment: cfg.Env,
	})(handler)
	addr := ":" + strconv.Itoa(cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return serve(ctx, newServer(addr, handler), ln, logger)
}

func sweepRateLimits(ctx context.Context, s *middleware.InMemoryRateLimitStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
