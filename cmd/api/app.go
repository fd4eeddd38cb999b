package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/onnwee/cafeindex/internal/api"
	"github.com/onnwee/cafeindex/internal/audit"
	"github.com/onnwee/cafeindex/internal/config"
	"github.com/onnwee/cafeindex/internal/ingest"
	"github.com/onnwee/cafeindex/internal/jobs"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/venue"
)

const serviceName = "cafeindex-api"

// shutdownTimeout bounds how long open requests, streams included, may
// take to finish after a signal.
const shutdownTimeout = 10 * time.Second

// metricSet holds every collector the API server exposes on /metrics.
type metricSet struct {
	registry *prometheus.Registry
	venue    *venue.Metrics
	http     *middleware.Metrics
	jobs     *jobs.Metrics
}

func newMetricSet() (*metricSet, error) {
	m := &metricSet{
		registry: prometheus.NewRegistry(),
		venue:    venue.NewMetrics(),
		http:     middleware.NewMetrics(),
		jobs:     jobs.NewMetrics(),
	}
	if err := m.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := m.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	for _, register := range []func(prometheus.Registerer) error{m.venue.Register, m.http.Register, m.jobs.Register} {
		if err := register(m.registry); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// newIndex builds an empty venue index from configuration. A calibration
// file that cannot be used is logged and the default weights apply.
func newIndex(cfg *config.Config, logger *slog.Logger, metrics *venue.Metrics) (*venue.Index, error) {
	weights, err := ranking.LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		logger.Warn("using default weights", "path", cfg.CalibrationPath, "error", err)
	}
	return venue.New(venue.Options{
		Tree:       cfg.TreeOptions(),
		Model:      ranking.NewModel(cfg.Normalization),
		Aggregator: cfg.Aggregator(),
		Enveloper:  cfg.Enveloper(),
		Weights:    weights,
		Logger:     logger,
		Metrics:    metrics,
	})
}

// venueLister is the part of the record store read at startup.
type venueLister interface {
	ListVenues(ctx context.Context) ([]venue.Record, error)
}

// loadVenues fills idx from the record store when there is one and from
// the configured CSV otherwise. Neither leaves the index empty.
func loadVenues(ctx context.Context, cfg *config.Config, idx *venue.Index, lister venueLister, objects ingest.ObjectGetter, metrics *jobs.Metrics, logger *slog.Logger) (n int, err error) {
	start := time.Now()
	source := "none"
	defer func() {
		if source == "none" {
			return
		}
		metrics.ObserveRun(jobs.JobTypeIndexLoad, err, time.Since(start).Seconds())
		if err == nil {
			metrics.AddItems(jobs.JobTypeIndexLoad, "inserted", n)
			logger.Info("index loaded",
				slog.String("source", source),
				slog.Int("venues", n),
				slog.Int("height", idx.Snapshot().Height),
				slog.Duration("elapsed", time.Since(start)))
		}
	}()

	var recs []venue.Record
	switch {
	case lister != nil:
		source = "database"
		recs, err = lister.ListVenues(ctx)
	case cfg.CSVPath != "":
		source = cfg.CSVPath
		recs, err = ingest.Load(ctx, cfg.CSVPath, objects)
	default:
		logger.Warn("no database or CSV configured, starting with an empty index")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read venues from %s: %w", source, err)
	}
	n, err = idx.InsertMany(recs)
	if err != nil {
		return n, fmt.Errorf("failed to index venues from %s: %w", source, err)
	}
	return n, nil
}

// objectGetter returns an S3 client when the CSV lives in a bucket.
func objectGetter(cfg *config.Config) (ingest.ObjectGetter, error) {
	if !strings.HasPrefix(cfg.CSVPath, "s3://") {
		return nil, nil
	}
	return ingest.NewS3Client(ingest.S3Config{
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
	})
}

// newHandler wraps the API router in the server-wide middleware:
// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> router.
func newHandler(router http.Handler, logger *slog.Logger, metrics *middleware.Metrics, origins []string) http.Handler {
	h := middleware.CORS(middleware.CORSConfig{AllowedOrigins: origins, MaxAge: 600})(router)
	h = middleware.HTTPMetrics(metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Tracing(serviceName)(h)
	return middleware.RequestID(h)
}

// newServer returns the HTTP server. There is no write timeout because
// search streams and WebSocket sessions stay open as long as the client
// reads.
func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve runs srv on ln until ctx is cancelled, then shuts it down and
// waits for open requests.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// routerConfig assembles the handler dependencies shared by main and tests.
func routerConfig(idx *venue.Index, logger *slog.Logger, metrics *metricSet, origins []string) api.RouterConfig {
	return api.RouterConfig{
		Index:          idx,
		Logger:         logger,
		AllowedOrigins: origins,
		Metrics:        metrics.http,
		Gatherer:       metrics.registry,
		RateStore:      middleware.NewInMemoryRateLimitStore(),
		Audit:          audit.NewInMemoryRepository(audit.DefaultCapacity),
	}
}
