// Package main is the entry point for the CSV ingest job. It reads café
// records from a local file or an S3 bucket and upserts them into
// PostgreSQL, where the API server loads them on startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/onnwee/cafeindex/internal/config"
	"github.com/onnwee/cafeindex/internal/ingest"
	"github.com/onnwee/cafeindex/internal/jobs"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/store"
	"github.com/onnwee/cafeindex/internal/venue"
)

// venueStore is the part of the record store the job writes to.
type venueStore interface {
	UpsertVenues(ctx context.Context, recs []venue.Record) (int, error)
	ListVenues(ctx context.Context) ([]venue.Record, error)
	DeleteVenues(ctx context.Context, ids []int64) (int64, error)
}

type options struct {
	source string
	dryRun bool
	prune  bool // delete stored venues missing from the source
}

type summary struct {
	Read     int
	Upserted int
	Deleted  int64
}

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "optional YAML config file; environment variables override it")
	source := flag.String("source", "", "CSV path or s3://bucket/key (default CSV_PATH)")
	dryRun := flag.Bool("dry-run", false, "parse and validate without writing")
	prune := flag.Bool("prune", false, "delete stored cafés that are absent from the source")
	pushURL := flag.String("pushgateway", "", "Prometheus Pushgateway URL for job metrics")
	flag.Parse()

	if *help {
		fmt.Println("Café Index CSV Ingest")
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
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	opts := options{source: *source, dryRun: *dryRun, prune: *prune}
	if opts.source == "" {
		opts.source = cfg.CSVPath
	}
	if opts.source == "" {
		logger.Error("no source given; pass -source or set CSV_PATH")
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" && !opts.dryRun {
		logger.Error("DATABASE_URL is required unless -dry-run is set")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := jobs.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	err := func() error {
		var objects ingest.ObjectGetter
		if strings.HasPrefix(opts.source, "s3://") {
			client, err := ingest.NewS3Client(ingest.S3Config{
				AccessKeyID:     cfg.S3AccessKeyID,
				SecretAccessKey: cfg.S3SecretAccessKey,
				Endpoint:        cfg.S3Endpoint,
				Region:          cfg.S3Region,
			})
			if err != nil {
				return fmt.Errorf("failed to create S3 client: %w", err)
			}
			objects = client
		}

		var st venueStore
		if !opts.dryRun {
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			pg := store.NewPostgresStore(db, logger)
			defer pg.Stats().LogSummary(logger, "cafes")
			st = pg
		}

		_, err := run(ctx, opts, st, objects, metrics, logger)
		return err
	}()

	if *pushURL != "" {
		if perr := push.New(*pushURL, "cafeindex_ingest").Gatherer(reg).Push(); perr != nil {
			logger.Warn("failed to push metrics", "url", *pushURL, "error", perr)
		}
	}
	if err != nil {
		logger.Error("ingest failed", "source", opts.source, "error", err)
		os.Exit(1)
	}
}

// run reads the source and writes it to st. st may be nil for a dry run.
func run(ctx context.Context, opts options, st venueStore, objects ingest.ObjectGetter, metrics *jobs.Metrics, logger *slog.Logger) (sum summary, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveRun(jobs.JobTypeIngest, err, time.Since(start).Seconds())
	}()

	recs, err := ingest.Load(ctx, opts.source, objects)
	if err != nil {
		metrics.IncJobErrors(jobs.JobTypeIngest, "read_error")
		return sum, err
	}
	sum.Read = len(recs)
	metrics.AddItems(jobs.JobTypeIngest, "read", sum.Read)

	if opts.dryRun {
		logger.Info("dry run, nothing written", "source", opts.source, "venues", sum.Read)
		return sum, nil
	}

	sum.Upserted, err = st.UpsertVenues(ctx, recs)
	if err != nil {
		metrics.IncJobErrors(jobs.JobTypeIngest, "store_error")
		return sum, fmt.Errorf("failed to upsert venues: %w", err)
	}
	metrics.AddItems(jobs.JobTypeIngest, "upserted", sum.Upserted)

	if opts.prune {
		stale, err := staleIDs(ctx, st, recs)
		if err != nil {
			metrics.IncJobErrors(jobs.JobTypeIngest, "store_error")
			return sum, err
		}
		if len(stale) > 0 {
			sum.Deleted, err = st.DeleteVenues(ctx, stale)
			if err != nil {
				metrics.IncJobErrors(jobs.JobTypeIngest, "store_error")
				return sum, fmt.Errorf("failed to prune venues: %w", err)
			}
			metrics.AddItems(jobs.JobTypeIngest, "deleted", int(sum.Deleted))
		}
	}

	logger.Info("ingest complete",
		slog.String("source", opts.source),
		slog.Int("read", sum.Read),
		slog.Int("upserted", sum.Upserted),
		slog.Int64("deleted", sum.Deleted),
		slog.Duration("elapsed", time.Since(start)))
	return sum, nil
}

// staleIDs lists stored ids that recs does not mention, ascending.
func staleIDs(ctx context.Context, st venueStore, recs []venue.Record) ([]int64, error) {
	stored, err := st.ListVenues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list venues: %w", err)
	}
	keep := make(map[int64]struct{}, len(recs))
	for _, rec := range recs {
		keep[rec.ID] = struct{}{}
	}
	var stale []int64
	for _, rec := range stored {
		if _, ok := keep[rec.ID]; !ok {
			stale = append(stale, rec.ID)
		}
	}
	slices.Sort(stale)
	return stale, nil
}
