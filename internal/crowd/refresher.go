package crowd

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/cafeindex/internal/jobs"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/venue"
)

// DefaultInterval is the default time between refreshes.
const DefaultInterval = 30 * time.Second

// DefaultTimeout bounds a single refresh.
const DefaultTimeout = 10 * time.Second

// Patcher merges feature values into an indexed record. *venue.Index
// implements it.
type Patcher interface {
	PatchFeatures(id int64, values map[string]float64) error
}

// Config configures a Refresher.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *jobs.Metrics
}

// Result summarizes one refresh.
type Result struct {
	Updated int
	Unknown int // ids the index does not hold
	Invalid int // rejected values
}

// Refresher periodically copies crowd levels from a Source into the index.
// Levels are fetched before any index call so the index lock is never held
// across I/O.
type Refresher struct {
	config Config
	source Source
	index  Patcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRefresher creates a Refresher.
func NewRefresher(config Config, source Source, index Patcher) *Refresher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Refresher{config: config, source: source, index: index}
}

// RefreshOnce fetches crowd levels and applies them one venue at a time in
// ascending id order.
func (r *Refresher) RefreshOnce(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		r.config.Metrics.ObserveRun(jobs.JobTypeCrowdRefresh, err, time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	levels, err := r.source.CrowdLevels(ctx)
	if err != nil {
		r.config.Metrics.IncJobErrors(jobs.JobTypeCrowdRefresh, "source_error")
		return Result{}, err
	}

	for _, id := range slices.Sorted(maps.Keys(levels)) {
		if err := ctx.Err(); err != nil {
			r.config.Metrics.IncJobErrors(jobs.JobTypeCrowdRefresh, "timeout")
			return res, err
		}
		err := r.index.PatchFeatures(id, map[string]float64{ranking.FeatureCurrentCrowd: levels[id]})
		switch {
		case err == nil:
			res.Updated++
		case errors.Is(err, venue.ErrRecordNotFound):
			res.Unknown++
		case errors.Is(err, venue.ErrInvalidFeature):
			res.Invalid++
		default:
			return res, err
		}
	}

	r.config.Metrics.AddItems(jobs.JobTypeCrowdRefresh, "updated", res.Updated)
	r.config.Metrics.AddItems(jobs.JobTypeCrowdRefresh, "unknown", res.Unknown)
	r.config.Metrics.AddItems(jobs.JobTypeCrowdRefresh, "invalid", res.Invalid)
	r.config.Logger.Debug("refreshed crowd levels",
		slog.Int("updated", res.Updated),
		slog.Int("unknown", res.Unknown),
		slog.Int("invalid", res.Invalid),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// Start begins refreshing in a background goroutine. Calling Start on a
// running Refresher does nothing.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(ctx, r.stopCh, r.doneCh)
}

// Stop signals the refresher to stop and waits for it to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// IsRunning returns whether the refresher is currently running.
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run refreshes immediately and then on every interval until ctx is
// cancelled. Refresh errors are logged, not returned.
func (r *Refresher) Run(ctx context.Context) error {
	r.tick(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Refresher) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	_ = r.Run(ctx)
	r.config.Logger.Info("crowd refresher stopped")
}

func (r *Refresher) tick(ctx context.Context) {
	if _, err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
		r.config.Logger.Error("crowd refresh failed", slog.String("error", err.Error()))
	}
}
