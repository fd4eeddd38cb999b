package venue

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/rtree"
	"github.com/onnwee/cafeindex/internal/tracing"
)

// ctxCheckEvery is how many visited records pass between context checks.
const ctxCheckEvery = 64

// Query describes a ranked search.
type Query struct {
	Center       geo.Point
	RadiusMeters float64 // <= 0 searches the default area
	MinScore     float64
	Weights      ranking.Weights // nil uses the index's default weights
	Trace        bool            // record the visited node ids
}

// Result is one ranked venue.
type Result struct {
	Record     Record             `json:"record"`
	Score      float64            `json:"score"`
	Distance   float64            `json:"distance"`
	Geohash    string             `json:"geohash"`
	Attributes ranking.Attributes `json:"attributes"`
}

// SearchResult is the materialized answer to a query.
type SearchResult struct {
	Results []Result `json:"results"`
	// Envelope is the box that was searched.
	Envelope geo.Bounds `json:"envelope"`
	// DefaultArea is set when the radius was not positive and the
	// configured default area was searched instead of a geodesic box.
	DefaultArea bool           `json:"default_area"`
	Visited     int            `json:"visited"`
	Pruned      int            `json:"pruned"`
	Path        []rtree.NodeID `json:"path,omitempty"`
}

// plan is a validated query ready to run.
type plan struct {
	query    Query
	weights  ranking.Weights
	boxes    []rtree.Box // the envelope cut at the antimeridian
	envelope geo.Bounds
	fallback bool
}

func (idx *Index) plan(q Query) (plan, error) {
	if err := q.Center.Validate(); err != nil {
		return plan{}, err
	}
	if math.Abs(q.Center.Lat) >= 90 {
		return plan{}, fmt.Errorf("%w: query latitude %v at a pole", ErrInvalidCoordinate, q.Center.Lat)
	}
	if math.IsNaN(q.RadiusMeters) || math.IsInf(q.RadiusMeters, 0) {
		return plan{}, fmt.Errorf("%w: radius %v", ErrInvalidQuery, q.RadiusMeters)
	}
	if math.IsNaN(q.MinScore) || math.IsInf(q.MinScore, 0) {
		return plan{}, fmt.Errorf("%w: min score %v", ErrInvalidQuery, q.MinScore)
	}

	w := q.Weights
	if w == nil {
		w = idx.Weights()
	} else if err := w.Validate(); err != nil {
		return plan{}, err
	} else if err := idx.model.CheckWeights(w); err != nil {
		return plan{}, err
	}
	if err := w.Usable(); err != nil {
		idx.logger.Warn("query has no usable feature weights, scoring every venue 0",
			slog.Float64("lon", q.Center.Lon),
			slog.Float64("lat", q.Center.Lat))
	}

	envelope, fallback := idx.env.Envelope(q.Center, q.RadiusMeters)
	if fallback {
		idx.logger.Debug("non-positive radius, searching the default area",
			slog.Float64("radius_m", q.RadiusMeters),
			slog.Any("area", envelope))
	}
	pieces := envelope.SplitAntimeridian()
	boxes := make([]rtree.Box, len(pieces))
	for i, b := range pieces {
		boxes[i] = boundsBox(b)
	}
	return plan{
		query:    q,
		weights:  w,
		boxes:    boxes,
		envelope: envelope,
		fallback: fallback,
	}, nil
}

// label scores the tree for p. The caller holds idx.mu.
func (idx *Index) label(p plan) *ranking.Scorer {
	start := time.Now()
	qc := ranking.QueryContext{Center: p.query.Center, RadiusMeters: p.query.RadiusMeters}
	scorer := ranking.Apply[Record](idx.tree, idx.agg, idx.model, qc, p.weights)
	elapsed := time.Since(start)

	idx.metrics.observeLabel(elapsed.Seconds())
	idx.logger.Debug("labeled index",
		slog.Int("records", idx.tree.Len()),
		slog.Duration("elapsed", elapsed))
	return scorer
}

// search runs visit over every box of p and merges the summaries. A
// visitor that stops the search ends it for the remaining boxes too. The
// caller holds idx.mu.
func (idx *Index) search(p plan, opts rtree.SearchOptions, visit rtree.Visitor[Record]) rtree.SearchResult[Record] {
	var sr rtree.SearchResult[Record]
	for _, box := range p.boxes {
		part := idx.tree.Search(box, opts, visit)
		sr.Visited += part.Visited
		sr.Pruned += part.Pruned
		sr.Path = append(sr.Path, part.Path...)
		if part.Stopped {
			sr.Stopped = true
			break
		}
	}
	return sr
}

func newResult(scorer *ranking.Scorer, h rtree.Hit[Record]) Result {
	rec := h.Item.Clone()
	return Result{
		Record:     rec,
		Score:      h.Score,
		Distance:   scorer.Distance(rec),
		Geohash:    geo.Geohash(rec.Location, geo.DefaultGeohashPrecision),
		Attributes: scorer.Attributes(rec),
	}
}

// RankedSearch returns every venue in the query envelope scoring at least
// MinScore, ordered by descending score and then ascending id. Subtrees
// whose best possible score is below MinScore are skipped.
func (idx *Index) RankedSearch(ctx context.Context, q Query) (res SearchResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "venue.RankedSearch")
	defer func() { endSpan(err) }()

	p, err := idx.plan(q)
	if err != nil {
		return SearchResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SearchResult{}, err
	}

	start := time.Now()
	idx.mu.Lock()
	scorer := idx.label(p)
	seen := 0
	sr := idx.search(p, rtree.SearchOptions{
		EarlyStop: true,
		Trace:     q.Trace,
		Prune:     true,
		MinScore:  q.MinScore,
	}, func(h rtree.Hit[Record]) bool {
		if seen++; seen%ctxCheckEvery == 0 && ctx.Err() != nil {
			return false
		}
		if h.Score >= q.MinScore {
			res.Results = append(res.Results, newResult(scorer, h))
		}
		return true
	})
	idx.mu.Unlock()

	if sr.Stopped {
		return SearchResult{}, ctx.Err()
	}

	slices.SortStableFunc(res.Results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})

	res.Envelope = p.envelope
	res.DefaultArea = p.fallback
	res.Visited = sr.Visited
	res.Pruned = sr.Pruned
	res.Path = sr.Path

	elapsed := time.Since(start)
	idx.metrics.observeSearch(SearchRanked, elapsed.Seconds(), sr.Pruned)
	tracing.SetAttributes(ctx,
		attribute.Int("venue.results", len(res.Results)),
		attribute.Int("venue.visited", sr.Visited),
		attribute.Int("venue.pruned", sr.Pruned),
		attribute.Bool("venue.default_area", p.fallback))
	idx.logger.Debug("ranked search",
		slog.Int("results", len(res.Results)),
		slog.Int("visited", sr.Visited),
		slog.Int("pruned", sr.Pruned),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

// Stream returns a lazy sequence of the venues RankedSearch would return,
// in tree traversal order rather than score order. The query is validated
// eagerly; labeling and traversal happen while the sequence is ranged over.
//
// The index lock is held from the start of the range loop until the loop
// ends or breaks, so the body must not call other Index methods. The
// sequence runs once; ranging over it again yields nothing. Cancelling ctx
// ends the sequence early. Consumers that may block, such as network
// writers, should range over it through Detach.
func (idx *Index) Stream(ctx context.Context, q Query) (iter.Seq[Result], error) {
	p, err := idx.plan(q)
	if err != nil {
		return nil, err
	}

	var used atomic.Bool
	return func(yield func(Result) bool) {
		if used.Swap(true) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		idx.mu.Lock()
		defer idx.mu.Unlock()

		scorer := idx.label(p)
		emitted := 0
		sr := idx.search(p, rtree.SearchOptions{
			EarlyStop: true,
			Prune:     true,
			MinScore:  q.MinScore,
		}, func(h rtree.Hit[Record]) bool {
			if ctx.Err() != nil {
				return false
			}
			if h.Score < q.MinScore {
				return true
			}
			if emitted == 0 {
				idx.metrics.observeFirstResult(time.Since(start).Seconds())
			}
			emitted++
			return yield(newResult(scorer, h))
		})

		idx.metrics.observeSearch(SearchStream, time.Since(start).Seconds(), sr.Pruned)
		idx.logger.Debug("streamed search",
			slog.Int("results", emitted),
			slog.Int("visited", sr.Visited),
			slog.Int("pruned", sr.Pruned),
			slog.Bool("stopped", sr.Stopped),
			slog.Duration("elapsed", time.Since(start)))
	}, nil
}
