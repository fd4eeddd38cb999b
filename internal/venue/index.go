// Package venue is the café index: an R-tree of venue records with
// per-query scoring, pruned ranked search and a streaming variant.
//
// Every tree operation, including the labeling pass each query runs, is
// serialized by one mutex. Callers that refresh attributes from an external
// store fetch first and call UpdateFeatures or PatchFeatures afterwards, so
// the lock is never held across I/O.
package venue

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/rtree"
)

// Options configures an Index. Zero fields take the documented defaults.
type Options struct {
	Tree       rtree.Options      // fanout 8/4 by default
	Model      ranking.Model      // fixed-range normalization by default
	Aggregator ranking.Aggregator // trimmed mean (1 per side from 4 children) by default
	Enveloper  geo.Enveloper      // WGS84 with geo.DefaultArea by default
	Weights    ranking.Weights    // ranking.DefaultWeights by default
	Logger     *slog.Logger
	Metrics    *Metrics // optional
}

// Index is a concurrency-safe venue index.
type Index struct {
	mu        sync.Mutex
	tree      *rtree.Tree[Record]
	locations map[int64]geo.Point

	wmu     sync.RWMutex
	weights ranking.Weights

	model   ranking.Model
	agg     ranking.Aggregator
	env     geo.Enveloper
	logger  *slog.Logger
	metrics *Metrics
}

// New creates an empty index.
func New(opts Options) (*Index, error) {
	tree, err := rtree.New[Record](opts.Tree)
	if err != nil {
		return nil, err
	}
	if opts.Model.Normalization == "" {
		opts.Model.Normalization = ranking.FixedRange
	}
	if opts.Model.Scales == nil {
		opts.Model.Scales = ranking.DefaultScales()
	}
	if opts.Aggregator.Mode == "" {
		opts.Aggregator = ranking.NewAggregator()
	}
	if opts.Enveloper.Mode == "" {
		opts.Enveloper.Mode = geo.ModeEllipsoid
	}
	if opts.Enveloper.DefaultArea == (geo.Bounds{}) {
		opts.Enveloper.DefaultArea = geo.DefaultArea
	}
	if opts.Weights == nil {
		opts.Weights = ranking.DefaultWeights()
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Model.CheckWeights(opts.Weights); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	idx := &Index{
		tree:      tree,
		locations: make(map[int64]geo.Point),
		weights:   opts.Weights.Clone(),
		model:     opts.Model,
		agg:       opts.Aggregator,
		env:       opts.Enveloper,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	idx.metrics.setShape(0, tree.Height())
	return idx, nil
}

// Insert adds a record. The record is copied; later changes by the caller
// are not seen by the index.
func (idx *Index) Insert(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = rec.Clone()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.insertLocked(rec); err != nil {
		return err
	}
	idx.metrics.incMutation(MutationInsert)
	idx.metrics.setShape(idx.tree.Len(), idx.tree.Height())
	return nil
}

// InsertMany adds records in order under one lock acquisition. It stops at
// the first invalid or duplicate record and returns how many were added.
func (idx *Index) InsertMany(recs []Record) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := 0
	defer func() {
		idx.metrics.setShape(idx.tree.Len(), idx.tree.Height())
	}()
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return n, err
		}
		if err := idx.insertLocked(rec.Clone()); err != nil {
			return n, err
		}
		idx.metrics.incMutation(MutationInsert)
		n++
	}
	return n, nil
}

func (idx *Index) insertLocked(rec Record) error {
	if _, ok := idx.locations[rec.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateRecord, rec.ID)
	}
	idx.tree.Insert(rec.box(), rec)
	idx.locations[rec.ID] = rec.Location
	return nil
}

// Remove deletes the record with the given id.
func (idx *Index) Remove(id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loc, ok := idx.locations[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	if !idx.tree.Remove(pointBox(loc), Record{ID: id}) {
		panic(fmt.Sprintf("venue: record %d tracked at %v but missing from the tree", id, loc))
	}
	delete(idx.locations, id)

	idx.metrics.incMutation(MutationRemove)
	idx.metrics.setShape(idx.tree.Len(), idx.tree.Height())
	return nil
}

// Move relocates a record. The spatial entry is removed and reinserted.
func (idx *Index) Move(id int64, to geo.Point) error {
	if err := to.Validate(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	loc, ok := idx.locations[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	rec, _ := idx.tree.Find(pointBox(loc), id)
	idx.tree.Remove(pointBox(loc), rec)
	rec.Location = to
	idx.tree.Insert(rec.box(), rec)
	idx.locations[id] = to

	idx.metrics.incMutation(MutationMove)
	idx.metrics.setShape(idx.tree.Len(), idx.tree.Height())
	return nil
}

// UpdateFeatures replaces the feature map of a record in place. The
// spatial entry is untouched.
func (idx *Index) UpdateFeatures(id int64, features map[string]float64) error {
	if err := validateFeatures(features); err != nil {
		return err
	}
	features = maps.Clone(features)
	return idx.refresh(id, func(Record) map[string]float64 { return features })
}

// PatchFeatures merges values into the feature map of a record, leaving
// other features as they are.
func (idx *Index) PatchFeatures(id int64, values map[string]float64) error {
	if err := validateFeatures(values); err != nil {
		return err
	}
	return idx.refresh(id, func(r Record) map[string]float64 {
		merged := make(map[string]float64, len(r.Features)+len(values))
		maps.Copy(merged, r.Features)
		maps.Copy(merged, values)
		return merged
	})
}

func (idx *Index) refresh(id int64, next func(Record) map[string]float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loc, ok := idx.locations[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRecordNotFound, id)
	}
	idx.tree.Update(pointBox(loc), id, func(r Record) Record {
		r.Features = next(r)
		return r
	})
	idx.metrics.incMutation(MutationRefresh)
	return nil
}

// Get returns a copy of the record with the given id.
func (idx *Index) Get(id int64) (Record, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loc, ok := idx.locations[id]
	if !ok {
		return Record{}, false
	}
	rec, ok := idx.tree.Find(pointBox(loc), id)
	return rec.Clone(), ok
}

// Records returns copies of every record in index order.
func (idx *Index) Records() []Record {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	items := idx.tree.Items()
	for i := range items {
		items[i] = items[i].Clone()
	}
	return items
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Len()
}

// Snapshot returns a detached copy of the tree topology. Node scores
// reflect the most recent query.
func (idx *Index) Snapshot() rtree.Snapshot {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Snapshot()
}

// Check verifies the tree's structural invariants.
func (idx *Index) Check() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Check()
}

// SetWeights replaces the default weight map used by queries that carry
// none.
func (idx *Index) SetWeights(w ranking.Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if err := idx.model.CheckWeights(w); err != nil {
		return err
	}
	if err := w.Usable(); err != nil {
		idx.logger.Warn("default weights have no non-zero entry, all scores will be 0")
	}
	idx.wmu.Lock()
	idx.weights = w.Clone()
	idx.wmu.Unlock()
	idx.logger.Info("updated default feature weights", slog.Any("weights", map[string]float64(w)))
	return nil
}

// Weights returns a copy of the default weight map.
func (idx *Index) Weights() ranking.Weights {
	idx.wmu.RLock()
	defer idx.wmu.RUnlock()
	return idx.weights.Clone()
}
