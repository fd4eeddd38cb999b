package venue

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/rtree"
)

var (
	// ErrInvalidCoordinate is returned for NaN, infinite or out-of-range
	// positions at insert or query time. It is geo.ErrInvalidCoordinate.
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate

	// ErrInvalidFeature is returned for NaN or infinite feature values.
	ErrInvalidFeature = errors.New("venue: invalid feature value")

	// ErrRecordNotFound is returned when an id is not indexed.
	ErrRecordNotFound = errors.New("venue: record not found")

	// ErrDuplicateRecord is returned when inserting an id that is already
	// indexed. Use Move or UpdateFeatures to change an existing record.
	ErrDuplicateRecord = errors.New("venue: duplicate record id")

	// ErrInvalidQuery is returned for a NaN or infinite radius or score
	// threshold.
	ErrInvalidQuery = errors.New("venue: invalid query")
)

// Record is a venue stored in the index.
type Record struct {
	ID       int64              `json:"id"`
	Name     string             `json:"name,omitempty"`
	Location geo.Point          `json:"location"`
	Features map[string]float64 `json:"features,omitempty"`
}

// Key implements rtree.Keyed.
func (r Record) Key() int64 { return r.ID }

// Position implements ranking.Candidate.
func (r Record) Position() geo.Point { return r.Location }

// FeatureValues implements ranking.Candidate.
func (r Record) FeatureValues() map[string]float64 { return r.Features }

// Validate checks the location and every feature value.
func (r Record) Validate() error {
	if err := r.Location.Validate(); err != nil {
		return fmt.Errorf("record %d: %w", r.ID, err)
	}
	if err := validateFeatures(r.Features); err != nil {
		return fmt.Errorf("record %d: %w", r.ID, err)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Features = maps.Clone(r.Features)
	return r
}

func (r Record) box() rtree.Box {
	return pointBox(r.Location)
}

func pointBox(p geo.Point) rtree.Box {
	return rtree.Point(p.Lon, p.Lat)
}

func boundsBox(b geo.Bounds) rtree.Box {
	return rtree.Box{Min: b.Min(), Max: b.Max()}
}

func validateFeatures(f map[string]float64) error {
	for _, name := range slices.Sorted(maps.Keys(f)) {
		if v := f[name]; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidFeature, name, v)
		}
	}
	return nil
}
