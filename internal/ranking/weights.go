package ranking

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

var (
	// ErrEmptyWeightMap reports a weight map without any non-zero weight.
	// Queries with such a map score every candidate 0.
	ErrEmptyWeightMap = errors.New("no usable feature weights")

	// ErrInvalidWeight reports a NaN or infinite weight.
	ErrInvalidWeight = errors.New("invalid feature weight")
)

// Well-known feature names.
const (
	FeatureDistance     = "distance"
	FeatureRating       = "rating"
	FeaturePriceLevel   = "price_level"
	FeatureCurrentCrowd = "current_crowd"
)

// Attribute keys added to a record's features in scored output.
const (
	AttrScore    = "score"
	AttrDistance = FeatureDistance
)

// LowerIsBetter reports whether a smaller raw value of the feature is
// preferable. Normalization inverts these features.
func LowerIsBetter(feature string) bool {
	switch feature {
	case FeatureDistance, FeatureCurrentCrowd, FeaturePriceLevel:
		return true
	}
	return false
}

// Weights maps feature names to signed weights. A positive weight prefers
// candidates that are better on that feature.
type Weights map[string]float64

// Validate rejects NaN and infinite weights.
func (w Weights) Validate() error {
	for _, name := range slices.Sorted(maps.Keys(w)) {
		v := w[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, name, v)
		}
		if name == "" {
			return fmt.Errorf("%w: empty feature name", ErrInvalidWeight)
		}
	}
	return nil
}

// Usable returns ErrEmptyWeightMap when no weight is non-zero.
func (w Weights) Usable() error {
	for _, v := range w {
		if v != 0 && !math.IsNaN(v) {
			return nil
		}
	}
	return ErrEmptyWeightMap
}

// Clone returns a copy of w. A nil map clones to nil.
func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}
	return maps.Clone(w)
}

// term is one weighted feature in a fixed evaluation order, so repeated
// scoring sums in the same order.
type term struct {
	feature string
	weight  float64
}

func (w Weights) terms() []term {
	names := slices.Sorted(maps.Keys(w))
	out := make([]term, 0, len(names))
	for _, name := range names {
		if v := w[name]; v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, term{feature: name, weight: v})
		}
	}
	return out
}

// Round3 rounds x to three decimal digits.
func Round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
