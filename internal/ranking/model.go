package ranking

import (
	"errors"
	"fmt"
	"math"

	"github.com/onnwee/cafeindex/internal/geo"
)

// ErrUnknownNormalization is returned for an unrecognised normalization name.
var ErrUnknownNormalization = errors.New("unknown normalization")

// Normalization selects how raw feature values are mapped before weighting.
type Normalization string

const (
	// FixedRange maps features through fixed linear transforms and divides
	// by the sum of absolute weights. When the query radius is not positive
	// the distance term cannot be normalized; it scores 0 and its weight is
	// left out of the divisor, so the other features keep their full range.
	FixedRange Normalization = "fixed_range"
	// MinMax rescales features across the candidate set and sums. Features
	// where lower is better (distance, price level, crowd) are already
	// inverted by the rescaling, so their weights must not be negative: a
	// negative weight would invert them a second time and reward the worse
	// end. Model.CheckWeights rejects such weights.
	MinMax Normalization = "min_max"
)

// ParseNormalization converts a configuration value. The empty string
// selects FixedRange.
func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(s) {
	case "", FixedRange:
		return FixedRange, nil
	case MinMax:
		return MinMax, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNormalization, s)
	}
}

// Candidate is a scoreable record.
type Candidate interface {
	Key() int64
	Position() geo.Point
	// FeatureValues returns the raw attribute values. Callers must not modify
	// the returned map.
	FeatureValues() map[string]float64
}

// QueryContext carries the per-query inputs that are not record data.
type QueryContext struct {
	Center       geo.Point
	RadiusMeters float64
}

// Linear is the fixed-range transform Offset + Factor*v.
type Linear struct {
	Offset float64
	Factor float64
}

func (l Linear) apply(v float64) float64 { return l.Offset + l.Factor*v }

// DefaultScales returns the fixed-range transforms for the café features:
// rating 1..5 to -1..1, price level 0..5 to 1..0 and crowd 0..100 to 1..0.
// Features without a transform are used raw.
func DefaultScales() map[string]Linear {
	return map[string]Linear{
		FeatureRating:       {Offset: -1.5, Factor: 0.5},
		FeaturePriceLevel:   {Offset: 1, Factor: -0.2},
		FeatureCurrentCrowd: {Offset: 1, Factor: -0.01},
	}
}

// Model is a scoring configuration.
type Model struct {
	Normalization Normalization
	Scales        map[string]Linear // fixed-range transforms, DefaultScales when nil
}

// NewModel returns a model with the default scales.
func NewModel(n Normalization) Model {
	return Model{Normalization: n, Scales: DefaultScales()}
}

// CheckWeights reports weights the model would misread. Under MinMax a
// negative weight on a lower-is-better feature is an ErrInvalidWeight.
func (m Model) CheckWeights(w Weights) error {
	if m.Normalization != MinMax {
		return nil
	}
	for _, t := range w.terms() {
		if t.weight < 0 && LowerIsBetter(t.feature) {
			return fmt.Errorf("%w: %s=%v is negative, but min_max already inverts %s",
				ErrInvalidWeight, t.feature, t.weight, t.feature)
		}
	}
	return nil
}

// span is the observed [lo, hi] of a feature across candidates.
type span struct {
	lo, hi float64
	seen   bool
}

func (s *span) add(v float64) {
	if !s.seen {
		s.lo, s.hi, s.seen = v, v, true
		return
	}
	s.lo = math.Min(s.lo, v)
	s.hi = math.Max(s.hi, v)
}

// unit maps v into 0..1, or 0 when the span is degenerate.
func (s span) unit(v float64) float64 {
	if !s.seen || s.hi <= s.lo {
		return 0
	}
	return (v - s.lo) / (s.hi - s.lo)
}

// Scorer scores candidates for one query. It is immutable once prepared
// and safe for concurrent use.
type Scorer struct {
	norm   Normalization
	scales map[string]Linear
	terms  []term
	total  float64 // sum of absolute weights of the terms that can score
	qc     QueryContext
	spans  map[string]span
}

// Prepare builds a scorer for the given weights and query. MinMax needs
// the full candidate set up front to find each feature's span; FixedRange
// ignores candidates.
func (m Model) Prepare(candidates []Candidate, weights Weights, qc QueryContext) *Scorer {
	s := &Scorer{
		norm:   m.Normalization,
		scales: m.Scales,
		terms:  weights.terms(),
		qc:     qc,
	}
	if s.norm == "" {
		s.norm = FixedRange
	}
	if s.scales == nil {
		s.scales = DefaultScales()
	}
	for _, t := range s.terms {
		if t.feature == FeatureDistance && qc.RadiusMeters <= 0 {
			continue
		}
		s.total += math.Abs(t.weight)
	}

	if s.norm == MinMax {
		s.spans = make(map[string]span, len(s.terms))
		for _, c := range candidates {
			for _, t := range s.terms {
				v, ok := s.raw(c, t.feature)
				if !ok {
					continue
				}
				sp := s.spans[t.feature]
				sp.add(v)
				s.spans[t.feature] = sp
			}
		}
	}
	return s
}

// Empty reports whether the scorer has no usable weight and therefore
// scores everything 0.
func (s *Scorer) Empty() bool { return len(s.terms) == 0 }

// Distance returns the candidate's distance from the query center: haversine
// meters rounded to the meter under FixedRange, planar degrees under MinMax.
func (s *Scorer) Distance(c Candidate) float64 {
	if s.norm == MinMax {
		return geo.Planar(s.qc.Center, c.Position())
	}
	return math.Round(geo.Haversine(s.qc.Center, c.Position()))
}

func (s *Scorer) raw(c Candidate, feature string) (float64, bool) {
	if feature == FeatureDistance {
		return s.Distance(c), true
	}
	v, ok := c.FeatureValues()[feature]
	return v, ok
}

// Score returns the weighted score of c rounded to three decimals. Missing
// features contribute 0.
func (s *Scorer) Score(c Candidate) float64 {
	if len(s.terms) == 0 {
		return 0
	}
	var sum float64
	for _, t := range s.terms {
		v, ok := s.raw(c, t.feature)
		if !ok {
			continue
		}
		sum += t.weight * s.normalize(t.feature, v)
	}
	if s.norm == FixedRange && s.total > 0 {
		sum /= s.total
	}
	return Round3(sum)
}

func (s *Scorer) normalize(feature string, v float64) float64 {
	if s.norm == MinMax {
		u := s.spans[feature].unit(v)
		if LowerIsBetter(feature) && s.spans[feature].hi > s.spans[feature].lo {
			u = 1 - u
		}
		return u
	}
	if feature == FeatureDistance {
		if s.qc.RadiusMeters <= 0 {
			return 0
		}
		return 1 - v/(2*s.qc.RadiusMeters)
	}
	if l, ok := s.scales[feature]; ok {
		return l.apply(v)
	}
	return v
}

// Attributes returns the candidate's features merged with its score and
// distance.
func (s *Scorer) Attributes(c Candidate) Attributes {
	feats := c.FeatureValues()
	out := make(Attributes, len(feats)+2)
	for k, v := range feats {
		out[k] = v
	}
	out[AttrDistance] = s.Distance(c)
	out[AttrScore] = s.Score(c)
	return out
}

// Attributes is a record's feature map with derived fields added.
type Attributes map[string]float64

// Score returns the "score" attribute.
func (a Attributes) Score() float64 { return a[AttrScore] }
