package ranking

import (
	"errors"
	"fmt"
	"slices"

	"github.com/onnwee/cafeindex/internal/rtree"
)

// ErrUnknownAggregate is returned for an unrecognised aggregate mode.
var ErrUnknownAggregate = errors.New("unknown aggregate mode")

// AggregateMode selects how a node summarizes its children's scores.
type AggregateMode string

const (
	TrimmedMean AggregateMode = "trimmed_mean"
	Mean        AggregateMode = "mean"
	Max         AggregateMode = "max"
)

// ParseAggregateMode converts a configuration value. The empty string
// selects TrimmedMean.
func ParseAggregateMode(s string) (AggregateMode, error) {
	switch AggregateMode(s) {
	case "", TrimmedMean:
		return TrimmedMean, nil
	case Mean:
		return Mean, nil
	case Max:
		return Max, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAggregate, s)
	}
}

// Aggregator computes node summaries.
type Aggregator struct {
	Mode AggregateMode
	// TrimPerSide scores are dropped from each end of a sorted node sample
	// holding at least TrimMinFanout scores. Smaller samples use the plain
	// mean.
	TrimPerSide   int
	TrimMinFanout int
}

// NewAggregator returns the canonical trimmed-mean aggregator dropping one
// extreme on each side once a node has four or more children.
func NewAggregator() Aggregator {
	return Aggregator{Mode: TrimmedMean, TrimPerSide: 1, TrimMinFanout: 4}
}

// Summarize condenses scores into one node summary rounded to three
// decimals. It sorts scores in place. An empty sample summarizes to 0.
func (a Aggregator) Summarize(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	switch a.Mode {
	case Max:
		return slices.Max(scores)
	case Mean:
		return Round3(mean(scores))
	default:
		return Round3(trimmedMean(scores, a.TrimPerSide, a.TrimMinFanout))
	}
}

func trimmedMean(scores []float64, perSide, minFanout int) float64 {
	if perSide <= 0 || len(scores) < minFanout || len(scores) <= 2*perSide {
		return mean(scores)
	}
	slices.Sort(scores)
	return mean(scores[perSide : len(scores)-perSide])
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Labeler is the part of the spatial index the aggregator writes to.
// *rtree.Tree satisfies it.
type Labeler[T Candidate] interface {
	Items() []T
	Relabel(score rtree.ScoreFunc[T], summarize rtree.SummaryFunc)
}

// Apply scores every record in tree for the query and labels every node
// with its summary and bound. It returns the scorer used so callers can
// derive attributes for the records they keep.
func Apply[T Candidate](tree Labeler[T], agg Aggregator, model Model, qc QueryContext, weights Weights) *Scorer {
	var candidates []Candidate
	if model.Normalization == MinMax {
		items := tree.Items()
		candidates = make([]Candidate, len(items))
		for i, it := range items {
			candidates[i] = it
		}
	}
	scorer := model.Prepare(candidates, weights, qc)
	tree.Relabel(func(it T) float64 { return scorer.Score(it) }, agg.Summarize)
	return scorer
}

// Label runs Apply and returns every record's attributes keyed by id.
func Label[T Candidate](tree Labeler[T], agg Aggregator, model Model, qc QueryContext, weights Weights) map[int64]Attributes {
	scorer := Apply(tree, agg, model, qc, weights)
	items := tree.Items()
	out := make(map[int64]Attributes, len(items))
	for _, it := range items {
		out[it.Key()] = scorer.Attributes(it)
	}
	return out
}
