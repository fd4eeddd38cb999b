// Package ranking scores venues against a feature-weight map and condenses
// those scores into per-node labels for the spatial index.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//
//	// Score a batch of candidates around a query center
//	model := ranking.NewModel(ranking.FixedRange)
//	scorer := model.Prepare(candidates, weights, ranking.QueryContext{
//		Center:       geo.Point{Lon: 121.5, Lat: 25.02},
//		RadiusMeters: 2000,
//	})
//	score := scorer.Score(candidates[0])
//
//	// Label every node of an index for pruned search
//	scorer = ranking.Apply(tree, ranking.NewAggregator(), model, qc, weights)
//
// Normalization:
//
// FixedRange is the canonical model. Every feature is mapped through a
// fixed linear transform (rating 1..5 to -1..1, crowd 0..100 to 1..0, and
// so on), distance becomes 1 - d/(2r) with haversine meters, and the
// weighted sum is divided by the sum of absolute weights. MinMax rescales
// each feature to 0..1 across the candidate set, measures distance in
// planar degrees, and returns the plain weighted sum. Lower-is-better
// features (distance, current_crowd, price_level) are inverted in both
// models, so positive weights always mean "prefer". MinMax refuses negative
// weights on those features (see Model.CheckWeights). Without a positive
// radius FixedRange cannot scale distance, so its weight drops out of the
// divisor.
//
// Aggregation:
//
// Each index node carries two labels. The summary (trimmed mean by
// default) describes how good a branch is on average and is only a ranking
// heuristic. The bound is the maximum record score below the node; it never
// understates a qualifying record, so it is the only label used to skip
// subtrees.
//
// Calibration:
//
// Default weights can be tuned per deployment with a JSON calibration file
// loaded at startup. Runtime updates replace the whole map.
package ranking
