package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
)

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Feature weights, merged over the defaults
}

// DefaultWeights returns the built-in feature weights.
//
// Distance dominates so nearby venues win, crowding is the next strongest
// signal, and rating and price act as tie-breakers.
func DefaultWeights() Weights {
	return Weights{
		FeatureRating:       0.3,
		FeaturePriceLevel:   0.2,
		FeatureCurrentCrowd: 0.8,
		FeatureDistance:     1.2,
	}
}

// LoadCalibration loads feature weights from a JSON calibration file.
// If the file doesn't exist or can't be parsed, returns default weights with an error.
// Partial configurations are merged with defaults for graceful degradation.
//
// Parameters:
//   - filePath: Path to the calibration JSON file
//
// Returns the loaded weights and any error encountered.
func LoadCalibration(filePath string) (Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}
	if err := config.Weights.Validate(); err != nil {
		slog.Warn("invalid calibration weights, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("invalid calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights over base weights. Every key
// present in override wins, including explicit zeros, which switch a
// feature off.
func MergeCalibration(base Weights, override Weights) Weights {
	if base == nil {
		base = DefaultWeights()
	}
	result := base.Clone()
	for name, w := range override {
		result[name] = w
	}
	return result
}

// logCalibrationOverrides logs which weights differ from the defaults.
func logCalibrationOverrides(defaults Weights, loaded Weights) {
	var overrides []string
	for _, name := range slices.Sorted(maps.Keys(loaded)) {
		before, known := defaults[name]
		switch {
		case !known:
			overrides = append(overrides, fmt.Sprintf("%s: (unset) -> %.2f", name, loaded[name]))
		case loaded[name] != before:
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, before, loaded[name]))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
