// Package validate checks operator supplied text, such as café names and
// feature names, before it reaches the index or the store.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// Limits for café data.
const (
	MaxCafeNameLength    = 120
	MaxFeatureNameLength = 64
	MaxFeatures          = 32
)

// StringConstraints defines validation constraints for a string. Control
// characters and invalid UTF-8 are always rejected.
type StringConstraints struct {
	MinLength      int            // in runes, 0 = no minimum
	MaxLength      int            // in runes, 0 = no maximum
	AllowedPattern *regexp.Regexp // optional
	AllowEmpty     bool
	TrimSpace      bool
}

// String validates s against the constraints and returns it, trimmed if
// requested.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrInvalidCharacters)
	}
	if strings.ContainsFunc(s, unicode.IsControl) {
		return "", fmt.Errorf("%w: control character", ErrInvalidCharacters)
	}

	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}
	return s, nil
}

// CafeName validates an optional display name of up to
// MaxCafeNameLength characters. Surrounding space is trimmed.
func CafeName(name string) (string, error) {
	return String(name, StringConstraints{
		MaxLength:  MaxCafeNameLength,
		AllowEmpty: true,
		TrimSpace:  true,
	})
}

var featureNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FeatureName validates a feature name: lower case snake_case starting
// with a letter, at most MaxFeatureNameLength characters.
func FeatureName(name string) error {
	_, err := String(name, StringConstraints{
		MinLength:      1,
		MaxLength:      MaxFeatureNameLength,
		AllowedPattern: featureNamePattern,
	})
	if err != nil {
		return fmt.Errorf("feature %q: %w", name, err)
	}
	return nil
}

// Features validates the names of a feature map and caps its size at
// MaxFeatures. Values are checked by the index.
func Features(features map[string]float64) error {
	if len(features) > MaxFeatures {
		return fmt.Errorf("%w: %d features, maximum is %d", ErrStringTooLong, len(features), MaxFeatures)
	}
	for name := range features {
		if err := FeatureName(name); err != nil {
			return err
		}
	}
	return nil
}
