package rtree

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidBox is returned by NewBox when the corners disagree in
// dimension, contain NaN, or are inverted.
var ErrInvalidBox = errors.New("invalid bounding box")

// Box is an axis-aligned bounding box. A point is a box with Min == Max.
// The zero Box is empty and is used for nodes without entries.
type Box struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// NewBox validates and copies the given corners.
func NewBox(min, max []float64) (Box, error) {
	if len(min) == 0 || len(min) != len(max) {
		return Box{}, fmt.Errorf("%w: corner dimensions %d and %d", ErrInvalidBox, len(min), len(max))
	}
	for d := range min {
		if math.IsNaN(min[d]) || math.IsNaN(max[d]) {
			return Box{}, fmt.Errorf("%w: NaN in dimension %d", ErrInvalidBox, d)
		}
		if min[d] > max[d] {
			return Box{}, fmt.Errorf("%w: min %v > max %v in dimension %d", ErrInvalidBox, min[d], max[d], d)
		}
	}
	return Box{Min: slices.Clone(min), Max: slices.Clone(max)}, nil
}

// Point returns the degenerate box for a single point.
func Point(coords ...float64) Box {
	return Box{Min: slices.Clone(coords), Max: slices.Clone(coords)}
}

// Dims returns the number of dimensions of b, 0 when b is empty.
func (b Box) Dims() int { return len(b.Min) }

// IsEmpty reports whether b carries no extent at all.
func (b Box) IsEmpty() bool { return len(b.Min) == 0 }

// IsPoint reports whether b is degenerate in every dimension.
func (b Box) IsPoint() bool {
	if b.IsEmpty() {
		return false
	}
	for d := range b.Min {
		if b.Min[d] != b.Max[d] {
			return false
		}
	}
	return true
}

// Intersects reports whether b and o share at least one point. Touching
// edges count as intersecting.
func (b Box) Intersects(o Box) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	for d := range b.Min {
		if b.Min[d] > o.Max[d] || o.Min[d] > b.Max[d] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	if o.IsEmpty() {
		return true
	}
	if b.IsEmpty() {
		return false
	}
	for d := range b.Min {
		if o.Min[d] < b.Min[d] || o.Max[d] > b.Max[d] {
			return false
		}
	}
	return true
}

// Area returns the product of the extents of b.
func (b Box) Area() float64 {
	if b.IsEmpty() {
		return 0
	}
	a := 1.0
	for d := range b.Min {
		a *= b.Max[d] - b.Min[d]
	}
	return a
}

// Margin returns the sum of the extents of b. It separates boxes that all
// have zero area, which is the common case for point data.
func (b Box) Margin() float64 {
	var m float64
	for d := range b.Min {
		m += b.Max[d] - b.Min[d]
	}
	return m
}

// Union returns the smallest box containing both b and o.
func (b Box) Union(o Box) Box {
	switch {
	case b.IsEmpty():
		return o.Clone()
	case o.IsEmpty():
		return b.Clone()
	}
	u := Box{Min: make([]float64, len(b.Min)), Max: make([]float64, len(b.Max))}
	for d := range b.Min {
		u.Min[d] = math.Min(b.Min[d], o.Min[d])
		u.Max[d] = math.Max(b.Max[d], o.Max[d])
	}
	return u
}

// Equal reports whether b and o have identical corners.
func (b Box) Equal(o Box) bool {
	return slices.Equal(b.Min, o.Min) && slices.Equal(b.Max, o.Max)
}

// Clone returns a deep copy of b.
func (b Box) Clone() Box {
	if b.IsEmpty() {
		return Box{}
	}
	return Box{Min: slices.Clone(b.Min), Max: slices.Clone(b.Max)}
}

// String formats b as [min..max].
func (b Box) String() string {
	if b.IsEmpty() {
		return "[]"
	}
	return fmt.Sprintf("[%v..%v]", b.Min, b.Max)
}

// unionArea is Union(o).Area() without allocating.
func (b Box) unionArea(o Box) float64 {
	if b.IsEmpty() {
		return o.Area()
	}
	if o.IsEmpty() {
		return b.Area()
	}
	a := 1.0
	for d := range b.Min {
		a *= math.Max(b.Max[d], o.Max[d]) - math.Min(b.Min[d], o.Min[d])
	}
	return a
}

// unionMargin is Union(o).Margin() without allocating.
func (b Box) unionMargin(o Box) float64 {
	if b.IsEmpty() {
		return o.Margin()
	}
	if o.IsEmpty() {
		return b.Margin()
	}
	var m float64
	for d := range b.Min {
		m += math.Max(b.Max[d], o.Max[d]) - math.Min(b.Min[d], o.Min[d])
	}
	return m
}

// enlargement is the area b would gain by absorbing o.
func (b Box) enlargement(o Box) float64 {
	return b.unionArea(o) - b.Area()
}

// extend grows b in place to contain o. b must not be empty.
func (b *Box) extend(o Box) {
	for d := range b.Min {
		if o.Min[d] < b.Min[d] {
			b.Min[d] = o.Min[d]
		}
		if o.Max[d] > b.Max[d] {
			b.Max[d] = o.Max[d]
		}
	}
}
