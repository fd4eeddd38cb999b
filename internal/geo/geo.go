// Package geo provides the geodesic helpers used by the venue index:
// coordinate validation, great-circle distance and radius envelopes.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned when a longitude or latitude is NaN,
// infinite or outside the WGS84 range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 position in degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Validate reports whether p is a usable position.
func (p Point) Validate() error {
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Lon)
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Lat)
	}
	return nil
}

// Bounds is an axis-aligned longitude/latitude box.
type Bounds struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Min returns the lower corner as a (lon, lat) slice.
func (b Bounds) Min() []float64 { return []float64{b.MinLon, b.MinLat} }

// Max returns the upper corner as a (lon, lat) slice.
func (b Bounds) Max() []float64 { return []float64{b.MaxLon, b.MaxLat} }

// SplitAntimeridian returns b as one or two boxes inside [-180, 180]
// longitude. A box running past either edge is cut there and the overhang
// is wrapped to the opposite side; a box spanning 360 degrees or more
// becomes the full longitude range.
func (b Bounds) SplitAntimeridian() []Bounds {
	switch {
	case b.MaxLon-b.MinLon >= 360:
		b.MinLon, b.MaxLon = -180, 180
		return []Bounds{b}
	case b.MinLon < -180:
		east, west := b, b
		east.MinLon, east.MaxLon = b.MinLon+360, 180
		west.MinLon = -180
		return []Bounds{east, west}
	case b.MaxLon > 180:
		east, west := b, b
		east.MaxLon = 180
		west.MinLon, west.MaxLon = -180, b.MaxLon-360
		return []Bounds{east, west}
	default:
		return []Bounds{b}
	}
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Planar returns the straight-line distance between a and b in degrees,
// taking the shorter way around in longitude. It is only meaningful for
// ranking candidates within a small area.
func Planar(a, b Point) float64 {
	dLon := math.Abs(b.Lon - a.Lon)
	if dLon > 180 {
		dLon = 360 - dLon
	}
	return math.Hypot(dLon, b.Lat-a.Lat)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
