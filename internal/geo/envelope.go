package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateQuery marks a query whose radius is not positive. Such queries
// are answered with the configured default area instead of a geodesic box.
var ErrDegenerateQuery = errors.New("degenerate query radius")

// ErrUnknownEnvelopeMode is returned for an unrecognised envelope mode name.
var ErrUnknownEnvelopeMode = errors.New("unknown envelope mode")

// WGS84 ellipsoid parameters.
const (
	WGS84SemiMajorAxis = 6378137.0
	WGS84Eccentricity2 = 0.00669437999014
)

// envelopeMargin widens every half-extent slightly so that points lying on
// the circle itself survive floating-point rounding.
const envelopeMargin = 1e-9

// EnvelopeMode selects how a radius is turned into degree offsets.
type EnvelopeMode string

const (
	// ModeEllipsoid uses the WGS84 meridional and prime-vertical radii of
	// curvature at the center latitude.
	ModeEllipsoid EnvelopeMode = "ellipsoid"
	// ModeSphere uses the mean-radius sphere only.
	ModeSphere EnvelopeMode = "sphere"
)

// ParseEnvelopeMode converts a configuration string into an EnvelopeMode.
// The empty string selects ModeEllipsoid.
func ParseEnvelopeMode(s string) (EnvelopeMode, error) {
	switch EnvelopeMode(s) {
	case "", ModeEllipsoid:
		return ModeEllipsoid, nil
	case ModeSphere:
		return ModeSphere, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvelopeMode, s)
	}
}

// DefaultArea is the coverage area returned for degenerate queries
// (central Taipei, where the venue dataset originates).
var DefaultArea = Bounds{MinLon: 121.50, MinLat: 25.02, MaxLon: 121.60, MaxLat: 25.10}

// Enveloper computes bounding boxes that conservatively contain a circle of
// a given radius around a center point.
type Enveloper struct {
	Mode        EnvelopeMode
	DefaultArea Bounds
}

// NewEnveloper returns an Enveloper using the WGS84 ellipsoid and DefaultArea.
func NewEnveloper() Enveloper {
	return Enveloper{Mode: ModeEllipsoid, DefaultArea: DefaultArea}
}

// Envelope returns the box covering every point within radiusMeters of
// center. When radiusMeters <= 0 it returns the default area and reports
// fallback=true; callers must not treat that box as a geodesic result.
//
// The box always contains the haversine circle of the same radius. In
// ellipsoid mode the WGS84 extents are widened to the mean-radius sphere
// wherever the sphere is larger, which it is for longitude at every latitude
// and for latitude poleward of roughly 50 degrees. Boxes that would cross a
// pole span all longitudes. Near the antimeridian the longitudes may run
// past ±180; Bounds.SplitAntimeridian turns such a box into searchable
// pieces.
func (e Enveloper) Envelope(center Point, radiusMeters float64) (b Bounds, fallback bool) {
	if radiusMeters <= 0 || math.IsNaN(radiusMeters) {
		return e.DefaultArea, true
	}

	latRad := radians(center.Lat)
	angular := radiusMeters / EarthRadiusMeters

	// Mean-sphere extents: exact for the spherical cap.
	dLat := degrees(angular)
	dLon := 180.0
	if cosLat := math.Cos(latRad); cosLat > 0 {
		if s := math.Sin(angular) / cosLat; s < 1 && angular < math.Pi/2 {
			dLon = degrees(math.Asin(s))
		}
	}

	if e.Mode != ModeSphere {
		sinLat := math.Sin(latRad)
		w := 1 - WGS84Eccentricity2*sinLat*sinLat
		m := WGS84SemiMajorAxis * (1 - WGS84Eccentricity2) / math.Pow(w, 1.5)
		n := WGS84SemiMajorAxis / math.Sqrt(w)

		dLat = math.Max(dLat, degrees(radiusMeters/m))
		if nc := n * math.Cos(latRad); nc > 0 && dLon < 180 {
			dLon = math.Max(dLon, degrees(radiusMeters/nc))
		}
	}

	dLat *= 1 + envelopeMargin
	if dLon < 180 {
		dLon *= 1 + envelopeMargin
	}

	b = Bounds{
		MinLon: center.Lon - dLon,
		MinLat: center.Lat - dLat,
		MaxLon: center.Lon + dLon,
		MaxLat: center.Lat + dLat,
	}
	if b.MaxLat >= 90 || b.MinLat <= -90 {
		b.MinLon, b.MaxLon = -180, 180
		b.MinLat = math.Max(b.MinLat, -90)
		b.MaxLat = math.Min(b.MaxLat, 90)
	}
	return b, false
}

// Envelope computes a WGS84 envelope with the package defaults.
func Envelope(lon, lat, radiusMeters float64) Bounds {
	b, _ := NewEnveloper().Envelope(Point{Lon: lon, Lat: lat}, radiusMeters)
	return b
}
