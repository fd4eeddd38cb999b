package geo

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

// destination returns the point reached by travelling meters along bearing
// (radians) on the mean-radius sphere.
func destination(from Point, bearing, meters float64) Point {
	delta := meters / EarthRadiusMeters
	lat1 := radians(from.Lat)
	lon1 := radians(from.Lon)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(bearing))
	lon2 := lon1 + math.Atan2(
		math.Sin(bearing)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Point{Lon: degrees(lon2), Lat: degrees(lat2)}
}

func TestEnvelope_ContainsCircle(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for _, mode := range []EnvelopeMode{ModeEllipsoid, ModeSphere} {
		env := Enveloper{Mode: mode, DefaultArea: DefaultArea}
		for i := 0; i < 500; i++ {
			center := Point{
				Lon: rng.Float64()*340 - 170,
				Lat: rng.Float64()*178 - 89,
			}
			radius := 1 + rng.Float64()*50000

			box, fallback := env.Envelope(center, radius)
			if fallback {
				t.Fatalf("unexpected fallback for radius %v", radius)
			}

			for k := 0; k < 64; k++ {
				bearing := float64(k) / 64 * 2 * math.Pi
				for _, frac := range []float64{0.25, 0.9, 0.999999} {
					p := destination(center, bearing, radius*frac)
					if Haversine(center, p) > radius {
						continue
					}
					if !box.Contains(p) {
						t.Fatalf("%s: point %+v at %.3fm from %+v outside envelope %+v (radius %.3f)",
							mode, p, Haversine(center, p), center, box, radius)
					}
				}
			}
		}
	}
}

func TestEnvelope_WGS84Latitude(t *testing.T) {
	center := Point{Lon: 121.50, Lat: 25.02}
	radius := 2000.0

	box := Envelope(center.Lon, center.Lat, radius)

	latRad := radians(center.Lat)
	sinLat := math.Sin(latRad)
	m := WGS84SemiMajorAxis * (1 - WGS84Eccentricity2) / math.Pow(1-WGS84Eccentricity2*sinLat*sinLat, 1.5)
	wantDLat := radius / m * 180 / math.Pi

	gotDLat := box.MaxLat - center.Lat
	if math.Abs(gotDLat-wantDLat) > 1e-9 {
		t.Errorf("latitude half-extent = %.12f, want %.12f", gotDLat, wantDLat)
	}
	if math.Abs((center.Lat-box.MinLat)-gotDLat) > 1e-12 {
		t.Errorf("envelope not symmetric in latitude: %+v", box)
	}
	if box.MaxLon-center.Lon <= gotDLat {
		t.Errorf("longitude half-extent should exceed latitude half-extent at 25N: %+v", box)
	}
}

func TestEnvelope_DegenerateRadius(t *testing.T) {
	env := NewEnveloper()
	for _, r := range []float64{0, -5, math.NaN()} {
		box, fallback := env.Envelope(Point{Lon: 10, Lat: 10}, r)
		if !fallback {
			t.Errorf("radius %v: expected fallback", r)
		}
		if box != DefaultArea {
			t.Errorf("radius %v: got %+v, want default area %+v", r, box, DefaultArea)
		}
	}
}

func TestEnvelope_PolarCapSpansAllLongitudes(t *testing.T) {
	box, _ := NewEnveloper().Envelope(Point{Lon: 30, Lat: 89.9}, 50000)
	if box.MinLon != -180 || box.MaxLon != 180 {
		t.Errorf("expected full longitude span, got %+v", box)
	}
	if box.MaxLat != 90 {
		t.Errorf("expected latitude clamped at 90, got %v", box.MaxLat)
	}
}

func TestEnvelope_AntimeridianContainsCircle(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	env := NewEnveloper()

	for i := 0; i < 300; i++ {
		lon := 179 + rng.Float64()
		if i%2 == 1 {
			lon = -lon
		}
		center := Point{Lon: lon, Lat: rng.Float64()*160 - 80}
		radius := 1 + rng.Float64()*200000

		box, _ := env.Envelope(center, radius)
		pieces := box.SplitAntimeridian()

		for k := 0; k < 64; k++ {
			p := destination(center, float64(k)/64*2*math.Pi, radius*0.999)
			if p.Lon > 180 {
				p.Lon -= 360
			} else if p.Lon < -180 {
				p.Lon += 360
			}
			if Haversine(center, p) > radius {
				continue
			}
			inside := false
			for _, b := range pieces {
				if b.Contains(p) {
					inside = true
				}
			}
			if !inside {
				t.Fatalf("point %+v at %.3fm from %+v outside %+v", p, Haversine(center, p), center, pieces)
			}
		}
	}
}

func TestBounds_SplitAntimeridian(t *testing.T) {
	tests := []struct {
		name string
		in   Bounds
		want []Bounds
	}{
		{
			name: "inside",
			in:   Bounds{MinLon: 121.5, MinLat: 25, MaxLon: 121.6, MaxLat: 25.1},
			want: []Bounds{{MinLon: 121.5, MinLat: 25, MaxLon: 121.6, MaxLat: 25.1}},
		},
		{
			name: "past east edge",
			in:   Bounds{MinLon: 179.5, MinLat: -1, MaxLon: 180.5, MaxLat: 1},
			want: []Bounds{
				{MinLon: 179.5, MinLat: -1, MaxLon: 180, MaxLat: 1},
				{MinLon: -180, MinLat: -1, MaxLon: -179.5, MaxLat: 1},
			},
		},
		{
			name: "past west edge",
			in:   Bounds{MinLon: -180.25, MinLat: 10, MaxLon: -179.75, MaxLat: 11},
			want: []Bounds{
				{MinLon: 179.75, MinLat: 10, MaxLon: 180, MaxLat: 11},
				{MinLon: -180, MinLat: 10, MaxLon: -179.75, MaxLat: 11},
			},
		},
		{
			name: "wider than the globe",
			in:   Bounds{MinLon: -200, MinLat: 0, MaxLon: 170, MaxLat: 1},
			want: []Bounds{{MinLon: -180, MinLat: 0, MaxLon: 180, MaxLat: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.SplitAntimeridian()
			if len(got) != len(tt.want) {
				t.Fatalf("got %d boxes %+v, want %+v", len(got), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("box %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPlanar_WrapsLongitude(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
	}{
		{"same side", Point{Lon: 121.5, Lat: 25}, Point{Lon: 121.53, Lat: 25.04}, 0.05},
		{"across antimeridian", Point{Lon: 179.999, Lat: 0}, Point{Lon: -179.999, Lat: 0}, 0.002},
		{"opposite way", Point{Lon: -179.5, Lat: 1}, Point{Lon: 179.5, Lat: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Planar(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Planar = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnvelope_ScenarioRadius(t *testing.T) {
	box := Envelope(121.50, 25.02, 2000)
	if !box.Contains(Point{Lon: 121.50, Lat: 25.02}) {
		t.Error("center must be inside its own envelope")
	}
	if box.Contains(Point{Lon: 121.55, Lat: 25.05}) {
		t.Error("point ~6km away must be outside a 2km envelope")
	}
}

func TestParseEnvelopeMode(t *testing.T) {
	tests := []struct {
		in      string
		want    EnvelopeMode
		wantErr bool
	}{
		{"", ModeEllipsoid, false},
		{"ellipsoid", ModeEllipsoid, false},
		{"sphere", ModeSphere, false},
		{"flat", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEnvelopeMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEnvelopeMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownEnvelopeMode) {
			t.Errorf("ParseEnvelopeMode(%q) error = %v, want ErrUnknownEnvelopeMode", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseEnvelopeMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPoint_Validate(t *testing.T) {
	tests := []struct {
		name  string
		p     Point
		valid bool
	}{
		{"taipei", Point{Lon: 121.5, Lat: 25.0}, true},
		{"edges", Point{Lon: -180, Lat: 90}, true},
		{"nan lon", Point{Lon: math.NaN(), Lat: 0}, false},
		{"inf lat", Point{Lon: 0, Lat: math.Inf(1)}, false},
		{"lon out of range", Point{Lon: 180.5, Lat: 0}, false},
		{"lat out of range", Point{Lon: 0, Lat: -91}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("expected ErrInvalidCoordinate, got %v", err)
			}
		})
	}
}

func TestHaversine(t *testing.T) {
	// One degree of latitude on the mean sphere.
	got := Haversine(Point{Lon: 0, Lat: 0}, Point{Lon: 0, Lat: 1})
	want := EarthRadiusMeters * math.Pi / 180
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Haversine = %v, want %v", got, want)
	}
	if d := Haversine(Point{Lon: 121.5, Lat: 25.02}, Point{Lon: 121.5, Lat: 25.02}); d != 0 {
		t.Errorf("distance to self = %v", d)
	}
}
