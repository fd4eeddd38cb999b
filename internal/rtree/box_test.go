package rtree

import (
	"errors"
	"math"
	"testing"
)

func TestNewBox(t *testing.T) {
	tests := []struct {
		name    string
		min     []float64
		max     []float64
		wantErr bool
	}{
		{"point", []float64{1, 2}, []float64{1, 2}, false},
		{"box", []float64{0, 0}, []float64{1, 1}, false},
		{"three dims", []float64{0, 0, 0}, []float64{1, 2, 3}, false},
		{"empty", nil, nil, true},
		{"dimension mismatch", []float64{0}, []float64{1, 1}, true},
		{"inverted", []float64{2, 0}, []float64{1, 1}, true},
		{"nan", []float64{math.NaN(), 0}, []float64{1, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBox(tt.min, tt.max)
			if tt.wantErr && !errors.Is(err, ErrInvalidBox) {
				t.Errorf("expected ErrInvalidBox, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewBox_CopiesCorners(t *testing.T) {
	lo, hi := []float64{0, 0}, []float64{1, 1}
	b, err := NewBox(lo, hi)
	if err != nil {
		t.Fatal(err)
	}
	lo[0] = 5
	if b.Min[0] != 0 {
		t.Error("box aliases the caller's slice")
	}
}

func TestBox_Relations(t *testing.T) {
	unit := Box{Min: []float64{0, 0}, Max: []float64{1, 1}}
	tests := []struct {
		name       string
		other      Box
		intersects bool
		contains   bool
	}{
		{"inner point", Point(0.5, 0.5), true, true},
		{"corner point", Point(1, 1), true, true},
		{"outside point", Point(1.5, 0.5), false, false},
		{"overlap", Box{Min: []float64{0.5, 0.5}, Max: []float64{2, 2}}, true, false},
		{"touching edge", Box{Min: []float64{1, 0}, Max: []float64{2, 1}}, true, false},
		{"same", unit, true, true},
		{"empty", Box{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unit.Intersects(tt.other); got != tt.intersects {
				t.Errorf("Intersects = %v, want %v", got, tt.intersects)
			}
			if got := unit.Contains(tt.other); got != tt.contains {
				t.Errorf("Contains = %v, want %v", got, tt.contains)
			}
		})
	}
}

func TestBox_UnionAndArea(t *testing.T) {
	a := Point(0, 0)
	b := Point(2, 3)

	u := a.Union(b)
	if !u.Equal(Box{Min: []float64{0, 0}, Max: []float64{2, 3}}) {
		t.Fatalf("Union = %v", u)
	}
	if u.Area() != 6 {
		t.Errorf("Area = %v, want 6", u.Area())
	}
	if u.Margin() != 5 {
		t.Errorf("Margin = %v, want 5", u.Margin())
	}
	if a.unionArea(b) != 6 || a.unionMargin(b) != 5 {
		t.Errorf("unionArea/unionMargin disagree with Union")
	}
	if got := (Box{}).Union(a); !got.Equal(a) {
		t.Errorf("empty.Union(a) = %v", got)
	}
	if !a.IsPoint() || u.IsPoint() {
		t.Error("IsPoint misreports")
	}
}
