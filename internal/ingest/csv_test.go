package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/onnwee/cafeindex/internal/venue"
)

const sampleCSV = `id,name,rating,latitude,longitude,price_level,current_crowd
1,Corner Roast,4.0,25.02,121.50,2,10
2,"Station Brew, Annex",3.0,25.05,121.55,,90
`

func TestReadCSV(t *testing.T) {
	recs, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	first := recs[0]
	if first.ID != 1 || first.Name != "Corner Roast" {
		t.Errorf("first record = %+v", first)
	}
	if first.Location.Lat != 25.02 || first.Location.Lon != 121.50 {
		t.Errorf("first location = %+v", first.Location)
	}
	if first.Features["rating"] != 4 || first.Features["price_level"] != 2 || first.Features["current_crowd"] != 10 {
		t.Errorf("first features = %v", first.Features)
	}

	second := recs[1]
	if second.Name != "Station Brew, Annex" {
		t.Errorf("quoted name = %q", second.Name)
	}
	if _, ok := second.Features["price_level"]; ok {
		t.Error("empty cell should leave the feature unset")
	}
}

func TestReadCSV_ColumnOrderAndExtras(t *testing.T) {
	in := "LONGITUDE, latitude, id, wifi\n121.5, 25.0, 7, 1\n"
	recs, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 7 || recs[0].Location.Lon != 121.5 || recs[0].Features["wifi"] != 1 {
		t.Errorf("ReadCSV() = %+v", recs)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     error
		wantLine string
	}{
		{
			name: "empty input",
			in:   "",
			want: ErrMissingColumn,
		},
		{
			name: "missing latitude column",
			in:   "id,name,longitude\n1,a,121\n",
			want: ErrMissingColumn,
		},
		{
			name:     "bad id",
			in:       "id,latitude,longitude\n1,25,121\nx,25,121\n",
			want:     ErrInvalidRow,
			wantLine: "line 3",
		},
		{
			name:     "bad feature",
			in:       "id,latitude,longitude,rating\n1,25,121,great\n",
			want:     ErrInvalidRow,
			wantLine: "line 2",
		},
		{
			name:     "latitude out of range",
			in:       "id,latitude,longitude\n1,95,121\n",
			want:     venue.ErrInvalidCoordinate,
			wantLine: "line 2",
		},
		{
			name:     "duplicate id",
			in:       "id,latitude,longitude\n1,25,121\n1,25.1,121.1\n",
			want:     ErrInvalidRow,
			wantLine: "line 3",
		},
		{
			name: "ragged row",
			in:   "id,latitude,longitude\n1,25\n",
			want: ErrInvalidRow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in))
			if !errors.Is(err, tt.want) {
				t.Fatalf("ReadCSV() error = %v, want %v", err, tt.want)
			}
			if tt.wantLine != "" && !strings.Contains(err.Error(), tt.wantLine) {
				t.Errorf("error %q does not mention %s", err, tt.wantLine)
			}
		})
	}
}
