// Package ingest reads venue records from CSV exports, either from a local
// file or from an S3-compatible bucket.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/venue"
)

// Column names with special meaning. Every other column is read as a
// numeric feature named after its header.
const (
	ColumnID        = "id"
	ColumnName      = "name"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")
	// ErrInvalidRow is returned for a row that cannot be turned into a record.
	ErrInvalidRow = errors.New("invalid row")
)

// ReadCSV parses venues from r. The first row is the header; id, latitude
// and longitude are required, name is optional. Empty feature cells leave
// the feature unset. Errors name the offending line.
func ReadCSV(r io.Reader) ([]venue.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var recs []venue.Record
	seen := make(map[int64]int)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError already carries the line.
			return nil, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}
		line, _ := cr.FieldPos(0)
		rec, err := cols.record(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if prev, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("line %d: %w: id %d already on line %d", line, ErrInvalidRow, rec.ID, prev)
		}
		seen[rec.ID] = line
		recs = append(recs, rec)
	}
	return recs, nil
}

type columns struct {
	id, name, lat, lon int
	features           map[int]string
}

func parseHeader(header []string) (columns, error) {
	cols := columns{id: -1, name: -1, lat: -1, lon: -1, features: make(map[int]string)}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch h {
		case ColumnID:
			cols.id = i
		case ColumnName:
			cols.name = i
		case ColumnLatitude:
			cols.lat = i
		case ColumnLongitude:
			cols.lon = i
		case "":
		default:
			cols.features[i] = h
		}
	}
	for name, idx := range map[string]int{ColumnID: cols.id, ColumnLatitude: cols.lat, ColumnLongitude: cols.lon} {
		if idx < 0 {
			return columns{}, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return cols, nil
}

func (c columns) record(row []string) (venue.Record, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(row[c.id]), 10, 64)
	if err != nil {
		return venue.Record{}, fmt.Errorf("%w: id %q", ErrInvalidRow, row[c.id])
	}
	lat, err := parseFloat(row[c.lat])
	if err != nil {
		return venue.Record{}, fmt.Errorf("%w: latitude %q", ErrInvalidRow, row[c.lat])
	}
	lon, err := parseFloat(row[c.lon])
	if err != nil {
		return venue.Record{}, fmt.Errorf("%w: longitude %q", ErrInvalidRow, row[c.lon])
	}

	rec := venue.Record{
		ID:       id,
		Location: geo.Point{Lon: lon, Lat: lat},
		Features: make(map[string]float64, len(c.features)),
	}
	if c.name >= 0 {
		rec.Name = strings.TrimSpace(row[c.name])
	}
	for i, feature := range c.features {
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		v, err := parseFloat(cell)
		if err != nil {
			return venue.Record{}, fmt.Errorf("%w: %s %q", ErrInvalidRow, feature, cell)
		}
		rec.Features[feature] = v
	}
	if err := rec.Validate(); err != nil {
		return venue.Record{}, err
	}
	return rec, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
