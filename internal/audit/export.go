package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports entries as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports entries as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ParseExportFormat accepts "csv" and "json"; empty means JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format: %q", s)
}

// ContentType returns the media type for the format.
func (f ExportFormat) ContentType() string {
	if f == ExportFormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Export writes entries to w in the given format.
func Export(w io.Writer, entries []Entry, format ExportFormat) error {
	switch format {
	case ExportFormatCSV:
		return exportCSV(w, entries)
	case ExportFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return fmt.Errorf("unsupported export format: %q", format)
}

var csvHeader = []string{
	"id",
	"timestamp_utc",
	"operator",
	"action",
	"cafe_id",
	"request_id",
	"ip_address",
	"previous_hash",
	"hash",
}

func exportCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		cafe := ""
		if e.CafeID != 0 {
			cafe = strconv.FormatInt(e.CafeID, 10)
		}
		row := []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.Operator,
			e.Action,
			cafe,
			e.RequestID,
			e.IPAddress,
			e.PreviousHash,
			e.Hash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
