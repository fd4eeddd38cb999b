package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/cafeindex/internal/audit"
	"github.com/onnwee/cafeindex/internal/middleware"
)

// maxAuditExport caps a single export.
const maxAuditExport = 1000

// AuditHandlers serves the operator change log.
type AuditHandlers struct {
	repo audit.Repository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// Export handles GET /api/audit. Optional filters: operator, cafe_id,
// from and to (RFC 3339) and limit; format is json (default) or csv.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := audit.ParseExportFormat(q.Get("format"))
	if err != nil {
		writeValidationError(w, r, err)
		return
	}

	filter := audit.Filter{Operator: q.Get("operator"), Limit: maxAuditExport}
	if v := q.Get("cafe_id"); v != "" {
		if filter.CafeID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeValidationError(w, r, err)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeValidationError(w, r, errors.New("limit must be a positive integer"))
			return
		}
		filter.Limit = min(n, maxAuditExport)
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(key); v != "" {
			if *dst, err = time.Parse(time.RFC3339, v); err != nil {
				writeValidationError(w, r, err)
				return
			}
		}
	}

	entries, err := h.repo.Query(filter)
	if err != nil {
		h.writeInternal(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := audit.Export(&buf, entries, format); err != nil {
		h.writeInternal(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, _ = w.Write(buf.Bytes())
}

func (h *AuditHandlers) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "audit export failed", "error", err)
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}
