package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/cafeindex/internal/audit"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/venue"
)

// ContentTypeCBOR selects the binary snapshot encoding.
const ContentTypeCBOR = "application/cbor"

// IndexHandlers exposes the default weights and the tree snapshot.
type IndexHandlers struct {
	index *venue.Index
	cbor  cbor.EncMode
	audit audit.Repository // optional
}

// NewIndexHandlers creates a new IndexHandlers instance.
func NewIndexHandlers(index *venue.Index) *IndexHandlers {
	// Canonical encoding keeps snapshots byte-comparable across requests.
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("api: invalid CBOR options: " + err.Error())
	}
	return &IndexHandlers{index: index, cbor: em}
}

// GetWeights handles GET /api/weights.
func (h *IndexHandlers) GetWeights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.index.Weights())
}

// PutWeights handles PUT /api/weights, replacing the weights used by
// queries that carry none.
func (h *IndexHandlers) PutWeights(w http.ResponseWriter, r *http.Request) {
	var weights ranking.Weights
	if !decodeBody(w, r, &weights) {
		return
	}
	if weights == nil {
		weights = ranking.Weights{}
	}
	if err := h.index.SetWeights(weights); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidWeights)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidWeights, err.Error())
		return
	}
	audit.Record(r, h.audit, audit.ActionWeightsUpdate, 0)
	slog.InfoContext(r.Context(), "default weights replaced",
		"operator", middleware.GetOperator(r.Context()))
	writeJSON(w, r, http.StatusOK, h.index.Weights())
}

// Snapshot handles GET /api/tree/snapshot. The topology is JSON by default,
// CBOR when the client accepts application/cbor, and a GeoJSON feature
// collection of node boxes and café points with format=geojson.
func (h *IndexHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Query().Get("format") == "geojson":
		data, err := h.index.GeoJSON().MarshalJSON()
		if err != nil {
			h.writeEncodeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(data)

	case strings.Contains(r.Header.Get("Accept"), ContentTypeCBOR):
		data, err := h.cbor.Marshal(h.index.Snapshot())
		if err != nil {
			h.writeEncodeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", ContentTypeCBOR)
		_, _ = w.Write(data)

	default:
		writeJSON(w, r, http.StatusOK, h.index.Snapshot())
	}
}

func (h *IndexHandlers) writeEncodeError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "failed to encode snapshot", "error", err)
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to encode snapshot")
}
