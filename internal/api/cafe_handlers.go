package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/cafeindex/internal/audit"
	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/store"
	"github.com/onnwee/cafeindex/internal/validate"
	"github.com/onnwee/cafeindex/internal/venue"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// VenueStore persists café changes. *store.PostgresStore implements it.
type VenueStore interface {
	UpsertVenues(ctx context.Context, recs []venue.Record) (int, error)
	DeleteVenue(ctx context.Context, id int64) error
}

// CafeHandlers mutates the index and, when configured, the record store.
type CafeHandlers struct {
	index *venue.Index
	store VenueStore       // optional
	audit audit.Repository // optional
}

// NewCafeHandlers creates a new CafeHandlers instance. store may be nil.
func NewCafeHandlers(index *venue.Index, store VenueStore) *CafeHandlers {
	return &CafeHandlers{index: index, store: store}
}

// CafePatch is the body of PATCH /api/cafes/{id}. Features are merged
// unless ReplaceFeatures is set.
type CafePatch struct {
	Location        *geo.Point         `json:"location,omitempty"`
	Features        map[string]float64 `json:"features,omitempty"`
	ReplaceFeatures bool               `json:"replace_features,omitempty"`
}

// Get handles GET /api/cafes/{id}.
func (h *CafeHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, found := h.index.Get(id)
	if !found {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("Cafe %d not found", id))
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// Create handles POST /api/cafes. The café is indexed first so duplicates
// are rejected before touching the store; a store failure undoes the insert.
func (h *CafeHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var rec venue.Record
	if !decodeBody(w, r, &rec) {
		return
	}
	name, err := validate.CafeName(rec.Name)
	if err == nil {
		err = validate.Features(rec.Features)
	}
	if err != nil {
		writeValidationError(w, r, err)
		return
	}
	rec.Name = name
	if err := h.index.Insert(rec); err != nil {
		writeCafeError(w, r, rec.ID, err)
		return
	}
	if h.store != nil {
		if _, err := h.store.UpsertVenues(r.Context(), []venue.Record{rec}); err != nil {
			if rmErr := h.index.Remove(rec.ID); rmErr != nil {
				slog.ErrorContext(r.Context(), "failed to undo insert", "cafe_id", rec.ID, "error", rmErr)
			}
			writeCafeError(w, r, rec.ID, err)
			return
		}
	}
	audit.Record(r, h.audit, audit.ActionCafeCreate, rec.ID)
	slog.InfoContext(r.Context(), "cafe created",
		"cafe_id", rec.ID,
		"operator", middleware.GetOperator(r.Context()))
	w.Header().Set("Location", "/api/cafes/"+strconv.FormatInt(rec.ID, 10))
	stored, _ := h.index.Get(rec.ID)
	writeJSON(w, r, http.StatusCreated, stored)
}

// Delete handles DELETE /api/cafes/{id}.
func (h *CafeHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, found := h.index.Get(id); !found {
		writeCafeError(w, r, id, venue.ErrRecordNotFound)
		return
	}
	if h.store != nil {
		if err := h.store.DeleteVenue(r.Context(), id); err != nil && !errors.Is(err, store.ErrVenueNotFound) {
			writeCafeError(w, r, id, err)
			return
		}
	}
	if err := h.index.Remove(id); err != nil {
		writeCafeError(w, r, id, err)
		return
	}
	audit.Record(r, h.audit, audit.ActionCafeDelete, id)
	slog.InfoContext(r.Context(), "cafe deleted",
		"cafe_id", id,
		"operator", middleware.GetOperator(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Patch handles PATCH /api/cafes/{id}: moves the café and refreshes its
// features in the index, then writes the result through to the store. A
// failure part way puts the previous record back in the index.
func (h *CafeHandlers) Patch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch CafePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if patch.Location == nil && patch.Features == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Nothing to update: set location or features")
		return
	}
	if err := validate.Features(patch.Features); err != nil {
		writeValidationError(w, r, err)
		return
	}

	prev, found := h.index.Get(id)
	if !found {
		writeCafeError(w, r, id, venue.ErrRecordNotFound)
		return
	}
	fail := func(err error) {
		h.restore(r, prev)
		writeCafeError(w, r, id, err)
	}

	if patch.Location != nil {
		if err := h.index.Move(id, *patch.Location); err != nil {
			fail(err)
			return
		}
	}
	if patch.Features != nil {
		var err error
		if patch.ReplaceFeatures {
			err = h.index.UpdateFeatures(id, patch.Features)
		} else {
			err = h.index.PatchFeatures(id, patch.Features)
		}
		if err != nil {
			fail(err)
			return
		}
	}

	rec, found := h.index.Get(id)
	if !found {
		writeCafeError(w, r, id, venue.ErrRecordNotFound)
		return
	}
	if h.store != nil {
		if _, err := h.store.UpsertVenues(r.Context(), []venue.Record{rec}); err != nil {
			fail(err)
			return
		}
	}
	audit.Record(r, h.audit, audit.ActionCafePatch, id)
	writeJSON(w, r, http.StatusOK, rec)
}

// restore puts prev's location and features back after a failed patch.
func (h *CafeHandlers) restore(r *http.Request, prev venue.Record) {
	err := h.index.Move(prev.ID, prev.Location)
	if err == nil {
		err = h.index.UpdateFeatures(prev.ID, prev.Features)
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to undo patch", "cafe_id", prev.ID, "error", err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Cafe id must be an integer")
		return 0, false
	}
	return id, true
}

func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
	WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeCafeError(w http.ResponseWriter, r *http.Request, id int64, err error) {
	var status int
	var code, msg string
	switch {
	case errors.Is(err, venue.ErrRecordNotFound):
		status, code, msg = http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("Cafe %d not found", id)
	case errors.Is(err, venue.ErrDuplicateRecord):
		status, code, msg = http.StatusConflict, ErrCodeDuplicateCafe, fmt.Sprintf("Cafe %d already exists", id)
	case errors.Is(err, venue.ErrInvalidCoordinate):
		status, code, msg = http.StatusBadRequest, ErrCodeInvalidCoordinate, err.Error()
	case errors.Is(err, venue.ErrInvalidFeature):
		status, code, msg = http.StatusBadRequest, ErrCodeValidation, err.Error()
	default:
		slog.ErrorContext(r.Context(), "cafe update failed", "cafe_id", id, "error", err)
		status, code, msg = http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
	}
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, status, code, msg)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
