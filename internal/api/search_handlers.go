// Package api provides HTTP handlers for the café ranking API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/tracing"
	"github.com/onnwee/cafeindex/internal/venue"
)

// ContentTypeNDJSON is used by the streaming search endpoints.
const ContentTypeNDJSON = "application/x-ndjson"

// Streaming limits. A streamed search holds the index lock while it runs,
// so it is decoupled from the client by a buffer and abandoned when the
// client stops taking results.
const (
	streamBuffer    = 256
	streamStall     = time.Second
	streamWriteWait = 10 * time.Second
)

// SearchHandlers serves ranked searches over a venue index.
type SearchHandlers struct {
	index  *venue.Index
	logger *slog.Logger

	buffer    int
	stall     time.Duration
	writeWait time.Duration
}

// NewSearchHandlers creates a new SearchHandlers instance.
func NewSearchHandlers(index *venue.Index, logger *slog.Logger) *SearchHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandlers{
		index:     index,
		logger:    logger,
		buffer:    streamBuffer,
		stall:     streamStall,
		writeWait: streamWriteWait,
	}
}

// stream starts q on the index and detaches it from the caller. The
// returned cancel must be called once the caller is done with the feed.
func (h *SearchHandlers) stream(ctx context.Context, q venue.Query) (*venue.Feed, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	seq, err := h.index.Stream(ctx, q)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return venue.Detach(ctx, seq, h.buffer, h.stall), cancel, nil
}

// logFeedEnd reports a feed that stopped before the search finished.
func (h *SearchHandlers) logFeedEnd(ctx context.Context, feed *venue.Feed, sent int) {
	if err := feed.Err(); errors.Is(err, venue.ErrSlowConsumer) {
		h.logger.WarnContext(ctx, "dropped slow search client",
			slog.Int("sent", sent),
			slog.Duration("stall", h.stall))
	}
}

// CafeHit is one search result line. The well-known features are flattened
// for map clients; Features carries every feature including extras.
type CafeHit struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	Lon          float64            `json:"lon"`
	Lat          float64            `json:"lat"`
	Rating       float64            `json:"rating"`
	PriceLevel   float64            `json:"price_level"`
	CurrentCrowd float64            `json:"current_crowd"`
	Score        float64            `json:"score"`
	Distance     float64            `json:"distance"`
	Geohash      string             `json:"geohash"`
	Features     map[string]float64 `json:"features,omitempty"`
}

func newCafeHit(res venue.Result) CafeHit {
	rec := res.Record
	name := rec.Name
	if name == "" {
		name = fmt.Sprintf("Cafe %d", rec.ID)
	}
	return CafeHit{
		ID:           rec.ID,
		Name:         name,
		Lon:          rec.Location.Lon,
		Lat:          rec.Location.Lat,
		Rating:       rec.Features[ranking.FeatureRating],
		PriceLevel:   rec.Features[ranking.FeaturePriceLevel],
		CurrentCrowd: rec.Features[ranking.FeatureCurrentCrowd],
		Score:        res.Score,
		Distance:     res.Distance,
		Geohash:      res.Geohash,
		Features:     rec.Features,
	}
}

// searchParams is a parsed search request.
type searchParams struct {
	query  venue.Query
	format string
}

// queryError is a request problem reported as 400.
type queryError struct {
	code    string
	message string
}

func (e *queryError) Error() string { return e.message }

// parseSearchQuery reads lon, lat and radius (required), min_score
// (optional, default 0), trace and per-request weight overrides given as
// w.<feature>=<value>.
func parseSearchQuery(values map[string][]string) (searchParams, error) {
	get := func(k string) string {
		if v := values[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	var p searchParams
	nums := make(map[string]float64, 4)
	for _, name := range []string{"lon", "lat", "radius", "min_score"} {
		raw := get(name)
		if raw == "" {
			if name == "min_score" {
				continue
			}
			return p, &queryError{ErrCodeValidation, "Missing required parameter: " + name}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return p, &queryError{ErrCodeValidation, fmt.Sprintf("Parameter %s must be a finite number", name)}
		}
		nums[name] = v
	}

	var weights ranking.Weights
	for k, v := range values {
		feature, ok := strings.CutPrefix(k, "w.")
		if !ok || feature == "" || len(v) == 0 {
			continue
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64)
		if err != nil {
			return p, &queryError{ErrCodeInvalidWeights, fmt.Sprintf("Weight %s must be a number", feature)}
		}
		if weights == nil {
			weights = make(ranking.Weights)
		}
		weights[feature] = x
	}
	if weights != nil {
		if err := weights.Validate(); err != nil {
			return p, &queryError{ErrCodeInvalidWeights, err.Error()}
		}
	}

	trace, _ := strconv.ParseBool(get("trace"))
	p.query = venue.Query{
		Center:       geo.Point{Lon: nums["lon"], Lat: nums["lat"]},
		RadiusMeters: nums["radius"],
		MinScore:     nums["min_score"],
		Weights:      weights,
		Trace:        trace,
	}
	p.format = get("format")
	return p, nil
}

// writeSearchError maps query parsing and index errors to responses.
func writeSearchError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *queryError
	switch {
	case errors.As(err, &qe):
		ctx := middleware.SetErrorCode(r.Context(), qe.code)
		WriteError(w, ctx, http.StatusBadRequest, qe.code, qe.message)
	case errors.Is(err, venue.ErrInvalidCoordinate):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinate)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinate, err.Error())
	case errors.Is(err, venue.ErrInvalidQuery), errors.Is(err, ranking.ErrInvalidWeight):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		slog.ErrorContext(r.Context(), "search failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Search failed")
	}
}

// Stream handles GET /api/search/cafes. Results are written as NDJSON in
// traversal order and flushed one by one so the first café reaches the
// client before the traversal finishes.
func (h *SearchHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	p, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	feed, cancel, err := h.stream(r.Context(), p.query)
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	n := h.writeNDJSON(w, r, feed.All())
	cancel()
	h.logFeedEnd(r.Context(), feed, n)
	h.logger.DebugContext(r.Context(), "streamed cafes", slog.Int("count", n))
}

// Regular handles GET /api/search/cafes/regular: the fully ranked result,
// written as NDJSON in score order, or as one JSON document including the
// searched envelope and traversal statistics when format=json.
func (h *SearchHandlers) Regular(w http.ResponseWriter, r *http.Request) {
	p, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		writeSearchError(w, r, err)
		return
	}
	res, err := h.index.RankedSearch(r.Context(), p.query)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away.
			return
		}
		writeSearchError(w, r, err)
		return
	}

	if p.format == "json" {
		if res.Results == nil {
			res.Results = []venue.Result{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			slog.ErrorContext(r.Context(), "failed to encode search result", "error", err)
		}
		return
	}
	h.writeNDJSON(w, r, slices.Values(res.Results))
}

// writeNDJSON writes one CafeHit per line, flushing after each. Every line
// gets its own write deadline. It stops early when the client goes away or
// a write times out and returns the number of lines written.
func (h *SearchHandlers) writeNDJSON(w http.ResponseWriter, r *http.Request, seq iter.Seq[venue.Result]) int {
	ctx := r.Context()
	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	n := 0
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()
	for res := range seq {
		if err := rc.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			break
		}
		if err := enc.Encode(newCafeHit(res)); err != nil {
			h.logger.DebugContext(ctx, "client stopped reading search results", slog.String("error", err.Error()))
			break
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			break
		}
		if n == 0 {
			tracing.AddEvent(ctx, "first_result", attribute.Int64("cafe.id", res.Record.ID))
		}
		n++
	}
	tracing.SetAttributes(ctx, attribute.Int("search.results", n))
	return n
}
