package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/venue"
)

// scenarioWeights scores the two scenario cafés 0.7 and 0.05.
const scenarioWeights = "&w.rating=1&w.current_crowd=1"

func newTestIndex(t *testing.T) *venue.Index {
	t.Helper()
	idx, err := venue.New(venue.Options{})
	if err != nil {
		t.Fatalf("venue.New: %v", err)
	}
	_, err = idx.InsertMany([]venue.Record{
		{
			ID:       1,
			Name:     "Corner Roast",
			Location: geo.Point{Lon: 121.50, Lat: 25.02},
			Features: map[string]float64{ranking.FeatureRating: 4, ranking.FeatureCurrentCrowd: 10},
		},
		{
			ID:       2,
			Location: geo.Point{Lon: 121.55, Lat: 25.05},
			Features: map[string]float64{ranking.FeatureRating: 3, ranking.FeatureCurrentCrowd: 90},
		},
	})
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	return idx
}

func readHits(t *testing.T, body string) []CafeHit {
	t.Helper()
	var hits []CafeHit
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var h CafeHit
		if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		hits = append(hits, h)
	}
	return hits
}

func hitIDs(hits []CafeHit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

func TestParseSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
		check    func(t *testing.T, p searchParams)
	}{
		{
			name:  "required only",
			query: "lon=121.5&lat=25.02&radius=2000",
			check: func(t *testing.T, p searchParams) {
				if p.query.Center != (geo.Point{Lon: 121.5, Lat: 25.02}) || p.query.RadiusMeters != 2000 {
					t.Errorf("query = %+v", p.query)
				}
				if p.query.MinScore != 0 || p.query.Weights != nil || p.query.Trace {
					t.Errorf("optional fields set: %+v", p.query)
				}
			},
		},
		{
			name:  "optional fields",
			query: "lon=121.5&lat=25.02&radius=0&min_score=0.4&trace=true&format=json&w.rating=2",
			check: func(t *testing.T, p searchParams) {
				if p.query.MinScore != 0.4 || !p.query.Trace || p.format != "json" {
					t.Errorf("query = %+v format = %q", p.query, p.format)
				}
				if p.query.Weights[ranking.FeatureRating] != 2 || len(p.query.Weights) != 1 {
					t.Errorf("weights = %v", p.query.Weights)
				}
			},
		},
		{name: "missing lon", query: "lat=25&radius=1", wantCode: ErrCodeValidation},
		{name: "missing radius", query: "lon=121&lat=25", wantCode: ErrCodeValidation},
		{name: "not a number", query: "lon=abc&lat=25&radius=1", wantCode: ErrCodeValidation},
		{name: "nan radius", query: "lon=121&lat=25&radius=NaN", wantCode: ErrCodeValidation},
		{name: "inf min score", query: "lon=121&lat=25&radius=1&min_score=Inf", wantCode: ErrCodeValidation},
		{name: "bad weight", query: "lon=121&lat=25&radius=1&w.rating=high", wantCode: ErrCodeInvalidWeights},
		{name: "infinite weight", query: "lon=121&lat=25&radius=1&w.rating=Inf", wantCode: ErrCodeInvalidWeights},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/search/cafes?"+tt.query, nil)
			p, err := parseSearchQuery(req.URL.Query())
			if tt.wantCode != "" {
				qe, ok := err.(*queryError)
				if !ok {
					t.Fatalf("error = %v, want *queryError", err)
				}
				if qe.code != tt.wantCode {
					t.Errorf("code = %s, want %s", qe.code, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestSearchHandlers_Stream(t *testing.T) {
	h := NewSearchHandlers(newTestIndex(t), nil)

	tests := []struct {
		name    string
		query   string
		wantIDs []int64
	}{
		{"2km excludes the far cafe", "lon=121.50&lat=25.02&radius=2000" + scenarioWeights, []int64{1}},
		{"10km covers both", "lon=121.50&lat=25.02&radius=10000" + scenarioWeights, []int64{1, 2}},
		{"zero radius searches the default area", "lon=121.50&lat=25.02&radius=0" + scenarioWeights, []int64{1, 2}},
		{"min score drops the crowded cafe", "lon=121.50&lat=25.02&radius=10000&min_score=0.5" + scenarioWeights, []int64{1}},
		{"nothing nearby", "lon=10&lat=10&radius=100", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/search/cafes?"+tt.query, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != ContentTypeNDJSON {
				t.Errorf("Content-Type = %q", ct)
			}
			if len(tt.wantIDs) > 0 && !w.Flushed {
				t.Error("results were not flushed")
			}
			// Streaming yields traversal order.
			got := hitIDs(readHits(t, w.Body.String()))
			slices.Sort(got)
			if !slices.Equal(got, tt.wantIDs) {
				t.Errorf("ids = %v, want %v", got, tt.wantIDs)
			}
		})
	}
}

func TestSearchHandlers_StreamErrors(t *testing.T) {
	h := NewSearchHandlers(newTestIndex(t), nil)

	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{"missing parameter", "lon=121.5&lat=25", ErrCodeValidation},
		{"latitude out of range", "lon=121.5&lat=95&radius=10", ErrCodeInvalidCoordinate},
		{"query at a pole", "lon=0&lat=90&radius=10", ErrCodeInvalidCoordinate},
		{"longitude out of range", "lon=200&lat=25&radius=10", ErrCodeInvalidCoordinate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/search/cafes?"+tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("bad error body: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestSearchHandlers_Regular(t *testing.T) {
	h := NewSearchHandlers(newTestIndex(t), nil)

	w := httptest.NewRecorder()
	h.Regular(w, httptest.NewRequest(http.MethodGet, "/api/search/cafes/regular?lon=121.50&lat=25.02&radius=10000"+scenarioWeights, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	hits := readHits(t, w.Body.String())
	if got := hitIDs(hits); !slices.Equal(got, []int64{1, 2}) {
		t.Fatalf("ids = %v, want [1 2] in score order", got)
	}

	first, second := hits[0], hits[1]
	if first.Score != 0.7 || second.Score != 0.05 {
		t.Errorf("scores = %v, %v, want 0.7, 0.05", first.Score, second.Score)
	}
	if first.Name != "Corner Roast" || second.Name != "Cafe 2" {
		t.Errorf("names = %q, %q", first.Name, second.Name)
	}
	if first.Rating != 4 || first.CurrentCrowd != 10 || first.Distance != 0 {
		t.Errorf("first hit = %+v", first)
	}
	if second.Distance <= 0 {
		t.Errorf("second hit distance = %v, want > 0", second.Distance)
	}
	if first.Geohash == "" || first.Lon != 121.50 || first.Lat != 25.02 {
		t.Errorf("first hit location = %+v", first)
	}
}

func TestSearchHandlers_RegularJSON(t *testing.T) {
	h := NewSearchHandlers(newTestIndex(t), nil)

	tests := []struct {
		name            string
		query           string
		wantResults     int
		wantDefaultArea bool
		wantPath        bool
	}{
		{"with trace", "lon=121.50&lat=25.02&radius=2000&trace=true&format=json", 1, false, true},
		{"default area", "lon=121.50&lat=25.02&radius=-1&format=json", 2, true, false},
		{"empty result is an array", "lon=10&lat=10&radius=100&format=json", 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Regular(w, httptest.NewRequest(http.MethodGet, "/api/search/cafes/regular?"+tt.query, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var res struct {
				Results     []json.RawMessage `json:"results"`
				DefaultArea bool              `json:"default_area"`
				Visited     int               `json:"visited"`
				Path        []int             `json:"path"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.Results == nil {
				t.Error("results should be an array, not null")
			}
			if len(res.Results) != tt.wantResults {
				t.Errorf("results = %d, want %d", len(res.Results), tt.wantResults)
			}
			if res.DefaultArea != tt.wantDefaultArea {
				t.Errorf("default_area = %v, want %v", res.DefaultArea, tt.wantDefaultArea)
			}
			if (len(res.Path) > 0) != tt.wantPath {
				t.Errorf("path = %v, want present=%v", res.Path, tt.wantPath)
			}
		})
	}
}

// stalledWriter blocks the first body write until release is closed, like
// a client that stops reading.
type stalledWriter struct {
	header  http.Header
	stalled chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	lines   int
}

func newStalledWriter() *stalledWriter {
	return &stalledWriter{
		header:  make(http.Header),
		stalled: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (w *stalledWriter) Header() http.Header { return w.header }

func (w *stalledWriter) WriteHeader(int) {}

func (w *stalledWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.stalled) })
	<-w.release
	w.mu.Lock()
	w.lines++
	w.mu.Unlock()
	return len(p), nil
}

func TestSearchHandlers_StalledClientDoesNotBlockIndex(t *testing.T) {
	idx := newTestIndex(t)
	for i := range 20 {
		err := idx.Insert(venue.Record{
			ID:       int64(100 + i),
			Location: geo.Point{Lon: 121.51 + float64(i)*0.004, Lat: 25.03 + float64(i)*0.003},
			Features: map[string]float64{ranking.FeatureRating: 4},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	h := NewSearchHandlers(idx, nil)
	h.buffer = 1
	h.stall = 50 * time.Millisecond

	w := newStalledWriter()
	served := make(chan struct{})
	go func() {
		defer close(served)
		h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/search/cafes?lon=121.55&lat=25.06&radius=0&min_score=-10", nil))
	}()

	select {
	case <-w.stalled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never wrote a result")
	}

	inserted := make(chan error, 1)
	go func() {
		inserted <- idx.Insert(venue.Record{ID: 999, Location: geo.Point{Lon: 121.52, Lat: 25.04}})
	}()
	select {
	case err := <-inserted:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		close(w.release)
		t.Fatal("Insert blocked behind a client that stopped reading")
	}

	close(w.release)
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish after the client resumed")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lines >= 22 {
		t.Errorf("wrote all %d results to a client that stalled", w.lines)
	}
}
