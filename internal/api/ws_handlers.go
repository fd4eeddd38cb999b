package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/venue"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxQuerySize = 4096
)

// WebSocket message types sent to clients.
const (
	WSTypeResult = "result"
	WSTypeDone   = "done"
	WSTypeError  = "error"
)

// WSQuery is a search request sent by a WebSocket client.
type WSQuery struct {
	Lon      float64            `json:"lon"`
	Lat      float64            `json:"lat"`
	Radius   float64            `json:"radius"`
	MinScore float64            `json:"min_score"`
	Weights  map[string]float64 `json:"weights,omitempty"`
}

// WSMessage is one server frame: a result, the end of a search, or an error.
type WSMessage struct {
	Type    string   `json:"type"`
	Result  *CafeHit `json:"result,omitempty"`
	Count   int      `json:"count,omitempty"`
	Message string   `json:"message,omitempty"`
}

// NewUpgrader returns a WebSocket upgrader accepting the listed origins.
// With no origins it keeps gorilla's same-origin check.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(allowedOrigins) == 0 {
		return u
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed[origin] {
			return true
		}
		parsed, err := url.Parse(origin)
		return err == nil && strings.EqualFold(parsed.Host, r.Host)
	}
	return u
}

// WebSocket handles GET /api/search/cafes/ws. Each JSON WSQuery the client
// sends is answered with one "result" frame per café in traversal order and
// a closing "done" frame. A query may also be given in the URL, in which
// case it runs right after the upgrade.
func (h *SearchHandlers) WebSocket(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var initial *WSQuery
		if r.URL.Query().Has("lon") {
			p, err := parseSearchQuery(r.URL.Query())
			if err != nil {
				writeSearchError(w, r, err)
				return
			}
			initial = &WSQuery{
				Lon:      p.query.Center.Lon,
				Lat:      p.query.Center.Lat,
				Radius:   p.query.RadiusMeters,
				MinScore: p.query.MinScore,
				Weights:  p.query.Weights,
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader already wrote the error response.
			slog.WarnContext(ctx, "failed to upgrade websocket connection", "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(wsMaxQuerySize)

		requestID := middleware.GetRequestID(ctx)
		h.logger.InfoContext(ctx, "websocket search client connected", "request_id", requestID)

		if initial != nil {
			if err := h.serveWSQuery(ctx, conn, *initial); err != nil {
				return
			}
		}

		for {
			var q WSQuery
			if err := conn.ReadJSON(&q); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.WarnContext(ctx, "websocket connection closed unexpectedly",
						"error", err,
						"request_id", requestID,
					)
				}
				return
			}
			if err := h.serveWSQuery(ctx, conn, q); err != nil {
				return
			}
		}
	}
}

// serveWSQuery runs one search. A returned error means the connection is
// unusable; search errors are reported to the client instead.
func (h *SearchHandlers) serveWSQuery(ctx context.Context, conn *websocket.Conn, q WSQuery) error {
	send := func(m WSMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}

	feed, cancel, err := h.stream(ctx, q.venueQuery())
	if err != nil {
		return send(WSMessage{Type: WSTypeError, Message: err.Error()})
	}
	defer cancel()

	count := 0
	for res := range feed.All() {
		hit := newCafeHit(res)
		if err := send(WSMessage{Type: WSTypeResult, Result: &hit}); err != nil {
			return err
		}
		count++
	}
	cancel()
	if err := feed.Err(); errors.Is(err, venue.ErrSlowConsumer) {
		h.logFeedEnd(ctx, feed, count)
		return send(WSMessage{Type: WSTypeError, Message: err.Error()})
	}
	return send(WSMessage{Type: WSTypeDone, Count: count})
}

func (q WSQuery) venueQuery() venue.Query {
	return venue.Query{
		Center:       geo.Point{Lon: q.Lon, Lat: q.Lat},
		RadiusMeters: q.Radius,
		MinScore:     q.MinScore,
		Weights:      ranking.Weights(q.Weights),
	}
}
