package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are the paths served verbatim.
var staticRoutes = map[string]bool{
	"/":                         true,
	"/api/search/cafes":         true,
	"/api/search/cafes/regular": true,
	"/api/search/cafes/ws":      true,
	"/api/weights":              true,
	"/api/cafes":                true,
	"/api/tree/snapshot":        true,
	"/health":                   true,
	"/ready":                    true,
	"/metrics":                  true,
}

// normalizePath maps request paths to route patterns to keep metric label
// cardinality bounded: /api/cafes/42 becomes /api/cafes/{id}. Anything not
// served by the API collapses to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/cafes/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/cafes/{id}"
	}
	return "other"
}

// isOperationalPath reports probe and scrape endpoints, which are excluded
// from request metrics and traces.
func isOperationalPath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/metrics"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func (mrw *metricsResponseWriter) Flush() {
	if f, ok := mrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := mrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	mrw.statusCode = http.StatusSwitchingProtocols
	mrw.wroteHeader = true
	return h.Hijack()
}

func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records request duration, sizes, and
// counts. Probe and scrape endpoints are not recorded. For streaming search
// the duration covers the whole stream.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isOperationalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
