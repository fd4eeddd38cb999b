package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/cafeindex/internal/audit"
	"github.com/onnwee/cafeindex/internal/auth"
	"github.com/onnwee/cafeindex/internal/middleware"
	"github.com/onnwee/cafeindex/internal/venue"
)

// RouterConfig wires the handlers. Only Index is required.
type RouterConfig struct {
	Index  *venue.Index
	Store  VenueStore        // nil keeps mutations in memory
	JWT    *auth.JWTService  // nil leaves mutating routes open
	Health *HealthHandlers   // nil serves liveness only
	Audit  audit.Repository  // nil disables the change log and /api/audit
	Logger *slog.Logger

	// AllowedOrigins also governs WebSocket origin checks.
	AllowedOrigins []string

	Metrics   *middleware.Metrics
	Gatherer  prometheus.Gatherer // nil disables /metrics
	RateStore middleware.RateLimitStore
	// Zero limits take DefaultSearchLimit and DefaultWriteLimit.
	SearchLimit middleware.RateLimitConfig
	WriteLimit  middleware.RateLimitConfig
}

// NewRouter builds the API mux. Search routes are limited per client IP,
// mutating routes require an operator token with the matching scope and
// are limited per operator.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.SearchLimit == (middleware.RateLimitConfig{}) {
		cfg.SearchLimit = middleware.DefaultSearchLimit()
	}
	if cfg.WriteLimit == (middleware.RateLimitConfig{}) {
		cfg.WriteLimit = middleware.DefaultWriteLimit()
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthHandlers(HealthHandlersConfig{})
	}

	search := NewSearchHandlers(cfg.Index, cfg.Logger)
	cafes := NewCafeHandlers(cfg.Index, cfg.Store)
	index := NewIndexHandlers(cfg.Index)
	cafes.audit, index.audit = cfg.Audit, cfg.Audit
	upgrader := NewUpgrader(cfg.AllowedOrigins)

	readLimit := func(h http.Handler) http.Handler { return h }
	writeLimit := readLimit
	if cfg.RateStore != nil {
		readLimit = middleware.RateLimiter(cfg.RateStore, cfg.SearchLimit, middleware.IPKeyFunc(), cfg.Metrics)
		writeLimit = middleware.RateLimiter(cfg.RateStore, cfg.WriteLimit, middleware.OperatorKeyFunc(), cfg.Metrics)
	}
	// Authentication runs before the write limiter so it can key on the operator.
	operator := func(scope string, h http.HandlerFunc) http.Handler {
		return middleware.RequireOperator(cfg.JWT, scope, cfg.Metrics)(writeLimit(h))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/search/cafes", readLimit(http.HandlerFunc(search.Stream)))
	mux.Handle("GET /api/search/cafes/regular", readLimit(http.HandlerFunc(search.Regular)))
	mux.Handle("GET /api/search/cafes/ws", readLimit(search.WebSocket(upgrader)))

	mux.HandleFunc("GET /api/weights", index.GetWeights)
	mux.Handle("PUT /api/weights", operator(auth.ScopeWeightsWrite, index.PutWeights))
	mux.Handle("GET /api/tree/snapshot", readLimit(http.HandlerFunc(index.Snapshot)))

	mux.HandleFunc("GET /api/cafes/{id}", cafes.Get)
	mux.Handle("POST /api/cafes", operator(auth.ScopeCafesWrite, cafes.Create))
	mux.Handle("PATCH /api/cafes/{id}", operator(auth.ScopeCafesWrite, cafes.Patch))
	mux.Handle("DELETE /api/cafes/{id}", operator(auth.ScopeCafesWrite, cafes.Delete))

	if cfg.Audit != nil {
		mux.Handle("GET /api/audit", operator(auth.ScopeAuditRead, NewAuditHandlers(cfg.Audit).Export))
	}

	mux.HandleFunc("GET /health", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
