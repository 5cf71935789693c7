// Package http implements the JSON-over-HTTP surface (§6.1): ingestion, direct saves,
// observation lookups, hybrid/semantic/timeline search, and session completion.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	_ "github.com/thebtf/memengine/docs"
	"github.com/rs/zerolog"

	"github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/internal/embedding"
	"github.com/thebtf/memengine/internal/judge"
	"github.com/thebtf/memengine/internal/queue"
	"github.com/thebtf/memengine/internal/search"
	"github.com/thebtf/memengine/internal/vector/pgvector"
)

// DefaultSearchLimit mirrors the teacher's handler defaults for endpoints with no explicit
// limit query parameter.
const DefaultSearchLimit = 20

// requestTimeout bounds every request behind requireReady, so a stuck downstream call
// (judge, embedder, DB) can't hold a connection open indefinitely.
const requestTimeout = 30 * time.Second

// Deps wires every component an HTTP handler can reach.
type Deps struct {
	ObsStore      *gorm.ObservationStore
	KnowledgeStore *gorm.KnowledgeStore
	SessionStore  *gorm.SessionStore
	SummaryStore  *gorm.SummaryStore
	Search        *search.Manager
	Queue         *queue.Queue
	Judge         *judge.Client
	Embedder      embedding.EmbeddingModel
	Vector        *pgvector.Client
	MaxBatch      int
	Logger        zerolog.Logger
	// Meter is optional: when nil, request metrics are simply not recorded. When set, it's
	// expected to come from otel.Meter("memengine") so cmd/worker controls the one
	// MeterProvider for the whole process.
	Meter metric.Meter
}

// Server hosts the HTTP surface over a shared Deps.
type Server struct {
	deps     Deps
	router   *chi.Mux
	ready    func() bool
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewServer builds the router and registers every route in §6.1's table. ready reports
// whether the process is fully initialized; until then, requireReady-gated routes 503.
func NewServer(deps Deps, ready func() bool) *Server {
	if deps.MaxBatch <= 0 {
		deps.MaxBatch = 100
	}
	s := &Server{deps: deps, ready: ready}
	if deps.Meter != nil {
		s.requests, _ = deps.Meter.Int64Counter("memengine.http.requests",
			metric.WithDescription("HTTP requests handled, by route and status"))
		s.duration, _ = deps.Meter.Float64Histogram("memengine.http.request_duration_seconds",
			metric.WithDescription("HTTP request duration in seconds, by route"))
	}
	s.router = chi.NewRouter()

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Compress(5))
	s.router.Use(s.recordMetrics)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/swagger/*", httpSwagger.WrapHandler)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(requestTimeout))

		r.Post("/observe", s.handleObserve)
		r.Post("/observe/batch", s.handleObserveBatch)
		r.Post("/save_memory", s.handleSaveMemory)
		r.Get("/observations/{id}", s.handleGetObservation)
		r.Post("/observations/batch", s.handleGetObservationsBatch)
		r.Get("/search", s.handleSearch)
		r.Get("/hybrid-search", s.handleHybridSearch)
		r.Get("/semantic-search", s.handleSemanticSearch)
		r.Get("/timeline", s.handleTimeline)
		r.Post("/sessions/{id}/complete", s.handleSessionComplete)
	})

	return s
}

// Handler returns the root http.Handler, for cmd/worker to mount behind cmux.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil && !s.ready() {
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`"ok"`))
}

// recordMetrics is a no-op wrapper when Deps.Meter was never set, so metrics stay strictly
// optional instrumentation rather than a hard dependency on a configured MeterProvider.
func (s *Server) recordMetrics(next http.Handler) http.Handler {
	if s.requests == nil && s.duration == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start).Seconds()
		attrs := metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("method", r.Method),
			attribute.Int("status", ww.Status()),
		)
		if s.requests != nil {
			s.requests.Add(r.Context(), 1, attrs)
		}
		if s.duration != nil {
			s.duration.Record(r.Context(), elapsed, attrs)
		}
	})
}
