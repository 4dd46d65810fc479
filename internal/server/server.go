// Package server exposes the reconciliation engine over HTTP. All business
// routes live under /api/v1; the Prometheus exposition endpoint sits at
// /metrics outside the prefix. Handlers stay thin: they decode, delegate to
// the injected services and map errors to statuses through the shared
// taxonomy.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trade-reconciliation-engine/internal/ingest"
	"trade-reconciliation-engine/internal/metrics"
	"trade-reconciliation-engine/internal/ml"
	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/internal/remediate"
	"trade-reconciliation-engine/internal/report"
	"trade-reconciliation-engine/internal/router"
	"trade-reconciliation-engine/internal/store"
	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// ReconRunner starts reconciliation runs. *recon.Service satisfies it.
type ReconRunner interface {
	Run(ctx context.Context, tradeDate time.Time, source1, source2 string) (*models.ReconciliationRun, error)
}

// IngestRunner runs ingestion passes. *ingest.Orchestrator satisfies it.
type IngestRunner interface {
	RunIngestion(ctx context.Context, from, to time.Time) ([]ingest.SourceResult, error)
}

// BreakRouter routes and escalates breaks. *router.Router satisfies it.
type BreakRouter interface {
	RouteBreak(ctx context.Context, breakID int64) (*router.RoutingResult, error)
	CheckSLABreaches(ctx context.Context) ([]router.Escalation, error)
}

// BreakRemediator applies auto-remediation. *remediate.Remediator satisfies it.
type BreakRemediator interface {
	Apply(ctx context.Context, breakID int64, actor string) (*remediate.Result, error)
}

// Reporter serves the read-only rollups. *report.Service satisfies it.
type Reporter interface {
	Summary(ctx context.Context) (*report.Summary, error)
	Aging(ctx context.Context) (*report.Aging, error)
	Runs(ctx context.Context, limit int) ([]*models.ReconciliationRun, error)
	RootCause(ctx context.Context) (*report.RootCause, error)
}

// TradePredictor scores break probability. *ml.Predictor satisfies it.
type TradePredictor interface {
	Score(ctx context.Context, trade *models.Trade) (*ml.Prediction, error)
}

// Deps bundles everything the HTTP surface exposes. Predictor may be nil
// when no model artifact is loaded; the prediction route then answers 404.
// Metrics may be nil, which disables both instrumentation and /metrics.
type Deps struct {
	Recon      ReconRunner
	Ingest     IngestRunner
	Router     BreakRouter
	Remediator BreakRemediator
	Reports    Reporter
	Predictor  TradePredictor
	Breaks     store.BreakStore
	Trades     store.TradeStore
	Metrics    *metrics.Metrics
}

// Config holds the HTTP server settings.
type Config struct {
	Addr            string
	Environment     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		Environment:     "development",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP front end.
type Server struct {
	config Config
	deps   Deps
	log    logger.Logger
	http   *http.Server
	router *mux.Router
	clock  func() time.Time
}

// New builds the server and its route table.
func New(config Config, deps Deps, log logger.Logger) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config: config,
		deps:   deps,
		log:    log.WithComponent("server"),
		clock:  time.Now,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.log.WithFields(logger.Fields{
		"addr":        s.config.Addr,
		"environment": s.config.Environment,
	}).Info("HTTP server listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.TransientError(errors.CodeConnectionFailed, s.config.Addr, err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	s.log.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}

// routes builds the route table. Middleware order on business routes:
// request ID, logging, timeout, JSON content type, instrumentation.
func (s *Server) routes() *mux.Router {
	root := mux.NewRouter()
	root.Use(s.requestIDMiddleware, s.loggingMiddleware, s.timeoutMiddleware)

	if s.deps.Metrics != nil {
		root.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := root.PathPrefix("/api/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware, s.metricsMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/ingestion/run", s.handleIngestionRun).Methods(http.MethodPost)
	api.HandleFunc("/reconciliation/run", s.handleReconciliationRun).Methods(http.MethodPost)
	api.HandleFunc("/exceptions/{id:[0-9]+}/route", s.handleRouteBreak).Methods(http.MethodPost)
	api.HandleFunc("/exceptions/{id:[0-9]+}/auto-remediate", s.handleAutoRemediate).Methods(http.MethodPost)
	api.HandleFunc("/exceptions/overdue", s.handleOverdueExceptions).Methods(http.MethodGet)
	api.HandleFunc("/breaks/open", s.handleOpenBreaks).Methods(http.MethodGet)
	api.HandleFunc("/reports/summary", s.handleReportSummary).Methods(http.MethodGet)
	api.HandleFunc("/reports/aging", s.handleReportAging).Methods(http.MethodGet)
	api.HandleFunc("/reports/runs", s.handleReportRuns).Methods(http.MethodGet)
	api.HandleFunc("/reports/root-cause", s.handleReportRootCause).Methods(http.MethodGet)
	api.HandleFunc("/prediction/score", s.handlePredictionScore).Methods(http.MethodPost)
	api.HandleFunc("/trades/count", s.handleTradesCount).Methods(http.MethodGet)

	return root
}

type contextKey string

const requestIDKey contextKey = "request_id"

// requestID returns the short id stamped on the request, if any.
func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// responseWrapper captures the status a handler wrote.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := s.clock()
		wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.log.WithFields(logger.Fields{
			"request_id": requestID(r),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     wrapped.statusCode,
			"duration":   s.clock().Sub(started).String(),
		}).Info("Request handled")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency against the mux
// route template so series cardinality stays bounded.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := s.clock()
		wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				path = template
			}
		}
		s.deps.Metrics.RecordHTTPRequest(r.Method, path, wrapped.statusCode,
			s.clock().Sub(started).Seconds())
	})
}
