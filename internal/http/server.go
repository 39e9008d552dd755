// Package http exposes the dashboard over a JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/flowcache"
	"cashflow/internal/log"
	"cashflow/internal/middleware/ratelimit"
	"cashflow/internal/middleware/security"
	"cashflow/internal/middleware/trace"
	"cashflow/internal/services"
	"cashflow/internal/upstream"
	"cashflow/internal/viewstate"
)

// DashboardService is what the handlers need from the service layer.
type DashboardService interface {
	Cashflow(ctx context.Context, p descriptor.Params, search string, opts flowcache.Options) (services.CashflowResult, error)
	CategoryFlow(ctx context.Context, p descriptor.Params, opts flowcache.Options) (services.CategoryFlowResult, error)
	ListExpenses(ctx context.Context, q upstream.ListQuery) ([]core.Expense, error)
	AddExpense(ctx context.Context, targetID string, e core.Expense) (core.Expense, error)
	EditExpense(ctx context.Context, targetID, id string, e core.Expense) (core.Expense, error)
	DeleteExpense(ctx context.Context, targetID, id string) error
	AddMultiple(ctx context.Context, targetID string, es []core.Expense) (int, error)
	AddMultipleTracked(ctx context.Context, targetID string, es []core.Expense) (string, error)
	BulkProgress(ctx context.Context, jobID string) (core.JobProgress, error)
	ViewState(ctx context.Context, ownerID, targetID string) viewstate.State
	SaveViewState(ctx context.Context, ownerID, targetID string, st viewstate.State) viewstate.State
	CacheSizes() map[string]int
	Ping(ctx context.Context) error
}

// Options configures the server.
type Options struct {
	RateLimitPerMinute int
	Logger             *log.Logger
}

type Server struct {
	http.Server
	svc     DashboardService
	logger  *log.Logger
	started time.Time

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware
}

// NewServer wires routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, svc DashboardService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	s := &Server{
		svc:     svc,
		logger:  logger,
		started: time.Now(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(trace.RequestIDFromRequest))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(security.NoStoreMiddleware)

		r.Get("/cashflow", s.handleCashflow)
		r.Get("/category-flow", s.handleCategoryFlow)
		r.Get("/view-state", s.handleGetViewState)
		r.Put("/view-state", s.handlePutViewState)

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", s.handleListExpenses)
			r.Get("/bulk/{jobId}", s.handleBulkProgress)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit))
				r.Post("/", s.handleAddExpense)
				r.Put("/{id}", s.handleEditExpense)
				r.Delete("/{id}", s.handleDeleteExpense)
				r.Post("/bulk", s.handleAddMultiple)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "method not allowed"})
	})
	return r
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: "Rate limit exceeded. Please try again later."})
}

// Shutdown stops background work and drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.Server.Shutdown(ctx)
}
