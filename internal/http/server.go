// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"aidat/internal/core"
	applog "aidat/internal/log"
	"aidat/internal/metrics"
	"aidat/internal/middleware/ratelimit"
	"aidat/internal/middleware/security"
	"aidat/internal/middleware/trace"
	"aidat/internal/services"
)

// Ledger is the service surface the handlers need.
type Ledger interface {
	Snapshot() core.Snapshot
	Revision() int64
	Summary() services.Summary
	CurrentDebtors() []core.Resident
	MonthlySeries() []core.MonthlyPoint
	ResidentLedger(id string) (core.ResidentLedger, error)
	NewPeriodDraft() core.DuesPeriod

	AddResident(ctx context.Context, r core.Resident) (core.Resident, error)
	UpdateResident(ctx context.Context, r core.Resident) error
	DeleteResident(ctx context.Context, id string) error
	AddDuesPeriod(ctx context.Context, p core.DuesPeriod) (core.DuesPeriod, error)
	TogglePayment(ctx context.Context, periodID, residentID string, paid bool) (bool, error)
	AddExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	UpdateExpense(ctx context.Context, e core.Expense) error
	DeleteExpense(ctx context.Context, id string) error
	UpdateSettings(ctx context.Context, s core.Settings) error
	BulkReplace(ctx context.Context, d core.Dataset) error

	UpdateDuesByUnitNumber(ctx context.Context, unit int, paid bool) (string, bool)
	AddExpenseByDescription(ctx context.Context, description string, amount decimal.Decimal, category string) (string, bool)

	Notifications() []core.Notification
	UnreadCount() int
	MarkNotificationsRead()
}

var _ Ledger = (*services.LedgerService)(nil)

// Options configures optional collaborators of the server.
type Options struct {
	Logger             *applog.Logger
	Metrics            *metrics.Metrics
	Ready              func(ctx context.Context) error
	RateLimitPerMinute int
	RequestTimeout     time.Duration
}

type Server struct {
	*http.Server

	ledger   Ledger
	metrics  *metrics.Metrics
	ready    func(ctx context.Context) error
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	started  time.Time
}

// NewServer builds the router and wraps it in an http.Server listening on addr.
func NewServer(addr string, ledger Ledger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		ledger:   ledger,
		metrics:  opts.Metrics,
		ready:    opts.Ready,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector: security.NewDetector(),
		started:  time.Now(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, opts.Metrics)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      opts.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(applog.Middleware(opts.Logger.WithComponent(applog.ComponentHTTP)))
	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeProblem(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}))
		r.Use(chimw.Timeout(opts.RequestTimeout))

		r.Get("/state", s.handleState)
		r.Get("/summary", s.handleSummary)
		r.Get("/debtors", s.handleDebtors)
		r.Get("/series", s.handleSeries)

		r.Post("/residents", s.handleCreateResident)
		r.Put("/residents/{id}", s.handleUpdateResident)
		r.Delete("/residents/{id}", s.handleDeleteResident)
		r.Get("/residents/{id}/ledger", s.handleResidentLedger)

		r.Post("/dues", s.handleCreatePeriod)
		r.Get("/dues/draft", s.handlePeriodDraft)
		r.Put("/dues/{periodID}/payments/{residentID}", s.handleTogglePayment)

		r.Post("/expenses", s.handleCreateExpense)
		r.Put("/expenses/{id}", s.handleUpdateExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)
		r.Get("/expenses/categories", s.handleExpenseCategories)

		r.Put("/settings", s.handleUpdateSettings)
		r.Post("/import", s.handleImport)

		r.Post("/commands/dues-by-unit", s.handleDuesByUnitCommand)
		r.Post("/commands/expense", s.handleExpenseCommand)

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/read", s.handleMarkNotificationsRead)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and releases background resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}
