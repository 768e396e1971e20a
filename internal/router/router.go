// Package router implements the Stage-E entry point (spec §4.3): the
// synchronous HTTP surface that validates, classifies, routes, and either
// runs a plan immediately or hands it to the Queue. Grounded on the
// teacher's internal/controlplane/server package's composition shape,
// routing upgraded from its bare http.ServeMux to go-chi/chi/v5.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marcus-qen/stagee/internal/executor"
	"github.com/marcus-qen/stagee/internal/observability"
	"github.com/marcus-qen/stagee/internal/queue"
	"github.com/marcus-qen/stagee/internal/safety"
	"github.com/marcus-qen/stagee/internal/store"
	"github.com/marcus-qen/stagee/internal/tenant"
)

// Config tunes the admission contract's immediate/background split and
// idempotency dedup window (spec §6.4).
type Config struct {
	ImmediateBudget time.Duration
	DedupWindow     time.Duration
}

// Server assembles the Router's dependencies into an http.Handler.
type Server struct {
	store        *store.Store
	executor     *executor.Executor
	dlq          *queue.DLQAdmin
	rbac         *safety.RBACGuard
	idempotency  func(tenantID, actorID string, planJSON []byte) (string, error)
	cancellation *safety.CancellationChecker
	deadlines    *safety.Deadlines
	metrics      *observability.Metrics
	events       *observability.Bus
	health       *observability.Checker
	tenantQuota  *tenant.Enforcer
	cfg          Config
	log          *zap.Logger

	mux *chi.Mux
}

// Deps bundles the Safety Kernel and component instances a Server wires
// into its handlers.
type Deps struct {
	Store        *store.Store
	Executor     *executor.Executor
	DLQ          *queue.DLQAdmin
	RBAC         *safety.RBACGuard
	Cancellation *safety.CancellationChecker
	Deadlines    *safety.Deadlines
	Metrics      *observability.Metrics
	Events       *observability.Bus
	Health       *observability.Checker
	TenantQuota  *tenant.Enforcer
}

// New builds a Server and registers its routes.
func New(deps Deps, cfg Config, log *zap.Logger) *Server {
	s := &Server{
		store:        deps.Store,
		executor:     deps.Executor,
		dlq:          deps.DLQ,
		rbac:         deps.RBAC,
		idempotency:  safety.IdempotencyKey,
		cancellation: deps.Cancellation,
		deadlines:    deps.Deadlines,
		metrics:      deps.Metrics,
		events:       deps.Events,
		health:       deps.Health,
		tenantQuota:  deps.TenantQuota,
		cfg:          cfg,
		log:          log,
	}
	s.registerRoutes()
	return s
}

// Handler returns the assembled http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(maxBodySizeMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/executions", func(r chi.Router) {
		r.Post("/", s.handleExecute)
		r.Get("/", s.handleListExecutions)
		r.Get("/{id}", s.handleGetExecution)
		r.Get("/{id}/progress", s.handleProgress)
		r.Get("/{id}/events", s.handleEventsStream)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
	})
	r.Post("/execute", s.handleExecute) // spec §6.2 names this path directly

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", s.handleListDLQ)
		r.Post("/{id}/requeue", s.handleRequeueDLQ)
	})

	s.mux = r
}

// requestLogger logs each request at completion, grounded on the teacher's
// controlplane server's audit-middleware shape but over zap instead of its
// audit-event sink (request auditing here is plain structured logging, not
// the execution event trail).
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	tenantID := r.Header.Get("X-Tenant-ID")
	var tenants []string
	if tenantID != "" {
		tenants = []string{tenantID}
	}
	h := s.health.Check(r.Context(), tenants)
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}
