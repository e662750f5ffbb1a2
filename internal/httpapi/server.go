// Package httpapi implements the daemon's REST+SSE surface on a single
// net/http.ServeMux, bound to 127.0.0.1 only, with one shared
// logging/CORS/tracing middleware chain in front of every route.
package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/clmem/memoryd/internal/health"
	"github.com/clmem/memoryd/internal/observability"
	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/sessionmgr"
	"github.com/clmem/memoryd/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the subset of internal/store.Store the HTTP layer reads and
// writes directly (everything not already owned by SessionManager/queue).
type Store interface {
	GetSession(sessionDBID int64) (*models.Session, error)
	GetSessionByContentID(contentID string) (*models.Session, error)
	ListSessions(project string, offset, limit int) ([]*models.Session, error)
	ListProjects() ([]string, error)

	ListObservations(project string, offset, limit int) ([]*models.Observation, error)
	BatchGetObservations(ids []int64) ([]*models.Observation, error)
	GetObservation(id int64) (*models.Observation, error)

	ListSummaries(project string, offset, limit int) ([]*models.SessionSummary, error)
	BatchGetSummaries(ids []int64) ([]*models.SessionSummary, error)
	GetSummary(id int64) (*models.SessionSummary, error)

	ListPrompts(sessionDBID int64, offset, limit int) ([]*models.UserPrompt, error)
}

// Server wires the durable queue, session manager, store, and health
// monitor into one ServeMux. Routes call straight into these components; no
// business logic lives here beyond request decoding/response encoding and
// HTTP status translation.
type Server struct {
	store              Store
	queue              *queue.Queue
	sessions           *sessionmgr.Manager
	health             *health.Monitor
	broadcaster        *Broadcaster
	metrics            Metrics
	tracer             *observability.Tracer
	logFilePath        string

	runtimeMu           sync.RWMutex
	contextObservations int
	excludedProjects    map[string]bool

	logger *slog.Logger
}

// Config bundles Server's dependencies.
type Config struct {
	Store       Store
	Queue       *queue.Queue
	Sessions    *sessionmgr.Manager
	Health      *health.Monitor
	Broadcaster *Broadcaster
	Metrics     Metrics
	Tracer      *observability.Tracer
	LogFilePath string

	// ContextObservations bounds how many recent observations
	// /api/context/inject includes per project; 0 falls back to 20.
	ContextObservations int

	// ExcludedProjects are project names /api/context/inject skips when the
	// caller does not name specific projects.
	ExcludedProjects []string

	Logger *slog.Logger
}

// NewServer constructs a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	contextObservations := cfg.ContextObservations
	if contextObservations <= 0 {
		contextObservations = 20
	}
	excluded := make(map[string]bool, len(cfg.ExcludedProjects))
	for _, p := range cfg.ExcludedProjects {
		excluded[p] = true
	}
	return &Server{
		store:                cfg.Store,
		queue:                cfg.Queue,
		sessions:             cfg.Sessions,
		health:               cfg.Health,
		broadcaster:          cfg.Broadcaster,
		metrics:              cfg.Metrics,
		tracer:               cfg.Tracer,
		logFilePath:          cfg.LogFilePath,
		contextObservations:  contextObservations,
		excludedProjects:     excluded,
		logger:               logger,
	}
}

// UpdateRuntimeConfig swaps in a new ContextObservations bound and
// ExcludedProjects set, taking effect on the next /api/context/inject
// request. Called from a config.Watcher callback so editing settings.json
// on disk takes effect without a daemon restart.
func (s *Server) UpdateRuntimeConfig(contextObservations int, excludedProjects []string) {
	if contextObservations <= 0 {
		contextObservations = 20
	}
	excluded := make(map[string]bool, len(excludedProjects))
	for _, p := range excludedProjects {
		excluded[p] = true
	}
	s.runtimeMu.Lock()
	s.contextObservations = contextObservations
	s.excludedProjects = excluded
	s.runtimeMu.Unlock()
}

func (s *Server) runtimeConfig() (contextObservations int, excludedProjects map[string]bool) {
	s.runtimeMu.RLock()
	defer s.runtimeMu.RUnlock()
	return s.contextObservations, s.excludedProjects
}

// Handler builds the full ServeMux with every route and the
// logging/CORS/loopback-only middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.health != nil {
		s.health.RegisterRoutes(mux)
	}
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/sessions/init", s.handleSessionsInit)
	mux.HandleFunc("POST /api/sessions/{id}/init", s.handleSessionInitByID)
	mux.HandleFunc("POST /api/sessions/observations", s.handleSessionsObservations)
	mux.HandleFunc("POST /api/sessions/summarize", s.handleSessionsSummarize)
	mux.HandleFunc("POST /api/sessions/complete", s.handleSessionsComplete)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/session/{id}", s.handleGetSession)

	mux.HandleFunc("GET /api/observations", s.handleListObservations)
	mux.HandleFunc("POST /api/observations/batch", s.handleBatchObservations)
	mux.HandleFunc("GET /api/observation/{id}", s.handleGetObservation)

	mux.HandleFunc("GET /api/summaries", s.handleListSummaries)
	mux.HandleFunc("POST /api/summaries/batch", s.handleBatchSummaries)
	mux.HandleFunc("GET /api/summary/{id}", s.handleGetSummary)

	mux.HandleFunc("GET /api/prompts/{sessionId}", s.handleListPrompts)

	mux.HandleFunc("GET /api/projects", s.handleListProjects)

	mux.HandleFunc("GET /api/processing-status", s.handleProcessingStatus)

	mux.HandleFunc("GET /api/pending-queue", s.handlePendingQueueView)
	mux.HandleFunc("POST /api/pending-queue/process", s.handlePendingQueueProcess)
	mux.HandleFunc("DELETE /api/pending-queue/failed", s.handlePendingQueueClearFailed)
	mux.HandleFunc("DELETE /api/pending-queue/all", s.handlePendingQueueClearAll)

	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/stream/events", s.handleStreamEvents)
	mux.HandleFunc("GET /api/context/inject", s.handleContextInject)

	return chain(mux, loopbackOnlyMiddleware, corsMiddleware, tracingMiddleware(s.tracer), loggingMiddleware(s.logger, s.metrics))
}
