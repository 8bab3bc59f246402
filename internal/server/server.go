package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tazuna-ai/tazuna/internal/approval"
	"github.com/tazuna-ai/tazuna/internal/auth"
	"github.com/tazuna-ai/tazuna/internal/explain"
	"github.com/tazuna-ai/tazuna/internal/journal"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/projection"
	"github.com/tazuna-ai/tazuna/internal/ratelimit"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// BreakerStatus reports the LLM circuit breaker state for the health
// probe. Satisfied by llm.BreakerClient.
type BreakerStatus interface {
	State() string
}

// Config carries the server's dependencies and tunables.
type Config struct {
	Logger      *slog.Logger
	Store       store.Store
	JWT         *auth.JWTManager
	Projections *projection.Service
	Explain     *explain.Service
	Suggestions *approval.SuggestionService
	Escalations *approval.EscalationService
	Rollbacks   *approval.RollbackService
	Journal     *journal.Recorder

	// AuthLimiter throttles the /admin/auth endpoints by client IP.
	// Nil disables throttling.
	AuthLimiter ratelimit.Limiter

	// MCP, when non-nil, is mounted at /mcp behind auditor-level auth.
	MCP http.Handler

	// OpenAPISpec, when non-empty, is served at /openapi.yaml.
	OpenAPISpec []byte

	// Breaker and LLMProvider feed the health probe. Both optional.
	Breaker     BreakerStatus
	LLMProvider string

	Version   string
	StoreKind string

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RequestTimeout      time.Duration
	MaxRequestBodyBytes int64
}

// Server is the admin control plane HTTP server.
type Server struct {
	logger      *slog.Logger
	metrics     *serverMetrics
	store       store.Store
	jwt         *auth.JWTManager
	projections *projection.Service
	explain     *explain.Service
	suggestions *approval.SuggestionService
	escalations *approval.EscalationService
	rollbacks   *approval.RollbackService
	journal     *journal.Recorder
	breaker     BreakerStatus
	llmProvider string

	version   string
	storeKind string
	startedAt time.Time

	maxBodyBytes int64
	httpServer   *http.Server
}

// New creates the admin server and assembles the middleware pipeline.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}

	s := &Server{
		logger:       logger,
		metrics:      newServerMetrics(),
		store:        cfg.Store,
		jwt:          cfg.JWT,
		projections:  cfg.Projections,
		explain:      cfg.Explain,
		suggestions:  cfg.Suggestions,
		escalations:  cfg.Escalations,
		rollbacks:    cfg.Rollbacks,
		journal:      cfg.Journal,
		breaker:      cfg.Breaker,
		llmProvider:  cfg.LLMProvider,
		version:      cfg.Version,
		storeKind:    cfg.StoreKind,
		startedAt:    time.Now(),
		maxBodyBytes: cfg.MaxRequestBodyBytes,
	}

	handler := s.buildHandler(cfg)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) buildHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	rateLimited := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many requests")
	}
	authLimit := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc("auth"), rateLimited)

	operator := requireRole(model.RoleOperator, s.metrics)
	admin := requireRole(model.RoleAdmin, s.metrics)
	// Auditor is the lowest role; reaching a handler already implies it,
	// but the explicit guard rejects tokens minted with unknown roles.
	auditor := requireRole(model.RoleAuditor, s.metrics)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	if len(cfg.OpenAPISpec) > 0 {
		spec := cfg.OpenAPISpec
		mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(spec)
		})
	}

	mux.Handle("POST /admin/auth/login", authLimit(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /admin/auth/refresh", authLimit(http.HandlerFunc(s.handleRefresh)))
	mux.Handle("POST /admin/auth/logout", authLimit(http.HandlerFunc(s.handleLogout)))

	mux.Handle("GET /admin/preferences", auditor(http.HandlerFunc(s.handleListPreferences)))
	mux.Handle("POST /admin/preferences/rollback", admin(s.idempotent(s.handleRollbackPreference)))

	mux.Handle("GET /admin/suggestions", auditor(http.HandlerFunc(s.handleListSuggestions)))
	mux.Handle("POST /admin/suggestions/{id}/approve", operator(s.idempotent(s.handleApproveSuggestion)))
	mux.Handle("POST /admin/suggestions/{id}/reject", operator(s.idempotent(s.handleRejectSuggestion)))

	mux.Handle("GET /admin/arbitrations", auditor(http.HandlerFunc(s.handleListArbitrations)))
	mux.Handle("POST /admin/arbitrations/{id}/rollback", admin(s.idempotent(s.handleRollbackDecision)))

	mux.Handle("GET /admin/escalations/pending", auditor(http.HandlerFunc(s.handlePendingEscalations)))
	mux.Handle("POST /admin/escalations/{id}/approve", operator(s.idempotent(s.handleApproveEscalation)))
	mux.Handle("POST /admin/escalations/{id}/reject", operator(s.idempotent(s.handleRejectEscalation)))

	mux.Handle("GET /admin/audit", auditor(http.HandlerFunc(s.handleAudit)))
	mux.Handle("GET /admin/explanations/{id}", auditor(http.HandlerFunc(s.handleExplanation)))
	mux.Handle("GET /admin/agents", auditor(http.HandlerFunc(s.handleAgentActivity)))

	if cfg.MCP != nil {
		mux.Handle("/mcp", auditor(cfg.MCP))
		mux.Handle("/mcp/", auditor(cfg.MCP))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
	})

	// Innermost to outermost.
	var handler http.Handler = mux
	handler = recoveryMiddleware(s.logger, handler)
	handler = authMiddleware(s.jwt, s.metrics, handler)
	handler = timeoutMiddleware(cfg.RequestTimeout, handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = tracingMiddleware(s.metrics, handler)
	handler = securityHeadersMiddleware(handler)
	handler = correlationIDMiddleware(handler)
	return handler
}

// Handler exposes the assembled pipeline, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("admin server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "ok",
		Version: s.version,
		Store:   s.storeKind,
		LLM:     s.llmProvider,
		Uptime:  int64(time.Since(s.startedAt).Seconds()),
	}
	if s.breaker != nil {
		resp.BreakerState = s.breaker.State()
	}
	writeJSON(w, r, http.StatusOK, resp)
}
