// Package tazuna is the public API for embedding the decision plane.
//
// Hosts construct an App, publish domain events into it, and let the
// agents, arbitration, and adaptation pipeline govern what changes:
//
//	app, err := tazuna.New(
//	    tazuna.WithVersion(version),
//	    tazuna.WithLogger(logger),
//	    tazuna.WithEventHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: tazuna (root)
// imports internal/*, but internal/* never imports tazuna (root).
// Public types (Event, Arbitration, etc.) are standalone structs with no
// internal imports; conversion helpers live here because this is the
// only file that sees both sides of the boundary.
package tazuna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tazuna-ai/tazuna/api"
	"github.com/tazuna-ai/tazuna/internal/adaptation"
	"github.com/tazuna-ai/tazuna/internal/agents"
	"github.com/tazuna-ai/tazuna/internal/approval"
	"github.com/tazuna-ai/tazuna/internal/arbitration"
	"github.com/tazuna-ai/tazuna/internal/auth"
	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/config"
	"github.com/tazuna-ai/tazuna/internal/explain"
	"github.com/tazuna-ai/tazuna/internal/feedback"
	"github.com/tazuna-ai/tazuna/internal/governance"
	"github.com/tazuna-ai/tazuna/internal/journal"
	"github.com/tazuna-ai/tazuna/internal/llm"
	"github.com/tazuna-ai/tazuna/internal/mcp"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/projection"
	"github.com/tazuna-ai/tazuna/internal/proposal"
	"github.com/tazuna-ai/tazuna/internal/ratelimit"
	"github.com/tazuna-ai/tazuna/internal/registry"
	"github.com/tazuna-ai/tazuna/internal/server"
	"github.com/tazuna-ai/tazuna/internal/store"
	"github.com/tazuna-ai/tazuna/internal/store/memory"
	"github.com/tazuna-ai/tazuna/internal/store/postgres"
	"github.com/tazuna-ai/tazuna/internal/suggest"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
	"github.com/tazuna-ai/tazuna/migrations"
)

// Auth endpoints share one token bucket per client IP.
const (
	authRateLimit = 5.0
	authRateBurst = 10
)

// App is the decision plane lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	version string

	store store.Store
	pg    *postgres.Store // nil with the memory store

	bus       *bus.Bus
	recorder  *journal.Recorder
	proposals *proposal.Service
	arbiter   *arbitration.Arbiter
	engine    *adaptation.Engine
	feedback  *feedback.Service

	srv          *server.Server
	limiter      *ratelimit.MemoryLimiter
	otelShutdown telemetry.Shutdown
}

// New initialises the plane. It loads configuration, connects the store
// (postgres when a database URL is configured, in-memory otherwise),
// runs migrations, and wires every subsystem. It does NOT start any
// goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("tazuna starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Select the store. An empty database URL means the in-memory store;
	// everything above the ports is identical either way.
	var (
		st        store.Store
		pg        *postgres.Store
		storeKind string
	)
	if cfg.DatabaseURL != "" {
		pg, err = postgres.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.RunMigrations(context.Background(), migrations.FS); err != nil {
			pg.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		st = pg
		storeKind = "postgres"
	} else {
		st = memory.New()
		storeKind = "memory"
		logger.Info("store: in-memory (no TAZUNA_DATABASE_URL)")
	}

	fail := func(err error) (*App, error) {
		if pg != nil {
			pg.Close()
		}
		_ = otelShutdown(context.Background())
		return nil, err
	}

	reg, err := registry.Load(toDeclarations(o.registryOverrides)...)
	if err != nil {
		return fail(fmt.Errorf("registry: %w", err))
	}

	b := bus.New()

	recorder := journal.NewRecorder(st, logger, cfg.JournalBufferSize, cfg.JournalFlushInterval)
	recorder.Subscribe(b)

	// LLM provider: external override takes priority over config. The
	// breaker wraps either so governance sees one failure policy.
	var client llm.Client
	llmProvider := cfg.LLMProvider
	if o.llmClient != nil {
		client = &llmClientAdapter{c: o.llmClient}
		llmProvider = "custom"
	} else {
		switch cfg.LLMProvider {
		case "openai":
			client = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, "")
		case "ollama":
			client = llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
		default:
			client = llm.NewStaticClient("", 0)
		}
	}
	breaker := llm.NewBreakerClient(client, llm.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerMaxFail), //nolint:gosec // validated positive in config.Validate
		OpenInterval:     cfg.BreakerOpenFor,
	}, logger)
	logger.Info("llm provider", "provider", llmProvider)

	gov := governance.New(st, breaker, logger)

	proposals := proposal.New(st, st, b, logger)

	dispatcher := agents.NewDispatcher(gov, proposals, logger)
	policies := agents.DefaultPolicies()
	dispatcher.Register(agents.NewCoach(gov, st), policies[agents.CoachName])
	dispatcher.Register(agents.NewPlanner(st, reg), policies[agents.PlannerName])
	dispatcher.Register(agents.NewLogger(st, agents.DefaultLoggerSampleWindow), policies[agents.LoggerName])
	for _, a := range o.agents {
		dispatcher.Register(&agentAdapter{a: a}, customAgentPolicy(a.Name()))
	}
	dispatcher.Attach(b)

	policySvc := adaptation.NewPolicyService(st, reg, logger)

	// Arbitrated adaptation routes allowed changes through the proposal
	// pipeline; the default applies them directly.
	var submitter adaptation.ProposalSubmitter
	if cfg.ArbitratedAdaptation {
		submitter = proposals
	}
	engine := adaptation.NewEngine(policySvc, st, st, reg, b, submitter, logger)

	arbiter := arbitration.New(st, st, st, st, policySvc, b, logger)

	suggester := suggest.New(st, reg, suggest.Config{
		MinFeedbackForSuggestion: cfg.SuggestionThreshold,
	}, logger)
	audit := suggest.NewAuditService(st, reg, logger)

	fb := feedback.New(st, st, suggester, b, feedback.Config{
		SuggestionThreshold: cfg.SuggestionThreshold,
	}, logger)

	exp := explain.New(st, st, st, st, logger)
	projections := projection.New(st, st, st, st, st)

	suggestions := approval.NewSuggestionService(suggester, b, logger)
	escalations := approval.NewEscalationService(st, st, engine, b, logger)
	rollbacks := approval.NewRollbackService(engine, st, st, reg, b, logger)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	limiter := ratelimit.NewMemoryLimiter(authRateLimit, authRateBurst)

	mcpSrv := mcp.New(projections, exp, audit, version, logger)

	srv := server.New(server.Config{
		Logger:              logger,
		Store:               st,
		JWT:                 jwtMgr,
		Projections:         projections,
		Explain:             exp,
		Suggestions:         suggestions,
		Escalations:         escalations,
		Rollbacks:           rollbacks,
		Journal:             recorder,
		AuthLimiter:         limiter,
		MCP:                 mcpSrv.HTTPHandler(),
		OpenAPISpec:         api.OpenAPISpec,
		Breaker:             breaker,
		LLMProvider:         llmProvider,
		Version:             version,
		StoreKind:           storeKind,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		if err := server.SeedAdmin(context.Background(), st, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			_ = limiter.Close()
			return fail(fmt.Errorf("admin seed: %w", err))
		}
	}

	app := &App{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		store:        st,
		pg:           pg,
		bus:          b,
		recorder:     recorder,
		proposals:    proposals,
		arbiter:      arbiter,
		engine:       engine,
		feedback:     fb,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
	}
	app.attachHooks(o.eventHooks)
	return app, nil
}

// Run starts the journal flush loop, the background maintenance loops,
// and the HTTP server, then blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown is called automatically —
// callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.recorder.Start(ctx)

	go a.conflictSweepLoop(ctx)
	go a.idempotencyCleanupLoop(ctx)
	go a.refreshTokenCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests
// and drain in-flight, then drain the journal buffer so every settled
// verdict reaches the audit log. It then closes the limiter, database
// pool, and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("tazuna shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := context.WithTimeout(ctx, 10*time.Second)
	a.recorder.Drain(drainCtx)
	drainCancel()
	if n := a.recorder.Len(); n > 0 {
		a.logger.Error("journal drain incomplete — unflushed entries will be lost", "remaining", n)
	}

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	if a.pg != nil {
		a.pg.Close()
	}

	a.logger.Info("tazuna stopped")
	return nil
}

// PublishEvent feeds a domain event into the plane. The subscribed
// agents react synchronously: proposals are submitted before the call
// returns, and the next conflict sweep arbitrates them.
func (a *App) PublishEvent(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		return fmt.Errorf("tazuna: event type is required")
	}
	e := model.NewEvent(model.EventType(ev.Type), ev.AggregateType, ev.AggregateID, ev.Payload)
	e.CorrelationID = ev.CorrelationID
	return a.bus.Publish(ctx, e)
}

// RecordFeedback records a user verdict on a governed decision. Missing
// decisions and repeated outcomes come back as soft failures in the
// result, not as errors.
func (a *App) RecordFeedback(ctx context.Context, f Feedback) (*FeedbackResult, error) {
	in := feedback.CaptureInput{
		DecisionID:   f.DecisionID,
		UserAccepted: f.Accepted,
		Context:      f.Context,
	}
	if f.Comment != "" {
		in.UserFeedback = &f.Comment
	}
	if f.Result != "" {
		in.ActualResult = &f.Result
	}
	res, err := a.feedback.Capture(ctx, in)
	if err != nil {
		return nil, err
	}
	if res.Success && res.SuggestionsCreated > 0 {
		a.autoProcessSuggestions(ctx, res.AgentName)
	}
	return &FeedbackResult{
		Success:            res.Success,
		Error:              res.Error,
		AgentName:          res.AgentName,
		SuggestionsCreated: res.SuggestionsCreated,
	}, nil
}

// autoProcessSuggestions runs freshly analyzed suggestions through the
// adaptation engine. Agents without auto-adaptation simply collect
// blocked attempts; their suggestions stay pending for human review.
func (a *App) autoProcessSuggestions(ctx context.Context, agent string) {
	pending, err := a.store.ListSuggestions(ctx, model.SuggestionPending, agent)
	if err != nil {
		a.logger.Warn("adaptation: list pending suggestions failed", "agent", agent, "error", err)
		return
	}
	for _, sg := range pending {
		if _, err := a.engine.ProcessSuggestion(ctx, agent, sg); err != nil {
			a.logger.Warn("adaptation: process suggestion failed", "agent", agent, "suggestion_id", sg.ID, "error", err)
		}
	}
}

// Handler returns the admin control plane handler, for hosts that mount
// it on their own server instead of calling Run.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// ── Background loops ──────────────────────────────────────────────────

// conflictSweepLoop periodically settles the pending proposal backlog:
// detect conflicts, arbitrate each conflict and each unconflicted
// proposal, and apply winning preference changes through the adaptation
// engine. Auto-applied winners keep Executed false on the decision —
// only escalation approval flips it.
func (a *App) conflictSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.ConflictSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, a.cfg.ConflictSweepInterval)
			a.sweepOnce(opCtx)
			cancel()
		}
	}
}

func (a *App) sweepOnce(ctx context.Context) {
	res, err := a.proposals.DetectConflicts(ctx)
	if err != nil {
		a.logger.Warn("conflict sweep: detection failed", "error", err)
		return
	}

	// Each conflict and unconflicted proposal targets a distinct key, so
	// resolutions are independent. Failures are logged per item; one bad
	// resolution never aborts the sweep.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range res.Conflicts {
		g.Go(func() error {
			d, err := a.arbiter.ResolveConflict(gctx, c)
			if err != nil {
				a.logger.Warn("conflict sweep: resolve conflict failed", "conflict_id", c.ID, "error", err)
				return nil
			}
			a.applyWinner(gctx, d)
			return nil
		})
	}
	for _, p := range res.Unconflicted {
		g.Go(func() error {
			d, err := a.arbiter.ResolveProposal(gctx, p)
			if err != nil {
				a.logger.Warn("conflict sweep: resolve proposal failed", "proposal_id", p.ID, "error", err)
				return nil
			}
			a.applyWinner(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

// applyWinner feeds a winning preference proposal into the adaptation
// engine. Non-preference winners and escalated or vetoed outcomes are
// left for their own surfaces.
func (a *App) applyWinner(ctx context.Context, d *model.ArbitrationDecision) {
	if d == nil || d.WinningProposalID == nil {
		return
	}
	switch d.Outcome {
	case model.OutcomeWinnerSelected, model.OutcomeNoConflict:
	default:
		return
	}
	p, err := a.store.GetProposal(ctx, *d.WinningProposalID)
	if err != nil {
		a.logger.Warn("conflict sweep: load winning proposal failed", "proposal_id", *d.WinningProposalID, "error", err)
		return
	}
	if p.Target.Type != "preference" {
		return
	}
	if _, err := a.engine.ApplyProposal(ctx, p, d.ID); err != nil {
		a.logger.Warn("conflict sweep: apply winner failed", "proposal_id", p.ID, "error", err)
	}
}

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.IdempotencyTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.store.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyTTL, a.cfg.IdempotencyTTL)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

func (a *App) refreshTokenCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.store.CleanupRefreshTokens(opCtx, time.Now().UTC())
			cancel()
			if err != nil {
				a.logger.Warn("refresh token cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("refresh token cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// ── Hook wiring ───────────────────────────────────────────────────────

// attachHooks subscribes the registered event hooks to the settlement
// events. Hooks run in goroutines with a bounded context so a slow hook
// never stalls arbitration.
func (a *App) attachHooks(hooks []EventHook) {
	if len(hooks) == 0 {
		return
	}

	dispatch := func(name string, fn func(context.Context, EventHook) error) {
		go func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, h := range hooks {
				if err := fn(hookCtx, h); err != nil {
					a.logger.Warn("event hook failed", "hook", name, "error", err)
				}
			}
		}()
	}

	a.bus.Subscribe(model.EventArbitrationResolved, func(ctx context.Context, ev model.Event) error {
		d, err := a.decisionFromPayload(ctx, ev)
		if err != nil {
			return nil // hook delivery is best effort
		}
		arb := toPublicArbitration(d)
		dispatch("OnArbitrationResolved", func(hctx context.Context, h EventHook) error {
			return h.OnArbitrationResolved(hctx, arb)
		})
		return nil
	})

	a.bus.Subscribe(model.EventActionSuppressed, func(ctx context.Context, ev model.Event) error {
		sup := toPublicSuppression(ev)
		dispatch("OnActionSuppressed", func(hctx context.Context, h EventHook) error {
			return h.OnActionSuppressed(hctx, sup)
		})
		return nil
	})

	a.bus.Subscribe(model.EventArbitrationEscalated, func(ctx context.Context, ev model.Event) error {
		d, err := a.decisionFromPayload(ctx, ev)
		if err != nil {
			return nil
		}
		esc := toPublicEscalation(d, ev)
		dispatch("OnEscalation", func(hctx context.Context, h EventHook) error {
			return h.OnEscalation(hctx, esc)
		})
		return nil
	})
}

func (a *App) decisionFromPayload(ctx context.Context, ev model.Event) (*model.ArbitrationDecision, error) {
	raw, _ := ev.Payload["decisionId"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return a.store.GetArbitrationDecision(ctx, id)
}

// ── Adapters (defined here because this file imports both sides) ──────

// llmClientAdapter wraps a public LLMClient to satisfy llm.Client.
type llmClientAdapter struct {
	c LLMClient
}

func (a *llmClientAdapter) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Completion, error) {
	out, err := a.c.Generate(ctx, prompt, LLMOptions{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return &llm.Completion{
		Content:    out.Content,
		Confidence: out.Confidence,
		Model:      out.Model,
		LatencyMs:  out.LatencyMs,
		CostUSD:    out.CostUSD,
		Tokens: llm.TokenUsage{
			Prompt:     out.PromptTokens,
			Completion: out.CompletionTokens,
			Total:      out.PromptTokens + out.CompletionTokens,
		},
	}, nil
}

func (a *llmClientAdapter) HealthCheck(ctx context.Context) bool {
	return a.c.HealthCheck(ctx)
}

// agentAdapter wraps a public Agent to satisfy agents.Agent. It converts
// events outward and proposal drafts back at the boundary.
type agentAdapter struct {
	a Agent
}

func (ad *agentAdapter) Name() string { return ad.a.Name() }

func (ad *agentAdapter) Events() []model.EventType {
	names := ad.a.Events()
	types := make([]model.EventType, len(names))
	for i, n := range names {
		types[i] = model.EventType(n)
	}
	return types
}

func (ad *agentAdapter) Handle(ctx context.Context, ev model.Event) ([]model.ProposalInput, error) {
	drafts, err := ad.a.Handle(ctx, Event{
		Type:          string(ev.Type),
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       ev.Payload,
		CorrelationID: ev.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	inputs := make([]model.ProposalInput, len(drafts))
	for i, d := range drafts {
		risk := model.RiskLevel(d.RiskLevel)
		if risk == "" {
			risk = model.RiskLow
		}
		inputs[i] = model.ProposalInput{
			AgentName:  ad.a.Name(),
			ActionType: d.ActionType,
			Target: model.TargetRef{
				Type: d.Target.Type,
				ID:   d.Target.ID,
				Key:  d.Target.Key,
			},
			ProposedValue:      d.ProposedValue,
			Confidence:         d.Confidence,
			CostEstimate:       d.CostEstimate,
			RiskLevel:          risk,
			OriginatingEventID: ev.ID.String(),
		}
	}
	return inputs, nil
}

// customAgentPolicy is the governance policy for host-registered agents:
// conservative caps, no LLM access unless the host builds its own.
func customAgentPolicy(name string) model.AgentPolicy {
	return model.AgentPolicy{
		AgentName:              name,
		MaxSuggestionsPerEvent: 2,
		ConfidenceThreshold:    0.7,
		Cooldown:               5 * time.Minute,
		AIEnabled:              false,
		FallbackToRules:        true,
	}
}

// ── Type converters ───────────────────────────────────────────────────

func toPublicArbitration(d *model.ArbitrationDecision) Arbitration {
	winner := ""
	if d.WinningProposalID != nil {
		winner = *d.WinningProposalID
	}
	return Arbitration{
		ID:                    d.ID,
		ConflictID:            d.ConflictID,
		PolicyName:            d.PolicyName,
		Strategy:              string(d.StrategyUsed),
		Outcome:               string(d.Outcome),
		WinningProposalID:     winner,
		SuppressedProposalIDs: d.SuppressedProposalIDs,
		Reasoning:             d.ReasoningSummary,
		RequiresHumanApproval: d.RequiresHumanApproval,
		CreatedAt:             d.CreatedAt,
	}
}

func toPublicSuppression(ev model.Event) Suppression {
	s := Suppression{}
	s.ProposalID, _ = ev.Payload["proposalId"].(string)
	s.AgentName, _ = ev.Payload["agentName"].(string)
	s.WinningProposalID, _ = ev.Payload["winningProposalId"].(string)
	s.Explanation, _ = ev.Payload["explanation"].(string)
	if raw, ok := ev.Payload["decisionId"].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			s.DecisionID = id
		}
	}
	return s
}

func toPublicEscalation(d *model.ArbitrationDecision, ev model.Event) Escalation {
	esc := Escalation{
		DecisionID: d.ID,
		ConflictID: d.ConflictID,
		Reason:     d.EscalationReason,
		CreatedAt:  d.CreatedAt,
	}
	esc.SuggestedProposalID, _ = ev.Payload["suggestedProposalId"].(string)
	if ids, ok := ev.Payload["escalatedProposals"].([]string); ok {
		esc.ProposalIDs = ids
	} else {
		esc.ProposalIDs = d.ProposalIDs()
	}
	return esc
}

func toDeclarations(overrides []RegistryOverride) []registry.Declaration {
	decls := make([]registry.Declaration, len(overrides))
	for i, o := range overrides {
		decls[i] = registry.Declaration{
			Category:      o.Category,
			Key:           o.Key,
			Values:        o.Values,
			Min:           o.Min,
			Max:           o.Max,
			Default:       o.Default,
			Risk:          model.RiskLevel(o.Risk),
			Adaptive:      o.Adaptive,
			MinConfidence: o.MinConfidence,
			AgentDefaults: o.AgentDefaults,
		}
	}
	return decls
}
