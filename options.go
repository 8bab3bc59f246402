package tazuna

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger            *slog.Logger
	version           string
	port              int
	databaseURL       string
	llmClient         LLMClient
	agents            []Agent
	eventHooks        []EventHook
	registryOverrides []RegistryOverride
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPort overrides the TCP port from config (TAZUNA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (TAZUNA_DATABASE_URL env var). An empty URL selects the in-memory store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLLMClient replaces the LLM provider configured through
// TAZUNA_LLM_PROVIDER. The circuit breaker still wraps the client.
// Only the last call wins.
func WithLLMClient(c LLMClient) Option {
	return func(o *resolvedOptions) { o.llmClient = c }
}

// WithAgent registers a custom advisor alongside the built-in coach,
// planner, and logger agents. Multiple agents may be registered; each
// runs under the default governance policy for its name.
func WithAgent(a Agent) Option {
	return func(o *resolvedOptions) { o.agents = append(o.agents, a) }
}

// WithEventHook registers a hook for arbitration, suppression, and
// escalation notifications. Multiple hooks may be registered; all
// registered hooks receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithRegistryOverrides replaces or adds preference declarations on top
// of the embedded registry seed. An override with an existing
// (category, key) replaces that declaration.
func WithRegistryOverrides(overrides ...RegistryOverride) Option {
	return func(o *resolvedOptions) { o.registryOverrides = append(o.registryOverrides, overrides...) }
}
