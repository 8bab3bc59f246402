package ctxutil

// MutationMeta carries the request metadata needed to build a mutation
// journal entry. It lives in ctxutil so both server and mcp packages can
// populate it without circular imports.
type MutationMeta struct {
	CorrelationID string
	Actor         string
	ActorRole     string
	HTTPMethod    string
	Endpoint      string
}
