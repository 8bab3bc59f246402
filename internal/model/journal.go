package model

import (
	"time"

	"github.com/google/uuid"
)

// JournalKind distinguishes recorded domain events from admin mutations.
type JournalKind string

const (
	JournalEvent    JournalKind = "event"
	JournalMutation JournalKind = "mutation"
)

// JournalEntry is one append-only audit record. Domain events are recorded
// verbatim; admin mutations record the actor, endpoint, and payload. The
// content hash covers the canonicalized entry so batches can be anchored
// by a Merkle root.
type JournalEntry struct {
	ID            uuid.UUID      `json:"id"`
	Kind          JournalKind    `json:"kind"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType,omitempty"`
	AggregateID   string         `json:"aggregateId,omitempty"`
	AgentName     string         `json:"agentName,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	ActorRole     string         `json:"actorRole,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	ContentHash   string         `json:"contentHash,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RecordedAt    time.Time      `json:"recordedAt"`
}

// JournalFilter narrows audit queries. Zero values mean "no filter".
type JournalFilter struct {
	Since     time.Time
	Until     time.Time
	Type      string
	AgentName string
}
