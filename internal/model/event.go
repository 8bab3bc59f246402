package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of a domain event.
type EventType string

const (
	// Inbound domain events that trigger agents.
	EventWorkoutLogged EventType = "WorkoutLogged"
	EventSessionMissed EventType = "SessionMissed"
	EventPlanUpdated   EventType = "PlanUpdated"

	// Proposal pipeline events.
	EventProposalSubmitted     EventType = "ProposalSubmitted"
	EventAgentConflictDetected EventType = "AgentConflictDetected"
	EventArbitrationResolved   EventType = "ArbitrationResolved"
	EventArbitrationEscalated  EventType = "ArbitrationEscalated"
	EventActionSuppressed      EventType = "ActionSuppressed"

	// Adaptation events.
	EventPreferenceAutoApplied EventType = "PreferenceAutoApplied"
	EventPreferenceAutoBlocked EventType = "PreferenceAutoBlocked"
	EventPreferenceAutoSkipped EventType = "PreferenceAutoSkipped"
	EventPreferenceRolledBack  EventType = "PreferenceRolledBack"

	// Suggestion and feedback events.
	EventSuggestionApproved EventType = "SuggestionApproved"
	EventSuggestionRejected EventType = "SuggestionRejected"
	EventFeedbackRecorded   EventType = "FeedbackRecorded"

	// Escalation resolution events.
	EventEscalationApproved EventType = "EscalationApproved"
	EventEscalationRejected EventType = "EscalationRejected"
)

// Event is one domain event flowing through the bus. Payload keys are
// event-type specific; CorrelationID ties the event to the request that
// produced it.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Type          EventType      `json:"type"`
	AggregateType string         `json:"aggregateType,omitempty"`
	AggregateID   string         `json:"aggregateId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// NewEvent constructs an event with a fresh id and the current time.
func NewEvent(eventType EventType, aggregateType, aggregateID string, payload map[string]any) Event {
	return Event{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		OccurredAt:    time.Now().UTC(),
	}
}
