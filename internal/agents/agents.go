// Package agents hosts the built-in advisors and the dispatcher that
// connects them to the event bus. Advisors never mutate state directly:
// everything they want becomes a proposal, and the proposal pipeline
// decides what actually happens.
package agents

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/bus"
	"github.com/tazuna-ai/tazuna/internal/governance"
	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// Agent is one advisory component. Handle inspects an event and returns
// zero or more proposals; it must not write to any store.
type Agent interface {
	Name() string
	Events() []model.EventType
	Handle(ctx context.Context, ev model.Event) ([]model.ProposalInput, error)
}

// Submitter accepts proposals from the dispatcher. Satisfied by
// proposal.Service.
type Submitter interface {
	Submit(ctx context.Context, in model.ProposalInput) (*model.Proposal, error)
}

// Dispatcher routes bus events to agents and forwards their proposals
// through the governance gates: a per-aggregate cooldown and a
// per-event suggestion cap.
type Dispatcher struct {
	governance *governance.Service
	submitter  Submitter
	logger     *slog.Logger
	agents     []Agent

	dispatched metric.Int64Counter
	suppressed metric.Int64Counter
}

// NewDispatcher creates a dispatcher. Register agents before Attach.
func NewDispatcher(gov *governance.Service, submitter Submitter, logger *slog.Logger) *Dispatcher {
	meter := telemetry.Meter("tazuna/agents")
	dispatched, _ := meter.Int64Counter("tazuna.agents.dispatched",
		metric.WithDescription("Events handled by agent"),
	)
	suppressed, _ := meter.Int64Counter("tazuna.agents.gated",
		metric.WithDescription("Agent invocations or proposals stopped by a governance gate"),
	)
	return &Dispatcher{
		governance: gov,
		submitter:  submitter,
		logger:     logger.With("component", "dispatcher"),
		dispatched: dispatched,
		suppressed: suppressed,
	}
}

// Register adds an agent and installs its governance policy when none
// exists yet.
func (d *Dispatcher) Register(a Agent, policy model.AgentPolicy) {
	d.agents = append(d.agents, a)
	if _, ok := d.governance.Policy(a.Name()); !ok {
		policy.AgentName = a.Name()
		d.governance.RegisterPolicy(policy)
	}
}

// Attach subscribes every registered agent to the bus for the event
// types it declares.
func (d *Dispatcher) Attach(b *bus.Bus) {
	for _, a := range d.agents {
		agent := a
		for _, typ := range agent.Events() {
			b.Subscribe(typ, func(ctx context.Context, ev model.Event) error {
				return d.dispatch(ctx, agent, ev)
			})
		}
	}
}

// dispatch runs one agent against one event. Gate refusals are not
// errors: a cooled-down agent simply stays quiet.
func (d *Dispatcher) dispatch(ctx context.Context, a Agent, ev model.Event) error {
	name := a.Name()
	if ev.AggregateID != "" && !d.governance.TryTakeAction(name, ev.AggregateID) {
		d.suppressed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", name),
			attribute.String("gate", "cooldown"),
		))
		d.logger.Debug("agent on cooldown", "agent", name, "aggregate_id", ev.AggregateID)
		return nil
	}

	inputs, err := a.Handle(ctx, ev)
	if err != nil {
		d.logger.Error("agent handle failed", "agent", name, "event_type", ev.Type, "error", err)
		return err
	}
	d.dispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", name),
		attribute.String("event_type", string(ev.Type)),
	))

	var errs []error
	eventID := ev.ID.String()
	for _, in := range inputs {
		if !d.governance.CanMakeSuggestion(name, eventID) {
			d.suppressed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent", name),
				attribute.String("gate", "suggestion_cap"),
			))
			d.logger.Debug("suggestion cap reached", "agent", name, "event_id", eventID)
			break
		}
		in.AgentName = name
		in.OriginatingEventID = eventID
		if _, err := d.submitter.Submit(ctx, in); err != nil {
			d.logger.Error("submit proposal", "agent", name, "action", in.ActionType, "error", err)
			errs = append(errs, err)
			continue
		}
		d.governance.RecordSuggestion(name, eventID)
	}
	return errors.Join(errs...)
}
