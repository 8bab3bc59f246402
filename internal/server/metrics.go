package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tazuna-ai/tazuna/internal/telemetry"
)

// serverMetrics holds the HTTP-layer instruments. Domain counters
// (rollbacks, arbitration outcomes) live with their services.
type serverMetrics struct {
	requests         metric.Int64Counter
	duration         metric.Float64Histogram
	authFailures     metric.Int64Counter
	adminActions     metric.Int64Counter
	validationErrors metric.Int64Counter
	idempotentReplay metric.Int64Counter
}

func newServerMetrics() *serverMetrics {
	meter := telemetry.Meter("tazuna/server")

	requests, _ := meter.Int64Counter("tazuna.http.requests",
		metric.WithDescription("HTTP requests by method, route, and status"),
	)
	duration, _ := meter.Float64Histogram("tazuna.http.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	authFailures, _ := meter.Int64Counter("tazuna.http.auth_failures",
		metric.WithDescription("Authentication and authorization failures by reason"),
	)
	adminActions, _ := meter.Int64Counter("tazuna.admin.actions",
		metric.WithDescription("Admin mutations by action"),
	)
	validationErrors, _ := meter.Int64Counter("tazuna.admin.validation_errors",
		metric.WithDescription("Request validation failures by route"),
	)
	idempotentReplay, _ := meter.Int64Counter("tazuna.admin.idempotent_replays",
		metric.WithDescription("Mutations answered from the idempotency store"),
	)

	return &serverMetrics{
		requests:         requests,
		duration:         duration,
		authFailures:     authFailures,
		adminActions:     adminActions,
		validationErrors: validationErrors,
		idempotentReplay: idempotentReplay,
	}
}

func (m *serverMetrics) authFailure(ctx context.Context, reason string) {
	m.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *serverMetrics) adminAction(ctx context.Context, action string) {
	m.adminActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *serverMetrics) validationError(ctx context.Context, route string) {
	m.validationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (m *serverMetrics) idempotentReplayed(ctx context.Context, endpoint string) {
	m.idempotentReplay.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}
