// Package telemetry holds the OpenTelemetry instruments the services
// record to.  Without a configured MeterProvider the global meter is a
// no-op, so recording is always safe.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/iliyamo/playtest-sessions"

// Attribute keys shared by the instruments.
const (
	OperationKey = attribute.Key("playtest.operation")
	OutcomeKey   = attribute.Key("playtest.outcome")
	RoleKey      = attribute.Key("playtest.role")
	FromKey      = attribute.Key("playtest.status.from")
	ToKey        = attribute.Key("playtest.status.to")
	EventTypeKey = attribute.Key("playtest.event.type")
)

// Metrics groups the counters recorded by the core services.
type Metrics struct {
	Registrations metric.Int64Counter // registration operations by outcome
	Transitions   metric.Int64Counter // session state changes
	Moderations   metric.Int64Counter // feedback review state changes
	Events        metric.Int64Counter // domain events by publish outcome
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.Registrations, err = meter.Int64Counter("playtest.registrations",
		metric.WithDescription("Registration operations by operation and outcome"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, err
	}
	if m.Transitions, err = meter.Int64Counter("playtest.session.transitions",
		metric.WithDescription("Session status transitions"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if m.Moderations, err = meter.Int64Counter("playtest.feedback.moderations",
		metric.WithDescription("Feedback review status transitions"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if m.Events, err = meter.Int64Counter("playtest.events",
		metric.WithDescription("Domain events handed to the publisher"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Global builds Metrics on the process-wide meter provider.
func Global() *Metrics {
	m, err := New(otel.Meter(meterName))
	if err != nil {
		// the global provider only fails on invalid instrument names
		panic(err)
	}
	return m
}

// Count adds one to c with the given attributes.
func Count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
