// Package emitter turns order state transitions into immutable order events
// and hands them to a publisher. Publishing problems never fail the caller's
// transition.
package emitter

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"partnerhub/internal/orderevent/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/requestcontext"
)

// Publisher delivers an event downstream: the in-process dispatcher, or the
// outbox when events must survive a restart.
type Publisher interface {
	Publish(ctx context.Context, event models.OrderEvent) error
}

type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
}

type Option func(*Emitter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Emitter) {
		e.metrics = m
	}
}

func New(publisher Publisher, opts ...Option) (*Emitter, error) {
	if publisher == nil {
		return nil, errors.New("order event emitter: publisher is required")
	}
	e := &Emitter{
		publisher: publisher,
		logger:    slog.Default(),
		tracer:    otel.Tracer("partnerhub/orderevent"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type emitConfig struct {
	trigger  string
	metadata models.Metadata
	eventID  id.EventID
}

// EmitOption customizes a single emission.
type EmitOption func(*emitConfig)

// WithTrigger records what caused the transition, e.g. "carrier_webhook".
func WithTrigger(trigger string) EmitOption {
	return func(c *emitConfig) {
		c.trigger = trigger
	}
}

// WithMetadata attaches free-form context to the event.
func WithMetadata(metadata models.Metadata) EmitOption {
	return func(c *emitConfig) {
		c.metadata = metadata.Clone()
	}
}

// WithEventID pins the event id, letting callers make emission idempotent.
func WithEventID(eventID id.EventID) EmitOption {
	return func(c *emitConfig) {
		c.eventID = eventID
	}
}

// Emit builds an event from the order snapshot and publishes it. Without
// options the trigger is "unknown" and metadata is empty. The returned event
// is valid even when publishing failed; failures are logged and counted.
//
// Errors: CodeValidation when the snapshot, trigger or metadata is invalid.
func (e *Emitter) Emit(ctx context.Context, order models.OrderSnapshot, opts ...EmitOption) (models.OrderEvent, error) {
	cfg := emitConfig{trigger: models.TriggerUnknown, eventID: id.NewEventID()}
	for _, opt := range opts {
		opt(&cfg)
	}

	event, err := models.NewOrderEvent(cfg.eventID, order, cfg.trigger, cfg.metadata, requestcontext.Now(ctx))
	if err != nil {
		return models.OrderEvent{}, err
	}

	ctx, span := e.tracer.Start(ctx, "orderevent.emit", trace.WithAttributes(
		attribute.String("order_id", event.OrderID().String()),
		attribute.String("event_type", event.Type()),
		attribute.String("trigger", event.Trigger()),
	))
	defer span.End()

	if err := e.publisher.Publish(ctx, event); err != nil {
		span.RecordError(err)
		e.logger.WarnContext(ctx, "order event publish failed",
			"event_id", event.ID().String(),
			"order_id", event.OrderID().String(),
			"event_type", event.Type(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		if e.metrics != nil {
			e.metrics.IncPublishFailure(event.Type())
		}
		return event, nil
	}
	if e.metrics != nil {
		e.metrics.IncEmitted(event.Type())
	}
	e.logger.InfoContext(ctx, "order event emitted",
		"event_id", event.ID().String(),
		"order_id", event.OrderID().String(),
		"event_type", event.Type(),
		"trigger", event.Trigger(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return event, nil
}
