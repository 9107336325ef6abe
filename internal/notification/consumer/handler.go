package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"partnerhub/internal/notification/dispatcher"
	"partnerhub/internal/orderevent/models"
	"partnerhub/internal/platform/kafka/consumer"
)

// Dispatcher is the synchronous fan-out the handler feeds.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.OrderEvent) dispatcher.Report
}

// Deduper remembers which events were already dispatched. Kafka delivers at
// least once, so a rebalance can replay a committed batch.
type Deduper interface {
	// FirstSeen marks eventID as seen and reports whether it was new.
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	// Forget unmarks eventID so a redelivery dispatches it again.
	Forget(ctx context.Context, eventID string) error
}

// OrderEventHandler decodes order events and dispatches them.
//
// Malformed records are logged and skipped so one bad payload cannot stall a
// partition. Handler failures are already retried by the dispatcher and are
// not redelivered.
type OrderEventHandler struct {
	dispatcher Dispatcher
	deduper    Deduper
	logger     *slog.Logger
}

func NewOrderEventHandler(d Dispatcher, deduper Deduper, logger *slog.Logger) *OrderEventHandler {
	return &OrderEventHandler{dispatcher: d, deduper: deduper, logger: logger}
}

func (h *OrderEventHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var event models.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.WarnContext(ctx, "skipping malformed order event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	eventID := event.ID().String()
	if h.deduper != nil {
		first, err := h.deduper.FirstSeen(ctx, eventID)
		if err != nil {
			// Dispatch anyway; a duplicate notification beats a lost one.
			h.logger.WarnContext(ctx, "order event dedupe check failed",
				"event_id", eventID,
				"error", err,
			)
		} else if !first {
			h.logger.DebugContext(ctx, "skipping duplicate order event", "event_id", eventID)
			return nil
		}
	}

	report := h.dispatcher.Dispatch(ctx, event)
	if ctx.Err() != nil && h.deduper != nil {
		// Shutdown interrupted delivery; let the redelivered record try again.
		if err := h.deduper.Forget(context.WithoutCancel(ctx), eventID); err != nil {
			h.logger.WarnContext(ctx, "order event dedupe reset failed", "event_id", eventID, "error", err)
		}
		return fmt.Errorf("dispatch %s interrupted: %w", eventID, ctx.Err())
	}
	if failed := report.Failed(); len(failed) > 0 {
		h.logger.WarnContext(ctx, "order event dispatched with failures",
			"event_id", eventID,
			"event_type", event.Type(),
			"failed_handlers", len(failed),
		)
	}
	return nil
}
