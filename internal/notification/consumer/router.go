// Package consumer turns order event records from Kafka back into
// notification dispatches.
package consumer

import (
	"context"
	"log/slog"

	"partnerhub/internal/platform/kafka/consumer"
)

// TopicHandler processes records of a single topic.
type TopicHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// HandlerFunc adapts a function to TopicHandler.
type HandlerFunc func(ctx context.Context, msg *consumer.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *consumer.Message) error {
	return f(ctx, msg)
}

// Router picks a TopicHandler by record topic. Registration happens during
// wiring, before the consumer starts polling, so lookups need no lock.
type Router struct {
	routes   map[string]TopicHandler
	fallback TopicHandler
	logger   *slog.Logger
}

// NewRouter returns a router. Records on unregistered topics go to fallback;
// with a nil fallback they are logged and acknowledged.
func NewRouter(logger *slog.Logger, fallback TopicHandler) *Router {
	if fallback == nil {
		fallback = HandlerFunc(func(ctx context.Context, msg *consumer.Message) error {
			logger.WarnContext(ctx, "unrouted order event record",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return nil
		})
	}
	return &Router{routes: map[string]TopicHandler{}, fallback: fallback, logger: logger}
}

func (r *Router) Register(topic string, h TopicHandler) {
	r.routes[topic] = h
}

func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	if h, ok := r.routes[msg.Topic]; ok {
		return h.Handle(ctx, msg)
	}
	return r.fallback.Handle(ctx, msg)
}
