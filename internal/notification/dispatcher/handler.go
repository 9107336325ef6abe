package dispatcher

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"partnerhub/internal/orderevent/models"
)

// EventTypeAny subscribes a handler to every event type.
const EventTypeAny = "*"

// Handler is one notification channel. Handle may perform I/O and must return
// an error when delivery did not happen.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event models.OrderEvent) error
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, event models.OrderEvent) error
}

// HandlerFunc adapts a function to Handler.
func HandlerFunc(name string, fn func(ctx context.Context, event models.OrderEvent) error) Handler {
	return funcHandler{name: name, fn: fn}
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Handle(ctx context.Context, event models.OrderEvent) error {
	return h.fn(ctx, event)
}

// Permanent marks err as not worth retrying, e.g. a rejected payload.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
