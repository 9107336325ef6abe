// Package handler exposes order event emission to internal platform services.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"partnerhub/internal/orderevent/emitter"
	"partnerhub/internal/orderevent/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/httputil"
	"partnerhub/pkg/requestcontext"
)

type Emitter interface {
	Emit(ctx context.Context, order models.OrderSnapshot, opts ...emitter.EmitOption) (models.OrderEvent, error)
}

type Handler struct {
	emitter Emitter
	logger  *slog.Logger
}

func New(e Emitter, logger *slog.Logger) *Handler {
	return &Handler{emitter: e, logger: logger}
}

// RegisterInternal mounts the emit endpoint. The caller guards r.
func (h *Handler) RegisterInternal(r chi.Router) {
	r.Post("/orders/{orderID}/events", h.HandleEmit)
}

// HandleEmit handles POST /internal/orders/{orderID}/events. The event is
// accepted once it is built and handed to the publisher; delivery happens
// later.
func (h *Handler) HandleEmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[EmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	order := models.OrderSnapshot{
		OrderID:       orderID,
		Status:        req.Status,
		CustomerEmail: req.CustomerEmail,
		TotalMinor:    req.TotalMinor,
		Currency:      req.Currency,
	}
	if req.AffiliateID != "" {
		if order.AffiliateID, err = id.ParseSubjectID(req.AffiliateID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	opts := []emitter.EmitOption{emitter.WithTrigger(req.Trigger), emitter.WithMetadata(req.Metadata)}
	if req.EventID != "" {
		eventID, err := id.ParseEventID(req.EventID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		opts = append(opts, emitter.WithEventID(eventID))
	}

	event, err := h.emitter.Emit(ctx, order, opts...)
	if err != nil {
		h.logger.WarnContext(ctx, "order event rejected",
			"request_id", requestID,
			"order_id", orderID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, fromEvent(event))
}
