package handler

import (
	"strings"
	"time"

	"partnerhub/internal/orderevent/models"
	dErrors "partnerhub/pkg/domain-errors"
)

// EmitRequest is the body of POST /internal/orders/{orderID}/events. The
// order service posts the order's state after a transition.
type EmitRequest struct {
	EventID       string          `json:"event_id,omitempty"`
	Status        string          `json:"status"`
	AffiliateID   string          `json:"affiliate_id,omitempty"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	TotalMinor    int64           `json:"total_minor"`
	Currency      string          `json:"currency,omitempty"`
	Trigger       string          `json:"trigger,omitempty"`
	Metadata      models.Metadata `json:"metadata"`
}

func (r *EmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Status = strings.TrimSpace(r.Status)
	if r.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	r.Trigger = strings.TrimSpace(r.Trigger)
	r.CustomerEmail = strings.TrimSpace(r.CustomerEmail)
	r.Currency = strings.TrimSpace(r.Currency)
	return nil
}

type EventResponse struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	Type       string    `json:"type"`
	Trigger    string    `json:"trigger"`
	OccurredAt time.Time `json:"occurred_at"`
}

func fromEvent(event models.OrderEvent) EventResponse {
	return EventResponse{
		EventID:    event.ID().String(),
		OrderID:    event.OrderID().String(),
		Type:       event.Type(),
		Trigger:    event.Trigger(),
		OccurredAt: event.OccurredAt(),
	}
}
