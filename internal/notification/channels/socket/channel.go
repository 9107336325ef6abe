package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"partnerhub/internal/orderevent/models"
)

const Name = "socket"

// Payload is what stream clients receive. Customer contact details stay out
// of it.
type Payload struct {
	EventID     string          `json:"event_id"`
	OrderID     string          `json:"order_id"`
	AffiliateID string          `json:"affiliate_id,omitempty"`
	Type        string          `json:"type"`
	Trigger     string          `json:"trigger"`
	Metadata    models.Metadata `json:"metadata"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Broker carries frames to hubs. The local hub and the Redis bridge both
// implement it.
type Broker interface {
	Publish(ctx context.Context, f Frame) error
}

// Channel is the dispatcher handler for socket push.
type Channel struct {
	broker Broker
}

func NewChannel(broker Broker) *Channel {
	return &Channel{broker: broker}
}

func (c *Channel) Name() string { return Name }

func (c *Channel) Handle(ctx context.Context, event models.OrderEvent) error {
	frame, err := NewFrame(event)
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, frame)
}

// NewFrame encodes event as an unsequenced frame.
func NewFrame(event models.OrderEvent) (Frame, error) {
	order := event.Order()
	payload := Payload{
		EventID:    event.ID().String(),
		OrderID:    order.OrderID.String(),
		Type:       event.Type(),
		Trigger:    event.Trigger(),
		Metadata:   event.Metadata(),
		OccurredAt: event.OccurredAt(),
	}
	if !order.AffiliateID.IsNil() {
		payload.AffiliateID = order.AffiliateID.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode socket payload: %w", err)
	}
	return Frame{EventType: event.Type(), AffiliateID: payload.AffiliateID, Data: data}, nil
}

// LocalBroker broadcasts straight to an in-process hub.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, f Frame) error {
	b.hub.Broadcast(f)
	return nil
}
