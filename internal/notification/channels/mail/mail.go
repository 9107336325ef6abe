// Package mail notifies the customer by mail when an order is delivered.
package mail

import (
	"context"
	"fmt"
	"time"

	"partnerhub/internal/notification/dispatcher"
	"partnerhub/internal/orderevent/models"
	platformmail "partnerhub/internal/platform/mail"
)

const Name = "mail"

// Channel sends the order_delivered template to the order's customer.
type Channel struct {
	sender platformmail.Sender
}

func New(sender platformmail.Sender) *Channel {
	return &Channel{sender: sender}
}

func (c *Channel) Name() string { return Name }

func (c *Channel) Handle(ctx context.Context, event models.OrderEvent) error {
	order := event.Order()
	if order.CustomerEmail == "" {
		return dispatcher.Permanent(fmt.Errorf("order %s has no customer email", order.OrderID))
	}
	msg := platformmail.Message{
		Template:  platformmail.TemplateOrderDelivered,
		Recipient: order.CustomerEmail,
		Variables: map[string]string{
			"order_id":    order.OrderID.String(),
			"occurred_at": event.OccurredAt().Format(time.RFC1123),
			"total":       FormatTotal(order.TotalMinor, order.Currency),
		},
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send order_delivered mail: %w", err)
	}
	return nil
}

// FormatTotal renders minor units with two decimals, e.g. "12.50 EUR".
func FormatTotal(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	out := fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency != "" {
		out += " " + currency
	}
	return out
}
