// Package mail renders templated messages and hands them to a transport.
package mail

import (
	"context"
	"errors"
)

// Template names.
const (
	TemplateVerifyEmail    = "verify_email"
	TemplateOrderDelivered = "order_delivered"
)

// Message is the outbound mail contract: a named template, one recipient and
// the variables the template reads.
type Message struct {
	Template  string
	Recipient string
	Variables map[string]string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrUnknownTemplate = errors.New("unknown mail template")
