package models

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
)

// TriggerUnknown is recorded when the caller cannot attribute the transition.
const TriggerUnknown = "unknown"

// Order statuses the platform emits events for. Any non-empty status is
// accepted; these are the ones subscribers usually care about.
const (
	StatusPaid      = "paid"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

const maxLabelLength = 64

// OrderSnapshot is the order state at the moment of the transition. The
// order aggregate is owned elsewhere; the snapshot is a detached copy.
type OrderSnapshot struct {
	OrderID       id.OrderID
	Status        string
	AffiliateID   id.SubjectID
	CustomerEmail string
	TotalMinor    int64
	Currency      string
}

// Validate checks the fields every event needs.
//
// Errors: CodeValidation when the order id or status is missing or malformed.
func (o OrderSnapshot) Validate() error {
	if o.OrderID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "order id is required")
	}
	if err := validateLabel("order status", o.Status); err != nil {
		return err
	}
	if o.Currency != "" && len(o.Currency) != 3 {
		return dErrors.New(dErrors.CodeValidation, "currency must be an ISO 4217 code")
	}
	return nil
}

// OrderEvent is an immutable record of one order state transition. Getters
// return copies so subscribers cannot alter what other subscribers see.
type OrderEvent struct {
	id         id.EventID
	eventType  string
	trigger    string
	metadata   Metadata
	occurredAt time.Time
	order      OrderSnapshot
}

// NewOrderEvent builds an event whose type is the order's new status. An empty
// trigger becomes TriggerUnknown.
//
// Errors: CodeValidation for an invalid snapshot or trigger.
func NewOrderEvent(eventID id.EventID, order OrderSnapshot, trigger string, metadata Metadata, occurredAt time.Time) (OrderEvent, error) {
	if eventID.IsNil() {
		return OrderEvent{}, dErrors.New(dErrors.CodeValidation, "event id is required")
	}
	order.Status = strings.ToLower(strings.TrimSpace(order.Status))
	order.Currency = strings.ToUpper(strings.TrimSpace(order.Currency))
	if err := order.Validate(); err != nil {
		return OrderEvent{}, err
	}
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		trigger = TriggerUnknown
	}
	if err := validateLabel("trigger", trigger); err != nil {
		return OrderEvent{}, err
	}
	if occurredAt.IsZero() {
		return OrderEvent{}, dErrors.New(dErrors.CodeValidation, "occurred_at is required")
	}
	return OrderEvent{
		id:         eventID,
		eventType:  order.Status,
		trigger:    trigger,
		metadata:   metadata.Clone(),
		occurredAt: occurredAt.UTC(),
		order:      order,
	}, nil
}

func validateLabel(field, value string) error {
	if value == "" {
		return dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	if utf8.RuneCountInString(value) > maxLabelLength {
		return dErrors.New(dErrors.CodeValidation, field+" is too long")
	}
	// Labels become SSE event names and mail headers; line breaks would
	// split them into extra fields.
	if strings.IndexFunc(value, unprintable) >= 0 {
		return dErrors.New(dErrors.CodeValidation, field+" must be printable text")
	}
	return nil
}

// unprintable matches control characters and the replacement rune that
// invalid UTF-8 decodes to.
func unprintable(r rune) bool {
	return r == utf8.RuneError || unicode.IsControl(r)
}

func (e OrderEvent) ID() id.EventID        { return e.id }
func (e OrderEvent) OrderID() id.OrderID   { return e.order.OrderID }
func (e OrderEvent) Type() string          { return e.eventType }
func (e OrderEvent) Trigger() string       { return e.trigger }
func (e OrderEvent) Metadata() Metadata    { return e.metadata.Clone() }
func (e OrderEvent) OccurredAt() time.Time { return e.occurredAt }
func (e OrderEvent) Order() OrderSnapshot  { return e.order }
func (e OrderEvent) IsZero() bool          { return e.id.IsNil() }

type eventJSON struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Trigger    string    `json:"trigger"`
	Metadata   Metadata  `json:"metadata"`
	OccurredAt time.Time `json:"occurred_at"`
	Order      orderJSON `json:"order"`
}

type orderJSON struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AffiliateID   string `json:"affiliate_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	TotalMinor    int64  `json:"total_minor"`
	Currency      string `json:"currency,omitempty"`
}

// MarshalJSON produces the wire envelope used by the outbox and Kafka.
func (e OrderEvent) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:         e.id.String(),
		Type:       e.eventType,
		Trigger:    e.trigger,
		Metadata:   e.metadata,
		OccurredAt: e.occurredAt,
		Order: orderJSON{
			ID:            e.order.OrderID.String(),
			Status:        e.order.Status,
			CustomerEmail: e.order.CustomerEmail,
			TotalMinor:    e.order.TotalMinor,
			Currency:      e.order.Currency,
		},
	}
	if !e.order.AffiliateID.IsNil() {
		out.Order.AffiliateID = e.order.AffiliateID.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire envelope and re-runs construction checks.
func (e *OrderEvent) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed order event")
	}
	eventID, err := id.ParseEventID(in.ID)
	if err != nil {
		return err
	}
	orderID, err := id.ParseOrderID(in.Order.ID)
	if err != nil {
		return err
	}
	snapshot := OrderSnapshot{
		OrderID:       orderID,
		Status:        in.Order.Status,
		CustomerEmail: in.Order.CustomerEmail,
		TotalMinor:    in.Order.TotalMinor,
		Currency:      in.Order.Currency,
	}
	if in.Order.AffiliateID != "" {
		affiliateID, err := id.ParseSubjectID(in.Order.AffiliateID)
		if err != nil {
			return err
		}
		snapshot.AffiliateID = affiliateID
	}
	decoded, err := NewOrderEvent(eventID, snapshot, in.Trigger, in.Metadata, in.OccurredAt)
	if err != nil {
		return err
	}
	if in.Type != "" && in.Type != decoded.eventType {
		return dErrors.New(dErrors.CodeValidation, "event type does not match order status")
	}
	*e = decoded
	return nil
}
