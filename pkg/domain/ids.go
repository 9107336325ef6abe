package domain

import (
	"github.com/google/uuid"

	dErrors "partnerhub/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so an OrderID can never be passed where
// a SubjectID is expected.
//
// Usage: construct via the Parse* functions at trust boundaries (handlers,
// message consumers); use New* inside services.
type (
	SubjectID uuid.UUID
	OrderID   uuid.UUID
	EventID   uuid.UUID
)

func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }
func NewOrderID() OrderID     { return OrderID(uuid.New()) }
func NewEventID() EventID     { return EventID(uuid.New()) }

func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id OrderID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string   { return uuid.UUID(id).String() }

func (id SubjectID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrderID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// ParseSubjectID parses an affiliate account identifier.
//
// Errors: CodeInvalidInput for empty, malformed, or nil UUIDs.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject_id")
	return SubjectID(u), err
}

// ParseOrderID parses an order identifier.
func ParseOrderID(s string) (OrderID, error) {
	u, err := parseUUID(s, "order_id")
	return OrderID(u), err
}

// ParseEventID parses an order event identifier.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event_id")
	return EventID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}
