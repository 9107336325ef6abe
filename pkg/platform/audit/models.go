package audit

import (
	"context"
	"time"

	id "partnerhub/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so stores can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers account lifecycle facts: signup, verification.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers abuse signals: throttled resends, bad links.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity: token issuance, deliveries.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	SubjectID id.SubjectID
	// Subject is a free-form entity reference (order id, webhook url) for
	// events that have no affiliate subject.
	Subject   string
	Action    string
	Email     string
	Reason    string
	RequestID string
	ClientIP  string
}

type AuditEvent string

const (
	// Verification events
	EventAffiliateSignedUp      AuditEvent = "affiliate_signed_up"
	EventVerificationIssued     AuditEvent = "verification_token_issued"
	EventVerificationResent     AuditEvent = "verification_token_resent"
	EventResendSuppressed       AuditEvent = "verification_resend_suppressed"
	EventResendThrottled        AuditEvent = "verification_resend_throttled"
	EventAccountVerified        AuditEvent = "account_verified"
	EventVerificationRejected   AuditEvent = "verification_rejected"
	EventVerificationMailFailed AuditEvent = "verification_mail_failed"

	// Notification events
	EventNotificationDelivered AuditEvent = "notification_delivered"
	EventNotificationFailed    AuditEvent = "notification_failed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventAffiliateSignedUp: CategoryCompliance,
	EventAccountVerified:   CategoryCompliance,

	EventResendThrottled:      CategorySecurity,
	EventVerificationRejected: CategorySecurity,

	EventVerificationIssued:     CategoryOperations,
	EventVerificationResent:     CategoryOperations,
	EventResendSuppressed:       CategoryOperations,
	EventVerificationMailFailed: CategoryOperations,
	EventNotificationDelivered:  CategoryOperations,
	EventNotificationFailed:     CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]Event, error)
}
