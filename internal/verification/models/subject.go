package models

import (
	"time"

	id "partnerhub/pkg/domain"
)

// Subject is the verification view of an affiliate account. The account itself
// is owned by the subject directory; this package only reads the fields it
// needs and flips the verified flag.
type Subject struct {
	ID          id.SubjectID
	Email       string
	DisplayName string
	Verified    bool
	VerifiedAt  *time.Time
	CreatedAt   time.Time
}

// State is the derived account verification state.
type State string

const (
	StateUnverified State = "unverified"
	StatePending    State = "pending_verification"
	StateVerified   State = "verified"
)

func (s State) String() string {
	return string(s)
}

// DeriveState computes the verification state. Verified wins; otherwise an
// active token means a link is outstanding.
func DeriveState(verified bool, hasActiveToken bool) State {
	switch {
	case verified:
		return StateVerified
	case hasActiveToken:
		return StatePending
	default:
		return StateUnverified
	}
}

// IssueResult is returned by signup and resend. MailSent is false when the
// outbound mail failed; the token is still valid and resend recovers.
type IssueResult struct {
	SubjectID id.SubjectID
	Email     string
	ExpiresAt time.Time
	MailSent  bool
}

// VerifyResult is returned by a redemption attempt. It is also returned next
// to a token-consumed error so callers can tell a replayed link on a verified
// account from a failure.
type VerifyResult struct {
	SubjectID       id.SubjectID
	AccountVerified bool
	VerifiedAt      time.Time
}

// StatusResult describes a subject's verification state.
type StatusResult struct {
	SubjectID      id.SubjectID
	State          State
	TokenExpiresAt *time.Time
}

// SignupRequest carries a new affiliate's details. DisplayName is optional.
type SignupRequest struct {
	Email       string
	DisplayName string
}
