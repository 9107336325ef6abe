package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
)

// Purpose scopes a token lineage. Only email verification exists today; the
// field is persisted so new purposes do not need a schema change.
type Purpose string

const PurposeEmailVerification Purpose = "email_verification"

func (p Purpose) IsValid() bool {
	return p == PurposeEmailVerification
}

func (p Purpose) String() string {
	return string(p)
}

// Token is a single-use verification token record.
//
// Invariants:
//   - Hash is the SHA-256 digest of the raw value; the raw value is never stored
//   - ConsumedAt is set at most once
//   - at most one token per (SubjectID, Purpose) is active (unconsumed,
//     unsuperseded, unexpired)
//   - records are never deleted by the workflow; retention is external
type Token struct {
	Hash         string
	SubjectID    id.SubjectID
	Purpose      Purpose
	IssuedAt     time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	SupersededAt *time.Time
}

// IssuedToken pairs a freshly persisted record with its raw value. The raw
// value only exists here, between issuance and the outbound mail.
type IssuedToken struct {
	Value  string
	Record *Token
}

// NewToken builds a token record for a raw value.
func NewToken(value string, subjectID id.SubjectID, purpose Purpose, now time.Time, ttl time.Duration) (*Token, error) {
	if value == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token value cannot be empty")
	}
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	if !purpose.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unsupported token purpose")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token ttl must be positive")
	}
	return &Token{
		Hash:      HashValue(value),
		SubjectID: subjectID,
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// HashValue returns the storage key for a raw token value.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (t *Token) IsConsumed() bool {
	return t.ConsumedAt != nil
}

func (t *Token) IsSuperseded() bool {
	return t.SupersededAt != nil
}

// IsExpired reports whether now is past ExpiresAt. A token is still valid at
// exactly ExpiresAt.
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsActive reports whether the token could still be redeemed at now.
func (t *Token) IsActive(now time.Time) bool {
	return !t.IsConsumed() && !t.IsSuperseded() && !t.IsExpired(now)
}

// ValidateForRedeem checks redeemability. Consumption is checked first so a
// replayed link keeps reporting "already used" after it also expires.
func (t *Token) ValidateForRedeem(now time.Time) error {
	if t.IsConsumed() {
		return dErrors.New(dErrors.CodeTokenConsumed, "token already used")
	}
	if t.IsSuperseded() {
		return dErrors.New(dErrors.CodeTokenExpired, "token superseded")
	}
	if t.IsExpired(now) {
		return dErrors.New(dErrors.CodeTokenExpired, "token expired")
	}
	return nil
}

// MarkConsumed records redemption. Call ValidateForRedeem first.
func (t *Token) MarkConsumed(now time.Time) {
	consumedAt := now
	t.ConsumedAt = &consumedAt
}

// Supersede retires an unconsumed token when a newer one is issued for the
// same lineage. Consumed tokens are left untouched.
func (t *Token) Supersede(now time.Time) {
	if t.IsConsumed() || t.IsSuperseded() {
		return
	}
	supersededAt := now
	t.SupersededAt = &supersededAt
}

// Clone returns a deep copy so stores never hand out their internal records.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.ConsumedAt != nil {
		consumedAt := *t.ConsumedAt
		c.ConsumedAt = &consumedAt
	}
	if t.SupersededAt != nil {
		supersededAt := *t.SupersededAt
		c.SupersededAt = &supersededAt
	}
	return &c
}
