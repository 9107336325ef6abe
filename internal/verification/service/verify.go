package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/email"
	"partnerhub/pkg/platform/audit"
	"partnerhub/pkg/requestcontext"
)

// Verify outcomes, used for metrics labels.
const (
	verifyOK       = "verified"
	verifyConsumed = "consumed"
	verifyExpired  = "expired"
	verifyNotFound = "not_found"
	verifyMismatch = "mismatch"
	verifyFailed   = "error"
)

// Verify redeems a verification link and marks the affiliate verified.
//
// The token is looked up first and its subject's email must match the email
// carried by the link. Redemption and the verified flag commit together.
// When the token was already consumed the error is returned together with a
// result whose AccountVerified reports the account's current state.
//
// Errors: CodeNotFound, CodeTokenExpired, CodeTokenConsumed and
// CodeSubjectMismatch carry one uniform message; CodeUnavailable when storage
// fails.
func (s *Service) Verify(ctx context.Context, value, rawEmail string) (result *models.VerifyResult, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "verify")
	defer func() {
		endSpan(span, err)
		s.observe("verify", start)
	}()

	record, err := s.tokens.Lookup(ctx, value)
	if err != nil {
		return nil, s.rejectVerify(ctx, id.SubjectID{}, err)
	}
	span.SetAttributes(attribute.String("subject_id", record.SubjectID.String()))

	subject, err := s.subjects.FindByID(ctx, record.SubjectID)
	if err != nil {
		return nil, s.rejectVerify(ctx, record.SubjectID, translateSubjectError(err))
	}
	if !email.Equal(subject.Email, rawEmail) {
		return nil, s.rejectVerify(ctx, subject.ID,
			dErrors.New(dErrors.CodeSubjectMismatch, "email does not match token subject"))
	}

	now := requestcontext.Now(ctx)
	var verified *models.Subject
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, redeemErr := s.tokens.Redeem(txCtx, value); redeemErr != nil {
			return redeemErr
		}
		marked, markErr := s.subjects.MarkVerified(txCtx, subject.ID, now)
		if markErr != nil {
			return translateSubjectError(markErr)
		}
		verified = marked
		return nil
	})
	if err != nil {
		rejected := s.rejectVerify(ctx, subject.ID, err)
		if dErrors.HasCode(err, dErrors.CodeTokenConsumed) {
			replay := &models.VerifyResult{SubjectID: subject.ID, AccountVerified: subject.Verified}
			if subject.VerifiedAt != nil {
				replay.VerifiedAt = *subject.VerifiedAt
			}
			return replay, rejected
		}
		return nil, rejected
	}

	result = &models.VerifyResult{SubjectID: verified.ID, AccountVerified: true, VerifiedAt: now}
	if verified.VerifiedAt != nil {
		result.VerifiedAt = *verified.VerifiedAt
	}
	s.emitAudit(ctx, audit.Event{
		SubjectID: verified.ID,
		Action:    string(audit.EventAccountVerified),
	})
	if s.metrics != nil {
		s.metrics.IncVerify(verifyOK)
	}
	s.logger.InfoContext(ctx, "affiliate verified",
		"subject_id", verified.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

// rejectVerify records a failed redemption. User-facing failures keep their
// code and get the uniform invalid-link message.
func (s *Service) rejectVerify(ctx context.Context, subjectID id.SubjectID, err error) error {
	outcome := verifyOutcome(err)
	if s.metrics != nil {
		s.metrics.IncVerify(outcome)
	}
	if outcome == verifyFailed {
		s.logger.ErrorContext(ctx, "verification failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return err
	}
	s.emitAudit(ctx, audit.Event{
		SubjectID: subjectID,
		Action:    string(audit.EventVerificationRejected),
		Reason:    outcome,
	})
	return dErrors.Wrap(err, dErrors.CodeOf(err), invalidLinkMessage)
}

func verifyOutcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeTokenConsumed:
		return verifyConsumed
	case dErrors.CodeTokenExpired:
		return verifyExpired
	case dErrors.CodeNotFound:
		return verifyNotFound
	case dErrors.CodeSubjectMismatch:
		return verifyMismatch
	default:
		return verifyFailed
	}
}

// Status derives the affiliate's verification state from the verified flag
// and the live token, if any.
//
// Errors: CodeNotFound for an unknown subject, CodeUnavailable when storage
// fails.
func (s *Service) Status(ctx context.Context, subjectID id.SubjectID) (*models.StatusResult, error) {
	subject, err := s.subjects.FindByID(ctx, subjectID)
	if err != nil {
		return nil, translateSubjectError(err)
	}
	result := &models.StatusResult{SubjectID: subject.ID}
	if subject.Verified {
		result.State = models.DeriveState(true, false)
		return result, nil
	}
	active, err := s.tokens.Active(ctx, subjectID, models.PurposeEmailVerification)
	switch {
	case err == nil:
		expiresAt := active.ExpiresAt
		result.TokenExpiresAt = &expiresAt
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return nil, err
	}
	result.State = models.DeriveState(false, active != nil)
	return result, nil
}
