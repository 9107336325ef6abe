package service

import (
	"context"
	"time"

	"partnerhub/internal/verification/models"
	"partnerhub/internal/verification/ratelimit"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/email"
	"partnerhub/pkg/platform/audit"
	"partnerhub/pkg/requestcontext"
)

// Resend outcomes, used for metrics labels.
const (
	resendIssued     = "issued"
	resendSuppressed = "suppressed"
	resendThrottled  = "throttled"
)

// Resend reissues a verification link for a pending affiliate. The limiter is
// consulted before any lookup. Unknown and already-verified addresses get the
// same result shape as a real resend, with a zero SubjectID, and leave the
// token store untouched.
//
// Errors: CodeValidation for a malformed address, CodeRateLimited when the
// address is over its resend budget, CodeUnavailable when storage fails.
func (s *Service) Resend(ctx context.Context, rawEmail string) (result *models.IssueResult, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "resend")
	defer func() {
		endSpan(span, err)
		s.observe("resend", start)
	}()

	address, err := email.Parse(rawEmail)
	if err != nil {
		return nil, err
	}

	if err := s.checkResendBudget(ctx, address); err != nil {
		return nil, err
	}

	suppressed := &models.IssueResult{Email: address}
	subject, err := s.subjects.FindByEmail(ctx, address)
	if err != nil {
		translated := translateSubjectError(err)
		if dErrors.HasCode(translated, dErrors.CodeNotFound) {
			s.recordSuppressed(ctx, address, "unknown_email")
			return suppressed, nil
		}
		s.logger.ErrorContext(ctx, "resend lookup failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, translated
	}
	if subject.Verified {
		s.recordSuppressed(ctx, address, "already_verified")
		return suppressed, nil
	}

	issued, err := s.tokens.Reissue(ctx, subject.ID, models.PurposeEmailVerification)
	if err != nil {
		s.logger.ErrorContext(ctx, "resend reissue failed",
			"subject_id", subject.ID.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, err
	}
	s.emitAudit(ctx, audit.Event{
		SubjectID: subject.ID,
		Action:    string(audit.EventVerificationResent),
		Reason:    "resend",
	})
	if s.metrics != nil {
		s.metrics.IncResend(resendIssued)
		s.metrics.IncTokenIssued("resend")
	}

	sent := s.sendVerification(ctx, subject, issued)
	return &models.IssueResult{
		SubjectID: subject.ID,
		Email:     subject.Email,
		ExpiresAt: issued.Record.ExpiresAt,
		MailSent:  sent,
	}, nil
}

// checkResendBudget fails open when the limiter backend errors so an outage
// there does not lock affiliates out of recovery.
func (s *Service) checkResendBudget(ctx context.Context, address string) error {
	decision, err := s.limiter.Allow(ctx, ratelimit.Key(address))
	if err != nil {
		s.logger.WarnContext(ctx, "resend limiter unavailable, allowing request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil
	}
	if decision.Allowed {
		return nil
	}
	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventResendThrottled),
		Email:  address,
		Reason: "rate_limited",
	})
	if s.metrics != nil {
		s.metrics.IncResend(resendThrottled)
	}
	s.logger.InfoContext(ctx, "resend throttled",
		"retry_after", decision.RetryAfter.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.New(dErrors.CodeRateLimited, "too many resend requests; try again later")
}

func (s *Service) recordSuppressed(ctx context.Context, address, reason string) {
	s.emitAudit(ctx, audit.Event{
		Action: string(audit.EventResendSuppressed),
		Email:  address,
		Reason: reason,
	})
	if s.metrics != nil {
		s.metrics.IncResend(resendSuppressed)
	}
}
