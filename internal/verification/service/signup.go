package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"partnerhub/internal/verification/models"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/email"
	"partnerhub/pkg/platform/audit"
	"partnerhub/pkg/platform/sentinel"
	"partnerhub/pkg/requestcontext"
)

const maxDisplayNameLength = 100

// StartSignup registers an affiliate and mails the first verification link.
// Subject creation and token issuance commit together; mail goes out after
// commit and a failed send is reported through MailSent.
//
// Errors: CodeValidation for bad input, CodeConflict when the email is
// already registered, CodeUnavailable when storage fails.
func (s *Service) StartSignup(ctx context.Context, req models.SignupRequest) (result *models.IssueResult, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "start_signup")
	defer func() {
		endSpan(span, err)
		s.observe("signup", start)
	}()

	address, err := email.Parse(req.Email)
	if err != nil {
		return nil, err
	}
	displayName, err := normalizeDisplayName(req.DisplayName, address)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		subject *models.Subject
		issued  *models.IssuedToken
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		created, createErr := s.subjects.Create(txCtx, address, displayName, now)
		if createErr != nil {
			return translateSubjectError(createErr)
		}
		token, issueErr := s.tokens.Issue(txCtx, created.ID, models.PurposeEmailVerification)
		if issueErr != nil {
			return issueErr
		}
		subject, issued = created, token
		return nil
	})
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeConflict) {
			s.logger.ErrorContext(ctx, "signup failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("subject_id", subject.ID.String()))

	s.emitAudit(ctx, audit.Event{
		SubjectID: subject.ID,
		Action:    string(audit.EventAffiliateSignedUp),
		Email:     subject.Email,
	})
	s.emitAudit(ctx, audit.Event{
		SubjectID: subject.ID,
		Action:    string(audit.EventVerificationIssued),
		Reason:    "signup",
	})
	if s.metrics != nil {
		s.metrics.IncSignup()
		s.metrics.IncTokenIssued("signup")
	}

	sent := s.sendVerification(ctx, subject, issued)
	s.logger.InfoContext(ctx, "affiliate signed up",
		"subject_id", subject.ID.String(),
		"mail_sent", sent,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &models.IssueResult{
		SubjectID: subject.ID,
		Email:     subject.Email,
		ExpiresAt: issued.Record.ExpiresAt,
		MailSent:  sent,
	}, nil
}

func normalizeDisplayName(raw, address string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return email.DeriveDisplayName(address), nil
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", dErrors.New(dErrors.CodeValidation, "display name is too long")
	}
	return name, nil
}

func translateSubjectError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "email already registered")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "subject not found")
	default:
		if _, ok := dErrors.As(err); ok {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "subject directory unavailable")
	}
}
