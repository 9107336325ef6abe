package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"partnerhub/internal/platform/mail"
	"partnerhub/internal/verification/metrics"
	"partnerhub/internal/verification/models"
	"partnerhub/internal/verification/ratelimit"
	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/platform/audit"
	"partnerhub/pkg/requestcontext"
)

// invalidLinkMessage is shown for every user-facing redemption failure so the
// response never says which check failed.
const invalidLinkMessage = "this verification link is invalid or has expired; request a new one"

// SubjectDirectory owns affiliate accounts. Emails are passed normalized.
type SubjectDirectory interface {
	Create(ctx context.Context, email, displayName string, now time.Time) (*models.Subject, error)
	FindByID(ctx context.Context, subjectID id.SubjectID) (*models.Subject, error)
	FindByEmail(ctx context.Context, email string) (*models.Subject, error)
	MarkVerified(ctx context.Context, subjectID id.SubjectID, now time.Time) (*models.Subject, error)
}

// TokenIssuer issues and redeems verification tokens. Errors carry domain
// codes.
type TokenIssuer interface {
	Issue(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose) (*models.IssuedToken, error)
	Reissue(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose) (*models.IssuedToken, error)
	Redeem(ctx context.Context, value string) (id.SubjectID, error)
	Lookup(ctx context.Context, value string) (*models.Token, error)
	Active(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose) (*models.Token, error)
}

type ResendLimiter interface {
	Allow(ctx context.Context, key string) (*ratelimit.Result, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner runs fn in one transaction. Stores see the transaction through ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service drives signup, resend and redemption of verification links.
type Service struct {
	subjects SubjectDirectory
	tokens   TokenIssuer
	limiter  ResendLimiter
	mailer   mail.Sender
	linkBase string

	tx             TxRunner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service. linkBase is the absolute URL of the verify
// endpoint; token and email are appended as query parameters.
func New(subjects SubjectDirectory, tokens TokenIssuer, limiter ResendLimiter, mailer mail.Sender, linkBase string, opts ...Option) (*Service, error) {
	if subjects == nil || tokens == nil || limiter == nil || mailer == nil {
		return nil, errors.New("verification service: subjects, tokens, limiter and mailer are required")
	}
	if _, err := BuildVerifyURL(linkBase, "probe", "probe@example.com"); err != nil {
		return nil, err
	}
	s := &Service{
		subjects: subjects,
		tokens:   tokens,
		limiter:  limiter,
		mailer:   mailer,
		linkBase: linkBase,
		tx:       noTx{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("partnerhub/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sendVerification mails a fresh link. Failures are logged and reported as
// false; the token stays valid and resend recovers.
func (s *Service) sendVerification(ctx context.Context, subject *models.Subject, issued *models.IssuedToken) bool {
	link, err := BuildVerifyURL(s.linkBase, issued.Value, subject.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build verification link", "error", err, "request_id", requestcontext.RequestID(ctx))
		return false
	}
	err = s.mailer.Send(ctx, mail.Message{
		Template:  mail.TemplateVerifyEmail,
		Recipient: subject.Email,
		Variables: map[string]string{
			"display_name": subject.DisplayName,
			"verify_url":   link,
			"expires_at":   issued.Record.ExpiresAt.UTC().Format(time.RFC1123),
		},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "verification mail failed",
			"subject_id", subject.ID.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emitAudit(ctx, audit.Event{
			SubjectID: subject.ID,
			Action:    string(audit.EventVerificationMailFailed),
			Reason:    "mail_send_failed",
		})
		if s.metrics != nil {
			s.metrics.IncMailFailure()
		}
		return false
	}
	return true
}

// emitAudit fills request metadata and publishes. Audit failures never fail
// the workflow.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			"action", event.Action,
			"error", err,
			"request_id", event.RequestID,
		)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "verification."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start)
	}
}
