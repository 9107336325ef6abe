package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"partnerhub/internal/platform/mail"
	"partnerhub/internal/verification/metrics"
	"partnerhub/internal/verification/models"
	"partnerhub/internal/verification/ratelimit"
	subjectstore "partnerhub/internal/verification/store/subject"
	"partnerhub/internal/verification/store/verificationtoken"
	"partnerhub/internal/verification/token"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/platform/audit"
	auditmemory "partnerhub/pkg/platform/audit/store/memory"
	"partnerhub/pkg/platform/audit/publisher"
	ctxutil "partnerhub/pkg/testutil"
)

// =============================================================================
// Workflow Suite
// =============================================================================
// Runs the workflow against the in-memory stores so signup, resend and
// redemption exercise real token lineage and subject state.

type WorkflowSuite struct {
	suite.Suite
	now      time.Time
	subjects *subjectstore.InMemoryStore
	tokens   *verificationtoken.InMemoryStore
	mailer   *mail.Recorder
	audits   *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	service  *Service
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.subjects = subjectstore.NewInMemory()
	s.tokens = verificationtoken.NewInMemory()
	s.mailer = mail.NewRecorder()
	s.audits = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	issuer, err := token.NewIssuer(s.tokens, 24*time.Hour)
	s.Require().NoError(err)
	s.service, err = New(
		s.subjects,
		issuer,
		ratelimit.NewInMemory(3, 15*time.Minute),
		s.mailer,
		"https://partners.example.com/affiliates/verify",
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func (s *WorkflowSuite) ctx() context.Context {
	return ctxutil.FixedContext(s.now)
}

func (s *WorkflowSuite) ctxAt(t time.Time) context.Context {
	return ctxutil.FixedContext(t)
}

// lastLink returns the token and email carried by the most recent mail.
func (s *WorkflowSuite) lastLink() (string, string) {
	msg, ok := s.mailer.Last()
	s.Require().True(ok, "expected a mail")
	s.Equal(mail.TemplateVerifyEmail, msg.Template)
	u, err := url.Parse(msg.Variables["verify_url"])
	s.Require().NoError(err)
	return u.Query().Get("token"), u.Query().Get("email")
}

func (s *WorkflowSuite) signup(address string) *models.IssueResult {
	result, err := s.service.StartSignup(s.ctx(), models.SignupRequest{Email: address})
	s.Require().NoError(err)
	return result
}

func (s *WorkflowSuite) TestStartSignup() {
	s.Run("creates subject, issues token and mails link", func() {
		result := s.signup("Ada.Lovelace@Example.com")

		s.Equal("ada.lovelace@example.com", result.Email)
		s.True(result.MailSent)
		s.Equal(s.now.Add(24*time.Hour), result.ExpiresAt)

		subject, err := s.subjects.FindByID(s.ctx(), result.SubjectID)
		s.Require().NoError(err)
		s.Equal("Ada", subject.DisplayName)
		s.False(subject.Verified)

		value, address := s.lastLink()
		s.NotEmpty(value)
		s.Equal("ada.lovelace@example.com", address)
		s.Len(s.audits.ListByAction(s.ctx(), audit.EventAffiliateSignedUp), 1)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.SignupsTotal))
	})

	s.Run("duplicate email is a conflict", func() {
		_, err := s.service.StartSignup(s.ctx(), models.SignupRequest{Email: "ada.lovelace@example.com"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("malformed email is rejected before any write", func() {
		_, err := s.service.StartSignup(s.ctx(), models.SignupRequest{Email: "not-an-email"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("overlong display name is rejected", func() {
		long := make([]rune, maxDisplayNameLength+1)
		for i := range long {
			long[i] = 'a'
		}
		_, err := s.service.StartSignup(s.ctx(), models.SignupRequest{Email: "long@example.com", DisplayName: string(long)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("mail failure still succeeds with MailSent false", func() {
		s.mailer.SetErr(errors.New("smtp down"))
		defer s.mailer.SetErr(nil)

		result, err := s.service.StartSignup(s.ctx(), models.SignupRequest{Email: "grace@example.com"})
		s.Require().NoError(err)
		s.False(result.MailSent)

		active, err := s.tokens.FindActive(s.ctx(), result.SubjectID, models.PurposeEmailVerification, s.now)
		s.Require().NoError(err)
		s.NotNil(active)
		s.Len(s.audits.ListByAction(s.ctx(), audit.EventVerificationMailFailed), 1)
	})
}

func (s *WorkflowSuite) TestVerify() {
	s.Run("valid link verifies the account", func() {
		result := s.signup("linus@example.com")
		value, address := s.lastLink()

		verified, err := s.service.Verify(s.ctx(), value, address)
		s.Require().NoError(err)
		s.True(verified.AccountVerified)
		s.Equal(result.SubjectID, verified.SubjectID)
		s.Equal(s.now, verified.VerifiedAt)

		status, err := s.service.Status(s.ctx(), result.SubjectID)
		s.Require().NoError(err)
		s.Equal(models.StateVerified, status.State)
	})

	s.Run("replayed link reports consumed with verified account", func() {
		s.signup("ken@example.com")
		value, address := s.lastLink()
		_, err := s.service.Verify(s.ctx(), value, address)
		s.Require().NoError(err)

		replay, err := s.service.Verify(s.ctx(), value, address)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenConsumed))
		s.Require().NotNil(replay)
		s.True(replay.AccountVerified)
		de, ok := dErrors.As(err)
		s.Require().True(ok)
		s.Equal(invalidLinkMessage, de.Message)
	})

	s.Run("email cross-check compares normalized addresses", func() {
		s.signup("barbara@example.com")
		value, _ := s.lastLink()
		_, err := s.service.Verify(s.ctx(), value, "  BARBARA@example.com ")
		s.NoError(err)
	})

	s.Run("mismatched email is rejected and token stays live", func() {
		result := s.signup("dennis@example.com")
		value, _ := s.lastLink()

		_, err := s.service.Verify(s.ctx(), value, "someone.else@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeSubjectMismatch))

		active, err := s.tokens.FindActive(s.ctx(), result.SubjectID, models.PurposeEmailVerification, s.now)
		s.Require().NoError(err)
		s.Nil(active.ConsumedAt)
	})

	s.Run("expired link is rejected", func() {
		s.signup("margaret@example.com")
		value, address := s.lastLink()

		_, err := s.service.Verify(s.ctxAt(s.now.Add(24*time.Hour+time.Second)), value, address)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	s.Run("link is still valid at its exact expiry", func() {
		s.signup("edsger@example.com")
		value, address := s.lastLink()

		_, err := s.service.Verify(s.ctxAt(s.now.Add(24*time.Hour)), value, address)
		s.NoError(err)
	})

	s.Run("unknown token is not found", func() {
		_, err := s.service.Verify(s.ctx(), "no-such-token", "x@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		de, _ := dErrors.As(err)
		s.Equal(invalidLinkMessage, de.Message)
	})

	s.Run("superseded link is rejected as expired", func() {
		s.signup("frances@example.com")
		oldValue, address := s.lastLink()
		_, err := s.service.Resend(s.ctx(), address)
		s.Require().NoError(err)
		newValue, _ := s.lastLink()
		s.NotEqual(oldValue, newValue)

		_, err = s.service.Verify(s.ctx(), oldValue, address)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
		_, err = s.service.Verify(s.ctx(), newValue, address)
		s.NoError(err)
	})
}

func (s *WorkflowSuite) TestVerifyConcurrentRedeem() {
	s.signup("race@example.com")
	value, address := s.lastLink()

	const attempts = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		consumed  atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Verify(s.ctx(), value, address)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeTokenConsumed):
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(attempts-1), consumed.Load())
}

func (s *WorkflowSuite) TestResend() {
	s.Run("pending subject gets a new link", func() {
		result := s.signup("alan@example.com")
		before := len(s.mailer.Messages())

		resent, err := s.service.Resend(s.ctx(), "ALAN@example.com")
		s.Require().NoError(err)
		s.Equal(result.SubjectID, resent.SubjectID)
		s.True(resent.MailSent)
		s.Len(s.mailer.Messages(), before+1)
	})

	s.Run("unknown email looks like success and sends nothing", func() {
		before := len(s.mailer.Messages())
		resent, err := s.service.Resend(s.ctx(), "nobody@example.com")
		s.Require().NoError(err)
		s.True(resent.SubjectID.IsNil())
		s.Len(s.mailer.Messages(), before)
	})

	s.Run("verified subject looks like success and keeps token store untouched", func() {
		result := s.signup("donald@example.com")
		value, address := s.lastLink()
		_, err := s.service.Verify(s.ctx(), value, address)
		s.Require().NoError(err)
		before := len(s.mailer.Messages())

		resent, err := s.service.Resend(s.ctx(), address)
		s.Require().NoError(err)
		s.True(resent.SubjectID.IsNil())
		s.Len(s.mailer.Messages(), before)

		_, err = s.tokens.FindActive(s.ctx(), result.SubjectID, models.PurposeEmailVerification, s.now)
		s.Error(err)
	})

	s.Run("throttled after the resend budget is spent", func() {
		s.signup("john@example.com")
		for range 3 {
			_, err := s.service.Resend(s.ctx(), "john@example.com")
			s.Require().NoError(err)
		}
		_, err := s.service.Resend(s.ctx(), "john@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
		s.NotEmpty(s.audits.ListByAction(s.ctx(), audit.EventResendThrottled))
	})

	s.Run("unknown emails are throttled the same way", func() {
		for range 3 {
			_, err := s.service.Resend(s.ctx(), "ghost@example.com")
			s.Require().NoError(err)
		}
		_, err := s.service.Resend(s.ctx(), "ghost@example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	})
}

func (s *WorkflowSuite) TestStatus() {
	result := s.signup("status@example.com")

	status, err := s.service.Status(s.ctx(), result.SubjectID)
	s.Require().NoError(err)
	s.Equal(models.StatePending, status.State)
	s.Require().NotNil(status.TokenExpiresAt)
	s.Equal(result.ExpiresAt, *status.TokenExpiresAt)

	later, err := s.service.Status(s.ctxAt(s.now.Add(48*time.Hour)), result.SubjectID)
	s.Require().NoError(err)
	s.Equal(models.StateUnverified, later.State)
	s.Nil(later.TokenExpiresAt)
}

func TestBuildVerifyURL(t *testing.T) {
	t.Run("appends escaped query parameters", func(t *testing.T) {
		link, err := BuildVerifyURL("https://partners.example.com/affiliates/verify", "abc_-123", "a+b@example.com")
		if err != nil {
			t.Fatal(err)
		}
		u, _ := url.Parse(link)
		if got := u.Query().Get("email"); got != "a+b@example.com" {
			t.Fatalf("email = %q", got)
		}
		if got := u.Query().Get("token"); got != "abc_-123" {
			t.Fatalf("token = %q", got)
		}
	})

	t.Run("relative base is rejected", func(t *testing.T) {
		if _, err := BuildVerifyURL("/affiliates/verify", "t", "e@example.com"); err == nil {
			t.Fatal("expected error")
		}
	})
}
