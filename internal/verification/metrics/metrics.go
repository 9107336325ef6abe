package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification workflow.
type Metrics struct {
	SignupsTotal      prometheus.Counter
	TokensIssued      *prometheus.CounterVec
	ResendOutcomes    *prometheus.CounterVec
	VerifyOutcomes    *prometheus.CounterVec
	MailFailures      prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// New registers the verification metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SignupsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_affiliate_signups_total",
			Help: "Total number of affiliate signups",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_verification_tokens_issued_total",
			Help: "Verification tokens issued, by reason (signup, resend)",
		}, []string{"reason"}),
		ResendOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_verification_resend_total",
			Help: "Resend requests, by outcome (sent, suppressed, throttled)",
		}, []string{"outcome"}),
		VerifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_verification_attempts_total",
			Help: "Verification link redemptions, by outcome",
		}, []string{"outcome"}),
		MailFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_verification_mail_failures_total",
			Help: "Verification mails that failed to send",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerhub_verification_operation_duration_seconds",
			Help:    "Duration of verification workflow operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncSignup() {
	m.SignupsTotal.Inc()
}

func (m *Metrics) IncTokenIssued(reason string) {
	m.TokensIssued.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncResend(outcome string) {
	m.ResendOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncVerify(outcome string) {
	m.VerifyOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncMailFailure() {
	m.MailFailures.Inc()
}

// ObserveOperation records an operation's duration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
