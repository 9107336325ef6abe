package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	Deliveries      *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
	Dropped         prometheus.Counter
	WebhookBreaker  *prometheus.GaugeVec
	SocketClients   prometheus.Gauge
}

// New registers the notification metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_notification_deliveries_total",
			Help: "Handler deliveries by handler and final outcome",
		}, []string{"handler", "outcome"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_notification_attempts_total",
			Help: "Handler invocations including retries",
		}, []string{"handler"}),
		DeliveryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerhub_notification_delivery_duration_seconds",
			Help:    "Time from first attempt to final outcome per handler",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "partnerhub_notification_queue_depth",
			Help: "Events waiting in the dispatcher queue",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "partnerhub_notification_events_dropped_total",
			Help: "Events rejected because the dispatcher queue was full",
		}),
		WebhookBreaker: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partnerhub_webhook_breaker_open",
			Help: "1 when the endpoint's circuit breaker is open",
		}, []string{"endpoint"}),
		SocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "partnerhub_socket_clients",
			Help: "Connected event stream clients",
		}),
	}
}

func (m *Metrics) ObserveDelivery(handler, outcome string, attempts int, start time.Time) {
	m.Deliveries.WithLabelValues(handler, outcome).Inc()
	m.Attempts.WithLabelValues(handler).Add(float64(attempts))
	m.DeliveryLatency.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetBreakerOpen(endpoint string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.WebhookBreaker.WithLabelValues(endpoint).Set(v)
}
