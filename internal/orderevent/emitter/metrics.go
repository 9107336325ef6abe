package emitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Emitted         *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_order_events_emitted_total",
			Help: "Order events handed to the publisher, by event type",
		}, []string{"event_type"}),
		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerhub_order_event_publish_failures_total",
			Help: "Order events the publisher rejected, by event type",
		}, []string{"event_type"}),
	}
}

func (m *Metrics) IncEmitted(eventType string) {
	m.Emitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncPublishFailure(eventType string) {
	m.PublishFailures.WithLabelValues(eventType).Inc()
}
