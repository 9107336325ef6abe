package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"partnerhub/internal/notification/metrics"
	"partnerhub/internal/orderevent/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/circuit"
)

const testSecret = "whsec-test"

type WebhookSuite struct {
	suite.Suite
	server  *httptest.Server
	status  atomic.Int32
	hits    atomic.Int32
	lastReq chan *http.Request
	body    chan []byte
	metrics *metrics.Metrics
	clock   time.Time
}

func TestWebhookSuite(t *testing.T) {
	suite.Run(t, new(WebhookSuite))
}

func (s *WebhookSuite) SetupTest() {
	s.status.Store(http.StatusNoContent)
	s.hits.Store(0)
	s.lastReq = make(chan *http.Request, 10)
	s.body = make(chan []byte, 10)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.clock = time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		b, _ := io.ReadAll(r.Body)
		s.lastReq <- r
		s.body <- b
		w.WriteHeader(int(s.status.Load()))
	}))
}

func (s *WebhookSuite) TearDownTest() {
	s.server.Close()
}

func (s *WebhookSuite) newChannel(breaker *circuit.Breaker) *Channel {
	ch, err := New(s.server.URL+"/hooks/orders", testSecret, s.server.Client(),
		WithBreaker(breaker),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.clock }),
	)
	s.Require().NoError(err)
	return ch
}

func (s *WebhookSuite) event() models.OrderEvent {
	event, err := models.NewOrderEvent(id.NewEventID(), models.OrderSnapshot{
		OrderID: id.NewOrderID(),
		Status:  models.StatusDelivered,
	}, "courier", models.Metadata{}, s.clock)
	s.Require().NoError(err)
	return event
}

func (s *WebhookSuite) TestPostsSignedPayload() {
	ch := s.newChannel(circuit.New("test"))
	event := s.event()

	s.Require().NoError(ch.Handle(context.Background(), event))

	req := <-s.lastReq
	body := <-s.body
	s.Equal(http.MethodPost, req.Method)
	s.Equal("/hooks/orders", req.URL.Path)
	s.Equal("application/json", req.Header.Get("Content-Type"))
	s.Equal("delivered", req.Header.Get(HeaderEvent))
	s.Equal(event.ID().String(), req.Header.Get(HeaderDelivery))
	s.Equal("1777712400", req.Header.Get(HeaderTimestamp))
	s.True(Verify([]byte(testSecret), req.Header.Get(HeaderTimestamp), body, req.Header.Get(HeaderSignature)))
	s.Contains(string(body), `"trigger":"courier"`)
}

func (s *WebhookSuite) TestClientErrorIsPermanent() {
	s.status.Store(http.StatusUnprocessableEntity)
	breaker := circuit.New("test", circuit.WithFailureThreshold(1))
	err := s.newChannel(breaker).Handle(context.Background(), s.event())

	var permanent *backoff.PermanentError
	s.Require().True(errors.As(err, &permanent))
	s.False(breaker.IsOpen(), "a reachable endpoint keeps the circuit closed")
}

func (s *WebhookSuite) TestServerErrorIsRetryable() {
	s.status.Store(http.StatusBadGateway)
	err := s.newChannel(circuit.New("test")).Handle(context.Background(), s.event())

	s.Require().Error(err)
	var permanent *backoff.PermanentError
	s.False(errors.As(err, &permanent))
}

func (s *WebhookSuite) TestBreakerOpensAndShortCircuits() {
	s.status.Store(http.StatusServiceUnavailable)
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	ch := s.newChannel(breaker)

	s.Error(ch.Handle(context.Background(), s.event()))
	s.Error(ch.Handle(context.Background(), s.event()))
	s.True(breaker.IsOpen())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.WebhookBreaker.WithLabelValues(ch.Name())))

	err := ch.Handle(context.Background(), s.event())
	s.ErrorIs(err, ErrCircuitOpen)
	s.Equal(int32(2), s.hits.Load())
}

func (s *WebhookSuite) TestBreakerClosesAfterProbe() {
	now := time.Now()
	breaker := circuit.New("test",
		circuit.WithFailureThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	ch := s.newChannel(breaker)

	s.status.Store(http.StatusInternalServerError)
	s.Error(ch.Handle(context.Background(), s.event()))
	s.True(breaker.IsOpen())

	now = now.Add(time.Minute)
	s.status.Store(http.StatusOK)
	s.NoError(ch.Handle(context.Background(), s.event()))
	s.False(breaker.IsOpen())
	s.Equal(0.0, promtest.ToFloat64(s.metrics.WebhookBreaker.WithLabelValues(ch.Name())))
}

func TestNewValidatesInput(t *testing.T) {
	client := http.DefaultClient
	_, err := New("ftp://example.com/hook", testSecret, client)
	assert.Error(t, err)
	_, err = New("https://example.com/hook", "", client)
	assert.Error(t, err)
	_, err = New("https://example.com/hook", testSecret, nil)
	assert.Error(t, err)

	ch, err := New("https://hooks.example.com/orders", testSecret, client)
	require.NoError(t, err)
	assert.Equal(t, "webhook:hooks.example.com", ch.Name())
}

func TestSafeClientRefusesLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewClient(time.Second, false).Get(server.URL)
	assert.Error(t, err)
}

func TestSignIsStable(t *testing.T) {
	sig := Sign([]byte("k"), "1", []byte("{}"))
	assert.True(t, Verify([]byte("k"), "1", []byte("{}"), sig))
	assert.False(t, Verify([]byte("other"), "1", []byte("{}"), sig))
	assert.False(t, Verify([]byte("k"), "2", []byte("{}"), sig))
}
