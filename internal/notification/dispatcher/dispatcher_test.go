package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerhub/internal/notification/metrics"
	"partnerhub/internal/orderevent/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/audit"
	auditmemory "partnerhub/pkg/platform/audit/store/memory"
	"partnerhub/pkg/platform/audit/publisher"
)

func newEvent(t *testing.T, status string) models.OrderEvent {
	t.Helper()
	event, err := models.NewOrderEvent(id.NewEventID(), models.OrderSnapshot{
		OrderID: id.NewOrderID(),
		Status:  status,
	}, "", models.Metadata{}, time.Now())
	require.NoError(t, err)
	return event
}

func newTestDispatcher(opts ...Option) *Dispatcher {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetry(3, time.Millisecond),
		WithHandlerTimeout(time.Second),
	}
	return New(append(base, opts...)...)
}

type counter struct {
	name  string
	calls atomic.Int32
	fail  int32
	err   error
}

func (c *counter) Name() string { return c.name }

func (c *counter) Handle(context.Context, models.OrderEvent) error {
	n := c.calls.Add(1)
	if n <= c.fail {
		return c.err
	}
	return nil
}

func TestDispatchIsolation(t *testing.T) {
	d := newTestDispatcher()
	healthy := &counter{name: "mail"}
	broken := &counter{name: "webhook", fail: 100, err: errors.New("endpoint down")}
	panicking := HandlerFunc("socket", func(context.Context, models.OrderEvent) error {
		panic("boom")
	})
	d.Subscribe(models.StatusDelivered, healthy)
	d.Subscribe(models.StatusDelivered, broken)
	d.Subscribe(models.StatusDelivered, panicking)

	report := d.Dispatch(context.Background(), newEvent(t, models.StatusDelivered))

	require.Len(t, report.Results, 3)
	assert.Equal(t, "mail", report.Results[0].Handler)
	assert.Equal(t, "webhook", report.Results[1].Handler)
	assert.Equal(t, "socket", report.Results[2].Handler)

	assert.NoError(t, report.Results[0].Err)
	assert.Equal(t, int32(1), healthy.calls.Load())

	assert.Error(t, report.Results[1].Err)
	assert.Equal(t, 3, report.Results[1].Attempts)

	assert.ErrorContains(t, report.Results[2].Err, "panicked")
	assert.Equal(t, 1, report.Results[2].Attempts, "panics are not retried")
	assert.Len(t, report.Failed(), 2)
}

func TestDispatchRetries(t *testing.T) {
	t.Run("transient failures are retried until success", func(t *testing.T) {
		d := newTestDispatcher()
		flaky := &counter{name: "flaky", fail: 2, err: errors.New("timeout")}
		d.Subscribe(EventTypeAny, flaky)

		report := d.Dispatch(context.Background(), newEvent(t, models.StatusShipped))
		require.Len(t, report.Results, 1)
		assert.NoError(t, report.Results[0].Err)
		assert.Equal(t, 3, report.Results[0].Attempts)
	})

	t.Run("permanent failures stop immediately", func(t *testing.T) {
		d := newTestDispatcher()
		rejecting := &counter{name: "rejecting", fail: 100, err: Permanent(errors.New("400 bad request"))}
		d.Subscribe(EventTypeAny, rejecting)

		report := d.Dispatch(context.Background(), newEvent(t, models.StatusShipped))
		assert.Error(t, report.Results[0].Err)
		assert.Equal(t, 1, report.Results[0].Attempts)
	})
}

func TestSubscriptionMatching(t *testing.T) {
	d := newTestDispatcher()
	deliveredOnly := &counter{name: "delivered"}
	everything := &counter{name: "any"}
	d.Subscribe(models.StatusDelivered, deliveredOnly)
	d.Subscribe(EventTypeAny, everything)

	d.Dispatch(context.Background(), newEvent(t, models.StatusDelivered))
	d.Dispatch(context.Background(), newEvent(t, models.StatusCancelled))

	assert.Equal(t, int32(1), deliveredOnly.calls.Load())
	assert.Equal(t, int32(2), everything.calls.Load())
}

func TestPublish(t *testing.T) {
	t.Run("full queue is rejected and counted", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		d := newTestDispatcher(WithQueueSize(1), WithMetrics(m))

		require.NoError(t, d.Publish(context.Background(), newEvent(t, models.StatusDelivered)))
		err := d.Publish(context.Background(), newEvent(t, models.StatusDelivered))
		assert.ErrorIs(t, err, ErrQueueFull)
		assert.Equal(t, float64(1), promtest.ToFloat64(m.Dropped))
	})

	t.Run("closed dispatcher rejects events", func(t *testing.T) {
		d := newTestDispatcher()
		d.Close()
		d.Close()
		assert.ErrorIs(t, d.Publish(context.Background(), newEvent(t, models.StatusDelivered)), ErrClosed)
	})
}

func TestRunDrainsQueueOnShutdown(t *testing.T) {
	d := newTestDispatcher(WithWorkers(2), WithQueueSize(16))
	var (
		mu   sync.Mutex
		seen []id.EventID
	)
	d.Subscribe(EventTypeAny, HandlerFunc("collect", func(_ context.Context, e models.OrderEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.ID())
		return nil
	}))

	for range 10 {
		require.NoError(t, d.Publish(context.Background(), newEvent(t, models.StatusDelivered)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)
}

func TestRunProcessesUntilClosed(t *testing.T) {
	d := newTestDispatcher()
	delivered := make(chan models.OrderEvent, 1)
	d.Subscribe(models.StatusDelivered, HandlerFunc("probe", func(_ context.Context, e models.OrderEvent) error {
		delivered <- e
		return nil
	}))

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(context.Background()) }()

	event := newEvent(t, models.StatusDelivered)
	require.NoError(t, d.Publish(context.Background(), event))
	select {
	case got := <-delivered:
		assert.Equal(t, event.ID(), got.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	d.Close()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Error(t, d.Run(context.Background()), "Run is single use")
}

func TestDeliveryIsAudited(t *testing.T) {
	store := auditmemory.NewInMemoryStore()
	d := newTestDispatcher(WithAuditPublisher(publisher.NewPublisher(store)))
	d.Subscribe(EventTypeAny, &counter{name: "ok"})
	d.Subscribe(EventTypeAny, &counter{name: "bad", fail: 100, err: Permanent(errors.New("no"))})

	d.Dispatch(context.Background(), newEvent(t, models.StatusDelivered))

	ctx := context.Background()
	delivered := store.ListByAction(ctx, audit.EventNotificationDelivered)
	failed := store.ListByAction(ctx, audit.EventNotificationFailed)
	require.Len(t, delivered, 1)
	require.Len(t, failed, 1)
	assert.Equal(t, "ok", delivered[0].Reason)
	assert.Equal(t, "bad", failed[0].Reason)
}
