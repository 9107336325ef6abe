// Package dispatcher fans order events out to notification handlers. Each
// handler runs in its own goroutine with panic recovery and bounded retries,
// so one failing channel never blocks or fails another.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"partnerhub/internal/notification/metrics"
	"partnerhub/internal/orderevent/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/audit"
	"partnerhub/pkg/requestcontext"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("dispatcher closed")
)

const (
	defaultQueueSize      = 1024
	defaultWorkers        = 4
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultHandlerTimeout = 10 * time.Second
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type subscription struct {
	eventType string
	handler   Handler
}

type job struct {
	event     models.OrderEvent
	requestID string
}

// Result is the outcome of one handler for one event.
type Result struct {
	Handler  string
	Attempts int
	Duration time.Duration
	Err      error
}

// Report lists handler outcomes in registration order.
type Report struct {
	EventID   id.EventID
	EventType string
	Results   []Result
}

// Failed returns the results whose handler gave up.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

type Dispatcher struct {
	mu            sync.RWMutex
	subscriptions []subscription
	closed        bool

	queue          chan job
	workers        int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	handlerTimeout time.Duration

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer

	workerWG sync.WaitGroup
	done     chan struct{}
	runOnce  sync.Once
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetry sets the attempt budget per handler and the first backoff delay.
func WithRetry(maxAttempts int, initialBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if initialBackoff > 0 {
			d.initialBackoff = initialBackoff
			if d.maxBackoff < initialBackoff {
				d.maxBackoff = initialBackoff
			}
		}
	}
}

// WithHandlerTimeout bounds each handler attempt.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(d *Dispatcher) {
		d.auditPublisher = publisher
	}
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:          make(chan job, defaultQueueSize),
		workers:        defaultWorkers,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		handlerTimeout: defaultHandlerTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("partnerhub/notification"),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers h for eventType, or for every type with EventTypeAny.
func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscriptions = append(d.subscriptions, subscription{eventType: eventType, handler: h})
}

func (d *Dispatcher) handlersFor(eventType string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var matched []Handler
	for _, sub := range d.subscriptions {
		if sub.eventType == EventTypeAny || sub.eventType == eventType {
			matched = append(matched, sub.handler)
		}
	}
	return matched
}

// Publish enqueues event for the workers without blocking. It satisfies the
// emitter's Publisher.
func (d *Dispatcher) Publish(ctx context.Context, event models.OrderEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- job{event: event, requestID: requestcontext.RequestID(ctx)}:
		if d.metrics != nil {
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
		}
		return nil
	default:
		if d.metrics != nil {
			d.metrics.Dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Dispatch runs every matching handler for event and waits for all of them.
// Handlers start in registration order; they finish in any order.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.OrderEvent) Report {
	handlers := d.handlersFor(event.Type())
	report := Report{
		EventID:   event.ID(),
		EventType: event.Type(),
		Results:   make([]Result, len(handlers)),
	}

	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Results[i] = d.deliver(ctx, h, event)
		}()
	}
	wg.Wait()
	return report
}

// deliver retries one handler with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, h Handler, event models.OrderEvent) Result {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "notification.deliver", trace.WithAttributes(
		attribute.String("handler", h.Name()),
		attribute.String("event_id", event.ID().String()),
		attribute.String("event_type", event.Type()),
	))
	defer span.End()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialBackoff
	policy.MaxInterval = d.maxBackoff
	policy.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return d.invoke(ctx, h, event)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1)), ctx))

	result := Result{Handler: h.Name(), Attempts: attempts, Duration: time.Since(start), Err: err}
	d.record(ctx, event, result, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}
	return result
}

// invoke runs one attempt. A panic becomes a permanent failure.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, event models.OrderEvent) (err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "notification handler panicked",
				"handler", h.Name(),
				"event_id", event.ID().String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = backoff.Permanent(fmt.Errorf("handler %s panicked: %v", h.Name(), r))
		}
	}()
	return h.Handle(attemptCtx, event)
}

func (d *Dispatcher) record(ctx context.Context, event models.OrderEvent, result Result, start time.Time) {
	outcome := metrics.OutcomeDelivered
	action := audit.EventNotificationDelivered
	if result.Err != nil {
		outcome = metrics.OutcomeFailed
		action = audit.EventNotificationFailed
		d.logger.WarnContext(ctx, "notification delivery failed",
			"handler", result.Handler,
			"event_id", event.ID().String(),
			"order_id", event.OrderID().String(),
			"attempts", result.Attempts,
			"error", result.Err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if d.metrics != nil {
		d.metrics.ObserveDelivery(result.Handler, outcome, result.Attempts, start)
	}
	if d.auditPublisher == nil {
		return
	}
	entry := audit.Event{
		Action:    string(action),
		Subject:   event.OrderID().String(),
		Reason:    result.Handler,
		Timestamp: requestcontext.Now(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}
	if !event.Order().AffiliateID.IsNil() {
		entry.SubjectID = event.Order().AffiliateID
	}
	if err := d.auditPublisher.Emit(ctx, entry); err != nil {
		d.logger.WarnContext(ctx, "audit emit failed", "action", entry.Action, "error", err)
	}
}

// Run starts the queue workers and blocks until ctx is cancelled or Close is
// called. Queued events are drained before Run returns; handlers see a
// context that is not cancelled with ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	started := false
	d.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("dispatcher already running")
	}

	workerCtx := context.WithoutCancel(ctx)
	for range d.workers {
		d.workerWG.Add(1)
		go d.work(workerCtx)
	}

	select {
	case <-ctx.Done():
		d.Close()
	case <-d.done:
	}
	d.workerWG.Wait()
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.workerWG.Done()
	for j := range d.queue {
		if d.metrics != nil {
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
		}
		jobCtx := requestcontext.WithRequestID(ctx, j.requestID)
		d.Dispatch(jobCtx, j.event)
	}
}

// Close stops intake. Workers finish what is already queued. Safe to call
// more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
	close(d.done)
}
