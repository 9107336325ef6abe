// Package webhook posts signed order events to partner endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/doyensec/safeurl"

	"partnerhub/internal/notification/dispatcher"
	"partnerhub/internal/notification/metrics"
	"partnerhub/internal/orderevent/models"
	"partnerhub/pkg/platform/circuit"
)

// Request headers.
const (
	HeaderSignature = "X-Partnerhub-Signature"
	HeaderTimestamp = "X-Partnerhub-Timestamp"
	HeaderEvent     = "X-Partnerhub-Event"
	HeaderDelivery  = "X-Partnerhub-Delivery"
)

const maxDrainBytes = 4 << 10

// ErrCircuitOpen is returned without calling the endpoint while its breaker
// is open.
var ErrCircuitOpen = errors.New("webhook circuit open")

// NewClient returns an HTTP client that refuses private, loopback and
// link-local destinations after DNS resolution. allowPrivate disables the
// guard for local development.
func NewClient(timeout time.Duration, allowPrivate bool) *http.Client {
	if allowPrivate {
		return &http.Client{Timeout: timeout}
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// Channel delivers to one endpoint. Each endpoint is subscribed as its own
// handler so a slow partner never delays another.
type Channel struct {
	name     string
	endpoint string
	secret   []byte
	client   *http.Client
	breaker  *circuit.Breaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Channel)

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Channel) {
		c.breaker = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

func New(endpoint string, secret string, client *http.Client, opts ...Option) (*Channel, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid webhook endpoint %q", endpoint)
	}
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if client == nil {
		return nil, errors.New("webhook http client is required")
	}
	c := &Channel{
		name:     "webhook:" + u.Host,
		endpoint: endpoint,
		secret:   []byte(secret),
		client:   client,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuit.New(c.name)
	}
	return c, nil
}

func (c *Channel) Name() string { return c.name }

// Handle posts the event. 4xx answers other than 408 and 429 are permanent;
// transport errors and 5xx count against the endpoint's breaker.
func (c *Channel) Handle(ctx context.Context, event models.OrderEvent) error {
	if !c.breaker.Allow() {
		return dispatcher.Permanent(fmt.Errorf("%w: %s", ErrCircuitOpen, c.name))
	}

	body, err := json.Marshal(event)
	if err != nil {
		return dispatcher.Permanent(fmt.Errorf("encode webhook payload: %w", err))
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return dispatcher.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.Type())
	req.Header.Set(HeaderDelivery, event.ID().String())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(c.secret, timestamp, body))

	resp, err := c.client.Do(req)
	if err != nil {
		c.failure(ctx)
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.success(ctx)
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.failure(ctx)
		return fmt.Errorf("webhook %s answered %d", c.name, resp.StatusCode)
	default:
		// The endpoint is up but rejects the payload; retrying will not help.
		c.success(ctx)
		return dispatcher.Permanent(fmt.Errorf("webhook %s rejected event: %d", c.name, resp.StatusCode))
	}
}

func (c *Channel) success(ctx context.Context) {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "webhook circuit closed", "endpoint", c.name)
		c.setBreakerGauge(false)
	}
}

func (c *Channel) failure(ctx context.Context) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "webhook circuit opened", "endpoint", c.name)
		c.setBreakerGauge(true)
	}
}

func (c *Channel) setBreakerGauge(open bool) {
	if c.metrics != nil {
		c.metrics.SetBreakerOpen(c.name, open)
	}
}

// Sign returns the signature header value: hex HMAC-SHA256 over
// "<timestamp>.<body>" prefixed with "sha256=".
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
