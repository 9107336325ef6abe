package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"partnerhub/pkg/requestcontext"
)

// Header names set on every relayed record.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

const (
	defaultRelayInterval = 500 * time.Millisecond
	defaultRelayBatch    = 100
	maxErrorLength       = 512
)

// Producer writes one record to the broker. Keys are order ids so events of
// an order stay on one partition.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers map[string]string) error
}

// TxRunner scopes one relay batch. Postgres row locks taken by FetchPending
// last until the batch commits.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Relay polls the outbox and publishes pending entries. Failed entries stay
// pending and are retried on a later tick.
type Relay struct {
	store    Store
	producer Producer
	tx       TxRunner
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithTxRunner(tx TxRunner) RelayOption {
	return func(r *Relay) {
		r.tx = tx
	}
}

func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(store Store, producer Producer, opts ...RelayOption) (*Relay, error) {
	if store == nil || producer == nil {
		return nil, errors.New("outbox relay: store and producer are required")
	}
	r := &Relay{
		store:    store,
		producer: producer,
		tx:       noTx{},
		interval: defaultRelayInterval,
		batch:    defaultRelayBatch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run relays on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes up to one batch and returns how many entries were
// published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		entries, err := r.store.FetchPending(txCtx, r.batch)
		if err != nil {
			return err
		}
		done := make([]uuid.UUID, 0, len(entries))
		for _, entry := range entries {
			headers := map[string]string{
				HeaderEventType: entry.EventType,
				HeaderEventID:   entry.ID.String(),
			}
			if err := r.producer.Produce(txCtx, []byte(entry.OrderID.String()), entry.Payload, headers); err != nil {
				r.logger.WarnContext(txCtx, "outbox publish failed",
					"entry_id", entry.ID.String(),
					"attempts", entry.Attempts+1,
					"error", err,
				)
				if markErr := r.store.MarkFailed(txCtx, entry.ID, truncate(err.Error())); markErr != nil {
					return markErr
				}
				continue
			}
			done = append(done, entry.ID)
		}
		if err := r.store.MarkPublished(txCtx, done, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		published = len(done)
		return nil
	})
	return published, err
}

func truncate(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	return s[:maxErrorLength]
}
