package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	txcontext "partnerhub/pkg/platform/tx"
)

// PostgresStore keeps entries in order_event_outbox.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) db(ctx context.Context) txcontext.DB {
	return txcontext.Or(ctx, s.pool)
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO order_event_outbox (id, order_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.OrderID, entry.EventType, entry.Payload, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchPending returns the oldest unpublished entries. Inside a transaction
// the rows stay locked until commit and concurrent relays skip them.
func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT id, order_id, event_type, payload, created_at, published_at, attempts, COALESCE(last_error, '')
		FROM order_event_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &e.Payload, &e.CreatedAt, &e.PublishedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]string, len(ids))
	for i, entryID := range ids {
		values[i] = entryID.String()
	}
	_, err := s.db(ctx).Exec(ctx, `
		UPDATE order_event_outbox
		SET published_at = $2, attempts = attempts + 1, last_error = NULL
		WHERE id = ANY($1::uuid[])`, values, now)
	if err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) error {
	_, err := s.db(ctx).Exec(ctx, `
		UPDATE order_event_outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1`, entryID, reason)
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	return nil
}
