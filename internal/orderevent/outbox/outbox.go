// Package outbox persists order events in the caller's transaction and relays
// them to Kafka after commit.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"partnerhub/internal/orderevent/models"
)

// Entry is one stored event awaiting or past publication.
type Entry struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int
	LastError   string
}

// Store holds outbox entries. Append and the relay methods write through a
// transaction found in ctx.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	FetchPending(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, entryID uuid.UUID, reason string) error
}

// NewEntry serializes event for storage. The entry id is the event id, so a
// retried emission is stored once.
func NewEntry(event models.OrderEvent) (Entry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal order event: %w", err)
	}
	return Entry{
		ID:        uuid.UUID(event.ID()),
		OrderID:   uuid.UUID(event.OrderID()),
		EventType: event.Type(),
		Payload:   payload,
		CreatedAt: event.OccurredAt(),
	}, nil
}

// Publisher satisfies the emitter's Publisher by appending to the outbox.
// Called inside the order transition's transaction, the event commits or
// rolls back with it.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Publish(ctx context.Context, event models.OrderEvent) error {
	entry, err := NewEntry(event)
	if err != nil {
		return err
	}
	return p.store.Append(ctx, entry)
}
