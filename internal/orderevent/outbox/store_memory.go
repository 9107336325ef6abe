package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is the dev/test outbox. It has no transactions: appends are
// visible immediately.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return nil
	}
	stored := entry
	stored.Payload = append([]byte(nil), entry.Payload...)
	s.entries[entry.ID] = &stored
	return nil
}

func (s *InMemoryStore) FetchPending(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []Entry
	for _, e := range s.entries {
		if e.PublishedAt == nil {
			pending = append(pending, *e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID.String() < pending[j].ID.String()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entryID := range ids {
		if e, ok := s.entries[entryID]; ok {
			publishedAt := now
			e.PublishedAt = &publishedAt
			e.Attempts++
			e.LastError = ""
		}
	}
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, entryID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[entryID]; ok {
		e.Attempts++
		e.LastError = reason
	}
	return nil
}

// Get returns a copy of the entry, for tests.
func (s *InMemoryStore) Get(entryID uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
