package subject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/sentinel"
)

// InMemoryStore is the dev/test subject directory. Emails are expected to be
// normalized by the caller.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[id.SubjectID]*models.Subject
	byEmail map[string]id.SubjectID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.SubjectID]*models.Subject),
		byEmail: make(map[string]id.SubjectID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, email, displayName string, now time.Time) (*models.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, fmt.Errorf("subject email already registered: %w", sentinel.ErrConflict)
	}
	subject := &models.Subject{
		ID:          id.NewSubjectID(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
	}
	s.byID[subject.ID] = subject
	s.byEmail[email] = subject.ID
	return clone(subject), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.byID[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject not found: %w", sentinel.ErrNotFound)
	}
	return clone(subject), nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjectID, ok := s.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("subject not found: %w", sentinel.ErrNotFound)
	}
	return clone(s.byID[subjectID]), nil
}

// MarkVerified is idempotent: a verified subject keeps its first VerifiedAt.
func (s *InMemoryStore) MarkVerified(_ context.Context, subjectID id.SubjectID, now time.Time) (*models.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.byID[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject not found: %w", sentinel.ErrNotFound)
	}
	if !subject.Verified {
		verifiedAt := now
		subject.Verified = true
		subject.VerifiedAt = &verifiedAt
	}
	return clone(subject), nil
}

func clone(subject *models.Subject) *models.Subject {
	c := *subject
	if subject.VerifiedAt != nil {
		verifiedAt := *subject.VerifiedAt
		c.VerifiedAt = &verifiedAt
	}
	return &c
}
