package verificationtoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the token does not exist
// - Return ErrAlreadyUsed when a consumed token is redeemed again
// - Return ErrExpired when the token is past expiry or superseded
// - Return wrapped errors with context for infrastructure failures

type lineageKey struct {
	subjectID id.SubjectID
	purpose   models.Purpose
}

// InMemoryStore keeps verification tokens in memory for tests and dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	byHash   map[string]*models.Token
	lineages map[lineageKey][]string
}

// NewInMemory constructs an empty in-memory token store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byHash:   make(map[string]*models.Token),
		lineages: make(map[lineageKey][]string),
	}
}

// Replace supersedes every live token in the record's lineage and stores the
// record, all under one lock.
func (s *InMemoryStore) Replace(_ context.Context, record *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[record.Hash]; exists {
		return fmt.Errorf("token hash already stored: %w", sentinel.ErrConflict)
	}

	key := lineageKey{subjectID: record.SubjectID, purpose: record.Purpose}
	for _, hash := range s.lineages[key] {
		s.byHash[hash].Supersede(record.IssuedAt)
	}
	s.byHash[record.Hash] = record.Clone()
	s.lineages[key] = append(s.lineages[key], record.Hash)
	return nil
}

func (s *InMemoryStore) FindByHash(_ context.Context, hash string) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
	}
	return record.Clone(), nil
}

// Consume redeems a token if it is still live at now. The check and the write
// happen under the same lock, so of N concurrent calls exactly one succeeds.
func (s *InMemoryStore) Consume(_ context.Context, hash string, now time.Time) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
	}
	if err := record.ValidateForRedeem(now); err != nil {
		return record.Clone(), translateRedeemError(err)
	}
	record.MarkConsumed(now)
	return record.Clone(), nil
}

// FindActive returns the live token of a lineage at now.
func (s *InMemoryStore) FindActive(_ context.Context, subjectID id.SubjectID, purpose models.Purpose, now time.Time) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := s.lineages[lineageKey{subjectID: subjectID, purpose: purpose}]
	for i := len(hashes) - 1; i >= 0; i-- {
		if record := s.byHash[hashes[i]]; record.IsActive(now) {
			return record.Clone(), nil
		}
	}
	return nil, fmt.Errorf("no active verification token: %w", sentinel.ErrNotFound)
}

// translateRedeemError converts domain validation errors to store sentinels.
func translateRedeemError(err error) error {
	switch {
	case dErrors.HasCode(err, dErrors.CodeTokenConsumed):
		return fmt.Errorf("%s: %w", err.Error(), sentinel.ErrAlreadyUsed)
	case dErrors.HasCode(err, dErrors.CodeTokenExpired):
		return fmt.Errorf("%s: %w", err.Error(), sentinel.ErrExpired)
	default:
		return err
	}
}
