// Package token issues and redeems single-use verification tokens.
//
// Raw token values are 256-bit random strings returned exactly once by Issue.
// Only their SHA-256 digest reaches the store.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"time"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/platform/sentinel"
	"partnerhub/pkg/requestcontext"
)

const (
	valueBytes   = 32
	issueRetries = 3
)

// Store persists token records keyed by hash.
type Store interface {
	// Replace supersedes live tokens of the record's lineage and stores the
	// record atomically.
	Replace(ctx context.Context, record *models.Token) error
	FindByHash(ctx context.Context, hash string) (*models.Token, error)
	// Consume redeems a live token at now; exactly one concurrent caller wins.
	Consume(ctx context.Context, hash string, now time.Time) (*models.Token, error)
	FindActive(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose, now time.Time) (*models.Token, error)
}

// Issuer creates and validates verification tokens.
type Issuer struct {
	store  Store
	ttl    time.Duration
	random io.Reader
	logger *slog.Logger
}

type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

// WithRandom replaces crypto/rand, for deterministic tests.
func WithRandom(r io.Reader) Option {
	return func(i *Issuer) {
		i.random = r
	}
}

func NewIssuer(store Store, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	i := &Issuer{
		store:  store,
		ttl:    ttl,
		random: rand.Reader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue creates a token for the lineage, superseding any live one.
//
// Errors: CodeUnavailable when the store rejects the write, CodeInternal when
// no randomness is available.
func (i *Issuer) Issue(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose) (*models.IssuedToken, error) {
	now := requestcontext.Now(ctx)

	var lastErr error
	for range issueRetries {
		value, err := i.newValue()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
		}
		record, err := models.NewToken(value, subjectID, purpose, now, i.ttl)
		if err != nil {
			return nil, err
		}

		err = i.store.Replace(ctx, record)
		if err == nil {
			return &models.IssuedToken{Value: value, Record: record}, nil
		}
		lastErr = err
		if !errors.Is(err, sentinel.ErrConflict) {
			break
		}
		i.logger.WarnContext(ctx, "token issuance conflicted, retrying",
			"subject_id", subjectID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeUnavailable, "token issuance failed")
}

// Reissue is Issue under another name for the resend path. Throttling is the
// caller's concern.
func (i *Issuer) Reissue(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose) (*models.IssuedToken, error) {
	return i.Issue(ctx, subjectID, purpose)
}

// Redeem consumes a token and returns its subject.
//
// Errors: CodeNotFound, CodeTokenConsumed, CodeTokenExpired (past expiry or
// superseded), CodeUnavailable for store failures.
func (i *Issuer) Redeem(ctx context.Context, value string) (id.SubjectID, error) {
	if value == "" {
		return id.SubjectID{}, dErrors.New(dErrors.CodeNotFound, "token not found")
	}
	record, err := i.store.Consume(ctx, models.HashValue(value), requestcontext.Now(ctx))
	if err != nil {
		return id.SubjectID{}, translate(err)
	}
	return record.SubjectID, nil
}

// Lookup reads a token without consuming it.
func (i *Issuer) Lookup(ctx context.Context, value string) (*models.Token, error) {
	if value == "" {
		return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
	}
	record, err := i.store.FindByHash(ctx, models.HashValue(value))
	if err != nil {
		return nil, translate(err)
	}
	return record, nil
}

// Active returns the live token for a lineage, or CodeNotFound.
func (i *Issuer) Active(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose) (*models.Token, error) {
	record, err := i.store.FindActive(ctx, subjectID, purpose, requestcontext.Now(ctx))
	if err != nil {
		return nil, translate(err)
	}
	return record, nil
}

// TTL reports the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) newValue() (string, error) {
	buf := make([]byte, valueBytes)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "token not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeTokenConsumed, "token already used")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.Wrap(err, dErrors.CodeTokenExpired, "token expired")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "token store unavailable")
	}
}
