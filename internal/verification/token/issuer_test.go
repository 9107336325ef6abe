package token

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerhub/internal/verification/models"
	"partnerhub/internal/verification/store/verificationtoken"
	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
	"partnerhub/pkg/platform/sentinel"
	"partnerhub/pkg/requestcontext"
)

var baseTime = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func newIssuer(t *testing.T, opts ...Option) (*Issuer, *verificationtoken.InMemoryStore) {
	t.Helper()
	store := verificationtoken.NewInMemory()
	issuer, err := NewIssuer(store, 24*time.Hour, opts...)
	require.NoError(t, err)
	return issuer, store
}

func TestIssue(t *testing.T) {
	t.Run("value carries 256 bits and is never stored raw", func(t *testing.T) {
		issuer, store := newIssuer(t)
		issued, err := issuer.Issue(at(baseTime), id.NewSubjectID(), models.PurposeEmailVerification)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(issued.Value)
		require.NoError(t, err)
		assert.Len(t, raw, 32)

		_, err = store.FindByHash(context.Background(), issued.Value)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = store.FindByHash(context.Background(), models.HashValue(issued.Value))
		assert.NoError(t, err)
	})

	t.Run("expiry is issuance plus ttl", func(t *testing.T) {
		issuer, _ := newIssuer(t)
		issued, err := issuer.Issue(at(baseTime), id.NewSubjectID(), models.PurposeEmailVerification)
		require.NoError(t, err)
		assert.Equal(t, baseTime, issued.Record.IssuedAt)
		assert.Equal(t, baseTime.Add(24*time.Hour), issued.Record.ExpiresAt)
	})

	t.Run("reissue invalidates the previous token", func(t *testing.T) {
		issuer, _ := newIssuer(t)
		subjectID := id.NewSubjectID()
		first, err := issuer.Issue(at(baseTime), subjectID, models.PurposeEmailVerification)
		require.NoError(t, err)
		second, err := issuer.Reissue(at(baseTime.Add(time.Minute)), subjectID, models.PurposeEmailVerification)
		require.NoError(t, err)

		_, err = issuer.Redeem(at(baseTime.Add(2*time.Minute)), first.Value)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired))

		got, err := issuer.Redeem(at(baseTime.Add(2*time.Minute)), second.Value)
		require.NoError(t, err)
		assert.Equal(t, subjectID, got)
	})

	t.Run("retries on hash collision", func(t *testing.T) {
		// Same 32 bytes twice, then fresh bytes.
		seed := bytes.Repeat([]byte{7}, 32)
		fresh := bytes.Repeat([]byte{9}, 32)
		random := bytes.NewReader(append(append(append([]byte{}, seed...), seed...), fresh...))
		issuer, _ := newIssuer(t, WithRandom(random))

		_, err := issuer.Issue(at(baseTime), id.NewSubjectID(), models.PurposeEmailVerification)
		require.NoError(t, err)
		issued, err := issuer.Issue(at(baseTime), id.NewSubjectID(), models.PurposeEmailVerification)
		require.NoError(t, err)
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(fresh), issued.Value)
	})

	t.Run("store failure is unavailable", func(t *testing.T) {
		issuer, err := NewIssuer(failingStore{err: errors.New("connection refused")}, time.Hour)
		require.NoError(t, err)
		_, err = issuer.Issue(at(baseTime), id.NewSubjectID(), models.PurposeEmailVerification)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("exhausted randomness is internal", func(t *testing.T) {
		issuer, _ := newIssuer(t, WithRandom(bytes.NewReader(nil)))
		_, err := issuer.Issue(at(baseTime), id.NewSubjectID(), models.PurposeEmailVerification)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestRedeem(t *testing.T) {
	issuer, _ := newIssuer(t)
	subjectID := id.NewSubjectID()
	issued, err := issuer.Issue(at(baseTime), subjectID, models.PurposeEmailVerification)
	require.NoError(t, err)

	t.Run("unknown value", func(t *testing.T) {
		_, err := issuer.Redeem(at(baseTime), "not-a-token")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = issuer.Redeem(at(baseTime), "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("expired after ttl", func(t *testing.T) {
		_, err := issuer.Redeem(at(issued.Record.ExpiresAt.Add(time.Second)), issued.Value)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	t.Run("succeeds at the expiry instant then only once", func(t *testing.T) {
		got, err := issuer.Redeem(at(issued.Record.ExpiresAt), issued.Value)
		require.NoError(t, err)
		assert.Equal(t, subjectID, got)

		_, err = issuer.Redeem(at(issued.Record.ExpiresAt), issued.Value)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenConsumed))
	})
}

func TestLookupAndActive(t *testing.T) {
	issuer, _ := newIssuer(t)
	subjectID := id.NewSubjectID()

	_, err := issuer.Active(at(baseTime), subjectID, models.PurposeEmailVerification)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	issued, err := issuer.Issue(at(baseTime), subjectID, models.PurposeEmailVerification)
	require.NoError(t, err)

	record, err := issuer.Lookup(at(baseTime), issued.Value)
	require.NoError(t, err)
	assert.Equal(t, subjectID, record.SubjectID)
	assert.Nil(t, record.ConsumedAt, "lookup must not consume")

	active, err := issuer.Active(at(baseTime), subjectID, models.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, record.Hash, active.Hash)
}

func TestNewIssuerValidates(t *testing.T) {
	_, err := NewIssuer(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewIssuer(verificationtoken.NewInMemory(), 0)
	assert.Error(t, err)
}

type failingStore struct{ err error }

func (f failingStore) Replace(context.Context, *models.Token) error { return f.err }
func (f failingStore) FindByHash(context.Context, string) (*models.Token, error) {
	return nil, f.err
}
func (f failingStore) Consume(context.Context, string, time.Time) (*models.Token, error) {
	return nil, fmt.Errorf("consume: %w", f.err)
}
func (f failingStore) FindActive(context.Context, id.SubjectID, models.Purpose, time.Time) (*models.Token, error) {
	return nil, f.err
}
