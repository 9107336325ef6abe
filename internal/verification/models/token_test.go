package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
)

func TestNewToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subjectID := id.NewSubjectID()

	t.Run("builds record with hashed value", func(t *testing.T) {
		tok, err := NewToken("raw-value", subjectID, PurposeEmailVerification, now, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, HashValue("raw-value"), tok.Hash)
		assert.NotEqual(t, "raw-value", tok.Hash)
		assert.Equal(t, now.Add(24*time.Hour), tok.ExpiresAt)
		assert.True(t, tok.IsActive(now))
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		cases := []struct {
			name    string
			value   string
			subject id.SubjectID
			purpose Purpose
			ttl     time.Duration
		}{
			{"empty value", "", subjectID, PurposeEmailVerification, time.Hour},
			{"nil subject", "v", id.SubjectID{}, PurposeEmailVerification, time.Hour},
			{"unknown purpose", "v", subjectID, Purpose("password_reset"), time.Hour},
			{"zero ttl", "v", subjectID, PurposeEmailVerification, 0},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := NewToken(tc.value, tc.subject, tc.purpose, now, tc.ttl)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
			})
		}
	})
}

func TestValidateForRedeem(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newTok := func() *Token {
		tok, err := NewToken("v", id.NewSubjectID(), PurposeEmailVerification, now, time.Hour)
		require.NoError(t, err)
		return tok
	}

	t.Run("valid until the expiry instant", func(t *testing.T) {
		tok := newTok()
		assert.NoError(t, tok.ValidateForRedeem(tok.ExpiresAt))
		err := tok.ValidateForRedeem(tok.ExpiresAt.Add(time.Nanosecond))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	t.Run("consumed wins over expired", func(t *testing.T) {
		tok := newTok()
		tok.MarkConsumed(now)
		err := tok.ValidateForRedeem(now.Add(2 * time.Hour))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenConsumed))
	})

	t.Run("superseded reports expired", func(t *testing.T) {
		tok := newTok()
		tok.Supersede(now)
		err := tok.ValidateForRedeem(now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	t.Run("supersede leaves consumed tokens alone", func(t *testing.T) {
		tok := newTok()
		tok.MarkConsumed(now)
		tok.Supersede(now.Add(time.Minute))
		assert.Nil(t, tok.SupersededAt)
	})
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	tok, err := NewToken("v", id.NewSubjectID(), PurposeEmailVerification, now, time.Hour)
	require.NoError(t, err)
	tok.MarkConsumed(now)

	c := tok.Clone()
	*c.ConsumedAt = now.Add(time.Hour)
	assert.Equal(t, now, *tok.ConsumedAt)
}

func TestDeriveState(t *testing.T) {
	assert.Equal(t, StateVerified, DeriveState(true, true))
	assert.Equal(t, StateVerified, DeriveState(true, false))
	assert.Equal(t, StatePending, DeriveState(false, true))
	assert.Equal(t, StateUnverified, DeriveState(false, false))
}
