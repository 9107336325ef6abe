package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing values return zero values", func(t *testing.T) {
		assert.Empty(t, RequestID(ctx))
		assert.Empty(t, ClientIP(ctx))
	})

	t.Run("injected values round-trip", func(t *testing.T) {
		c := WithRequestID(ctx, "req-1")
		c = WithClientIP(c, "203.0.113.9")
		assert.Equal(t, "req-1", RequestID(c))
		assert.Equal(t, "203.0.113.9", ClientIP(c))
	})

	t.Run("pinned time wins over wall clock", func(t *testing.T) {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		assert.Equal(t, fixed, Now(WithTime(ctx, fixed)))
	})

	t.Run("falls back to wall clock", func(t *testing.T) {
		before := time.Now()
		got := Now(ctx)
		assert.False(t, got.Before(before))
	})
}
