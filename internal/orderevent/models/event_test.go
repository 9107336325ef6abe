package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "partnerhub/pkg/domain"
	dErrors "partnerhub/pkg/domain-errors"
)

func snapshot() OrderSnapshot {
	return OrderSnapshot{
		OrderID:       id.NewOrderID(),
		Status:        "Delivered",
		AffiliateID:   id.NewSubjectID(),
		CustomerEmail: "buyer@example.com",
		TotalMinor:    4599,
		Currency:      "eur",
	}
}

func TestNewOrderEvent(t *testing.T) {
	now := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)

	t.Run("defaults trigger and normalizes status", func(t *testing.T) {
		event, err := NewOrderEvent(id.NewEventID(), snapshot(), "", Metadata{}, now)
		require.NoError(t, err)
		assert.Equal(t, TriggerUnknown, event.Trigger())
		assert.Equal(t, StatusDelivered, event.Type())
		assert.Equal(t, "EUR", event.Order().Currency)
		assert.Equal(t, 0, event.Metadata().Len())
	})

	t.Run("metadata cannot be changed through the caller's copy or a getter", func(t *testing.T) {
		meta := NewMetadata(Entry{Key: "trackingId", Value: String("X")})
		event, err := NewOrderEvent(id.NewEventID(), snapshot(), "carrier_webhook", meta, now)
		require.NoError(t, err)

		meta.Set("trackingId", String("tampered"))
		got := event.Metadata()
		got.Set("trackingId", String("tampered again"))

		v, _ := event.Metadata().Get("trackingId")
		s, _ := v.AsString()
		assert.Equal(t, "X", s)
	})

	t.Run("rejects missing order id and status", func(t *testing.T) {
		order := snapshot()
		order.OrderID = id.OrderID{}
		_, err := NewOrderEvent(id.NewEventID(), order, "", Metadata{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		order = snapshot()
		order.Status = "  "
		_, err = NewOrderEvent(id.NewEventID(), order, "", Metadata{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects control characters in labels", func(t *testing.T) {
		for _, label := range []string{"delivered\ndata: spoofed", "paid\rnow", "ship\x00ped", "bad\xffutf8"} {
			order := snapshot()
			order.Status = label
			_, err := NewOrderEvent(id.NewEventID(), order, "", Metadata{}, now)
			assert.Truef(t, dErrors.HasCode(err, dErrors.CodeValidation), "status %q", label)

			_, err = NewOrderEvent(id.NewEventID(), snapshot(), label, Metadata{}, now)
			assert.Truef(t, dErrors.HasCode(err, dErrors.CodeValidation), "trigger %q", label)
		}
	})

	t.Run("rejects overlong trigger", func(t *testing.T) {
		long := make([]byte, maxLabelLength+1)
		for i := range long {
			long[i] = 't'
		}
		_, err := NewOrderEvent(id.NewEventID(), snapshot(), string(long), Metadata{}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestOrderEventJSON(t *testing.T) {
	now := time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC)
	meta := NewMetadata(
		Entry{Key: "trackingId", Value: String("X")},
		Entry{Key: "attempt", Value: Int(2)},
	)
	event, err := NewOrderEvent(id.NewEventID(), snapshot(), "carrier_webhook", meta, now)
	require.NoError(t, err)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"metadata":{"trackingId":"X","attempt":2}`)

	var decoded OrderEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event.ID(), decoded.ID())
	assert.Equal(t, event.Order(), decoded.Order())
	assert.Equal(t, "carrier_webhook", decoded.Trigger())
	assert.True(t, event.Metadata().Equal(decoded.Metadata()))
	assert.True(t, now.Equal(decoded.OccurredAt()))

	t.Run("type must agree with status", func(t *testing.T) {
		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		raw["type"] = "cancelled"
		bad, _ := json.Marshal(raw)
		var out OrderEvent
		assert.Error(t, json.Unmarshal(bad, &out))
	})
}
