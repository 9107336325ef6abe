package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "partnerhub/pkg/domain-errors"
)

func TestMetadataOrder(t *testing.T) {
	t.Run("encoding keeps insertion order", func(t *testing.T) {
		m := NewMetadata(
			Entry{Key: "zeta", Value: Int(1)},
			Entry{Key: "alpha", Value: String("a")},
			Entry{Key: "mid", Value: Bool(true)},
		)
		out, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, `{"zeta":1,"alpha":"a","mid":true}`, string(out))
	})

	t.Run("replacing a key keeps its position", func(t *testing.T) {
		var m Metadata
		m.Set("a", Int(1))
		m.Set("b", Int(2))
		m.Set("a", Int(3))
		assert.Equal(t, []string{"a", "b"}, m.Keys())
		v, ok := m.Get("a")
		require.True(t, ok)
		i, _ := v.AsInt()
		assert.Equal(t, int64(3), i)
	})

	t.Run("decoding keeps document order", func(t *testing.T) {
		var m Metadata
		require.NoError(t, json.Unmarshal([]byte(`{"trackingId":"X","carrier":{"name":"dhl","legs":[1,2.5]},"a":null}`), &m))
		assert.Equal(t, []string{"trackingId", "carrier", "a"}, m.Keys())

		carrier, _ := m.Get("carrier")
		nested, ok := carrier.AsObject()
		require.True(t, ok)
		assert.Equal(t, []string{"name", "legs"}, nested.Keys())

		legs, _ := nested.Get("legs")
		items, ok := legs.AsArray()
		require.True(t, ok)
		assert.Equal(t, KindInt, items[0].Kind())
		assert.Equal(t, KindFloat, items[1].Kind())
	})

	t.Run("encoding is deterministic across round trips", func(t *testing.T) {
		doc := `{"b":[true,{"y":1,"x":2}],"a":1.5,"c":"s"}`
		var m Metadata
		require.NoError(t, json.Unmarshal([]byte(doc), &m))
		first, err := json.Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, doc, string(first))

		var again Metadata
		require.NoError(t, json.Unmarshal(first, &again))
		assert.True(t, m.Equal(again))
	})

	t.Run("integral floats stay floats", func(t *testing.T) {
		out, err := json.Marshal(NewMetadata(Entry{Key: "f", Value: Float(2)}))
		require.NoError(t, err)
		assert.Equal(t, `{"f":2.0}`, string(out))

		var back Metadata
		require.NoError(t, json.Unmarshal(out, &back))
		v, _ := back.Get("f")
		assert.Equal(t, KindFloat, v.Kind())
	})

	t.Run("empty container encodes as object", func(t *testing.T) {
		out, err := json.Marshal(Metadata{})
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(out))
	})

	t.Run("non-object documents are rejected", func(t *testing.T) {
		var m Metadata
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &m))
		assert.Error(t, json.Unmarshal([]byte(`{"a":1} {"b":2}`), &m))
	})
}

func TestFromMap(t *testing.T) {
	t.Run("keys are sorted", func(t *testing.T) {
		m, err := FromMap(map[string]any{"c": 1, "a": "x", "b": []any{true, nil}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
	})

	t.Run("unsupported values are validation errors", func(t *testing.T) {
		_, err := FromMap(map[string]any{"ch": make(chan int)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = FromMap(map[string]any{"nan": math.NaN()})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = FromMap(map[string]any{"big": uint64(math.MaxUint64)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("excessive nesting is rejected", func(t *testing.T) {
		var nested any = "leaf"
		for range maxDepth + 2 {
			nested = []any{nested}
		}
		_, err := ValueOf(nested)
		assert.Error(t, err)
	})
}

func TestMetadataIsolation(t *testing.T) {
	inner := NewMetadata(Entry{Key: "k", Value: String("v")})
	outer := NewMetadata(Entry{Key: "inner", Value: Object(inner)})

	inner.Set("k", String("changed"))

	got, _ := outer.Get("inner")
	obj, _ := got.AsObject()
	v, _ := obj.Get("k")
	s, _ := v.AsString()
	assert.Equal(t, "v", s)
}

func TestMetadataValueCopies(t *testing.T) {
	base := NewMetadata(Entry{Key: "a", Value: Int(1)})

	derived := base
	derived.Set("b", Int(2))
	derived.Set("a", Int(9))

	_, ok := base.Get("b")
	assert.False(t, ok)
	a, _ := base.Get("a")
	i, _ := a.AsInt()
	assert.Equal(t, int64(1), i)
	assert.Equal(t, []string{"a"}, base.Keys())
	assert.Equal(t, []string{"a", "b"}, derived.Keys())

	// appending to both copies must not clobber a shared slot
	other := base
	other.Set("c", Int(3))
	base.Set("d", Int(4))
	assert.Equal(t, []string{"a", "c"}, other.Keys())
	assert.Equal(t, []string{"a", "d"}, base.Keys())
}
