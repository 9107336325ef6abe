package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	dErrors "partnerhub/pkg/domain-errors"
)

// Kind enumerates the value variants metadata may hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// maxDepth bounds nesting when decoding or converting untrusted input.
const maxDepth = 32

// Value is one metadata value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  Metadata
}

func Null() Value           { return Value{} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: cloneValues(items)}
}

// Float wraps f. NaN and infinities have no JSON form and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindFloat, f: f}
}

// Object wraps a nested metadata container.
func Object(m Metadata) Value {
	return Value{kind: KindObject, obj: m.Clone()}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool)   { return cloneValues(v.arr), v.kind == KindArray }
func (v Value) AsObject() (Metadata, bool) { return v.obj.Clone(), v.kind == KindObject }

// Equal reports deep equality. Object keys must appear in the same order.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(other.obj)
	}
	return false
}

func (v Value) clone() Value {
	switch v.kind {
	case KindArray:
		v.arr = cloneValues(v.arr)
	case KindObject:
		v.obj = v.obj.Clone()
	}
	return v
}

func cloneValues(items []Value) []Value {
	if items == nil {
		return nil
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = item.clone()
	}
	return out
}

// MarshalJSON encodes the value. Floats always carry a fraction or exponent
// so they decode back as floats.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		buf.WriteString(formatFloat(v.f))
	case KindString:
		encoded, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		return v.obj.encode(buf)
	default:
		return fmt.Errorf("metadata: unknown value kind %d", v.kind)
	}
	return nil
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeValue(dec, 0)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("metadata: trailing data after value")
	}
	*v = decoded
	return nil
}

// Entry is one key/value pair in insertion order.
type Entry struct {
	Key   string
	Value Value
}

// Metadata is an insertion-ordered string-keyed container. Setting an existing
// key replaces its value in place. The zero Metadata is empty and ready to use.
// Copies made by assignment are independent: Set never writes to storage
// another copy can see.
type Metadata struct {
	entries []Entry
}

// builder assembles a Metadata it exclusively owns, so it can append in place.
type builder struct {
	entries []Entry
	index   map[string]int
}

func (b *builder) set(key string, value Value) {
	if i, ok := b.index[key]; ok {
		b.entries[i].Value = value
		return
	}
	if b.index == nil {
		b.index = make(map[string]int)
	}
	b.index[key] = len(b.entries)
	b.entries = append(b.entries, Entry{Key: key, Value: value})
}

func (b *builder) metadata() Metadata {
	return Metadata{entries: b.entries}
}

// NewMetadata builds a container from entries in the given order.
func NewMetadata(entries ...Entry) Metadata {
	var b builder
	for _, e := range entries {
		b.set(e.Key, e.Value.clone())
	}
	return b.metadata()
}

// FromMap converts a plain map. Go maps have no order, so keys are sorted.
//
// Errors: CodeValidation for values outside the supported kinds.
func FromMap(values map[string]any) (Metadata, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b builder
	for _, k := range keys {
		v, err := valueOf(values[k], 0)
		if err != nil {
			return Metadata{}, dErrors.Wrap(err, dErrors.CodeValidation, "metadata."+k+" has an unsupported value")
		}
		b.set(k, v)
	}
	return b.metadata(), nil
}

// ValueOf converts a Go value into a metadata value.
//
// Errors: CodeValidation for values outside the supported kinds.
func ValueOf(raw any) (Value, error) {
	v, err := valueOf(raw, 0)
	if err != nil {
		return Value{}, dErrors.Wrap(err, dErrors.CodeValidation, "unsupported metadata value")
	}
	return v, nil
}

func valueOf(raw any, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, errors.New("nesting too deep")
	}
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x.clone(), nil
	case Metadata:
		return Object(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint:
		return uintValue(uint64(x))
	case uint64:
		return uintValue(x)
	case float32:
		return finiteFloat(float64(x))
	case float64:
		return finiteFloat(x)
	case json.Number:
		return numberValue(x)
	case []any:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			v, err := valueOf(item, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: KindArray, arr: items}, nil
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var nested builder
		for _, k := range keys {
			v, err := valueOf(x[k], depth+1)
			if err != nil {
				return Value{}, err
			}
			nested.set(k, v)
		}
		return Value{kind: KindObject, obj: nested.metadata()}, nil
	default:
		return Value{}, fmt.Errorf("unsupported type %s", reflect.TypeOf(raw))
	}
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, errors.New("integer overflows int64")
	}
	return Int(int64(u)), nil
}

func finiteFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, errors.New("non-finite float")
	}
	return Float(f), nil
}

func numberValue(n json.Number) (Value, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q", n)
	}
	return finiteFloat(f)
}

// Set stores value under key, keeping the key's original position when it
// already exists. It writes to a fresh copy of the entries, leaving other
// copies of m untouched.
func (m *Metadata) Set(key string, value Value) {
	v := value.clone()
	entries := make([]Entry, len(m.entries), len(m.entries)+1)
	copy(entries, m.entries)
	if i := m.find(key); i >= 0 {
		entries[i].Value = v
	} else {
		entries = append(entries, Entry{Key: key, Value: v})
	}
	m.entries = entries
}

func (m Metadata) find(key string) int {
	for i, e := range m.entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func (m Metadata) Get(key string) (Value, bool) {
	i := m.find(key)
	if i < 0 {
		return Value{}, false
	}
	return m.entries[i].Value.clone(), true
}

func (m Metadata) Len() int { return len(m.entries) }

func (m Metadata) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a deep copy of the pairs in order.
func (m Metadata) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = Entry{Key: e.Key, Value: e.Value.clone()}
	}
	return out
}

func (m Metadata) Clone() Metadata {
	if len(m.entries) == 0 {
		return Metadata{}
	}
	out := Metadata{
		entries: make([]Entry, len(m.entries)),
	}
	for i, e := range m.entries {
		out.entries[i] = Entry{Key: e.Key, Value: e.Value.clone()}
	}
	return out
}

// Equal compares keys, order and values.
func (m Metadata) Equal(other Metadata) bool {
	if len(m.entries) != len(other.entries) {
		return false
	}
	for i := range m.entries {
		if m.entries[i].Key != other.entries[i].Key || !m.entries[i].Value.Equal(other.entries[i].Value) {
			return false
		}
	}
	return true
}

// ToMap converts to plain Go values for template rendering and logging.
// Order is lost.
func (m Metadata) ToMap() map[string]any {
	out := make(map[string]any, len(m.entries))
	for _, e := range m.entries {
		out[e.Key] = e.Value.toAny()
	}
	return out
}

func (v Value) toAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.toAny()
		}
		return out
	case KindObject:
		return v.obj.ToMap()
	default:
		return nil
	}
}

// MarshalJSON writes keys in insertion order. An empty container encodes as {}.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m Metadata) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := e.Value.encode(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// UnmarshalJSON decodes an object keeping document order. null decodes to an
// empty container.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeValue(dec, 0)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("metadata: trailing data after object")
	}
	switch decoded.kind {
	case KindObject:
		*m = decoded.obj
	case KindNull:
		*m = Metadata{}
	default:
		return fmt.Errorf("metadata: expected object, got %s", decoded.kind)
	}
	return nil
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, errors.New("metadata: nesting too deep")
	}
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return numberValue(t)
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			if items == nil {
				items = []Value{}
			}
			return Value{kind: KindArray, arr: items}, nil
		case '{':
			var obj builder
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, errors.New("metadata: object key must be a string")
				}
				item, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				obj.set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindObject, obj: obj.metadata()}, nil
		}
	}
	return Value{}, fmt.Errorf("metadata: unexpected token %v", tok)
}
