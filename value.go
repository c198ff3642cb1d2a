// SPDX-License-Identifier: Apache-2.0

package treemerge

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"strconv"
)

// Kind identifies which variant of [Value] a value is.
type Kind int

const (
	// ScalarKind is the kind of [Scalar] values.
	ScalarKind Kind = iota
	// MappingKind is the kind of [*Mapping] values.
	MappingKind
	// SequenceKind is the kind of [*Sequence] values.
	SequenceKind
)

func (k Kind) String() string {
	switch k {
	case ScalarKind:
		return "scalar"
	case MappingKind:
		return "mapping"
	case SequenceKind:
		return "sequence"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is a node of a configuration tree. It is exactly one of [Scalar],
// [*Mapping] or [*Sequence]; no other type can implement it.
type Value interface {
	Kind() Kind
	sealed()
}

// ScalarType is the primitive type carried by a [Scalar].
type ScalarType int

const (
	// NullType is the type of the null scalar. The zero [Scalar] is null.
	NullType ScalarType = iota
	StringType
	IntType
	FloatType
	BoolType
	// DeferredType is a string whose value is produced on first render.
	DeferredType
)

func (t ScalarType) String() string {
	switch t {
	case NullType:
		return "null"
	case StringType:
		return "string"
	case IntType:
		return "int"
	case FloatType:
		return "float"
	case BoolType:
		return "bool"
	case DeferredType:
		return "deferred"
	default:
		return fmt.Sprintf("ScalarType(%d)", t)
	}
}

// Resolver produces the string value of a deferred scalar.
type Resolver func() (string, error)

// deferred holds the unevaluated payload of a deferred scalar. It is shared by
// every copy of the Scalar so a successful render is remembered.
type deferred struct {
	tag     string
	raw     string
	resolve Resolver
	done    bool
	value   string
}

// Scalar is a typed primitive value.
type Scalar struct {
	typ  ScalarType
	s    string
	i    int64
	f    float64
	b    bool
	lazy *deferred
}

func (Scalar) Kind() Kind { return ScalarKind }
func (Scalar) sealed()    {}

// Null returns the null scalar.
func Null() Scalar { return Scalar{} }

// String returns a string scalar.
func String(s string) Scalar { return Scalar{typ: StringType, s: s} }

// Int returns an integer scalar.
func Int(i int64) Scalar { return Scalar{typ: IntType, i: i} }

// Float returns a floating point scalar.
func Float(f float64) Scalar { return Scalar{typ: FloatType, f: f} }

// Bool returns a boolean scalar.
func Bool(b bool) Scalar { return Scalar{typ: BoolType, b: b} }

// Deferred returns a string scalar whose value is computed by resolve the
// first time it is rendered. tag and raw describe the unevaluated source
// (for example "!vault" and the encrypted payload) and are used in errors.
//
// A failed resolution is not remembered; the next render calls resolve again.
func Deferred(tag, raw string, resolve Resolver) Scalar {
	return Scalar{typ: DeferredType, lazy: &deferred{tag: tag, raw: raw, resolve: resolve}}
}

// Type returns the scalar's primitive type.
func (s Scalar) Type() ScalarType { return s.typ }

// IsNull reports whether s is the null scalar.
func (s Scalar) IsNull() bool { return s.typ == NullType }

// Tag returns the tag of a deferred scalar, or "" for other scalars.
func (s Scalar) Tag() string {
	if s.lazy == nil {
		return ""
	}
	return s.lazy.tag
}

// Raw returns the unevaluated payload of a deferred scalar, or "" for other scalars.
func (s Scalar) Raw() string {
	if s.lazy == nil {
		return ""
	}
	return s.lazy.raw
}

// Render returns the scalar's value as a string, resolving a deferred scalar
// if needed. Errors are only possible for deferred scalars.
func (s Scalar) Render() (string, error) {
	switch s.typ {
	case NullType:
		return "", nil
	case StringType:
		return s.s, nil
	case IntType:
		return strconv.FormatInt(s.i, 10), nil
	case FloatType:
		return strconv.FormatFloat(s.f, 'g', -1, 64), nil
	case BoolType:
		return strconv.FormatBool(s.b), nil
	case DeferredType:
		d := s.lazy
		if d.done {
			return d.value, nil
		}
		v, err := d.resolve()
		if err != nil {
			return "", &RenderError{Tag: d.tag, Err: err}
		}
		d.value, d.done = v, true
		return v, nil
	default:
		panic(fmt.Sprintf("treemerge: unknown scalar type %d", s.typ))
	}
}

// Native returns the Go value of s: nil, string, int64, float64 or bool.
// Deferred scalars are rendered and returned as strings.
func (s Scalar) Native() (any, error) {
	switch s.typ {
	case NullType:
		return nil, nil
	case StringType:
		return s.s, nil
	case IntType:
		return s.i, nil
	case FloatType:
		return s.f, nil
	case BoolType:
		return s.b, nil
	default:
		return s.Render()
	}
}

// Equal reports whether s and o hold the same type and value. Deferred
// scalars compare as strings using their rendered value.
func (s Scalar) Equal(o Scalar) (bool, error) {
	st, ot := s.typ, o.typ
	if st == DeferredType {
		st = StringType
	}
	if ot == DeferredType {
		ot = StringType
	}
	if st != ot {
		return false, nil
	}
	switch st {
	case NullType:
		return true, nil
	case IntType:
		return s.i == o.i, nil
	case FloatType:
		return s.f == o.f || (math.IsNaN(s.f) && math.IsNaN(o.f)), nil
	case BoolType:
		return s.b == o.b, nil
	}
	a, err := s.Render()
	if err != nil {
		return false, err
	}
	b, err := o.Render()
	if err != nil {
		return false, err
	}
	return a == b, nil
}

// GoString formats s without resolving deferred values.
func (s Scalar) GoString() string {
	switch s.typ {
	case NullType:
		return "null"
	case StringType:
		return strconv.Quote(s.s)
	case DeferredType:
		return s.lazy.tag + " " + strconv.Quote(s.lazy.raw)
	default:
		v, _ := s.Render()
		return v
	}
}

// Mapping is an ordered set of string keys with [Value] values.
// The zero value is an empty mapping ready to use.
type Mapping struct {
	keys   []string
	values map[string]Value
}

func (*Mapping) Kind() Kind { return MappingKind }
func (*Mapping) sealed()    {}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[string]Value)}
}

// Len returns the number of keys.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the value stored under key.
func (m *Mapping) Get(key string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Mapping) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores v under key. New keys are appended to the key order; replacing
// an existing key keeps its position. A nil v is stored as [Null].
func (m *Mapping) Set(key string, v Value) {
	if v == nil {
		v = Null()
	}
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Delete removes key.
func (m *Mapping) Delete(key string) {
	if _, ok := m.Get(key); !ok {
		return
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// All iterates over the entries in insertion order. Values replaced during
// iteration are observed at the time their key is reached.
func (m *Mapping) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if m == nil {
			return
		}
		for i := 0; i < len(m.keys); i++ {
			k := m.keys[i]
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// Sequence is an ordered list of [Value].
type Sequence struct {
	items []Value
}

func (*Sequence) Kind() Kind { return SequenceKind }
func (*Sequence) sealed()    {}

// NewSequence returns a sequence holding items.
func NewSequence(items ...Value) *Sequence {
	s := &Sequence{}
	s.Append(items...)
	return s
}

// Len returns the number of items.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Index returns the item at position i.
func (s *Sequence) Index(i int) Value { return s.items[i] }

// Append adds items to the end of s. Nil items are stored as [Null].
func (s *Sequence) Append(items ...Value) {
	for _, item := range items {
		if item == nil {
			item = Null()
		}
		s.items = append(s.items, item)
	}
}

// Values returns a copy of the items.
func (s *Sequence) Values() []Value {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

// All iterates over the items with their positions.
func (s *Sequence) All() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		if s == nil {
			return
		}
		for i, v := range s.items {
			if !yield(i, v) {
				return
			}
		}
	}
}

// IsNull reports whether v is nil or the null scalar.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	s, ok := v.(Scalar)
	return ok && s.IsNull()
}

// FromNative converts decoded Go data into a [Value]. It accepts nil, strings,
// booleans, integer and float types, map[string]any, map[any]any with string
// keys, []any and []map[string]any. Keys of Go maps have no order, so they
// are inserted sorted.
func FromNative(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
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
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return fromUint(x)
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMapping()
		for _, k := range keys {
			child, err := FromNative(x[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m.Set(k, child)
		}
		return m, nil
	case map[any]any:
		conv := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported mapping key %v (type %T)", k, k)
			}
			conv[ks] = val
		}
		return FromNative(conv)
	case []any:
		seq := NewSequence()
		for i, item := range x {
			child, err := FromNative(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			seq.Append(child)
		}
		return seq, nil
	case []map[string]any:
		seq := NewSequence()
		for i, item := range x {
			child, err := FromNative(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			seq.Append(child)
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported value %v (type %T)", v, v)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// ToNative converts v into map[string]any, []any and scalar Go values,
// rendering deferred scalars. Mapping key order is lost.
func ToNative(v Value) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Scalar:
		return x.Native()
	case *Mapping:
		out := make(map[string]any, x.Len())
		for k, child := range x.All() {
			n, err := ToNative(child)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case *Sequence:
		out := make([]any, 0, x.Len())
		for _, child := range x.All() {
			n, err := ToNative(child)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		panic(fmt.Sprintf("treemerge: unknown value type %T", v))
	}
}

// Equal reports whether a and b are deeply equal. Mappings compare by key set
// regardless of insertion order; sequences compare element-wise in order.
func Equal(a, b Value) (bool, error) {
	if a == nil || b == nil {
		return IsNull(a) && IsNull(b), nil
	}
	switch x := a.(type) {
	case Scalar:
		y, ok := b.(Scalar)
		if !ok {
			return false, nil
		}
		return x.Equal(y)
	case *Mapping:
		y, ok := b.(*Mapping)
		if !ok || x.Len() != y.Len() {
			return false, nil
		}
		for k, xv := range x.All() {
			yv, ok := y.Get(k)
			if !ok {
				return false, nil
			}
			eq, err := Equal(xv, yv)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *Sequence:
		y, ok := b.(*Sequence)
		if !ok || x.Len() != y.Len() {
			return false, nil
		}
		for i, xv := range x.All() {
			eq, err := Equal(xv, y.Index(i))
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	default:
		panic(fmt.Sprintf("treemerge: unknown value type %T", a))
	}
}
