package jinja2

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "object"
	}
	return "unknown"
}

// Value is a runtime value used for context data, expression results and
// output. The set of implementations is closed: NoneValue, BoolValue,
// IntValue, FloatValue, StringValue, ListValue and *DictValue.
type Value interface {
	String() string
	Truth() bool
	Kind() Kind
}

// NoneValue represents the absence of a value.
type NoneValue struct{}

func (NoneValue) String() string { return "" }
func (NoneValue) Truth() bool    { return false }
func (NoneValue) Kind() Kind     { return KindNone }

// BoolValue wraps a boolean.
type BoolValue bool

func (b BoolValue) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (b BoolValue) Truth() bool { return bool(b) }
func (BoolValue) Kind() Kind    { return KindBool }

// IntValue wraps an integer (64-bit).
type IntValue int64

func (i IntValue) String() string { return strconv.FormatInt(int64(i), 10) }
func (i IntValue) Truth() bool    { return int64(i) != 0 }
func (IntValue) Kind() Kind       { return KindNumber }

// FloatValue wraps a float (64-bit).
type FloatValue float64

func (f FloatValue) String() string { return strconv.FormatFloat(float64(f), 'f', -1, 64) }
func (f FloatValue) Truth() bool    { return float64(f) != 0 }
func (FloatValue) Kind() Kind       { return KindNumber }

// StringValue wraps a string.
type StringValue string

func (s StringValue) String() string { return string(s) }
func (s StringValue) Truth() bool    { return len(s) > 0 }
func (StringValue) Kind() Kind       { return KindString }

// ListValue wraps an ordered sequence of values.
type ListValue []Value

func (l ListValue) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(orNone(v).String())
	}
	b.WriteByte(']')
	return b.String()
}
func (l ListValue) Truth() bool { return len(l) > 0 }
func (ListValue) Kind() Kind    { return KindList }

// DictValue is a string-keyed map that remembers insertion order.
// Lookups go through the index; iteration follows Keys.
type DictValue struct {
	keys []string
	m    map[string]Value
}

// NewDict returns an empty dict with room for n entries.
func NewDict(n int) *DictValue {
	return &DictValue{keys: make([]string, 0, n), m: make(map[string]Value, n)}
}

// Set stores v under k. A new key is appended to the iteration order;
// an existing key keeps its position.
func (d *DictValue) Set(k string, v Value) *DictValue {
	if _, ok := d.m[k]; !ok {
		d.keys = append(d.keys, k)
	}
	d.m[k] = orNone(v)
	return d
}

// Get returns the value stored under k.
func (d *DictValue) Get(k string) (Value, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.m[k]
	return v, ok
}

// Keys returns the keys in insertion order. The slice must not be modified.
func (d *DictValue) Keys() []string {
	if d == nil {
		return nil
	}
	return d.keys
}

func (d *DictValue) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (d *DictValue) String() string { return "[object]" }
func (d *DictValue) Truth() bool    { return d.Len() > 0 }
func (*DictValue) Kind() Kind       { return KindDict }

// Equal reports whether a and b are structurally equal. Integers and floats
// compare by numeric value.
func Equal(a, b Value) bool {
	if a == nil {
		a = NoneValue{}
	}
	if b == nil {
		b = NoneValue{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case NoneValue:
		return true
	case BoolValue:
		return x == b.(BoolValue)
	case IntValue:
		if y, ok := b.(IntValue); ok {
			return x == y
		}
		return float64(x) == float64(b.(FloatValue))
	case FloatValue:
		f, _ := toFloat(b)
		return float64(x) == f
	case StringValue:
		return x == b.(StringValue)
	case ListValue:
		y := b.(ListValue)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *DictValue:
		y := b.(*DictValue)
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.Keys() {
			yv, ok := y.Get(k)
			if !ok || !Equal(x.m[k], yv) {
				return false
			}
		}
		return true
	}
	return false
}

func toFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case IntValue:
		return float64(t), true
	case FloatValue:
		return float64(t), true
	}
	return 0, false
}

// Context holds the named root values of a render. It is built by the caller
// and only read while rendering.
type Context map[string]Value

// NewContext creates an empty context.
func NewContext() Context { return Context{} }

// Insert converts v with FromGo and stores it under key.
func (c Context) Insert(key string, v any) Context {
	c[key] = FromGo(v)
	return c
}

// NewContextFromAny converts a map[string]any into a Value-based Context.
func NewContextFromAny(m map[string]any) Context {
	ctx := make(Context, len(m))
	for k, v := range m {
		ctx[k] = FromGo(v)
	}
	return ctx
}

// FromGo converts a Go value to a Value. Maps are ordered by sorted key and
// structs by field declaration order; a `jinja` or `json` tag renames a field
// and "-" skips it.
func FromGo(v any) Value {
	if v == nil {
		return NoneValue{}
	}
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(t)
	case int64:
		return IntValue(t)
	case float64:
		return FloatValue(t)
	case []byte:
		return StringValue(string(t))
	case []any:
		out := make(ListValue, len(t))
		for i, it := range t {
			out[i] = FromGo(it)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict(len(keys))
		for _, k := range keys {
			d.Set(k, FromGo(t[k]))
		}
		return d
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Invalid:
		return NoneValue{}
	case reflect.Bool:
		return BoolValue(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return FloatValue(float64(u))
		}
		return IntValue(int64(u))
	case reflect.Float32, reflect.Float64:
		return FloatValue(rv.Float())
	case reflect.String:
		return StringValue(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return ListValue{}
		}
		n := rv.Len()
		out := make(ListValue, n)
		for i := 0; i < n; i++ {
			out[i] = fromReflect(rv.Index(i))
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		d := NewDict(len(keys))
		for _, k := range keys {
			d.Set(k, fromReflect(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))))
		}
		return d
	case reflect.Struct:
		rt := rv.Type()
		d := NewDict(rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name := fieldName(f)
			if name == "-" {
				continue
			}
			d.Set(name, fromReflect(rv.Field(i)))
		}
		return d
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NoneValue{}
		}
		if val, ok := rv.Interface().(Value); ok {
			return val
		}
		return fromReflect(rv.Elem())
	}
	// Fallback: string formatting
	return StringValue(fmt.Sprintf("%v", rv.Interface()))
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"jinja", "json"} {
		if t, ok := f.Tag.Lookup(tag); ok {
			name, _, _ := strings.Cut(t, ",")
			if name != "" {
				return name
			}
		}
	}
	return f.Name
}

// iterable presents a list or dict as a sequence of (key, value) pairs.
// Lists report a none key.
type iterable struct {
	list ListValue
	dict *DictValue
}

func (it iterable) Len() int {
	if it.dict != nil {
		return it.dict.Len()
	}
	return len(it.list)
}

func (it iterable) At(i int) (key, val Value) {
	if it.dict != nil {
		k := it.dict.keys[i]
		return StringValue(k), it.dict.m[k]
	}
	return NoneValue{}, orNone(it.list[i])
}

// orNone reads a nil Value as none. Callers may leave nil in a Context or
// a ListValue.
func orNone(v Value) Value {
	if v == nil {
		return NoneValue{}
	}
	return v
}
