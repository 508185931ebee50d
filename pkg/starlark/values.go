package starlark

import (
	"fmt"

	"github.com/neurodesk/jinja/pkg/jinja2"
	"go.starlark.net/starlark"
)

// ConvertToStarlark converts a template Value to a Starlark value. Dicts
// keep their key order.
func ConvertToStarlark(val jinja2.Value) starlark.Value {
	if val == nil {
		return starlark.None
	}

	switch v := val.(type) {
	case jinja2.StringValue:
		return starlark.String(string(v))
	case jinja2.IntValue:
		return starlark.MakeInt64(int64(v))
	case jinja2.FloatValue:
		return starlark.Float(float64(v))
	case jinja2.BoolValue:
		return starlark.Bool(bool(v))
	case jinja2.ListValue:
		items := make([]starlark.Value, len(v))
		for i, item := range v {
			items[i] = ConvertToStarlark(item)
		}
		return starlark.NewList(items)
	case *jinja2.DictValue:
		dict := starlark.NewDict(v.Len())
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			// SetKey only fails for unhashable keys or frozen dicts
			_ = dict.SetKey(starlark.String(key), ConvertToStarlark(item))
		}
		return dict
	case jinja2.NoneValue:
		return starlark.None
	default:
		return starlark.String(val.String())
	}
}

// Limits on converting a Starlark value. Shared references are copied, so
// a small script can build a very large value.
const (
	maxValues = 1 << 20
	maxDepth  = 512
)

// ConvertFromStarlark converts a Starlark value to a template Value. Tuples
// and sets become lists; dict keys that are not strings use their Starlark
// string form. Functions, values that contain themselves and other values
// with no template counterpart are an error.
func ConvertFromStarlark(val starlark.Value) (jinja2.Value, error) {
	c := converter{active: map[starlark.Value]bool{}}
	return c.value(val, 0)
}

type converter struct {
	active map[starlark.Value]bool // containers being converted; pointer types only
	values int
}

// enter marks a mutable container as being converted. It fails when the
// container is already on the path, which means it contains itself.
func (c *converter) enter(v starlark.Value) (leave func(), err error) {
	switch v.(type) {
	case *starlark.List, *starlark.Dict, *starlark.Set:
	default:
		return func() {}, nil
	}
	if c.active[v] {
		return nil, fmt.Errorf("starlark %s contains itself", v.Type())
	}
	c.active[v] = true
	return func() { delete(c.active, v) }, nil
}

func (c *converter) value(val starlark.Value, depth int) (jinja2.Value, error) {
	c.values++
	if c.values > maxValues {
		return nil, fmt.Errorf("value expands to more than %d elements", maxValues)
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("value nests deeper than %d levels", maxDepth)
	}
	if val == nil || val == starlark.None {
		return jinja2.NoneValue{}, nil
	}

	switch v := val.(type) {
	case starlark.String:
		return jinja2.StringValue(string(v)), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return jinja2.IntValue(i), nil
		}
		// too large for int64
		return jinja2.StringValue(v.String()), nil
	case starlark.Float:
		return jinja2.FloatValue(float64(v)), nil
	case starlark.Bool:
		return jinja2.BoolValue(bool(v)), nil
	case starlark.Bytes:
		return jinja2.StringValue(string(v)), nil
	case starlark.Indexable: // list, tuple
		leave, err := c.enter(val)
		if err != nil {
			return nil, err
		}
		defer leave()
		items := make(jinja2.ListValue, v.Len())
		for i := range items {
			item, err := c.value(v.Index(i), depth+1)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = item
		}
		return items, nil
	case *starlark.Dict:
		leave, err := c.enter(val)
		if err != nil {
			return nil, err
		}
		defer leave()
		dict := jinja2.NewDict(v.Len())
		for _, item := range v.Items() {
			key := item[0].String()
			if s, ok := item[0].(starlark.String); ok {
				key = string(s)
			}
			value, err := c.value(item[1], depth+1)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			dict.Set(key, value)
		}
		return dict, nil
	case *starlark.Set:
		items := make(jinja2.ListValue, 0, v.Len())
		iter := v.Iterate()
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			item, err := c.value(x, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}
	return nil, fmt.Errorf("cannot convert starlark %s to a template value", val.Type())
}

// WrapJinja2Context converts every entry of ctx for use as Starlark
// predeclared names.
func WrapJinja2Context(ctx jinja2.Context) starlark.StringDict {
	wrapped := make(starlark.StringDict, len(ctx))
	for key, value := range ctx {
		wrapped[key] = ConvertToStarlark(value)
	}
	return wrapped
}
