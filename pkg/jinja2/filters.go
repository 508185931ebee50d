package jinja2

import (
	"fmt"
	"html"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter transforms the value on the left of "|". in is never nil except
// for the filter registered as "default", which receives nil when its input
// is undefined. Errors without a position are reported at the filter.
type Filter func(in Value, args FilterArgs) (Value, error)

// FilterArgs holds the evaluated arguments of a filter call.
type FilterArgs struct {
	Positional []Value
	Named      map[string]Value
}

// Get returns the argument at position i, or the named argument name.
func (a FilterArgs) Get(i int, name string) (Value, bool) {
	if i < len(a.Positional) {
		return a.Positional[i], true
	}
	v, ok := a.Named[name]
	return v, ok
}

func (a FilterArgs) Len() int { return len(a.Positional) + len(a.Named) }

func (a FilterArgs) expect(max int) error {
	if a.Len() > max {
		return &Error{Kind: KindArgument, Msg: fmt.Sprintf("takes at most %d arguments, %d given", max, a.Len())}
	}
	return nil
}

func (a FilterArgs) getInt(i int, name string, def int) (int, error) {
	v, ok := a.Get(i, name)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case IntValue:
		return int(n), nil
	case FloatValue:
		return int(n), nil
	}
	return 0, &Error{Kind: KindTypeMismatch, Msg: fmt.Sprintf("argument %s must be a number, got %s", name, v.Kind())}
}

func (a FilterArgs) getString(i int, name string, def string) (string, error) {
	v, ok := a.Get(i, name)
	if !ok {
		return def, nil
	}
	s, ok := v.(StringValue)
	if !ok {
		return "", &Error{Kind: KindTypeMismatch, Msg: fmt.Sprintf("argument %s must be a string, got %s", name, v.Kind())}
	}
	return string(s), nil
}

func wantString(in Value) (string, error) {
	s, ok := in.(StringValue)
	if !ok {
		return "", &Error{Kind: KindTypeMismatch, Msg: "expected a string, got " + in.Kind().String()}
	}
	return string(s), nil
}

func stringFilter(fn func(string) string) Filter {
	return func(in Value, args FilterArgs) (Value, error) {
		if err := args.expect(0); err != nil {
			return nil, err
		}
		s, err := wantString(in)
		if err != nil {
			return nil, err
		}
		return StringValue(fn(s)), nil
	}
}

// BuiltinFilters returns a fresh copy of the filters every engine starts with.
// Casers from x/text keep state, so title and capitalize build one per call.
func BuiltinFilters() map[string]Filter {
	return map[string]Filter{
		"upper": stringFilter(strings.ToUpper),
		"lower": stringFilter(strings.ToLower),
		"trim":  stringFilter(strings.TrimSpace),
		"title": stringFilter(func(s string) string { return cases.Title(language.Und).String(s) }),
		"capitalize": stringFilter(func(s string) string {
			r, n := utf8.DecodeRuneInString(s)
			if n == 0 {
				return s
			}
			return strings.ToUpper(string(r)) + cases.Lower(language.Und).String(s[n:])
		}),
		"escape":   stringFilter(html.EscapeString),
		"length":   filterLength,
		"first":    filterFirst,
		"last":     filterLast,
		"reverse":  filterReverse,
		"join":     filterJoin,
		"replace":  filterReplace,
		"default":  filterDefault,
		"int":      filterInt,
		"float":    filterFloat,
		"string":   filterString,
		"abs":      filterAbs,
		"round":    filterRound,
		"truncate": filterTruncate,
		"keys":     filterKeys,
		"sort":     filterSort,
	}
}

func filterLength(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case StringValue:
		return IntValue(utf8.RuneCountInString(string(v))), nil
	case ListValue:
		return IntValue(len(v)), nil
	case *DictValue:
		return IntValue(v.Len()), nil
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "length of " + in.Kind().String()}
}

func filterFirst(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case ListValue:
		if len(v) == 0 {
			return NoneValue{}, nil
		}
		return orNone(v[0]), nil
	case StringValue:
		r, n := utf8.DecodeRuneInString(string(v))
		if n == 0 {
			return NoneValue{}, nil
		}
		return StringValue(string(r)), nil
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "expected a list, got " + in.Kind().String()}
}

func filterLast(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case ListValue:
		if len(v) == 0 {
			return NoneValue{}, nil
		}
		return orNone(v[len(v)-1]), nil
	case StringValue:
		r, n := utf8.DecodeLastRuneInString(string(v))
		if n == 0 {
			return NoneValue{}, nil
		}
		return StringValue(string(r)), nil
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "expected a list, got " + in.Kind().String()}
}

func filterReverse(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case ListValue:
		out := slices.Clone(v)
		slices.Reverse(out)
		return out, nil
	case StringValue:
		rs := []rune(string(v))
		slices.Reverse(rs)
		return StringValue(string(rs)), nil
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "cannot reverse " + in.Kind().String()}
}

func filterJoin(in Value, args FilterArgs) (Value, error) {
	if err := args.expect(1); err != nil {
		return nil, err
	}
	sep, err := args.getString(0, "sep", "")
	if err != nil {
		return nil, err
	}
	l, ok := in.(ListValue)
	if !ok {
		return nil, &Error{Kind: KindTypeMismatch, Msg: "expected a list, got " + in.Kind().String()}
	}
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = orNone(v).String()
	}
	return StringValue(strings.Join(parts, sep)), nil
}

func filterReplace(in Value, args FilterArgs) (Value, error) {
	if err := args.expect(2); err != nil {
		return nil, err
	}
	s, err := wantString(in)
	if err != nil {
		return nil, err
	}
	from, err := args.getString(0, "from", "")
	if err != nil {
		return nil, err
	}
	to, err := args.getString(1, "to", "")
	if err != nil {
		return nil, err
	}
	if _, ok := args.Get(0, "from"); !ok {
		return nil, &Error{Kind: KindArgument, Msg: "missing argument from"}
	}
	return StringValue(strings.ReplaceAll(s, from, to)), nil
}

func filterDefault(in Value, args FilterArgs) (Value, error) {
	if err := args.expect(1); err != nil {
		return nil, err
	}
	if in != nil {
		return in, nil
	}
	if v, ok := args.Get(0, "value"); ok {
		return v, nil
	}
	return StringValue(""), nil
}

func filterInt(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case IntValue:
		return v, nil
	case FloatValue:
		return IntValue(int64(v)), nil
	case BoolValue:
		if v {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	case StringValue:
		s := strings.TrimSpace(string(v))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(n), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return IntValue(int64(f)), nil
		}
		return nil, &Error{Kind: KindInvalidOperation, Msg: fmt.Sprintf("cannot convert %q to int", s)}
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "cannot convert " + in.Kind().String() + " to int"}
}

func filterFloat(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case IntValue:
		return FloatValue(v), nil
	case FloatValue:
		return v, nil
	case StringValue:
		s := strings.TrimSpace(string(v))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &Error{Kind: KindInvalidOperation, Msg: fmt.Sprintf("cannot convert %q to float", s)}
		}
		return FloatValue(f), nil
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "cannot convert " + in.Kind().String() + " to float"}
}

func filterString(in Value, args FilterArgs) (Value, error) {
	return StringValue(in.String()), nil
}

func filterAbs(in Value, args FilterArgs) (Value, error) {
	switch v := in.(type) {
	case IntValue:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case FloatValue:
		return FloatValue(math.Abs(float64(v))), nil
	}
	return nil, &Error{Kind: KindTypeMismatch, Msg: "expected a number, got " + in.Kind().String()}
}

func filterRound(in Value, args FilterArgs) (Value, error) {
	if err := args.expect(1); err != nil {
		return nil, err
	}
	f, ok := toFloat(in)
	if !ok {
		return nil, &Error{Kind: KindTypeMismatch, Msg: "expected a number, got " + in.Kind().String()}
	}
	prec, err := args.getInt(0, "precision", 0)
	if err != nil {
		return nil, err
	}
	p := math.Pow10(prec)
	return FloatValue(math.Round(f*p) / p), nil
}

func filterTruncate(in Value, args FilterArgs) (Value, error) {
	if err := args.expect(2); err != nil {
		return nil, err
	}
	s, err := wantString(in)
	if err != nil {
		return nil, err
	}
	n, err := args.getInt(0, "length", 255)
	if err != nil {
		return nil, err
	}
	end, err := args.getString(1, "end", "...")
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(s) <= n {
		return StringValue(s), nil
	}
	rs := []rune(s)
	return StringValue(string(rs[:max(n, 0)]) + end), nil
}

func filterKeys(in Value, args FilterArgs) (Value, error) {
	d, ok := in.(*DictValue)
	if !ok {
		return nil, &Error{Kind: KindTypeMismatch, Msg: "expected an object, got " + in.Kind().String()}
	}
	out := make(ListValue, d.Len())
	for i, k := range d.Keys() {
		out[i] = StringValue(k)
	}
	return out, nil
}

// filterSort orders a list of numbers or a list of strings.
func filterSort(in Value, args FilterArgs) (Value, error) {
	l, ok := in.(ListValue)
	if !ok {
		return nil, &Error{Kind: KindTypeMismatch, Msg: "expected a list, got " + in.Kind().String()}
	}
	if len(l) == 0 {
		return ListValue{}, nil
	}
	kind := orNone(l[0]).Kind()
	if kind != KindNumber && kind != KindString {
		return nil, &Error{Kind: KindTypeMismatch, Msg: "cannot sort a list of " + kind.String()}
	}
	for _, v := range l[1:] {
		if orNone(v).Kind() != kind {
			return nil, &Error{Kind: KindTypeMismatch, Msg: "cannot sort a list mixing " + kind.String() + " and " + orNone(v).Kind().String()}
		}
	}
	out := slices.Clone(l)
	slices.SortStableFunc(out, func(a, b Value) int {
		if kind == KindString {
			return strings.Compare(string(a.(StringValue)), string(b.(StringValue)))
		}
		x, _ := toFloat(a)
		y, _ := toFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	return out, nil
}
