package jinja2

import "math"

// Test is a predicate used as "x is name(args)". defined and undefined are
// handled by the evaluator since they must see missing variables.
type Test func(v Value, args []Value) (bool, error)

var builtinTests = map[string]Test{
	"none":     kindTest(KindNone),
	"string":   kindTest(KindString),
	"number":   kindTest(KindNumber),
	"object":   kindTest(KindDict),
	"iterable": func(v Value, _ []Value) (bool, error) { return v.Kind() == KindList || v.Kind() == KindDict, nil },
	"odd": func(v Value, args []Value) (bool, error) {
		n, err := intArg(v)
		return n%2 != 0, err
	},
	"even": func(v Value, args []Value) (bool, error) {
		n, err := intArg(v)
		return n%2 == 0, err
	},
	"divisibleby": func(v Value, args []Value) (bool, error) {
		if len(args) != 1 {
			return false, &Error{Kind: KindArgument, Msg: "divisibleby takes exactly one argument"}
		}
		n, err := intArg(v)
		if err != nil {
			return false, err
		}
		d, err := intArg(args[0])
		if err != nil {
			return false, err
		}
		if d == 0 {
			return false, &Error{Kind: KindInvalidOperation, Msg: "divisibleby zero"}
		}
		return n%d == 0, nil
	},
}

func kindTest(k Kind) Test {
	return func(v Value, args []Value) (bool, error) { return v.Kind() == k, nil }
}

func intArg(v Value) (int64, error) {
	switch n := v.(type) {
	case IntValue:
		return int64(n), nil
	case FloatValue:
		if float64(n) == math.Trunc(float64(n)) {
			return int64(n), nil
		}
	}
	return 0, &Error{Kind: KindTypeMismatch, Msg: "expected an integer, got " + v.Kind().String()}
}
