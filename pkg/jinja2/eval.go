package jinja2

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// eval evaluates an expression against the current scope stack and context.
func (r *renderer) eval(e Expr) (Value, error) {
	switch t := e.(type) {
	case *Literal:
		return t.Val, nil
	case *Name, *GetAttr, *GetItem:
		return r.resolve(e, !r.lenient)
	case *ListExpr:
		out := make(ListValue, len(t.Items))
		for i, it := range t.Items {
			v, err := r.eval(it)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *UnaryExpr:
		return r.evalUnary(t)
	case *BinaryExpr:
		return r.evalBinary(t)
	case *FilterExpr:
		return r.evalFilter(t)
	case *TestExpr:
		return r.evalTest(t)
	case *MacroCall:
		return r.callMacro(t)
	}
	return nil, newError(KindInvalidOperation, e.Position(), "cannot evaluate %T", e)
}

// resolve evaluates a variable path. When strict is false every miss
// yields none.
func (r *renderer) resolve(e Expr, strict bool) (Value, error) {
	switch t := e.(type) {
	case *Name:
		if v, ok := r.stack.lookup(t.Name); ok {
			return orNone(v), nil
		}
		if v, ok := r.ctx[t.Name]; ok {
			return orNone(v), nil
		}
		if !strict {
			return NoneValue{}, nil
		}
		return nil, newError(KindUndefinedVariable, t.Pos, "variable %q is not defined", t.Name)
	case *GetAttr:
		obj, err := r.resolve(t.Obj, strict)
		if err != nil {
			return nil, err
		}
		return getKey(obj, t.Attr, e, strict)
	case *GetItem:
		obj, err := r.resolve(t.Obj, strict)
		if err != nil {
			return nil, err
		}
		idx, err := r.eval(t.Index)
		if err != nil {
			return nil, err
		}
		switch i := idx.(type) {
		case StringValue:
			return getKey(obj, string(i), e, strict)
		case IntValue:
			return getIndex(obj, int(i), e, strict)
		case FloatValue:
			if float64(i) == math.Trunc(float64(i)) {
				return getIndex(obj, int(i), e, strict)
			}
		}
		if !strict {
			return NoneValue{}, nil
		}
		return nil, newError(KindTypeMismatch, t.Index.Position(), "cannot index with %s", idx.Kind())
	}
	return r.eval(e)
}

func getKey(obj Value, key string, e Expr, strict bool) (Value, error) {
	d, ok := obj.(*DictValue)
	if !ok {
		if !strict {
			return NoneValue{}, nil
		}
		return nil, newError(KindTypeMismatch, e.Position(), "cannot look up %q in %s %s", key, obj.Kind(), ExprString(baseOf(e)))
	}
	if v, ok := d.Get(key); ok {
		return orNone(v), nil
	}
	if !strict {
		return NoneValue{}, nil
	}
	return nil, newError(KindUndefinedVariable, e.Position(), "%s has no key %q", ExprString(baseOf(e)), key)
}

func getIndex(obj Value, i int, e Expr, strict bool) (Value, error) {
	switch c := obj.(type) {
	case ListValue:
		if i < 0 {
			i += len(c)
		}
		if i >= 0 && i < len(c) {
			return orNone(c[i]), nil
		}
		if !strict {
			return NoneValue{}, nil
		}
		return nil, newError(KindUndefinedVariable, e.Position(), "index %d out of range for %s (length %d)", i, ExprString(baseOf(e)), len(c))
	case *DictValue:
		return getKey(obj, strconv.Itoa(i), e, strict)
	}
	if !strict {
		return NoneValue{}, nil
	}
	return nil, newError(KindTypeMismatch, e.Position(), "cannot index %s %s", obj.Kind(), ExprString(baseOf(e)))
}

func baseOf(e Expr) Expr {
	switch t := e.(type) {
	case *GetAttr:
		return t.Obj
	case *GetItem:
		return t.Obj
	}
	return e
}

// lookupDefined evaluates e for the default filter and the defined tests:
// a variable path that does not resolve reports ok=false instead of failing.
func (r *renderer) lookupDefined(e Expr) (v Value, ok bool, err error) {
	switch e.(type) {
	case *Name, *GetAttr, *GetItem:
		v, err = r.resolve(e, true)
		var ee *Error
		if errors.As(err, &ee) && ee.Kind == KindUndefinedVariable {
			return nil, false, nil
		}
		return v, err == nil, err
	}
	v, err = r.eval(e)
	return v, err == nil, err
}

func (r *renderer) evalUnary(u *UnaryExpr) (Value, error) {
	x, err := r.eval(u.X)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case "not":
		return BoolValue(!x.Truth()), nil
	case "-":
		switch n := x.(type) {
		case IntValue:
			if n == math.MinInt64 {
				return -FloatValue(n), nil
			}
			return -n, nil
		case FloatValue:
			return -n, nil
		}
		return nil, newError(KindTypeMismatch, u.Pos, "cannot negate %s", x.Kind())
	}
	return nil, newError(KindInvalidOperation, u.Pos, "unknown operator %q", u.Op)
}

func (r *renderer) evalBinary(b *BinaryExpr) (Value, error) {
	l, err := r.eval(b.L)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "and":
		if !l.Truth() {
			return BoolValue(false), nil
		}
		rv, err := r.eval(b.R)
		if err != nil {
			return nil, err
		}
		return BoolValue(rv.Truth()), nil
	case "or":
		if l.Truth() {
			return BoolValue(true), nil
		}
		rv, err := r.eval(b.R)
		if err != nil {
			return nil, err
		}
		return BoolValue(rv.Truth()), nil
	}
	rv, err := r.eval(b.R)
	if err != nil {
		return nil, err
	}
	return binaryOp(b.Op, l, rv, b.Pos)
}

func binaryOp(op string, l, r Value, pos Pos) (Value, error) {
	switch op {
	case "==":
		return BoolValue(Equal(l, r)), nil
	case "!=":
		return BoolValue(!Equal(l, r)), nil
	case "<", ">", "<=", ">=":
		c, err := compare(op, l, r, pos)
		if err != nil {
			return nil, err
		}
		return BoolValue(c), nil
	case "in", "not in":
		found, err := containsValue(l, r, pos)
		if err != nil {
			return nil, err
		}
		return BoolValue(found == (op == "in")), nil
	case "~":
		return StringValue(l.String() + r.String()), nil
	case "+", "-", "*", "/", "%":
		return arith(op, l, r, pos)
	}
	return nil, newError(KindInvalidOperation, pos, "unknown operator %q", op)
}

func compare(op string, l, r Value, pos Pos) (bool, error) {
	var c int
	if a, ok := toFloat(l); ok {
		b, ok := toFloat(r)
		if !ok {
			return false, mismatch(op, l, r, pos)
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	} else if a, ok := l.(StringValue); ok {
		b, ok := r.(StringValue)
		if !ok {
			return false, mismatch(op, l, r, pos)
		}
		c = strings.Compare(string(a), string(b))
	} else {
		return false, mismatch(op, l, r, pos)
	}
	switch op {
	case "<":
		return c < 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	}
	return c >= 0, nil
}

func mismatch(op string, l, r Value, pos Pos) error {
	return newError(KindTypeMismatch, pos, "operator %s is not defined for %s and %s", op, l.Kind(), r.Kind())
}

// containsValue implements "needle in haystack".
func containsValue(needle, haystack Value, pos Pos) (bool, error) {
	switch h := haystack.(type) {
	case StringValue:
		s, ok := needle.(StringValue)
		if !ok {
			return false, mismatch("in", needle, haystack, pos)
		}
		return strings.Contains(string(h), string(s)), nil
	case ListValue:
		for _, it := range h {
			if Equal(needle, it) {
				return true, nil
			}
		}
		return false, nil
	case *DictValue:
		s, ok := needle.(StringValue)
		if !ok {
			return false, mismatch("in", needle, haystack, pos)
		}
		_, found := h.Get(string(s))
		return found, nil
	}
	return false, mismatch("in", needle, haystack, pos)
}

// intArith applies op to integers, reporting false when the result does
// not fit in an int64.
func intArith(op string, a, b int64) (int64, bool) {
	switch op {
	case "+":
		c := a + b
		return c, (c > a) == (b > 0)
	case "-":
		c := a - b
		return c, (c < a) == (b > 0)
	case "*":
		if a == 0 || b == 0 {
			return 0, true
		}
		c := a * b
		if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
			return 0, false
		}
		return c, true
	}
	return 0, false
}

func arith(op string, l, r Value, pos Pos) (Value, error) {
	li, lInt := l.(IntValue)
	ri, rInt := r.(IntValue)
	if lInt && rInt && op != "/" {
		switch op {
		case "+", "-", "*":
			if v, ok := intArith(op, int64(li), int64(ri)); ok {
				return IntValue(v), nil
			}
			// out of int64 range, continue as float
		case "%":
			if ri == 0 {
				return nil, newError(KindInvalidOperation, pos, "modulo by zero")
			}
			return li % ri, nil
		}
	}
	a, aok := toFloat(l)
	b, bok := toFloat(r)
	if !aok || !bok {
		if op == "+" {
			switch lv := l.(type) {
			case StringValue:
				if rv, ok := r.(StringValue); ok {
					return lv + rv, nil
				}
			case ListValue:
				if rv, ok := r.(ListValue); ok {
					out := make(ListValue, 0, len(lv)+len(rv))
					return append(append(out, lv...), rv...), nil
				}
			}
		}
		return nil, mismatch(op, l, r, pos)
	}
	switch op {
	case "+":
		return FloatValue(a + b), nil
	case "-":
		return FloatValue(a - b), nil
	case "*":
		return FloatValue(a * b), nil
	case "/":
		if b == 0 {
			return nil, newError(KindInvalidOperation, pos, "division by zero")
		}
		return FloatValue(a / b), nil
	}
	if b == 0 {
		return nil, newError(KindInvalidOperation, pos, "modulo by zero")
	}
	return FloatValue(math.Mod(a, b)), nil
}

func (r *renderer) evalFilter(f *FilterExpr) (Value, error) {
	fn, ok := r.e.filters[f.Name]
	if !ok {
		return nil, newError(KindUnknownFilter, f.Pos, "filter %q is not defined", f.Name)
	}
	var in Value
	if f.Name == "default" {
		v, defined, err := r.lookupDefined(f.X)
		if err != nil {
			return nil, err
		}
		if !defined {
			v = nil
		}
		in = v
	} else {
		v, err := r.eval(f.X)
		if err != nil {
			return nil, err
		}
		in = v
	}
	args, err := r.evalArgs(f.Args)
	if err != nil {
		return nil, err
	}
	out, err := fn(in, args)
	if err != nil {
		return nil, filterError(err, f)
	}
	if out == nil {
		out = NoneValue{}
	}
	return out, nil
}

func (r *renderer) evalArgs(c CallArgs) (FilterArgs, error) {
	var args FilterArgs
	if len(c.Positional) > 0 {
		args.Positional = make([]Value, len(c.Positional))
		for i, a := range c.Positional {
			v, err := r.eval(a)
			if err != nil {
				return args, err
			}
			args.Positional[i] = v
		}
	}
	if len(c.Named) > 0 {
		args.Named = make(map[string]Value, len(c.Named))
		for _, a := range c.Named {
			v, err := r.eval(a.Value)
			if err != nil {
				return args, err
			}
			args.Named[a.Name] = v
		}
	}
	return args, nil
}

// filterError positions an error returned by a filter function. Plain
// errors become InvalidOperation.
func filterError(err error, f *FilterExpr) error {
	var ee *Error
	if errors.As(err, &ee) {
		if !ee.Pos.IsValid() {
			out := *ee
			out.Pos = f.Pos
			out.Msg = strings.TrimSuffix("filter "+quote(f.Name)+": "+out.Msg, ": ")
			return &out
		}
		return err
	}
	return &Error{Kind: KindInvalidOperation, Pos: f.Pos, Msg: "filter " + quote(f.Name), Err: err}
}

func (r *renderer) evalTest(t *TestExpr) (Value, error) {
	switch t.Name {
	case "defined", "undefined":
		_, ok, err := r.lookupDefined(t.X)
		if err != nil {
			return nil, err
		}
		if t.Name == "undefined" {
			ok = !ok
		}
		return BoolValue(ok != t.Negated), nil
	}
	fn, ok := r.e.tests[t.Name]
	if !ok {
		return nil, newError(KindUnknownFilter, t.Pos, "test %q is not defined", t.Name)
	}
	x, err := r.eval(t.X)
	if err != nil {
		return nil, err
	}
	args := make([]Value, len(t.Args))
	for i, a := range t.Args {
		if args[i], err = r.eval(a); err != nil {
			return nil, err
		}
	}
	res, err := fn(x, args)
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) && !ee.Pos.IsValid() {
			out := *ee
			out.Pos = t.Pos
			return nil, &out
		}
		return nil, err
	}
	return BoolValue(res != t.Negated), nil
}
