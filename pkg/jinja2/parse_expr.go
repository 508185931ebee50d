package jinja2

import (
	"strconv"
	"strings"
)

// Expression grammar, lowest precedence first:
//
//	or, and, not, comparison (== != < > <= >= in, not in, is),
//	~, + -, * / %, unary -, filter |, postfix . and [].

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokName || t.val != "or" {
			return l, nil
		}
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: "or", L: l, R: r, Pos: t.pos}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokName || t.val != "and" {
			return l, nil
		}
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: "and", L: l, R: r, Pos: t.pos}
	}
}

func (p *parser) parseNot() (Expr, error) {
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if t.kind == tokName && t.val == "not" {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "not", X: x, Pos: t.pos}, nil
	}
	return p.parseCompare()
}

var comparisonOps = map[string]bool{"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true}

func (p *parser) parseCompare() (Expr, error) {
	l, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		var op string
		switch {
		case t.kind == tokOp && comparisonOps[t.val]:
			op = t.val
		case t.kind == tokName && t.val == "in":
			op = "in"
		case t.kind == tokName && t.val == "not":
			p.next()
			if _, err := p.expect(tokName, "in"); err != nil {
				return nil, err
			}
			r, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			l = &BinaryExpr{Op: "not in", L: l, R: r, Pos: t.pos}
			continue
		case t.kind == tokName && t.val == "is":
			p.next()
			if l, err = p.parseTest(l, t); err != nil {
				return nil, err
			}
			continue
		default:
			return l, nil
		}
		p.next()
		r, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: op, L: l, R: r, Pos: t.pos}
	}
}

func (p *parser) parseTest(x Expr, is token) (Expr, error) {
	te := &TestExpr{X: x, Pos: is.pos}
	if ok, err := p.accept(tokName, "not"); err != nil {
		return nil, err
	} else if ok {
		te.Negated = true
	}
	name, err := p.next()
	if err != nil {
		return nil, err
	}
	// "none" is a keyword elsewhere but a valid test name.
	if name.kind != tokName {
		return nil, p.unexpected(name, "test name")
	}
	te.Name = name.val
	if ok, err := p.peekIs(tokOp, "("); err != nil {
		return nil, err
	} else if ok {
		args, err := p.parseCallArgs()
		if err != nil {
			return nil, err
		}
		if len(args.Named) > 0 {
			return nil, newError(KindParse, name.pos, "test %q takes positional arguments only", te.Name)
		}
		te.Args = args.Positional
	}
	return te, nil
}

func (p *parser) parseBinary(next func() (Expr, error), ops ...string) (Expr, error) {
	l, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokOp || !contains(ops, t.val) {
			return l, nil
		}
		p.next()
		r, err := next()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: t.val, L: l, R: r, Pos: t.pos}
	}
}

func contains(ops []string, s string) bool {
	for _, op := range ops {
		if op == s {
			return true
		}
	}
	return false
}

func (p *parser) parseConcat() (Expr, error) { return p.parseBinary(p.parseAdditive, "~") }

func (p *parser) parseAdditive() (Expr, error) { return p.parseBinary(p.parseMul, "+", "-") }

func (p *parser) parseMul() (Expr, error) { return p.parseBinary(p.parseUnary, "*", "/", "%") }

func (p *parser) parseUnary() (Expr, error) {
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if t.kind == tokOp && t.val == "-" {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok {
			switch n := lit.Val.(type) {
			case IntValue:
				return &Literal{Val: -n, Pos: t.pos}, nil
			case FloatValue:
				return &Literal{Val: -n, Pos: t.pos}, nil
			}
		}
		return &UnaryExpr{Op: "-", X: x, Pos: t.pos}, nil
	}
	return p.parseFilter()
}

func (p *parser) parseFilter() (Expr, error) {
	x, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for {
		pipe, err := p.peek()
		if err != nil {
			return nil, err
		}
		if pipe.kind != tokOp || pipe.val != "|" {
			return x, nil
		}
		p.next()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		f := &FilterExpr{X: x, Name: name.val, Pos: name.pos}
		if ok, err := p.peekIs(tokOp, "("); err != nil {
			return nil, err
		} else if ok {
			if f.Args, err = p.parseCallArgs(); err != nil {
				return nil, err
			}
		}
		x = f
	}
}

func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if t.kind != tokOp {
			return x, nil
		}
		switch t.val {
		case ".":
			p.next()
			attr, err := p.next()
			if err != nil {
				return nil, err
			}
			switch attr.kind {
			case tokName:
				x = &GetAttr{Obj: x, Attr: attr.val, Pos: attr.pos}
			case tokInt:
				idx, err := intLiteral(attr)
				if err != nil {
					return nil, err
				}
				x = &GetItem{Obj: x, Index: idx, Pos: attr.pos}
			case tokFloat:
				// a.0.1 lexes the indices as one float.
				a, b, _ := strings.Cut(attr.val, ".")
				for _, part := range []string{a, b} {
					idx, err := intLiteral(token{val: part, pos: attr.pos})
					if err != nil {
						return nil, err
					}
					x = &GetItem{Obj: x, Index: idx, Pos: attr.pos}
				}
			default:
				return nil, p.unexpected(attr, "attribute name")
			}
		case "[":
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokOp, "]"); err != nil {
				return nil, err
			}
			x = &GetItem{Obj: x, Index: idx, Pos: t.pos}
		default:
			return x, nil
		}
	}
}

func intLiteral(t token) (*Literal, error) {
	n, err := strconv.ParseInt(t.val, 10, 64)
	if err != nil {
		return nil, newError(KindParse, t.pos, "integer literal %s out of range", t.val)
	}
	return &Literal{Val: IntValue(n), Pos: t.pos}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tokInt:
		return intLiteral(t)
	case tokFloat:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, newError(KindParse, t.pos, "invalid float literal %s", t.val)
		}
		return &Literal{Val: FloatValue(f), Pos: t.pos}, nil
	case tokString:
		return &Literal{Val: StringValue(t.val), Pos: t.pos}, nil
	case tokName:
		switch t.val {
		case "true", "True":
			return &Literal{Val: BoolValue(true), Pos: t.pos}, nil
		case "false", "False":
			return &Literal{Val: BoolValue(false), Pos: t.pos}, nil
		case "none", "None":
			return &Literal{Val: NoneValue{}, Pos: t.pos}, nil
		}
		if keywords[t.val] {
			return nil, p.unexpected(t, "expression")
		}
		if ok, err := p.accept(tokOp, "::"); err != nil {
			return nil, err
		} else if ok {
			return p.parseMacroCall(t)
		}
		return &Name{Name: t.val, Pos: t.pos}, nil
	case tokOp:
		switch t.val {
		case "(":
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokOp, ")"); err != nil {
				return nil, err
			}
			return e, nil
		case "[":
			return p.parseList(t)
		}
	}
	return nil, p.unexpected(t, "expression")
}

func (p *parser) parseList(open token) (*ListExpr, error) {
	l := &ListExpr{Pos: open.pos}
	for {
		if ok, err := p.accept(tokOp, "]"); err != nil {
			return nil, err
		} else if ok {
			return l, nil
		}
		if len(l.Items) > 0 {
			if _, err := p.expect(tokOp, ","); err != nil {
				return nil, err
			}
			// trailing comma
			if ok, err := p.accept(tokOp, "]"); err != nil {
				return nil, err
			} else if ok {
				return l, nil
			}
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, item)
	}
}

func (p *parser) parseMacroCall(ns token) (*MacroCall, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if ok, err := p.peekIs(tokOp, "("); err != nil {
		return nil, err
	} else if !ok {
		t, _ := p.peek()
		return nil, p.unexpected(t, "'(' after macro name")
	}
	args, err := p.parseCallArgs()
	if err != nil {
		return nil, err
	}
	return &MacroCall{Namespace: ns.val, Name: name.val, Args: args, Pos: ns.pos}, nil
}

// parseCallArgs parses "(a, b, name=c)". Named arguments must follow the
// positional ones.
func (p *parser) parseCallArgs() (CallArgs, error) {
	var args CallArgs
	if _, err := p.expect(tokOp, "("); err != nil {
		return args, err
	}
	for {
		if ok, err := p.accept(tokOp, ")"); err != nil {
			return args, err
		} else if ok {
			return args, nil
		}
		if len(args.Positional)+len(args.Named) > 0 {
			if _, err := p.expect(tokOp, ","); err != nil {
				return args, err
			}
		}
		t0, err := p.peekAt(0)
		if err != nil {
			return args, err
		}
		t1, err := p.peekAt(1)
		if err != nil {
			return args, err
		}
		if t0.kind == tokName && t1.kind == tokOp && t1.val == "=" {
			p.next()
			p.next()
			val, err := p.parseExpr()
			if err != nil {
				return args, err
			}
			for _, na := range args.Named {
				if na.Name == t0.val {
					return args, newError(KindParse, t0.pos, "argument %q given more than once", t0.val)
				}
			}
			args.Named = append(args.Named, NamedArg{Name: t0.val, Value: val})
			continue
		}
		if len(args.Named) > 0 {
			return args, newError(KindParse, t0.pos, "positional argument follows named argument")
		}
		val, err := p.parseExpr()
		if err != nil {
			return args, err
		}
		args.Positional = append(args.Positional, val)
	}
}
