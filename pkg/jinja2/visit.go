package jinja2

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

type Visitor interface {
	Visit(n Node) error
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(n Node) error

func (f VisitorFunc) Visit(n Node) error { return f(n) }

// Walk visits n and then every statement nested under it, depth first.
// Macro and block bodies are visited too.
func Walk(v Visitor, n Node) error {
	if err := v.Visit(n); err != nil {
		return err
	}
	for _, body := range children(n) {
		for _, c := range body {
			if err := Walk(v, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func children(n Node) [][]Node {
	switch t := n.(type) {
	case *Document:
		return [][]Node{t.Nodes}
	case *IfNode:
		out := make([][]Node, 0, len(t.Branches)+1)
		for _, b := range t.Branches {
			out = append(out, b.Body)
		}
		return append(out, t.Else)
	case *ForNode:
		return [][]Node{t.Body, t.Else}
	case *MacroNode:
		return [][]Node{t.Body}
	case *BlockNode:
		return [][]Node{t.Body}
	}
	return nil
}

// exprs returns the expressions held directly by n.
func exprs(n Node) []Expr {
	switch t := n.(type) {
	case *OutputNode:
		return []Expr{t.Expr}
	case *SetNode:
		return []Expr{t.Expr}
	case *IfNode:
		out := make([]Expr, len(t.Branches))
		for i, b := range t.Branches {
			out[i] = b.Cond
		}
		return out
	case *ForNode:
		return []Expr{t.Iterable}
	case *MacroNode:
		var out []Expr
		for _, p := range t.Params {
			if p.Default != nil {
				out = append(out, p.Default)
			}
		}
		return out
	}
	return nil
}

// WalkExpr calls fn for e and every subexpression. Returning false stops
// the descent below that expression.
func WalkExpr(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch t := e.(type) {
	case *GetAttr:
		WalkExpr(t.Obj, fn)
	case *GetItem:
		WalkExpr(t.Obj, fn)
		WalkExpr(t.Index, fn)
	case *UnaryExpr:
		WalkExpr(t.X, fn)
	case *BinaryExpr:
		WalkExpr(t.L, fn)
		WalkExpr(t.R, fn)
	case *ListExpr:
		for _, it := range t.Items {
			WalkExpr(it, fn)
		}
	case *FilterExpr:
		WalkExpr(t.X, fn)
		walkArgs(t.Args, fn)
	case *TestExpr:
		WalkExpr(t.X, fn)
		for _, a := range t.Args {
			WalkExpr(a, fn)
		}
	case *MacroCall:
		walkArgs(t.Args, fn)
	}
}

func walkArgs(args CallArgs, fn func(Expr) bool) {
	for _, a := range args.Positional {
		WalkExpr(a, fn)
	}
	for _, a := range args.Named {
		WalkExpr(a.Value, fn)
	}
}

// references reports whether any expression in nodes reads the variable name.
// For "loop" the bodies of nested for statements are skipped since each binds
// its own.
func references(nodes []Node, name string) bool {
	found := false
	var visit func(n Node) error
	visit = func(n Node) error {
		if found {
			return errStop
		}
		if f, ok := n.(*ForNode); ok && name == "loop" {
			// the inner loop shadows ours, but its iterable is evaluated
			// in our scope
			scan(f.Iterable, name, &found)
			if references(f.Else, name) {
				found = true
			}
			return nil
		}
		for _, e := range exprs(n) {
			scan(e, name, &found)
		}
		if found {
			return errStop
		}
		for _, body := range children(n) {
			for _, c := range body {
				if err := visit(c); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, n := range nodes {
		if visit(n) != nil {
			break
		}
	}
	return found
}

var errStop = errors.New("stop")

func scan(e Expr, name string, found *bool) {
	WalkExpr(e, func(x Expr) bool {
		if n, ok := x.(*Name); ok && n.Name == name {
			*found = true
		}
		return !*found
	})
}

// Pretty returns a line-oriented string representation of the AST.
func Pretty(doc *Document) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, doc)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n Node) {
	ind := func(i int) { buf.WriteString(strings.Repeat(" ", i)) }
	body := func(nodes []Node) {
		for _, c := range nodes {
			ppNode(buf, indent+2, c)
		}
	}
	ind(indent)
	switch t := n.(type) {
	case *Document:
		buf.WriteString("Document\n")
		body(t.Nodes)
	case *TextNode:
		fmt.Fprintf(buf, "Text(%q)\n", t.Text)
	case *OutputNode:
		fmt.Fprintf(buf, "Output(%s)\n", ExprString(t.Expr))
	case *SetNode:
		kw := "Set"
		if t.Global {
			kw = "SetGlobal"
		}
		fmt.Fprintf(buf, "%s(%s = %s)\n", kw, t.Name, ExprString(t.Expr))
	case *IfNode:
		for i, b := range t.Branches {
			if i > 0 {
				ind(indent)
				fmt.Fprintf(buf, "Elif(%s)\n", ExprString(b.Cond))
			} else {
				fmt.Fprintf(buf, "If(%s)\n", ExprString(b.Cond))
			}
			body(b.Body)
		}
		if len(t.Else) > 0 {
			ind(indent)
			buf.WriteString("Else\n")
			body(t.Else)
		}
	case *ForNode:
		target := t.Value
		if t.Key != "" {
			target = t.Key + ", " + t.Value
		}
		fmt.Fprintf(buf, "For(%s in %s)\n", target, ExprString(t.Iterable))
		body(t.Body)
		if len(t.Else) > 0 {
			ind(indent)
			buf.WriteString("Else\n")
			body(t.Else)
		}
	case *BreakNode:
		buf.WriteString("Break\n")
	case *ContinueNode:
		buf.WriteString("Continue\n")
	case *MacroNode:
		params := make([]string, len(t.Params))
		for i, p := range t.Params {
			params[i] = p.Name
			if p.Default != nil {
				params[i] += "=" + ExprString(p.Default)
			}
		}
		fmt.Fprintf(buf, "Macro(%s(%s))\n", t.Name, strings.Join(params, ", "))
		body(t.Body)
	case *ImportNode:
		fmt.Fprintf(buf, "Import(%q as %s)\n", t.Template, t.Alias)
	case *BlockNode:
		fmt.Fprintf(buf, "Block(%s)\n", t.Name)
		body(t.Body)
	case *ExtendsNode:
		fmt.Fprintf(buf, "Extends(%q)\n", t.Template)
	case *IncludeNode:
		if t.IgnoreMissing {
			fmt.Fprintf(buf, "Include(%q ignore missing)\n", t.Template)
		} else {
			fmt.Fprintf(buf, "Include(%q)\n", t.Template)
		}
	default:
		fmt.Fprintf(buf, "%T\n", n)
	}
}

// ExprString formats an expression back into template syntax, fully
// parenthesised for binary operators.
func ExprString(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch t := e.(type) {
	case *Literal:
		switch v := t.Val.(type) {
		case StringValue:
			b.WriteString(quote(string(v)))
		case NoneValue:
			b.WriteString("none")
		default:
			b.WriteString(v.String())
		}
	case *Name:
		b.WriteString(t.Name)
	case *GetAttr:
		writeExpr(b, t.Obj)
		b.WriteByte('.')
		b.WriteString(t.Attr)
	case *GetItem:
		writeExpr(b, t.Obj)
		b.WriteByte('[')
		writeExpr(b, t.Index)
		b.WriteByte(']')
	case *UnaryExpr:
		b.WriteString(t.Op)
		if t.Op == "not" {
			b.WriteByte(' ')
		}
		writeExpr(b, t.X)
	case *BinaryExpr:
		b.WriteByte('(')
		writeExpr(b, t.L)
		b.WriteString(" " + t.Op + " ")
		writeExpr(b, t.R)
		b.WriteByte(')')
	case *ListExpr:
		b.WriteByte('[')
		for i, it := range t.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, it)
		}
		b.WriteByte(']')
	case *FilterExpr:
		writeExpr(b, t.X)
		b.WriteString(" | ")
		b.WriteString(t.Name)
		if len(t.Args.Positional)+len(t.Args.Named) > 0 {
			writeArgs(b, t.Args)
		}
	case *TestExpr:
		writeExpr(b, t.X)
		b.WriteString(" is ")
		if t.Negated {
			b.WriteString("not ")
		}
		b.WriteString(t.Name)
		if len(t.Args) > 0 {
			writeArgs(b, CallArgs{Positional: t.Args})
		}
	case *MacroCall:
		b.WriteString(t.Namespace + "::" + t.Name)
		writeArgs(b, t.Args)
	default:
		fmt.Fprintf(b, "%T", e)
	}
}

func writeArgs(b *strings.Builder, args CallArgs) {
	b.WriteByte('(')
	n := 0
	for _, a := range args.Positional {
		if n > 0 {
			b.WriteString(", ")
		}
		writeExpr(b, a)
		n++
	}
	for _, a := range args.Named {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Name + "=")
		writeExpr(b, a.Value)
		n++
	}
	b.WriteByte(')')
}
