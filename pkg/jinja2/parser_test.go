package jinja2

import (
	"errors"
	"strings"
	"testing"
)

func TestParseTextAndOutput(t *testing.T) {
	doc, err := Parse("Hello {{ name }}!")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(doc.Nodes) != 3 {
		t.Fatalf("want 3 nodes, got %d", len(doc.Nodes))
	}
	if tn, ok := doc.Nodes[0].(*TextNode); !ok || tn.Text != "Hello " {
		t.Fatalf("node0 not Text('Hello '): %#v", doc.Nodes[0])
	}
	on, ok := doc.Nodes[1].(*OutputNode)
	if !ok {
		t.Fatalf("node1 not Output: %#v", doc.Nodes[1])
	}
	if n, ok := on.Expr.(*Name); !ok || n.Name != "name" {
		t.Fatalf("node1 expr not Name(name): %#v", on.Expr)
	}
	if tn, ok := doc.Nodes[2].(*TextNode); !ok || tn.Text != "!" {
		t.Fatalf("node2 not Text('!'): %#v", doc.Nodes[2])
	}
}

func TestParseExpressions(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a or b and not c", "(a or (b and not c))"},
		{"a == b or c != d", "((a == b) or (c != d))"},
		{"x | upper | default('a')", `x | upper | default("a")`},
		{"a.b[0].c", "a.b[0].c"},
		{"rows.1.0", "rows[1][0]"},
		{"x is not divisibleby(3)", "x is not divisibleby(3)"},
		{"x is none", "x is none"},
		{"m::f(1, b=2)", "m::f(1, b=2)"},
		{"x not in [1, 2,]", "(x not in [1, 2])"},
		{"-1", "-1"},
		{"-x", "-x"},
		{"'a' ~ b ~ 1.5", `(("a" ~ b) ~ 1.5)`},
		{"a + b ~ c", "((a + b) ~ c)"},
		{"1 < 2 == true", "((1 < 2) == true)"},
		{"None", "none"},
	}
	for _, tc := range cases {
		doc, err := Parse("{{ " + tc.src + " }}")
		if err != nil {
			t.Fatalf("%q: parse error: %v", tc.src, err)
		}
		got := ExprString(doc.Nodes[0].(*OutputNode).Expr)
		if got != tc.want {
			t.Fatalf("%q: got %s, want %s", tc.src, got, tc.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"{% for x in y %}", `unterminated "for" block`},
		{"{% if x %}{% endfor %}", `unexpected "endfor" tag`},
		{"{% macro m() %}{% endmacro n %}", `endmacro name "n" does not match`},
		{"{% macro m() %}{% endmacro %}", "endmacro must repeat the macro name"},
		{"{% macro m(a, a) %}{% endmacro m %}", "duplicate"},
		{"{% macro m() %}{% endmacro m %}{% macro m() %}{% endmacro m %}", `macro "m" is defined more than once`},
		{"{% bogus %}", `unknown tag "bogus"`},
		{"{% if x %}{% macro m() %}{% endmacro m %}{% endif %}", "only allowed at the top level"},
		{"{% import 'a' as self %}", `"self" cannot be used`},
		{"{% import 'a' as m %}{% import 'b' as m %}", "used more than once"},
		{"{{ m::f(a=1, 2) }}", "positional argument follows named argument"},
		{"{{ }}", "expected expression"},
		{"{{ a. }}", "expected attribute name"},
		{"{{ m::f }}", "'(' after macro name"},
		{"{% block a %}{% endblock b %}", `endblock name "b" does not match`},
		{"{% set in = 1 %}", "expected identifier"},
		{"{% for a, b, c in x %}{% endfor %}", "expected 'in'"},
		{"{{ 99999999999999999999 }}", "integer literal 99999999999999999999 out of range"},
		{"{{ x.99999999999999999999 }}", "integer literal 99999999999999999999 out of range"},
		{"{{ x.1.99999999999999999999 }}", "integer literal 99999999999999999999 out of range"},
	}
	for _, tc := range cases {
		_, err := Parse(tc.src)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("%q: want parse error, got %v", tc.src, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%q: error %q does not contain %q", tc.src, err, tc.want)
		}
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("line one\n  {% if x %}never closed")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("want *Error, got %v", err)
	}
	// reported at the tag name
	if e.Pos.Line != 2 || e.Pos.Col != 6 {
		t.Fatalf("error at %s, want 2:6", e.Pos)
	}
	if !strings.HasPrefix(err.Error(), "2:6: parse error: ") {
		t.Fatalf("unexpected message %q", err)
	}
}

func TestParseCollectsDeclarations(t *testing.T) {
	src := "{{ m::f() }}{% import 'lib' as m %}{% macro g(a, b=1) %}{% endmacro g %}"
	doc, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if got := doc.Imports["m"]; got != "lib" {
		t.Fatalf("import m -> %q, want lib", got)
	}
	g, ok := doc.Macros["g"]
	if !ok {
		t.Fatalf("macro g not collected")
	}
	if len(g.Params) != 2 || g.Params[0].Default != nil || g.Params[1].Default == nil {
		t.Fatalf("unexpected params %#v", g.Params)
	}
}

func TestParseLoopUsage(t *testing.T) {
	cases := []struct {
		src   string
		outer bool
	}{
		{"{% for x in y %}{{ loop.index }}{% endfor %}", true},
		{"{% for x in y %}{{ x }}{% endfor %}", false},
		{"{% for x in y %}{% if loop.last %}.{% endif %}{% endfor %}", true},
		{"{% for x in y %}{% for z in x %}{{ loop.index }}{% endfor %}{% endfor %}", false},
		{"{% for x in y %}{% for z in loop.index %}{% endfor %}{% endfor %}", true},
		{"{% for x in y %}{{ x | default(loop.length) }}{% endfor %}", true},
	}
	for _, tc := range cases {
		doc, err := Parse(tc.src)
		if err != nil {
			t.Fatalf("%q: parse error: %v", tc.src, err)
		}
		f := doc.Nodes[0].(*ForNode)
		if f.UsesLoop != tc.outer {
			t.Fatalf("%q: UsesLoop = %v, want %v", tc.src, f.UsesLoop, tc.outer)
		}
	}
}

func TestPretty(t *testing.T) {
	doc, err := Parse("A{{ x }}{% for k, v in d %}{% if v %}{{ k }}{% endif %}{% endfor %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	s := Pretty(doc)
	for _, want := range []string{"Document\n", "  Text(\"A\")\n", "  Output(x)\n", "  For(k, v in d)\n", "    If(v)\n", "      Output(k)\n"} {
		if !strings.Contains(s, want) {
			t.Fatalf("pretty output missing %q:\n%s", want, s)
		}
	}
}

func TestWalkVisitsNestedNodes(t *testing.T) {
	doc, err := Parse("{% macro m() %}{% for x in y %}{% break %}{% endfor %}{% endmacro m %}{% block b %}{{ z }}{% endblock %}")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	var kinds []string
	err = Walk(VisitorFunc(func(n Node) error {
		switch n.(type) {
		case *MacroNode:
			kinds = append(kinds, "macro")
		case *ForNode:
			kinds = append(kinds, "for")
		case *BreakNode:
			kinds = append(kinds, "break")
		case *BlockNode:
			kinds = append(kinds, "block")
		case *OutputNode:
			kinds = append(kinds, "output")
		}
		return nil
	}), doc)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if got := strings.Join(kinds, ","); got != "macro,for,break,block,output" {
		t.Fatalf("visited %s", got)
	}
}
