package jinja2

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func renderHelper(t *testing.T, tpl string, ctx Context, opts ...Option) (string, error) {
	t.Helper()
	return TemplateString(tpl).Render(ctx, opts...)
}

func sampleDict() *DictValue {
	return NewDict(2).Set("a", IntValue(1)).Set("b", IntValue(2))
}

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		ctx  map[string]any
		want string
	}{
		{"filters chain", "Hello {{ name|upper|default('Anon') }}!", map[string]any{"name": "world"}, "Hello WORLD!"},
		{"default on missing", "Hello {{ name|default('Anon') }}!", nil, "Hello Anon!"},
		{"default keeps falsy", "{{ n | default(5) }}", map[string]any{"n": 0}, "0"},
		{"if", "{% if a %}A{% elif b %}B{% else %}C{% endif %}", map[string]any{"a": true, "b": true}, "A"},
		{"elif", "{% if a %}A{% elif b %}B{% else %}C{% endif %}", map[string]any{"a": false, "b": true}, "B"},
		{"else", "{% if a %}A{% elif b %}B{% else %}C{% endif %}", map[string]any{"a": 0, "b": ""}, "C"},
		{"for", "{% for x in items %}-{{ x }}{% else %}empty{% endfor %}", map[string]any{"items": []int{1, 2}}, "-1-2"},
		{"for else", "{% for x in items %}-{{ x }}{% else %}empty{% endfor %}", map[string]any{"items": []int{}}, "empty"},
		{"set", "{% set greeting = 'hi' %}{{ greeting }}", nil, "hi"},
		{"raw and comments", "A{# comment #}B{% raw %} {{ not_parsed }} {% endraw %}C", nil, "AB {{ not_parsed }} C"},
		{"loop last", "{% for x in xs %}{{ x }}{% if not loop.last %},{% endif %}{% endfor %}", map[string]any{"xs": []string{"one", "two", "three"}}, "one,two,three"},
		{"loop fields", "{% for x in xs %}{{ loop.index }}{{ loop.index0 }}{{ loop.first }}{{ loop.length }};{% endfor %}", map[string]any{"xs": []string{"a", "b"}}, "10true2;21false2;"},
		{"dict key value", "{% for k, v in d %}{{ k }}={{ v }};{% endfor %}", map[string]any{"d": sampleDict()}, "a=1;b=2;"},
		{"dict keys", "{% for k in d %}{{ k }}{% endfor %}", map[string]any{"d": sampleDict()}, "ab"},
		{"continue", "{% for i in xs %}{% if i is odd %}{% continue %}{% endif %}{{ i }}{% endfor %}", map[string]any{"xs": []int{1, 2, 3, 4, 5}}, "24"},
		{"break inner only", "{% for a in xs %}{% for b in xs %}{% if b > 1 %}{% break %}{% endif %}{{ a }}{{ b }} {% endfor %}{% endfor %}", map[string]any{"xs": []int{1, 2, 3}}, "11 21 31 "},
		{"arithmetic", "{{ 1 + 2 * 3 }}|{{ 7 / 2 }}|{{ 7 % 3 }}|{{ 2.5 * 2 }}|{{ x | abs }}|{{ 10 - 2.5 }}", map[string]any{"x": -3}, "7|3.5|1|5|3|7.5"},
		{"concat", "{{ 'a' ~ 1 ~ true ~ none }}", nil, "a1true"},
		{"string plus", "{{ 'a' + 'b' }}", nil, "ab"},
		{"comparisons", "{{ 2 > 1 }} {{ 'a' < 'b' }} {{ 1 == 1.0 }} {{ [1, 2] == [1, 2] }} {{ 2 <= 1 }}", nil, "true true true true false"},
		{"in", "{{ 'ell' in 'hello' }} {{ 2 in [1, 2] }} {{ 'a' in d }} {{ 3 not in [1, 2] }}", map[string]any{"d": sampleDict()}, "true true true true"},
		{"logic", "{{ a and b or c }} {{ not a }}", map[string]any{"a": true, "b": false, "c": true}, "true false"},
		{"list literal index", "{{ [10, 20, 30][1] }} {{ xs[-1] }}", map[string]any{"xs": []int{1, 2, 3}}, "20 3"},
		{"numeric path", "{{ rows.1.0 }}", map[string]any{"rows": [][]int{{1, 2}, {3, 4}}}, "3"},
		{"dict by index", "{{ d[k] }}", map[string]any{"d": sampleDict(), "k": "b"}, "2"},
		{"whitespace control", "a  {%- if true -%}  b  {%- endif -%}  c", nil, "abc"},
		{"set in if is visible", "{% if true %}{% set x = 1 %}{% endif %}{{ x }}", nil, "1"},
		{"set_global from loop", "{% for i in xs %}{% set_global last = i %}{% endfor %}{{ last }}", map[string]any{"xs": []int{1, 2, 3}}, "3"},
		{"loop shadows", "{% set x = 'outer' %}{% for x in ['a'] %}{{ x }}{% endfor %}{{ x }}", nil, "aouter"},
		{"set shadows context", "{% set name = 'local' %}{{ name }}", map[string]any{"name": "ctx"}, "local"},
		{"list output", "{{ xs }}|{{ d }}|{{ none }}|{{ 1.50 }}", map[string]any{"xs": []any{"a", 1}, "d": sampleDict()}, "[a, 1]|[object]||1.5"},
		{"tests", "{{ x is defined }} {{ y is undefined }} {{ none is none }} {{ 4 is even }} {{ 9 is divisibleby(3) }} {{ d is object }} {{ xs is iterable }} {{ 'a' is string }} {{ 1.5 is number }} {{ x is not string }}",
			map[string]any{"x": 1, "d": sampleDict(), "xs": []int{}}, "true true true true true true true true true true"},
		{"defined path", "{{ d.a is defined }} {{ d.z is defined }}", map[string]any{"d": sampleDict()}, "true false"},
	}
	for _, tc := range cases {
		got, err := renderHelper(t, tc.tpl, NewContextFromAny(tc.ctx))
		if err != nil {
			t.Fatalf("%s: render error: %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s: output mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestFilters(t *testing.T) {
	ctx := NewContextFromAny(map[string]any{"d": sampleDict()})
	cases := []struct {
		tpl  string
		want string
	}{
		{"{{ 'hello world' | title }}", "Hello World"},
		{"{{ 'hELLO wORLD' | capitalize }}", "Hello world"},
		{"{{ 'MiXed' | lower }}{{ 'x' | upper }}", "mixedX"},
		{"[{{ '  pad  ' | trim }}]", "[pad]"},
		{"{{ [1, 2, 3] | join(', ') }}", "1, 2, 3"},
		{"{{ [1, 2, 3] | join(sep='-') }}", "1-2-3"},
		{"{{ 'aXbX' | replace('X', '-') }}", "a-b-"},
		{"{{ 'héllo' | length }} {{ [1, 2] | length }} {{ d | length }}", "5 2 2"},
		{"{{ [4, 5, 6] | first }}{{ [4, 5, 6] | last }}{{ 'abc' | first }}", "46a"},
		{"{{ [1, 2, 3] | reverse | join }}{{ 'abc' | reverse }}", "321cba"},
		{"{{ '42' | int + 1 }} {{ 3.9 | int }} {{ '2.5' | float }} {{ 2 | float }}", "43 3 2.5 2"},
		{"{{ 2.567 | round(2) }} {{ 2.5 | round }}", "2.57 3"},
		{"{{ 'abcdef' | truncate(3) }} {{ 'abc' | truncate(5) }} {{ 'abcdef' | truncate(length=2, end='!') }}", "abc... abc ab!"},
		{"{{ '<a href=\"x\">' | escape }}", "&lt;a href=&#34;x&#34;&gt;"},
		{"{{ d | keys | join(',') }}", "a,b"},
		{"{{ [3, 1, 2] | sort | join }} {{ ['b', 'a'] | sort | join }}", "123 ab"},
		{"{{ 12 | string ~ 'x' }}", "12x"},
	}
	for _, tc := range cases {
		got, err := renderHelper(t, tc.tpl, ctx)
		if err != nil {
			t.Fatalf("%s: render error: %v", tc.tpl, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.tpl, got, tc.want)
		}
	}
}

func TestCustomFilterAndTest(t *testing.T) {
	shout := func(in Value, args FilterArgs) (Value, error) {
		return StringValue(in.String() + "!"), nil
	}
	short := func(v Value, args []Value) (bool, error) {
		return len(v.String()) < 3, nil
	}
	got, err := renderHelper(t, "{{ 'hey' | shout }} {{ 'ab' is short }}", nil,
		WithFilter("shout", shout), WithTest("short", short))
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "hey! true" {
		t.Fatalf("got %q", got)
	}
}

func TestMacros(t *testing.T) {
	greet := "{% macro greet(name, greeting='Hello') %}{{ greeting }}, {{ name }}!{% endmacro greet %}"
	cases := []struct {
		name string
		tpl  string
		ctx  map[string]any
		want string
	}{
		{"defaults and named", greet + "{{ self::greet('Bob') }} {{ self::greet(name='Ann', greeting='Hi') }}", nil, "Hello, Bob! Hi, Ann!"},
		{"positional then named", greet + "{{ self::greet('Bob', greeting='Yo') }}", nil, "Yo, Bob!"},
		{"default uses earlier param", "{% macro f(a, b=a ~ 'x') %}{{ b }}{% endmacro f %}{{ self::f('q') }}", nil, "qx"},
		{"recursion", "{% macro count(n) %}{{ n }}{% if n > 0 %}{{ self::count(n - 1) }}{% endif %}{% endmacro count %}{{ self::count(3) }}", nil, "3210"},
		{"context visible", "{% macro m() %}{{ c }}{% endmacro m %}{{ self::m() }}", map[string]any{"c": 5}, "5"},
		{"macro defined after use", "{{ self::m() }}{% macro m() %}late{% endmacro m %}", nil, "late"},
		{"macro output is a string", "{% macro m() %}7{% endmacro m %}{{ self::m() ~ self::m() }} {{ self::m() is string }}", nil, "77 true"},
		{"loop inside macro", "{% macro m(xs) %}{% for x in xs %}{% if x > 1 %}{% break %}{% endif %}{{ x }}{% endfor %}{% endmacro m %}{{ self::m([1, 2, 3]) }}", nil, "1"},
	}
	for _, tc := range cases {
		got, err := renderHelper(t, tc.tpl, NewContextFromAny(tc.ctx))
		if err != nil {
			t.Fatalf("%s: render error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestMacroScopeIsolation(t *testing.T) {
	// the caller's sets are not visible inside the macro
	_, err := renderHelper(t, "{% set y = 1 %}{% macro m() %}{{ y }}{% endmacro m %}{{ self::m() }}", nil)
	if !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("want undefined variable inside macro, got %v", err)
	}
	// the macro's sets are not visible after the call
	_, err = renderHelper(t, "{% macro m() %}{% set z = 1 %}{% endmacro m %}{{ self::m() }}{{ z }}", nil)
	if !errors.Is(err, ErrUndefinedVariable) {
		t.Fatalf("want undefined variable after macro, got %v", err)
	}
	// arguments are bound by value, the caller's binding is untouched
	got, err := renderHelper(t, "{% macro m(y) %}{% set y = 'in' %}{{ y }}{% endmacro m %}{% set y = 'out' %}{{ self::m(y) }}{{ y }}", nil)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if got != "inout" {
		t.Fatalf("got %q, want inout", got)
	}
}

func TestRenderErrors(t *testing.T) {
	greet := "{% macro greet(name, greeting='Hello') %}{% endmacro greet %}"
	cases := []struct {
		name string
		tpl  string
		ctx  map[string]any
		want error
	}{
		{"undefined variable", "{{ missing }}", nil, ErrUndefinedVariable},
		{"missing key", "{{ d.z }}", map[string]any{"d": sampleDict()}, ErrUndefinedVariable},
		{"index out of range", "{{ xs[5] }}", map[string]any{"xs": []int{1}}, ErrUndefinedVariable},
		{"attribute of scalar", "{{ x.y }}", map[string]any{"x": 1}, ErrTypeMismatch},
		{"attribute of none", "{{ n.a }}", map[string]any{"n": nil}, ErrTypeMismatch},
		{"index of string", "{{ s[0] }}", map[string]any{"s": "abc"}, ErrTypeMismatch},
		{"compare mixed", "{{ 1 < 'a' }}", nil, ErrTypeMismatch},
		{"arith mixed", "{{ 1 + 'a' }}", nil, ErrTypeMismatch},
		{"negate string", "{{ -s }}", map[string]any{"s": "a"}, ErrTypeMismatch},
		{"iterate string", "{% for c in 'abc' %}{% endfor %}", nil, ErrTypeMismatch},
		{"iterate none", "{% for c in none %}{% endfor %}", nil, ErrTypeMismatch},
		{"unpack list", "{% for k, v in [1] %}{% endfor %}", nil, ErrTypeMismatch},
		{"filter input", "{{ 1 | upper }}", nil, ErrTypeMismatch},
		{"unknown filter", "{{ 1 | nope }}", nil, ErrUnknownFilter},
		{"unknown test", "{{ 1 is nope }}", nil, ErrUnknownFilter},
		{"division by zero", "{{ 1 / 0 }}", nil, ErrInvalidOperation},
		{"modulo by zero", "{{ 1 % 0 }}", nil, ErrInvalidOperation},
		{"bad int", "{{ 'x' | int }}", nil, ErrInvalidOperation},
		{"too many filter args", "{{ 'a' | upper(1) }}", nil, ErrArgument},
		{"too many args", greet + "{{ self::greet(1, 2, 3) }}", nil, ErrArgument},
		{"unknown named arg", greet + "{{ self::greet(1, nope=2) }}", nil, ErrArgument},
		{"arg given twice", greet + "{{ self::greet(1, name=2) }}", nil, ErrArgument},
		{"missing required", greet + "{{ self::greet(greeting='x') }}", nil, ErrArgument},
		{"undefined macro", "{{ self::nope() }}", nil, ErrUndefinedMacro},
		{"unknown alias", "{{ other::f() }}", nil, ErrUndefinedMacro},
		{"import not registered", "{% import 'missing' as m %}{{ m::f() }}", nil, ErrImportNotFound},
		{"infinite recursion", "{% macro f() %}{{ self::f() }}{% endmacro f %}{{ self::f() }}", nil, ErrRecursionLimit},
		{"break at top level", "a{% break %}", nil, ErrBreakOutsideLoop},
		{"continue in if", "{% if true %}{% continue %}{% endif %}", nil, ErrBreakOutsideLoop},
		{"break inside macro called in loop", "{% macro m() %}{% break %}{% endmacro m %}{% for i in [1] %}{{ self::m() }}{% endfor %}", nil, ErrBreakOutsideLoop},
		{"set in loop is local", "{% for i in [1] %}{% set y = i %}{% endfor %}{{ y }}", nil, ErrUndefinedVariable},
		{"upper of missing", "{{ name | upper }}", nil, ErrUndefinedVariable},
	}
	for _, tc := range cases {
		got, err := renderHelper(t, tc.tpl, NewContextFromAny(tc.ctx))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, err)
		}
		if got != "" {
			t.Fatalf("%s: failed render returned output %q", tc.name, got)
		}
	}
}

func TestErrorCarriesPosition(t *testing.T) {
	_, err := renderHelper(t, "line\n  {{ user.name }}", NewContextFromAny(map[string]any{"user": map[string]any{}}))
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("want *Error, got %v", err)
	}
	if e.Kind != KindUndefinedVariable || e.Pos.Line != 2 || e.Template != "<string>" {
		t.Fatalf("unexpected error %#v", e)
	}
	want := `<string>:2:11: undefined variable: user has no key "name"`
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestRecursionDepthOption(t *testing.T) {
	tpl := "{% macro count(n) %}{% if n > 0 %}{{ self::count(n - 1) }}{% endif %}{% endmacro count %}{{ self::count(depth) }}"
	ctx := NewContext().Insert("depth", 10)
	if _, err := renderHelper(t, tpl, ctx, WithMaxDepth(11)); err != nil {
		t.Fatalf("depth 11: %v", err)
	}
	if _, err := renderHelper(t, tpl, ctx, WithMaxDepth(10)); !errors.Is(err, ErrRecursionLimit) {
		t.Fatalf("depth 10: want recursion limit, got %v", err)
	}
}

func TestLenientUndefined(t *testing.T) {
	cases := []struct {
		tpl  string
		want string
	}{
		{"[{{ missing }}]", "[]"},
		{"[{{ missing.a.b }}|{{ x.y }}|{{ xs[9] }}]", "[||]"},
		{"{% for i in missing %}x{% else %}e{% endfor %}", "e"},
		{"{% if missing %}y{% else %}n{% endif %}", "n"},
		{"{{ missing | default('d') }}", "d"},
		{"{{ missing is defined }}", "false"},
		{"{% set y = 1 %}{% macro m() %}[{{ y }}]{% endmacro m %}{{ self::m() }}", "[]"},
	}
	ctx := NewContextFromAny(map[string]any{"x": 1, "xs": []int{1}})
	for _, tc := range cases {
		got, err := renderHelper(t, tc.tpl, ctx, WithUndefined(UndefinedLenient))
		if err != nil {
			t.Fatalf("%s: render error: %v", tc.tpl, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.tpl, got, tc.want)
		}
	}
	// operators still check types
	if _, err := renderHelper(t, "{{ missing > 1 }}", ctx, WithUndefined(UndefinedLenient)); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("want type mismatch, got %v", err)
	}
}

func TestNilValuesReadAsNone(t *testing.T) {
	cases := []struct {
		tpl  string
		ctx  Context
		want string
	}{
		{"[{{ x }}]", Context{"x": nil}, "[]"},
		{"{% if xs[0] %}y{% else %}n{% endif %}", Context{"xs": ListValue{nil}}, "n"},
		{"{% for v in xs %}({{ v }}){% endfor %}{{ xs }}|{{ xs|join(',') }}|{{ xs|first is none }}", Context{"xs": ListValue{nil, IntValue(1)}}, "()(1)[, 1]|,1|true"},
		{"{{ d.k is none }}", Context{"d": NewDict(1).Set("k", nil)}, "true"},
	}
	for _, c := range cases {
		got, err := renderHelper(t, c.tpl, c.ctx)
		if err != nil {
			t.Fatalf("%s: %v", c.tpl, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %q, want %q", c.tpl, got, c.want)
		}
	}
}

func TestIntegerOverflowPromotesToFloat(t *testing.T) {
	cases := []struct {
		tpl  string
		want string
	}{
		{"{{ 3000000000 * 3000000000 }}", "9000000000000000000"},
		{"{{ 9223372036854775807 + 1 }}", "9223372036854775808"},
		{"{{ 9223372036854775807 * 2 }}", "18446744073709551616"},
		{"{{ -9223372036854775807 - 2 }}", "-9223372036854775808"},
		{"{{ 9223372036854775807 - 1 }}", "9223372036854775806"},
		{"{{ (9223372036854775807 + 1) / 2 }}", "4611686018427387904"},
	}
	for _, c := range cases {
		got, err := renderHelper(t, c.tpl, nil)
		if err != nil {
			t.Fatalf("%s: %v", c.tpl, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %q, want %q", c.tpl, got, c.want)
		}
	}
}
