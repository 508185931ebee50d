package starlark

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neurodesk/jinja/pkg/jinja2"
	"go.starlark.net/starlark"
)

func TestConvertToStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    jinja2.Value
		expected string
	}{
		{name: "string value", input: jinja2.StringValue("hello"), expected: `"hello"`},
		{name: "int value", input: jinja2.IntValue(42), expected: "42"},
		{name: "float value", input: jinja2.FloatValue(3.14), expected: "3.14"},
		{name: "bool value", input: jinja2.BoolValue(true), expected: "True"},
		{name: "none value", input: jinja2.NoneValue{}, expected: "None"},
		{name: "nil value", input: nil, expected: "None"},
		{name: "list value", input: jinja2.ListValue{jinja2.IntValue(1), jinja2.StringValue("a")}, expected: `[1, "a"]`},
		{
			name:     "dict keeps order",
			input:    jinja2.NewDict(2).Set("z", jinja2.IntValue(1)).Set("a", jinja2.IntValue(2)),
			expected: `{"z": 1, "a": 2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertToStarlark(tt.input)
			if result.String() != tt.expected {
				t.Errorf("ConvertToStarlark() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestConvertFromStarlark(t *testing.T) {
	tests := []struct {
		name     string
		input    starlark.Value
		expected string
	}{
		{name: "string value", input: starlark.String("hello"), expected: "hello"},
		{name: "int value", input: starlark.MakeInt64(42), expected: "42"},
		{name: "float value", input: starlark.Float(3.14), expected: "3.14"},
		{name: "bool value", input: starlark.Bool(false), expected: "false"},
		{name: "none value", input: starlark.None, expected: ""},
		{name: "tuple value", input: starlark.Tuple{starlark.MakeInt(1), starlark.MakeInt(2)}, expected: "[1, 2]"},
		{name: "bytes value", input: starlark.Bytes("raw"), expected: "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ConvertFromStarlark(tt.input)
			if err != nil {
				t.Fatalf("ConvertFromStarlark() error: %v", err)
			}
			if result.String() != tt.expected {
				t.Errorf("ConvertFromStarlark() = %v, want %v", result.String(), tt.expected)
			}
		})
	}
}

func TestConvertFromStarlarkRejectsFunctions(t *testing.T) {
	fn := starlark.NewBuiltin("f", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.None, nil
	})
	if _, err := ConvertFromStarlark(starlark.NewList([]starlark.Value{fn})); err == nil {
		t.Fatal("expected an error converting a function")
	}
}

func TestDictConversion(t *testing.T) {
	dict := starlark.NewDict(3)
	_ = dict.SetKey(starlark.String("b"), starlark.MakeInt(1))
	_ = dict.SetKey(starlark.String("a"), starlark.MakeInt(2))
	_ = dict.SetKey(starlark.MakeInt(3), starlark.String("int key"))

	back, err := ConvertFromStarlark(dict)
	if err != nil {
		t.Fatalf("ConvertFromStarlark() error: %v", err)
	}
	d, ok := back.(*jinja2.DictValue)
	if !ok {
		t.Fatalf("Expected *jinja2.DictValue, got %T", back)
	}
	if diff := cmp.Diff([]string{"b", "a", "3"}, d.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	again := ConvertToStarlark(d).(*starlark.Dict)
	if again.Len() != 3 {
		t.Errorf("Expected dict length 3, got %d", again.Len())
	}
}

func TestEvaluatorBasic(t *testing.T) {
	eval := NewEvaluator(nil)

	result, err := eval.Eval("2 + 3")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result != jinja2.IntValue(5) {
		t.Errorf("Expected 5, got %#v", result)
	}

	eval.SetGlobal("test_var", jinja2.StringValue("hello"))
	result, err = eval.Eval("test_var + ' world'")
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result.String() != "hello world" {
		t.Errorf("Expected 'hello world', got %v", result.String())
	}

	if _, err := eval.Eval("undefined_name"); err == nil {
		t.Error("Expected an error for an undefined name")
	}
}

func TestEvaluatorScriptExport(t *testing.T) {
	eval := NewEvaluator(nil)
	eval.LoadJinja2Context(jinja2.Context{
		"package_manager": jinja2.StringValue("apt"),
		"debug":           jinja2.BoolValue(true),
	})

	script := `
def build_cmd(pkg):
    if debug:
        return package_manager + " install -y " + pkg
    return package_manager + " install " + pkg

packages = ["curl", "git"]
commands = [build_cmd(p) for p in packages]
_private = 1
for i in range(3):
    last = i
`
	if _, err := eval.ExecString(script); err != nil {
		t.Fatalf("ExecString error: %v", err)
	}

	ctx, err := eval.ExportToJinja2Context()
	if err != nil {
		t.Fatalf("ExportToJinja2Context error: %v", err)
	}
	for _, hidden := range []string{"build_cmd", "_private"} {
		if _, ok := ctx[hidden]; ok {
			t.Errorf("%s should not be exported", hidden)
		}
	}

	out, err := jinja2.TemplateString("{{ commands | join('; ') }} {{ last }} {{ package_manager }}").Render(ctx)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	expected := "apt install -y curl; apt install -y git 2 apt"
	if out != expected {
		t.Errorf("Expected %q, got %q", expected, out)
	}
}

type fakeContext struct {
	env map[string]string
}

func (f fakeContext) Render(name string, ctx jinja2.Context) (string, error) {
	return name + ":" + ctx["who"].String(), nil
}

func (f fakeContext) LookupEnv(key string) (string, bool) {
	v, ok := f.env[key]
	return v, ok
}

func TestEvaluatorWithContext(t *testing.T) {
	eval := NewEvaluatorWithContext(fakeContext{env: map[string]string{"HOME": "/home/x"}}, nil)
	script := `
greeting = render("hello", who = "bob")
home = getenv("HOME")
shell = getenv("SHELL", default = "sh")
`
	if _, err := eval.ExecString(script); err != nil {
		t.Fatalf("ExecString error: %v", err)
	}
	ctx, err := eval.ExportToJinja2Context()
	if err != nil {
		t.Fatalf("ExportToJinja2Context error: %v", err)
	}
	want := jinja2.Context{
		"greeting": jinja2.StringValue("hello:bob"),
		"home":     jinja2.StringValue("/home/x"),
		"shell":    jinja2.StringValue("sh"),
	}
	if diff := cmp.Diff(want, ctx); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineContextRendersRegisteredTemplates(t *testing.T) {
	e := jinja2.New()
	if err := e.Register("title", "{{ name | title }}"); err != nil {
		t.Fatalf("register: %v", err)
	}
	eval := NewEvaluatorWithContext(EngineContext{Engine: e}, nil)
	result, err := eval.Eval(`render("title", name = "ada lovelace")`)
	if err != nil {
		t.Fatalf("Eval error: %v", err)
	}
	if result.String() != "Ada Lovelace" {
		t.Errorf("Expected 'Ada Lovelace', got %q", result.String())
	}
	if _, err := eval.Eval(`render("missing")`); err == nil || !strings.Contains(err.Error(), "template not found") {
		t.Errorf("Expected template not found, got %v", err)
	}
}

func TestPrintGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	eval := NewEvaluator(slog.New(slog.NewTextHandler(&buf, nil)))
	if _, err := eval.ExecString(`print("hello", 1)`); err != nil {
		t.Fatalf("ExecString error: %v", err)
	}
	if !strings.Contains(buf.String(), `msg="hello 1"`) || !strings.Contains(buf.String(), "source=starlark") {
		t.Errorf("unexpected log output %q", buf.String())
	}
}

func TestConvertFromStarlarkRejectsCycles(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "list containing itself", script: "a = []\na.append(a)"},
		{name: "dict containing itself", script: "a = {}\na['self'] = a"},
		{name: "cycle through a tuple", script: "a = []\na.append((1, a))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := NewEvaluator(nil)
			if _, err := eval.ExecString(tt.script); err != nil {
				t.Fatalf("ExecString error: %v", err)
			}
			_, err := eval.ExportToJinja2Context()
			if err == nil || !strings.Contains(err.Error(), "contains itself") {
				t.Errorf("Expected a cycle error, got %v", err)
			}
		})
	}
}

func TestConvertFromStarlarkSharedValues(t *testing.T) {
	eval := NewEvaluator(nil)
	if _, err := eval.ExecString("row = [1, 2]\ngrid = [row, row]"); err != nil {
		t.Fatalf("ExecString error: %v", err)
	}
	ctx, err := eval.ExportToJinja2Context()
	if err != nil {
		t.Fatalf("ExportToJinja2Context error: %v", err)
	}
	if got := ctx["grid"].String(); got != "[[1, 2], [1, 2]]" {
		t.Errorf("Expected shared rows to be copied, got %s", got)
	}

	// ten levels of tenfold sharing
	eval = NewEvaluator(nil)
	if _, err := eval.ExecString("v = [0]\nfor _ in range(10):\n    v = [v] * 10\n"); err != nil {
		t.Fatalf("ExecString error: %v", err)
	}
	if _, err := eval.ExportToJinja2Context(); err == nil || !strings.Contains(err.Error(), "expands to more than") {
		t.Errorf("Expected an expansion error, got %v", err)
	}
}

func TestEvaluatorStepLimit(t *testing.T) {
	eval := NewEvaluator(nil)
	eval.SetMaxSteps(10_000)
	_, err := eval.ExecString("while True:\n    pass\n")
	if err == nil || !strings.Contains(err.Error(), "too many steps") {
		t.Fatalf("Expected the step limit to stop the script, got %v", err)
	}
}
