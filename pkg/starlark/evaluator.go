package starlark

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/neurodesk/jinja/pkg/jinja2"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Evaluator runs Starlark scripts that compute a template context. Every
// global a script leaves behind becomes a context variable, except names
// starting with an underscore and functions.
type Evaluator struct {
	thread   *starlark.Thread
	builtins starlark.StringDict
	globals  starlark.StringDict
	logger   *slog.Logger
}

// DefaultMaxSteps bounds the computation of one evaluator so a runaway
// script fails instead of hanging.
const DefaultMaxSteps = 100_000_000

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// NewEvaluator creates an evaluator with no host builtins. print() goes to
// logger at Info level; a nil logger discards it.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return newEvaluator(starlark.StringDict{}, logger)
}

func newEvaluator(builtins starlark.StringDict, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	thread := &starlark.Thread{
		Name: "jinja-context",
		Print: func(thread *starlark.Thread, msg string) {
			logger.Info(msg, "source", "starlark", "thread", thread.Name)
		},
	}
	thread.SetMaxExecutionSteps(DefaultMaxSteps)
	return &Evaluator{
		thread:   thread,
		builtins: builtins,
		globals:  make(starlark.StringDict),
		logger:   logger,
	}
}

// SetMaxSteps replaces the step budget shared by every later Eval and
// Exec call. Zero removes the bound.
func (e *Evaluator) SetMaxSteps(n uint64) {
	e.thread.SetMaxExecutionSteps(n)
}

// SetGlobal sets a global variable visible to later scripts.
func (e *Evaluator) SetGlobal(name string, value jinja2.Value) {
	e.globals[name] = ConvertToStarlark(value)
}

func (e *Evaluator) predeclared() starlark.StringDict {
	predeclared := make(starlark.StringDict, len(e.builtins)+len(e.globals))
	maps.Copy(predeclared, e.builtins)
	maps.Copy(predeclared, e.globals)
	return predeclared
}

// Eval evaluates a Starlark expression.
func (e *Evaluator) Eval(expr string) (jinja2.Value, error) {
	val, err := starlark.EvalOptions(fileOptions, e.thread, "<eval>", expr, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark evaluation error: %w", err)
	}
	return ConvertFromStarlark(val)
}

// ExecFile executes a Starlark file and returns the globals it defined. src
// may be nil (read filename), a string or a []byte.
func (e *Evaluator) ExecFile(filename string, src any) (starlark.StringDict, error) {
	globals, err := starlark.ExecFileOptions(fileOptions, e.thread, filename, src, e.predeclared())
	if err != nil {
		return nil, fmt.Errorf("starlark execution error: %w", err)
	}
	maps.Copy(e.globals, globals)
	e.logger.Debug("context script executed", "file", filename, "globals", len(globals))
	return globals, nil
}

// ExecString executes a Starlark script from a string.
func (e *Evaluator) ExecString(script string) (starlark.StringDict, error) {
	return e.ExecFile("<script>", script)
}

// GetGlobal retrieves a global variable as a template Value.
func (e *Evaluator) GetGlobal(name string) (jinja2.Value, bool) {
	val, ok := e.globals[name]
	if !ok {
		return nil, false
	}
	v, err := ConvertFromStarlark(val)
	if err != nil {
		return nil, false
	}
	return v, true
}

// LoadJinja2Context makes every context variable a Starlark global.
func (e *Evaluator) LoadJinja2Context(ctx jinja2.Context) {
	maps.Copy(e.globals, WrapJinja2Context(ctx))
}

// ExportToJinja2Context converts the current globals into a context.
func (e *Evaluator) ExportToJinja2Context() (jinja2.Context, error) {
	ctx := make(jinja2.Context, len(e.globals))
	for key, value := range e.globals {
		if !isExportable(key, value) {
			continue
		}
		v, err := ConvertFromStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", key, err)
		}
		ctx[key] = v
	}
	return ctx, nil
}

func isExportable(key string, value starlark.Value) bool {
	if key == "" || key[0] == '_' {
		return false
	}
	_, callable := value.(starlark.Callable)
	return !callable
}
