package starlark

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/neurodesk/jinja/pkg/jinja2"
	"go.starlark.net/starlark"
)

// ScriptContext gives a context script access to its host.
type ScriptContext interface {
	// Render renders a registered template.
	Render(name string, ctx jinja2.Context) (string, error)
	LookupEnv(key string) (string, bool)
}

// EngineContext is a ScriptContext backed by an engine and the process
// environment.
type EngineContext struct {
	Engine *jinja2.Engine
}

func (c EngineContext) Render(name string, ctx jinja2.Context) (string, error) {
	if c.Engine == nil {
		return "", fmt.Errorf("no templates are available to render %q", name)
	}
	return c.Engine.Render(name, ctx)
}

func (EngineContext) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

// NewEvaluatorWithContext creates an evaluator whose scripts can call
// render(name, **vars) and getenv(key, default="").
func NewEvaluatorWithContext(ctx ScriptContext, logger *slog.Logger) *Evaluator {
	return newEvaluator(CreateBuiltinsWithContext(ctx), logger)
}

// CreateBuiltinsWithContext creates the host builtins for ctx.
func CreateBuiltinsWithContext(ctx ScriptContext) starlark.StringDict {
	return starlark.StringDict{
		"render": starlark.NewBuiltin("render", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(fn.Name(), args, nil, 1, &name); err != nil {
				return nil, err
			}
			vars := make(jinja2.Context, len(kwargs))
			for _, kv := range kwargs {
				key := string(kv[0].(starlark.String))
				v, err := ConvertFromStarlark(kv[1])
				if err != nil {
					return nil, fmt.Errorf("%s: argument %s: %w", fn.Name(), key, err)
				}
				vars[key] = v
			}
			out, err := ctx.Render(name, vars)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fn.Name(), err)
			}
			return starlark.String(out), nil
		}),

		"getenv": starlark.NewBuiltin("getenv", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var def starlark.Value = starlark.String("")
			if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
				return nil, err
			}
			if val, ok := ctx.LookupEnv(key); ok {
				return starlark.String(val), nil
			}
			return def, nil
		}),
	}
}
