// Package contextfile builds render contexts from YAML, JSON or Starlark
// files.
package contextfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurodesk/jinja/pkg/jinja2"
	jstar "github.com/neurodesk/jinja/pkg/starlark"
	v "github.com/neurodesk/jinja/pkg/validator"
	"gopkg.in/yaml.v3"
)

// Loader reads context files. Files ending in .star are executed as
// Starlark; anything else is parsed as YAML, which also accepts JSON.
type Loader struct {
	// Script is what .star files can call through render() and getenv().
	// Nil means an EngineContext without an engine.
	Script jstar.ScriptContext
	Logger *slog.Logger
	// MaxSteps bounds the computation of each script. Zero means
	// jstar.DefaultMaxSteps.
	MaxSteps uint64
}

// Load reads a single file.
func (l Loader) Load(path string) (jinja2.Context, error) {
	return l.load(path, nil)
}

// LoadAll reads every file in order and merges the results; later files
// win. Each script sees the variables loaded before it as globals.
func (l Loader) LoadAll(paths ...string) (jinja2.Context, error) {
	ctx := jinja2.Context{}
	for _, path := range paths {
		next, err := l.load(path, ctx)
		if err != nil {
			return nil, err
		}
		ctx = Merge(ctx, next)
	}
	return ctx, nil
}

func (l Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.Logger
}

func (l Loader) load(path string, base jinja2.Context) (jinja2.Context, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading context file: %w", err)
	}
	var ctx jinja2.Context
	if strings.EqualFold(filepath.Ext(path), ".star") {
		ctx, err = l.script(path, content, base)
	} else {
		ctx, err = Decode(bytes.NewReader(content))
	}
	if err != nil {
		return nil, fmt.Errorf("context file %s: %w", path, err)
	}
	l.logger().Debug("context loaded", "file", path, "variables", len(ctx))
	return ctx, nil
}

func (l Loader) script(path string, src []byte, base jinja2.Context) (jinja2.Context, error) {
	sc := l.Script
	if sc == nil {
		sc = jstar.EngineContext{}
	}
	eval := jstar.NewEvaluatorWithContext(sc, l.logger())
	if l.MaxSteps > 0 {
		eval.SetMaxSteps(l.MaxSteps)
	}
	eval.LoadJinja2Context(base)
	if _, err := eval.ExecFile(path, src); err != nil {
		return nil, err
	}
	return eval.ExportToJinja2Context()
}

// Merge returns a new context holding every entry of ctxs; later contexts
// override earlier ones.
func Merge(ctxs ...jinja2.Context) jinja2.Context {
	out := jinja2.Context{}
	for _, ctx := range ctxs {
		maps.Copy(out, ctx)
	}
	return out
}

// Decode parses a YAML or JSON document whose root is a mapping. Mapping
// order is preserved in the resulting dicts. An empty document yields an
// empty context.
func Decode(r io.Reader) (jinja2.Context, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return jinja2.Context{}, nil
		}
		return nil, fmt.Errorf("decoding context: %w", err)
	}
	root, err := FromNode(&doc)
	if err != nil {
		return nil, err
	}
	if _, ok := root.(jinja2.NoneValue); ok {
		return jinja2.Context{}, nil
	}
	d, ok := root.(*jinja2.DictValue)
	if !ok {
		return nil, fmt.Errorf("context root must be a mapping, got %s", root.Kind())
	}
	return FromDict(d)
}

// FromDict turns the top level of d into a context. Every key must be an
// identifier so templates can name it.
func FromDict(d *jinja2.DictValue) (jinja2.Context, error) {
	ctx := make(jinja2.Context, d.Len())
	err := v.Map(d.Keys(), func(key, description string) error {
		if err := v.ValidIdentifier(key, "context key"); err != nil {
			return err
		}
		ctx[key], _ = d.Get(key)
		return nil
	}, "context")
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

// Limits on converting a YAML document. Aliases are expanded in place, so
// a small document can describe a very large value.
const (
	maxNodes = 1 << 20
	maxDepth = 512
)

// FromNode converts a decoded YAML node to a Value, resolving aliases and
// merge keys. An alias that refers to a node containing it is an error.
func FromNode(n *yaml.Node) (jinja2.Value, error) {
	c := converter{active: map[*yaml.Node]bool{}}
	return c.value(n, 0)
}

type converter struct {
	active map[*yaml.Node]bool // anchors being expanded
	nodes  int
}

func (c *converter) value(n *yaml.Node, depth int) (jinja2.Value, error) {
	c.nodes++
	if c.nodes > maxNodes {
		return nil, fmt.Errorf("line %d: document expands to more than %d values", n.Line, maxNodes)
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("line %d: document nests deeper than %d levels", n.Line, maxDepth)
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return jinja2.NoneValue{}, nil
		}
		return c.value(n.Content[0], depth)
	case yaml.AliasNode:
		if c.active[n.Alias] {
			return nil, fmt.Errorf("line %d: alias *%s refers to a value containing it", n.Line, n.Value)
		}
		c.active[n.Alias] = true
		defer delete(c.active, n.Alias)
		return c.value(n.Alias, depth+1)
	case yaml.SequenceNode, yaml.MappingNode:
		if n.Anchor != "" {
			c.active[n] = true
			defer delete(c.active, n)
		}
		if n.Kind == yaml.MappingNode {
			return c.mapping(n, depth)
		}
		out := make(jinja2.ListValue, len(n.Content))
		for i, item := range n.Content {
			val, err := c.value(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

func (c *converter) mapping(n *yaml.Node, depth int) (*jinja2.DictValue, error) {
	d := jinja2.NewDict(len(n.Content) / 2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.ShortTag() == "!!merge" {
			if err := c.merge(d, val, depth); err != nil {
				return nil, err
			}
			continue
		}
		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
		}
		item, err := c.value(val, depth+1)
		if err != nil {
			return nil, err
		}
		d.Set(key.Value, item)
	}
	return d, nil
}

// merge applies a "<<" entry. Keys already present are kept; explicit keys
// that follow overwrite merged ones through Set.
func (c *converter) merge(d *jinja2.DictValue, val *yaml.Node, depth int) error {
	sources := []*yaml.Node{val}
	if val.Kind == yaml.SequenceNode {
		sources = val.Content
	}
	for _, src := range sources {
		m, err := c.value(src, depth+1)
		if err != nil {
			return err
		}
		md, ok := m.(*jinja2.DictValue)
		if !ok {
			return fmt.Errorf("line %d: merge value must be a mapping", src.Line)
		}
		for _, k := range md.Keys() {
			if _, seen := d.Get(k); seen {
				continue
			}
			item, _ := md.Get(k)
			d.Set(k, item)
		}
	}
	return nil
}

func scalar(n *yaml.Node) (jinja2.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return jinja2.NoneValue{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return jinja2.BoolValue(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			// out of int64 range
			var f float64
			if ferr := n.Decode(&f); ferr != nil {
				return nil, err
			}
			return jinja2.FloatValue(f), nil
		}
		return jinja2.IntValue(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		return jinja2.FloatValue(f), nil
	}
	// strings, timestamps, binary and custom tags keep their text
	return jinja2.StringValue(n.Value), nil
}
