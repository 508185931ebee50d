package jinja2

import (
	"bytes"
	"io"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
)

// Engine holds a set of compiled templates and renders them by name.
//
// Renders never lock: each call reads the current registry snapshot once and
// uses it for every import, include and extends lookup. Registration builds a
// new snapshot and publishes it atomically, so renders already running keep
// the templates they started with.
type Engine struct {
	mu  sync.Mutex // serialises writers
	reg atomic.Pointer[registry]

	undefined Undefined
	maxDepth  int
	filters   map[string]Filter
	tests     map[string]Test
	logger    *slog.Logger
}

func New(opts ...Option) *Engine {
	e := &Engine{
		maxDepth: DefaultMaxDepth,
		filters:  BuiltinFilters(),
		tests:    maps.Clone(builtinTests),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	empty := registry{}
	e.reg.Store(&empty)
	return e
}

func (e *Engine) snapshot() registry { return *e.reg.Load() }

func compile(name, src string) (*Template, error) {
	doc, err := Parse(src)
	if err != nil {
		return nil, inTemplate(err, name)
	}
	return &Template{Name: name, Doc: doc}, nil
}

// Register compiles src and stores it under name, replacing any previous
// template of that name. On error the registry is unchanged. Imports,
// includes and parents are not checked here; they resolve at render time.
func (e *Engine) Register(name, src string) error {
	t, err := compile(name, src)
	if err != nil {
		e.logger.Warn("template rejected", "name", name, "error", err)
		return err
	}
	e.publish(t)
	return nil
}

// RegisterAll compiles every template in srcs and registers them together.
// If any fails to compile nothing is registered.
func (e *Engine) RegisterAll(srcs map[string]string) error {
	names := make([]string, 0, len(srcs))
	for name := range srcs {
		names = append(names, name)
	}
	sort.Strings(names)
	ts := make([]*Template, 0, len(names))
	for _, name := range names {
		t, err := compile(name, srcs[name])
		if err != nil {
			e.logger.Warn("template rejected", "name", name, "error", err)
			return err
		}
		ts = append(ts, t)
	}
	e.publish(ts...)
	return nil
}

// RegisterFrom loads the named templates from l and registers them together.
func (e *Engine) RegisterFrom(l Loader, names ...string) error {
	srcs := make(map[string]string, len(names))
	for _, name := range names {
		src, err := l.Load(name)
		if err != nil {
			return inTemplate(err, name)
		}
		srcs[name] = src
	}
	return e.RegisterAll(srcs)
}

func (e *Engine) publish(ts ...*Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.snapshot()
	next := cur.with(ts...)
	e.reg.Store(&next)
	for _, t := range ts {
		_, replaced := cur[t.Name]
		e.logger.Debug("template registered",
			"name", t.Name,
			"macros", len(t.Doc.Macros),
			"imports", len(t.Doc.Imports),
			"replaced", replaced)
	}
}

// Render renders the named template against ctx. A failed render returns an
// empty string and a *Error.
func (e *Engine) Render(name string, ctx Context) (string, error) {
	var buf bytes.Buffer
	if err := e.render(&buf, name, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderTo renders into w. Nothing is written if the render fails.
func (e *Engine) RenderTo(w io.Writer, name string, ctx Context) error {
	var buf bytes.Buffer
	if err := e.render(&buf, name, ctx); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (e *Engine) render(buf *bytes.Buffer, name string, ctx Context) error {
	reg := e.snapshot()
	t, ok := reg[name]
	if !ok {
		return &Error{Kind: KindTemplateNotFound, Msg: "template " + quote(name) + " is not registered"}
	}
	if ctx == nil {
		ctx = Context{}
	}
	return newRenderer(e, reg, ctx).renderTemplate(buf, t)
}

// Template returns the compiled template registered under name.
func (e *Engine) Template(name string) (*Template, bool) {
	t, ok := e.snapshot()[name]
	return t, ok
}

// Names returns the registered template names, sorted.
func (e *Engine) Names() []string {
	reg := e.snapshot()
	out := make([]string, 0, len(reg))
	for name := range reg {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
