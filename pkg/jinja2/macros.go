package jinja2

import (
	"bytes"
	"sort"
)

// Template is a compiled template. Its Document is never modified after
// registration and may be shared by any number of renders.
type Template struct {
	Name string
	Doc  *Document
}

// Macros returns the names of the macros the template defines, sorted.
func (t *Template) Macros() []string {
	out := make([]string, 0, len(t.Doc.Macros))
	for name := range t.Doc.Macros {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// registry maps template names to compiled templates. A registry value is
// never written once published; registration builds a new one.
type registry map[string]*Template

func (reg registry) with(ts ...*Template) registry {
	next := make(registry, len(reg)+len(ts))
	for k, t := range reg {
		next[k] = t
	}
	for _, t := range ts {
		next[t.Name] = t
	}
	return next
}

// resolveMacro finds the macro named by c. "self" refers to the template
// whose code is running; any other namespace must be an import alias of that
// template.
func (r *renderer) resolveMacro(c *MacroCall) (*Template, *MacroNode, error) {
	t := r.owner
	if c.Namespace != "self" {
		target, ok := t.Doc.Imports[c.Namespace]
		if !ok {
			return nil, nil, newError(KindUndefinedMacro, c.Pos, "%s::%s: no import named %q", c.Namespace, c.Name, c.Namespace)
		}
		if t, ok = r.reg[target]; !ok {
			return nil, nil, newError(KindImportNotFound, c.Pos, "template %q imported as %q is not registered", target, c.Namespace)
		}
	}
	m, ok := t.Doc.Macros[c.Name]
	if !ok {
		return nil, nil, newError(KindUndefinedMacro, c.Pos, "macro %q is not defined in template %q", c.Name, t.Name)
	}
	return t, m, nil
}

// callMacro evaluates the arguments in the caller's scope and renders the
// macro body in a fresh stack holding only its parameters.
func (r *renderer) callMacro(c *MacroCall) (Value, error) {
	owner, m, err := r.resolveMacro(c)
	if err != nil {
		return nil, err
	}
	positional := make([]Value, len(c.Args.Positional))
	for i, a := range c.Args.Positional {
		if positional[i], err = r.eval(a); err != nil {
			return nil, err
		}
	}
	named := make([]Value, len(c.Args.Named))
	for i, a := range c.Args.Named {
		if named[i], err = r.eval(a.Value); err != nil {
			return nil, err
		}
	}
	if err := r.enter(c.Pos); err != nil {
		return nil, err
	}
	defer r.leave()

	prevStack, prevOwner, prevBlocks := r.stack, r.owner, r.blocks
	r.owner, r.blocks = owner, nil
	defer func() { r.stack, r.owner, r.blocks = prevStack, prevOwner, prevBlocks }()

	if err := r.bindArgs(m, c, positional, named); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	sig, err := r.renderNodes(&buf, m.Body)
	if err != nil {
		return nil, inTemplate(err, owner.Name)
	}
	if sig != sigNormal {
		return nil, &Error{Kind: KindBreakOutsideLoop, Template: owner.Name, Pos: r.ctlPos, Msg: "break or continue is not inside a for loop in macro " + quote(m.Name)}
	}
	return StringValue(buf.String()), nil
}

// bindArgs installs a new stack for the macro body with every parameter
// bound. Defaults are evaluated in that stack, so a default may refer to
// earlier parameters but never to the caller's variables.
func (r *renderer) bindArgs(m *MacroNode, c *MacroCall, positional, named []Value) error {
	if len(positional) > len(m.Params) {
		return newError(KindArgument, c.Pos, "macro %q takes %d arguments, %d given", m.Name, len(m.Params), len(positional))
	}
	f := make(frame, 0, len(m.Params)+2)
	for i, v := range positional {
		f = append(f, binding{name: m.Params[i].Name, val: v})
	}
	for i, a := range c.Args.Named {
		idx := paramIndex(m, a.Name)
		if idx < 0 {
			return newError(KindArgument, c.Pos, "macro %q has no parameter %q", m.Name, a.Name)
		}
		if idx < len(positional) {
			return newError(KindArgument, c.Pos, "argument %q of macro %q is given both by position and by name", a.Name, m.Name)
		}
		f.set(a.Name, named[i])
	}
	r.stack = newStack(f)
	for _, p := range m.Params {
		if _, ok := r.stack.frames[0].get(p.Name); ok {
			continue
		}
		if p.Default == nil {
			return newError(KindArgument, c.Pos, "macro %q is missing required argument %q", m.Name, p.Name)
		}
		v, err := r.eval(p.Default)
		if err != nil {
			return inTemplate(err, r.owner.Name)
		}
		r.stack.set(p.Name, v)
	}
	return nil
}

func paramIndex(m *MacroNode, name string) int {
	for i, p := range m.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}
