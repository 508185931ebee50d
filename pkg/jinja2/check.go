package jinja2

import (
	"errors"
	"sort"
)

// Check resolves the static references of every registered template against
// one registry snapshot: import, include and extends targets, alias::macro
// calls with their arguments, and filter and test names. It returns every
// problem found joined into one error, or nil. A clean Check does not mean
// renders cannot fail; data-dependent errors are only found by rendering.
func (e *Engine) Check() error {
	reg := e.snapshot()
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		errs = append(errs, e.checkTemplate(reg, reg[name])...)
	}
	return errors.Join(errs...)
}

func (e *Engine) checkTemplate(reg registry, t *Template) []error {
	var errs []error
	report := func(kind ErrorKind, pos Pos, format string, args ...any) {
		err := newError(kind, pos, format, args...)
		err.Template = t.Name
		errs = append(errs, err)
	}
	checkExpr := func(x Expr) bool {
		switch c := x.(type) {
		case *FilterExpr:
			if _, ok := e.filters[c.Name]; !ok {
				report(KindUnknownFilter, c.Pos, "filter %q is not defined", c.Name)
			}
		case *TestExpr:
			if _, ok := e.tests[c.Name]; !ok && c.Name != "defined" && c.Name != "undefined" {
				report(KindUnknownFilter, c.Pos, "test %q is not defined", c.Name)
			}
		case *MacroCall:
			owner := t
			if c.Namespace != "self" {
				target, ok := t.Doc.Imports[c.Namespace]
				if !ok {
					report(KindUndefinedMacro, c.Pos, "%s::%s: no import named %q", c.Namespace, c.Name, c.Namespace)
					return true
				}
				if owner, ok = reg[target]; !ok {
					// reported at the import
					return true
				}
			}
			m, ok := owner.Doc.Macros[c.Name]
			if !ok {
				report(KindUndefinedMacro, c.Pos, "macro %q is not defined in template %q", c.Name, owner.Name)
				return true
			}
			if err := checkCall(m, c); err != nil {
				err.Template = t.Name
				errs = append(errs, err)
			}
		}
		return true
	}

	_ = Walk(VisitorFunc(func(n Node) error {
		switch s := n.(type) {
		case *ImportNode:
			if _, ok := reg[s.Template]; !ok {
				report(KindImportNotFound, s.Pos, "template %q imported as %q is not registered", s.Template, s.Alias)
			}
		case *IncludeNode:
			if _, ok := reg[s.Template]; !ok && !s.IgnoreMissing {
				report(KindTemplateNotFound, s.Pos, "included template %q is not registered", s.Template)
			}
		case *ExtendsNode:
			if _, ok := reg[s.Template]; !ok {
				report(KindTemplateNotFound, s.Pos, "parent template %q is not registered", s.Template)
			}
		}
		for _, x := range exprs(n) {
			WalkExpr(x, checkExpr)
		}
		return nil
	}), t.Doc)
	return errs
}

// checkCall applies the argument rules of bindArgs without evaluating
// anything.
func checkCall(m *MacroNode, c *MacroCall) *Error {
	if len(c.Args.Positional) > len(m.Params) {
		return newError(KindArgument, c.Pos, "macro %q takes %d arguments, %d given", m.Name, len(m.Params), len(c.Args.Positional))
	}
	given := make(map[string]bool, len(m.Params))
	for _, p := range m.Params[:len(c.Args.Positional)] {
		given[p.Name] = true
	}
	for _, a := range c.Args.Named {
		if paramIndex(m, a.Name) < 0 {
			return newError(KindArgument, c.Pos, "macro %q has no parameter %q", m.Name, a.Name)
		}
		if given[a.Name] {
			return newError(KindArgument, c.Pos, "argument %q of macro %q is given both by position and by name", a.Name, m.Name)
		}
		given[a.Name] = true
	}
	for _, p := range m.Params {
		if !given[p.Name] && p.Default == nil {
			return newError(KindArgument, c.Pos, "macro %q is missing required argument %q", m.Name, p.Name)
		}
	}
	return nil
}
