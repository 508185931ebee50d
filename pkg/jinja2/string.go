package jinja2

import (
	"fmt"
)

// TemplateString is a template source for one-off use without an Engine of
// its own. Imports, includes and extends cannot resolve since no other
// template is registered.
type TemplateString string

func (t TemplateString) Validate() error {
	if _, err := Parse(string(t)); err != nil {
		return fmt.Errorf("invalid jinja template: %w", err)
	}
	return nil
}

func (t TemplateString) Render(ctx Context, opts ...Option) (string, error) {
	const name = "<string>"
	e := New(opts...)
	if err := e.Register(name, string(t)); err != nil {
		return "", fmt.Errorf("parsing jinja template: %w", err)
	}
	return e.Render(name, ctx)
}
