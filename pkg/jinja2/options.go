package jinja2

import (
	"fmt"
	"log/slog"
)

// Undefined selects what happens when a variable path does not resolve.
type Undefined int

const (
	// UndefinedStrict fails the render with KindUndefinedVariable, or
	// KindTypeMismatch when indexing into a scalar.
	UndefinedStrict Undefined = iota
	// UndefinedLenient evaluates every unresolved path to none and treats
	// iterating none as iterating an empty list.
	UndefinedLenient
)

func (u Undefined) String() string {
	if u == UndefinedLenient {
		return "lenient"
	}
	return "strict"
}

// ParseUndefined maps "strict" or "lenient" (or "") to an Undefined mode.
func ParseUndefined(s string) (Undefined, error) {
	switch s {
	case "", "strict":
		return UndefinedStrict, nil
	case "lenient":
		return UndefinedLenient, nil
	}
	return 0, fmt.Errorf("unknown undefined mode %q, expected strict or lenient", s)
}

// DefaultMaxDepth bounds nested macro calls and includes.
const DefaultMaxDepth = 200

// Option configures an Engine.
type Option func(*Engine)

func WithUndefined(u Undefined) Option {
	return func(e *Engine) { e.undefined = u }
}

// WithMaxDepth sets the maximum nesting of macro calls and includes. Values
// below one are ignored.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithFilter registers or replaces a filter.
func WithFilter(name string, f Filter) Option {
	return func(e *Engine) { e.filters[name] = f }
}

// WithTest registers or replaces an "is" test. defined and undefined cannot
// be replaced.
func WithTest(name string, t Test) Option {
	return func(e *Engine) { e.tests[name] = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
