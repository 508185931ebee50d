package jinja2

import (
	"fmt"
	"log/slog"
	"strings"
)

// ErrorKind classifies engine errors. Lex and parse kinds are compile errors;
// every other kind is raised while rendering.
type ErrorKind int

const (
	KindLex ErrorKind = iota + 1
	KindParse
	KindUndefinedVariable
	KindTypeMismatch
	KindTemplateNotFound
	KindUndefinedMacro
	KindImportNotFound
	KindArgument
	KindRecursionLimit
	KindBreakOutsideLoop
	KindUnknownFilter
	KindInvalidOperation
)

var kindNames = map[ErrorKind]string{
	KindLex:               "lex error",
	KindParse:             "parse error",
	KindUndefinedVariable: "undefined variable",
	KindTypeMismatch:      "type mismatch",
	KindTemplateNotFound:  "template not found",
	KindUndefinedMacro:    "undefined macro",
	KindImportNotFound:    "import not found",
	KindArgument:          "argument error",
	KindRecursionLimit:    "recursion limit exceeded",
	KindBreakOutsideLoop:  "break outside loop",
	KindUnknownFilter:     "unknown filter",
	KindInvalidOperation:  "invalid operation",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// IsCompile reports whether k is raised by Register rather than Render.
func (k ErrorKind) IsCompile() bool { return k == KindLex || k == KindParse }

// Sentinel errors for use with errors.Is.
var (
	ErrLex               = &Error{Kind: KindLex}
	ErrParse             = &Error{Kind: KindParse}
	ErrUndefinedVariable = &Error{Kind: KindUndefinedVariable}
	ErrTypeMismatch      = &Error{Kind: KindTypeMismatch}
	ErrTemplateNotFound  = &Error{Kind: KindTemplateNotFound}
	ErrUndefinedMacro    = &Error{Kind: KindUndefinedMacro}
	ErrImportNotFound    = &Error{Kind: KindImportNotFound}
	ErrArgument          = &Error{Kind: KindArgument}
	ErrRecursionLimit    = &Error{Kind: KindRecursionLimit}
	ErrBreakOutsideLoop  = &Error{Kind: KindBreakOutsideLoop}
	ErrUnknownFilter     = &Error{Kind: KindUnknownFilter}
	ErrInvalidOperation  = &Error{Kind: KindInvalidOperation}
)

// Pos is a location in template source. Line and Col are 1-based; the zero
// Pos means the location is unknown.
type Pos struct {
	Offset int
	Line   int
	Col    int
}

func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Error is the single error type returned by the engine.
type Error struct {
	Kind     ErrorKind
	Template string
	Pos      Pos
	Msg      string
	Err      error
}

func newError(kind ErrorKind, pos Pos, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface as "<template>:<line>:<col>: <kind>: <msg>".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Template != "" {
		b.WriteString(e.Template)
		b.WriteByte(':')
	}
	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteByte(':')
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind. A sentinel is an Error with no
// message, position or template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Template == "" && !t.Pos.IsValid()
}

// LogValue implements slog.LogValuer.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", e.Kind.String())}
	if e.Template != "" {
		attrs = append(attrs, slog.String("template", e.Template))
	}
	if e.Pos.IsValid() {
		attrs = append(attrs, slog.Int("line", e.Pos.Line), slog.Int("col", e.Pos.Col))
	}
	if e.Msg != "" {
		attrs = append(attrs, slog.String("msg", e.Msg))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// inTemplate stamps the template name on engine errors that lack one.
func inTemplate(err error, name string) error {
	if e, ok := err.(*Error); ok && e.Template == "" {
		e.Template = name
	}
	return err
}
