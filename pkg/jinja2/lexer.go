package jinja2

import (
	"strings"
)

// The lexer scans template source and yields tokens for text and the three
// delimiter forms: variables {{ }}, statements {% %}, and comments {# #}.
// Comments never reach the parser. Inside a tag the lexer produces names,
// literals and operators. A '-' attached to a delimiter trims the whitespace
// of the neighbouring text token.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokText
	tokVarStart  // {{ or {{-
	tokVarEnd    // }} or -}}
	tokStmtStart // {% or {%-
	tokStmtEnd   // %} or -%}
	tokName
	tokString
	tokInt
	tokFloat
	tokOp
)

var tokenNames = [...]string{
	tokEOF:       "end of template",
	tokText:      "text",
	tokVarStart:  "'{{'",
	tokVarEnd:    "'}}'",
	tokStmtStart: "'{%'",
	tokStmtEnd:   "'%}'",
	tokName:      "name",
	tokString:    "string",
	tokInt:       "integer",
	tokFloat:     "float",
	tokOp:        "operator",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	val  string
	pos  Pos
}

func (t token) describe() string {
	switch t.kind {
	case tokName, tokOp:
		return "'" + t.val + "'"
	case tokString:
		return "string " + quote(t.val)
	case tokInt, tokFloat:
		return t.kind.String() + " " + t.val
	}
	return t.kind.String()
}

// operators inside tags, longest first.
var operators = []string{"==", "!=", "<=", ">=", "::", "<", ">", "+", "-", "*", "/", "%", "~", "=", "(", ")", "[", "]", ",", ".", ":", "|"}

type lexer struct {
	src  string
	i    int
	line int
	col  int

	inside   tokenKind // closing delimiter expected, or tokEOF when in text
	tagPos   Pos       // opener of the current tag
	trimNext bool      // the previous tag ended in '-'
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) pos() Pos { return Pos{Offset: l.i, Line: l.line, Col: l.col} }

// advance moves forward n bytes, keeping line and column current.
func (l *lexer) advance(n int) {
	for j := 0; j < n && l.i < len(l.src); j++ {
		if l.src[l.i] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.i++
	}
}

func (l *lexer) hasPrefix(s string) bool { return strings.HasPrefix(l.src[l.i:], s) }

// next returns the next token or a *Error of KindLex.
func (l *lexer) next() (token, error) {
	if l.inside != tokEOF {
		return l.nextInside()
	}
	return l.nextOutside()
}

// nextOutside scans in normal text context and emits either a text token up
// to the next opening delimiter, or an opening delimiter token, or EOF.
func (l *lexer) nextOutside() (token, error) {
	for {
		if l.i >= len(l.src) {
			return token{kind: tokEOF, pos: l.pos()}, nil
		}
		start := l.pos()
		j := indexOpener(l.src[l.i:])
		if j != 0 {
			end := len(l.src)
			if j > 0 {
				end = l.i + j
			}
			text := l.src[l.i:end]
			l.advance(end - l.i)
			if l.trimNext {
				text = strings.TrimLeft(text, whitespace)
				l.trimNext = false
			}
			if l.i+2 < len(l.src) && l.src[l.i+2] == '-' {
				text = strings.TrimRight(text, whitespace)
			}
			if text == "" {
				continue
			}
			return token{kind: tokText, val: text, pos: start}, nil
		}
		l.trimNext = false
		switch l.src[l.i+1] {
		case '#':
			if err := l.skipComment(); err != nil {
				return token{}, err
			}
			continue
		case '{':
			l.advance(2)
			if l.hasPrefix("-") {
				l.advance(1)
			}
			l.inside = tokVarEnd
			l.tagPos = start
			return token{kind: tokVarStart, pos: start}, nil
		default:
			l.advance(2)
			if l.hasPrefix("-") {
				l.advance(1)
			}
			if l.atRawTag() {
				return l.lexRaw(start)
			}
			l.inside = tokStmtEnd
			l.tagPos = start
			return token{kind: tokStmtStart, pos: start}, nil
		}
	}
}

const whitespace = " \t\r\n"

// indexOpener returns the offset of the first "{{", "{%" or "{#" in s, or -1.
func indexOpener(s string) int {
	off := 0
	for {
		j := strings.IndexByte(s[off:], '{')
		if j < 0 || off+j+1 >= len(s) {
			return -1
		}
		switch s[off+j+1] {
		case '{', '%', '#':
			return off + j
		}
		off += j + 1
	}
}

func (l *lexer) skipComment() error {
	start := l.pos()
	end := strings.Index(l.src[l.i+2:], "#}")
	if end < 0 {
		return newError(KindLex, start, "unterminated comment tag {# ... #}")
	}
	body := l.src[l.i+2 : l.i+2+end]
	l.advance(2 + end + 2)
	if strings.HasSuffix(body, "-") {
		l.trimNext = true
	}
	return nil
}

// atRawTag reports whether the statement being opened is "raw".
func (l *lexer) atRawTag() bool {
	rest := strings.TrimLeft(l.src[l.i:], whitespace)
	if !strings.HasPrefix(rest, "raw") {
		return false
	}
	rest = strings.TrimLeft(rest[3:], whitespace)
	return strings.HasPrefix(rest, "%}") || strings.HasPrefix(rest, "-%}")
}

// lexRaw consumes "raw %}...{% endraw %}" and returns the body as text.
func (l *lexer) lexRaw(start Pos) (token, error) {
	close := strings.Index(l.src[l.i:], "%}")
	trimStart := l.src[l.i+close-1] == '-'
	l.advance(close + 2)
	bodyStart := l.i
	for {
		j := strings.Index(l.src[l.i:], "{%")
		if j < 0 {
			return token{}, newError(KindLex, start, "unterminated raw block; expected {%% endraw %%}")
		}
		l.advance(j)
		tagStart := l.i
		inner := l.src[l.i+2:]
		trimEnd := strings.HasPrefix(inner, "-")
		inner = strings.TrimPrefix(inner, "-")
		inner = strings.TrimLeft(inner, whitespace)
		if strings.HasPrefix(inner, "endraw") {
			after := strings.TrimLeft(inner[len("endraw"):], whitespace)
			closeLen := 0
			if strings.HasPrefix(after, "-%}") {
				closeLen = 3
				l.trimNext = true
			} else if strings.HasPrefix(after, "%}") {
				closeLen = 2
			}
			if closeLen > 0 {
				text := l.src[bodyStart:tagStart]
				if trimStart {
					text = strings.TrimLeft(text, whitespace)
				}
				if trimEnd {
					text = strings.TrimRight(text, whitespace)
				}
				consumed := len(l.src) - len(after) + closeLen - l.i
				l.advance(consumed)
				return token{kind: tokText, val: text, pos: start}, nil
			}
		}
		l.advance(2)
	}
}

// nextInside scans inside a tag, returning names, literals, operators or the
// closing delimiter.
func (l *lexer) nextInside() (token, error) {
	for l.i < len(l.src) && strings.IndexByte(whitespace, l.src[l.i]) >= 0 {
		l.advance(1)
	}
	if l.i >= len(l.src) {
		if l.inside == tokVarEnd {
			return token{}, newError(KindLex, l.tagPos, "unterminated variable tag {{ ... }}")
		}
		return token{}, newError(KindLex, l.tagPos, "unterminated statement tag {%% ... %%}")
	}
	start := l.pos()
	closer := "}}"
	if l.inside == tokStmtEnd {
		closer = "%}"
	}
	if l.hasPrefix("-" + closer) {
		l.advance(3)
		l.trimNext = true
		return l.closeTag(start), nil
	}
	if l.hasPrefix(closer) {
		l.advance(2)
		return l.closeTag(start), nil
	}

	c := l.src[l.i]
	switch {
	case isNameStart(c):
		j := l.i + 1
		for j < len(l.src) && isNameChar(l.src[j]) {
			j++
		}
		val := l.src[l.i:j]
		l.advance(j - l.i)
		return token{kind: tokName, val: val, pos: start}, nil
	case isDigit(c):
		return l.lexNumber(start), nil
	case c == '"' || c == '\'':
		return l.lexString(start)
	}
	for _, op := range operators {
		if l.hasPrefix(op) {
			l.advance(len(op))
			return token{kind: tokOp, val: op, pos: start}, nil
		}
	}
	return token{}, newError(KindLex, start, "unexpected character %q", c)
}

func (l *lexer) closeTag(pos Pos) token {
	kind := l.inside
	l.inside = tokEOF
	return token{kind: kind, pos: pos}
}

func (l *lexer) lexNumber(start Pos) token {
	j := l.i
	for j < len(l.src) && isDigit(l.src[j]) {
		j++
	}
	kind := tokInt
	if j+1 < len(l.src) && l.src[j] == '.' && isDigit(l.src[j+1]) {
		kind = tokFloat
		j++
		for j < len(l.src) && isDigit(l.src[j]) {
			j++
		}
	}
	val := l.src[l.i:j]
	l.advance(j - l.i)
	return token{kind: kind, val: val, pos: start}
}

func (l *lexer) lexString(start Pos) (token, error) {
	q := l.src[l.i]
	l.advance(1)
	var b strings.Builder
	for {
		if l.i >= len(l.src) {
			return token{}, newError(KindLex, start, "unterminated string literal")
		}
		c := l.src[l.i]
		switch {
		case c == q:
			l.advance(1)
			return token{kind: tokString, val: b.String(), pos: start}, nil
		case c == '\\':
			if l.i+1 >= len(l.src) {
				return token{}, newError(KindLex, start, "unterminated string literal")
			}
			esc := l.pos()
			switch l.src[l.i+1] {
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			case '\'':
				b.WriteByte('\'')
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				return token{}, newError(KindLex, esc, "invalid escape sequence \\%c", l.src[l.i+1])
			}
			l.advance(2)
		default:
			b.WriteByte(c)
			l.advance(1)
		}
	}
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool { return isNameStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func quote(s string) string { return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\"" }
