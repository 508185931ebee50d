package jinja2

import (
	"fmt"
	"strings"

	v "github.com/neurodesk/jinja/pkg/validator"
)

// Parse parses a template string into a Document AST. It recognizes text,
// output expressions, comments, and the block statements
// if/elif/else/endif, for/else/endfor, break, continue, set, set_global,
// macro/endmacro, import, include, extends, block/endblock and raw/endraw.
func Parse(src string) (*Document, error) {
	p := &parser{
		l: newLexer(src),
		doc: &Document{
			Macros:  map[string]*MacroNode{},
			Imports: map[string]string{},
			Blocks:  map[string]*BlockNode{},
		},
	}
	nodes, _, err := p.parseNodes(nil)
	if err != nil {
		return nil, err
	}
	p.doc.Nodes = nodes
	return p.doc, nil
}

type parser struct {
	l     *lexer
	buf   []token // lookahead
	doc   *Document
	level int // nesting depth of block statements
}

func (p *parser) fill(n int) error {
	for len(p.buf) <= n {
		t, err := p.l.next()
		if err != nil {
			return err
		}
		p.buf = append(p.buf, t)
	}
	return nil
}

func (p *parser) peekAt(n int) (token, error) {
	if err := p.fill(n); err != nil {
		return token{}, err
	}
	return p.buf[n], nil
}

func (p *parser) peek() (token, error) { return p.peekAt(0) }

func (p *parser) next() (token, error) {
	if err := p.fill(0); err != nil {
		return token{}, err
	}
	t := p.buf[0]
	p.buf = p.buf[1:]
	return t, nil
}

// peekIs reports whether the next token has the given kind and value.
func (p *parser) peekIs(kind tokenKind, val string) (bool, error) {
	t, err := p.peek()
	if err != nil {
		return false, err
	}
	return t.kind == kind && t.val == val, nil
}

// accept consumes the next token if it matches.
func (p *parser) accept(kind tokenKind, val string) (bool, error) {
	ok, err := p.peekIs(kind, val)
	if ok {
		_, err = p.next()
	}
	return ok, err
}

func (p *parser) unexpected(t token, expected string) error {
	return newError(KindParse, t.pos, "expected %s, found %s", expected, t.describe())
}

func (p *parser) expect(kind tokenKind, val string) (token, error) {
	t, err := p.next()
	if err != nil {
		return t, err
	}
	if t.kind != kind || (val != "" && t.val != val) {
		want := kind.String()
		if val != "" {
			want = "'" + val + "'"
		}
		return t, p.unexpected(t, want)
	}
	return t, nil
}

func (p *parser) expectStmtEnd() error {
	_, err := p.expect(tokStmtEnd, "")
	return err
}

func (p *parser) expectIdent() (token, error) {
	t, err := p.expect(tokName, "")
	if err != nil {
		return t, err
	}
	if keywords[t.val] {
		return t, p.unexpected(t, "identifier")
	}
	return t, nil
}

var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"true": true, "false": true, "True": true, "False": true, "none": true, "None": true,
}

// parseNodes parses until a statement with a name in `until` is
// encountered; the statement's arguments are left for the caller. If
// `until` is empty, parses to EOF. At EOF endTag is empty.
func (p *parser) parseNodes(until map[string]bool) (nodes []Node, endTag token, err error) {
	for {
		tok, err := p.next()
		if err != nil {
			return nil, token{}, err
		}
		switch tok.kind {
		case tokEOF:
			return nodes, token{}, nil
		case tokText:
			if tok.val != "" {
				nodes = append(nodes, &TextNode{Text: tok.val})
			}
		case tokVarStart:
			e, err := p.parseExpr()
			if err != nil {
				return nil, token{}, err
			}
			if _, err := p.expect(tokVarEnd, ""); err != nil {
				return nil, token{}, err
			}
			nodes = append(nodes, &OutputNode{Expr: e, Pos: tok.pos})
		case tokStmtStart:
			name, err := p.expect(tokName, "")
			if err != nil {
				return nil, token{}, err
			}
			if until[name.val] {
				return nodes, name, nil
			}
			n, err := p.parseStatement(name)
			if err != nil {
				return nil, token{}, err
			}
			if n != nil {
				nodes = append(nodes, n)
			}
		default:
			return nil, token{}, p.unexpected(tok, "text or tag")
		}
	}
}

func (p *parser) parseStatement(name token) (Node, error) {
	switch name.val {
	case "for":
		return p.parseFor(name)
	case "if":
		return p.parseIf(name)
	case "set", "set_global":
		return p.parseSet(name)
	case "break":
		return &BreakNode{Pos: name.pos}, p.expectStmtEnd()
	case "continue":
		return &ContinueNode{Pos: name.pos}, p.expectStmtEnd()
	case "macro":
		return p.parseMacro(name)
	case "import":
		return p.parseImport(name)
	case "include":
		return p.parseInclude(name)
	case "extends":
		return p.parseExtends(name)
	case "block":
		return p.parseBlock(name)
	case "elif", "else", "endif", "endfor", "endmacro", "endblock", "endraw":
		return nil, newError(KindParse, name.pos, "unexpected %q tag", name.val)
	}
	return nil, newError(KindParse, name.pos, "unknown tag %q", name.val)
}

// body parses nested statements until one of the closing tags.
func (p *parser) body(open token, closers ...string) ([]Node, token, error) {
	until := make(map[string]bool, len(closers))
	for _, c := range closers {
		until[c] = true
	}
	p.level++
	nodes, end, err := p.parseNodes(until)
	p.level--
	if err != nil {
		return nil, end, err
	}
	if end.kind == tokEOF {
		return nil, end, newError(KindParse, open.pos, "unterminated %q block, expected %s", open.val, strings.Join(closers, " or "))
	}
	return nodes, end, nil
}

func (p *parser) topLevelOnly(name token) error {
	if p.level > 0 {
		return newError(KindParse, name.pos, "%q is only allowed at the top level of a template", name.val)
	}
	return nil
}

func (p *parser) parseSet(name token) (*SetNode, error) {
	target, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokOp, "="); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectStmtEnd(); err != nil {
		return nil, err
	}
	return &SetNode{Name: target.val, Expr: e, Global: name.val == "set_global", Pos: name.pos}, nil
}

func (p *parser) parseIf(open token) (*IfNode, error) {
	n := &IfNode{}
	tag := open
	for {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectStmtEnd(); err != nil {
			return nil, err
		}
		body, end, err := p.body(open, "elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		n.Branches = append(n.Branches, IfBranch{Cond: cond, Body: body})
		tag = end
		if tag.val != "elif" {
			break
		}
	}
	if tag.val == "else" {
		if err := p.expectStmtEnd(); err != nil {
			return nil, err
		}
		elseBody, _, err := p.body(open, "endif")
		if err != nil {
			return nil, err
		}
		n.Else = elseBody
	}
	return n, p.expectStmtEnd()
}

func (p *parser) parseFor(open token) (*ForNode, error) {
	// Expect: target [, target] in iterable
	first, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	n := &ForNode{Value: first.val, Pos: open.pos}
	if ok, err := p.accept(tokOp, ","); err != nil {
		return nil, err
	} else if ok {
		second, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		n.Key, n.Value = first.val, second.val
	}
	if _, err := p.expect(tokName, "in"); err != nil {
		return nil, err
	}
	if n.Iterable, err = p.parseExpr(); err != nil {
		return nil, err
	}
	if err := p.expectStmtEnd(); err != nil {
		return nil, err
	}
	body, end, err := p.body(open, "else", "endfor")
	if err != nil {
		return nil, err
	}
	n.Body = body
	if end.val == "else" {
		if err := p.expectStmtEnd(); err != nil {
			return nil, err
		}
		if n.Else, _, err = p.body(open, "endfor"); err != nil {
			return nil, err
		}
	}
	n.UsesLoop = references(n.Body, "loop")
	return n, p.expectStmtEnd()
}

func (p *parser) parseMacro(open token) (*MacroNode, error) {
	if err := p.topLevelOnly(open); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	n := &MacroNode{Name: name.val, Pos: open.pos}
	if _, err := p.expect(tokOp, "("); err != nil {
		return nil, err
	}
	var names []string
	for {
		if ok, err := p.accept(tokOp, ")"); err != nil {
			return nil, err
		} else if ok {
			break
		}
		if len(n.Params) > 0 {
			if _, err := p.expect(tokOp, ","); err != nil {
				return nil, err
			}
		}
		param, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		mp := MacroParam{Name: param.val}
		if ok, err := p.accept(tokOp, "="); err != nil {
			return nil, err
		} else if ok {
			if mp.Default, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
		n.Params = append(n.Params, mp)
		names = append(names, param.val)
	}
	if err := v.NoDuplicates(names, fmt.Sprintf("parameters of macro %q", n.Name)); err != nil {
		return nil, &Error{Kind: KindParse, Pos: open.pos, Err: err}
	}
	if err := p.expectStmtEnd(); err != nil {
		return nil, err
	}
	if n.Body, _, err = p.body(open, "endmacro"); err != nil {
		return nil, err
	}
	endName, err := p.next()
	if err != nil {
		return nil, err
	}
	if endName.kind != tokName {
		return nil, newError(KindParse, endName.pos, "endmacro must repeat the macro name %q", n.Name)
	}
	if endName.val != n.Name {
		return nil, newError(KindParse, endName.pos, "endmacro name %q does not match macro name %q", endName.val, n.Name)
	}
	if _, dup := p.doc.Macros[n.Name]; dup {
		return nil, newError(KindParse, open.pos, "macro %q is defined more than once", n.Name)
	}
	p.doc.Macros[n.Name] = n
	return n, p.expectStmtEnd()
}

func (p *parser) parseImport(open token) (*ImportNode, error) {
	if err := p.topLevelOnly(open); err != nil {
		return nil, err
	}
	tpl, err := p.expect(tokString, "")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokName, "as"); err != nil {
		return nil, err
	}
	alias, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if alias.val == "self" {
		return nil, newError(KindParse, alias.pos, "\"self\" cannot be used as an import alias")
	}
	if _, dup := p.doc.Imports[alias.val]; dup {
		return nil, newError(KindParse, alias.pos, "import alias %q is used more than once", alias.val)
	}
	p.doc.Imports[alias.val] = tpl.val
	return &ImportNode{Template: tpl.val, Alias: alias.val, Pos: open.pos}, p.expectStmtEnd()
}

func (p *parser) parseInclude(open token) (*IncludeNode, error) {
	tpl, err := p.expect(tokString, "")
	if err != nil {
		return nil, err
	}
	n := &IncludeNode{Template: tpl.val, Pos: open.pos}
	if ok, err := p.accept(tokName, "ignore"); err != nil {
		return nil, err
	} else if ok {
		if _, err := p.expect(tokName, "missing"); err != nil {
			return nil, err
		}
		n.IgnoreMissing = true
	}
	return n, p.expectStmtEnd()
}

func (p *parser) parseExtends(open token) (*ExtendsNode, error) {
	if err := p.topLevelOnly(open); err != nil {
		return nil, err
	}
	tpl, err := p.expect(tokString, "")
	if err != nil {
		return nil, err
	}
	if p.doc.Extends != nil {
		return nil, newError(KindParse, open.pos, "a template can only extend one parent")
	}
	n := &ExtendsNode{Template: tpl.val, Pos: open.pos}
	p.doc.Extends = n
	return n, p.expectStmtEnd()
}

func (p *parser) parseBlock(open token) (*BlockNode, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectStmtEnd(); err != nil {
		return nil, err
	}
	body, _, err := p.body(open, "endblock")
	if err != nil {
		return nil, err
	}
	end, err := p.next()
	if err != nil {
		return nil, err
	}
	if end.kind == tokName {
		if end.val != name.val {
			return nil, newError(KindParse, end.pos, "endblock name %q does not match block name %q", end.val, name.val)
		}
		end, err = p.next()
		if err != nil {
			return nil, err
		}
	}
	if end.kind != tokStmtEnd {
		return nil, p.unexpected(end, tokStmtEnd.String())
	}
	if _, dup := p.doc.Blocks[name.val]; dup {
		return nil, newError(KindParse, open.pos, "block %q is defined more than once", name.val)
	}
	bn := &BlockNode{Name: name.val, Body: body}
	p.doc.Blocks[name.val] = bn
	return bn, nil
}
