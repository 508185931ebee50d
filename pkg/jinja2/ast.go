package jinja2

// Node is any statement-level AST node in a parsed template.
type Node interface {
	node()
}

// Document is the root node produced by Parse. Macros and imports are
// collected from the top level so they resolve regardless of where they
// appear in the source.
type Document struct {
	Nodes   []Node
	Macros  map[string]*MacroNode
	Imports map[string]string // alias -> template name
	Extends *ExtendsNode
	Blocks  map[string]*BlockNode
}

func (*Document) node() {}

// TextNode represents literal text between tags, including the body of a
// {% raw %} block.
type TextNode struct {
	Text string
}

func (*TextNode) node() {}

// OutputNode represents an interpolation: {{ expr }}
type OutputNode struct {
	Expr Expr
	Pos  Pos
}

func (*OutputNode) node() {}

// SetNode represents an assignment: {% set name = expr %}. Global marks
// set_global, which binds in the outermost frame.
type SetNode struct {
	Name   string
	Expr   Expr
	Global bool
	Pos    Pos
}

func (*SetNode) node() {}

// IfNode represents an if/elif/else block. Branches holds the if branch
// followed by every elif in source order.
type IfNode struct {
	Branches []IfBranch
	Else     []Node
}

func (*IfNode) node() {}

// IfBranch is a single condition with its body.
type IfBranch struct {
	Cond Expr
	Body []Node
}

// ForNode represents a for loop: {% for [key,] value in iterable %}
type ForNode struct {
	Key      string // empty unless two targets were given
	Value    string
	Iterable Expr
	Body     []Node
	Else     []Node
	UsesLoop bool // the body references the loop variable
	Pos      Pos
}

func (*ForNode) node() {}

// BreakNode is {% break %}.
type BreakNode struct{ Pos Pos }

func (*BreakNode) node() {}

// ContinueNode is {% continue %}.
type ContinueNode struct{ Pos Pos }

func (*ContinueNode) node() {}

// MacroParam is a macro parameter with an optional default.
type MacroParam struct {
	Name    string
	Default Expr // nil when the parameter is required
}

// MacroNode is a macro definition. It stays in Document.Nodes for tooling
// but renders nothing.
type MacroNode struct {
	Name   string
	Params []MacroParam
	Body   []Node
	Pos    Pos
}

func (*MacroNode) node() {}

// ImportNode is {% import "template" as alias %}.
type ImportNode struct {
	Template string
	Alias    string
	Pos      Pos
}

func (*ImportNode) node() {}

// BlockNode represents a named block for template inheritance.
type BlockNode struct {
	Name string
	Body []Node
}

func (*BlockNode) node() {}

// ExtendsNode declares that this template extends a parent template.
type ExtendsNode struct {
	Template string
	Pos      Pos
}

func (*ExtendsNode) node() {}

// IncludeNode includes another template by name.
type IncludeNode struct {
	Template      string
	IgnoreMissing bool
	Pos           Pos
}

func (*IncludeNode) node() {}

// Expr is an expression AST node.
type Expr interface {
	expr()
	Position() Pos
}

// Literal is a constant value.
type Literal struct {
	Val Value
	Pos Pos
}

// Name looks up a variable in scope, then in the context.
type Name struct {
	Name string
	Pos  Pos
}

// GetAttr is obj.name.
type GetAttr struct {
	Obj  Expr
	Attr string
	Pos  Pos
}

// GetItem is obj[index].
type GetItem struct {
	Obj   Expr
	Index Expr
	Pos   Pos
}

// UnaryExpr is "not x" or "-x".
type UnaryExpr struct {
	Op  string
	X   Expr
	Pos Pos
}

// BinaryExpr is l op r. Op is one of or, and, ==, !=, <, >, <=, >=, in,
// "not in", ~, +, -, *, /, %.
type BinaryExpr struct {
	Op  string
	L   Expr
	R   Expr
	Pos Pos
}

// ListExpr is a list literal [a, b].
type ListExpr struct {
	Items []Expr
	Pos   Pos
}

// NamedArg is name=value in a call.
type NamedArg struct {
	Name  string
	Value Expr
}

// CallArgs holds positional arguments followed by named ones.
type CallArgs struct {
	Positional []Expr
	Named      []NamedArg
}

// FilterExpr is x | name(args).
type FilterExpr struct {
	X    Expr
	Name string
	Args CallArgs
	Pos  Pos
}

// TestExpr is x is [not] name(args).
type TestExpr struct {
	X       Expr
	Name    string
	Args    []Expr
	Negated bool
	Pos     Pos
}

// MacroCall is namespace::name(args). Namespace is an import alias or "self".
type MacroCall struct {
	Namespace string
	Name      string
	Args      CallArgs
	Pos       Pos
}

func (*Literal) expr()    {}
func (*Name) expr()       {}
func (*GetAttr) expr()    {}
func (*GetItem) expr()    {}
func (*UnaryExpr) expr()  {}
func (*BinaryExpr) expr() {}
func (*ListExpr) expr()   {}
func (*FilterExpr) expr() {}
func (*TestExpr) expr()   {}
func (*MacroCall) expr()  {}

func (e *Literal) Position() Pos    { return e.Pos }
func (e *Name) Position() Pos       { return e.Pos }
func (e *GetAttr) Position() Pos    { return e.Pos }
func (e *GetItem) Position() Pos    { return e.Pos }
func (e *UnaryExpr) Position() Pos  { return e.Pos }
func (e *BinaryExpr) Position() Pos { return e.Pos }
func (e *ListExpr) Position() Pos   { return e.Pos }
func (e *FilterExpr) Position() Pos { return e.Pos }
func (e *TestExpr) Position() Pos   { return e.Pos }
func (e *MacroCall) Position() Pos  { return e.Pos }
