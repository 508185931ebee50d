package jinja2

import (
	"bytes"
	"strconv"
)

// signal reports how a body finished so loops can honour break and continue.
type signal int

const (
	sigNormal signal = iota
	sigBreak
	sigContinue
)

type blockRef struct {
	block *BlockNode
	owner *Template
}

// renderer holds the state of one Render call. Nothing in it is shared with
// other renders; the registry snapshot and the templates it points to are
// only read.
type renderer struct {
	e       *Engine
	reg     registry
	ctx     Context
	lenient bool

	stack  *stack
	owner  *Template // template whose macros and imports are in effect
	blocks map[string]blockRef
	depth  int
	ctlPos Pos // last break or continue, for BreakOutsideLoop
	num    []byte
}

func newRenderer(e *Engine, reg registry, ctx Context) *renderer {
	return &renderer{
		e:       e,
		reg:     reg,
		ctx:     ctx,
		lenient: e.undefined == UndefinedLenient,
		stack:   newStack(nil),
	}
}

// renderTemplate renders t, following its extends chain to the root layout.
func (r *renderer) renderTemplate(buf *bytes.Buffer, t *Template) error {
	root, blocks, err := r.inheritance(t)
	if err != nil {
		return err
	}
	prevOwner, prevBlocks := r.owner, r.blocks
	r.owner, r.blocks = root, blocks
	sig, err := r.renderNodes(buf, root.Doc.Nodes)
	r.owner, r.blocks = prevOwner, prevBlocks
	if err != nil {
		return inTemplate(err, root.Name)
	}
	if sig != sigNormal {
		return &Error{Kind: KindBreakOutsideLoop, Template: root.Name, Pos: r.ctlPos, Msg: "break or continue is not inside a for loop"}
	}
	return nil
}

// inheritance walks the extends chain of t. It returns the template whose
// nodes are rendered and, for every block name, the most derived definition.
func (r *renderer) inheritance(t *Template) (*Template, map[string]blockRef, error) {
	if t.Doc.Extends == nil && len(t.Doc.Blocks) == 0 {
		return t, nil, nil
	}
	blocks := make(map[string]blockRef)
	var seen map[string]bool
	cur := t
	for {
		for name, b := range cur.Doc.Blocks {
			if _, ok := blocks[name]; !ok {
				blocks[name] = blockRef{block: b, owner: cur}
			}
		}
		ext := cur.Doc.Extends
		if ext == nil {
			return cur, blocks, nil
		}
		if seen == nil {
			seen = make(map[string]bool)
		}
		seen[cur.Name] = true
		if seen[ext.Template] {
			return nil, nil, &Error{Kind: KindRecursionLimit, Template: cur.Name, Pos: ext.Pos, Msg: "circular extends of " + quote(ext.Template)}
		}
		parent, ok := r.reg[ext.Template]
		if !ok {
			return nil, nil, &Error{Kind: KindTemplateNotFound, Template: cur.Name, Pos: ext.Pos, Msg: "parent template " + quote(ext.Template) + " is not registered"}
		}
		cur = parent
	}
}

// enter counts one level of macro or include nesting.
func (r *renderer) enter(pos Pos) error {
	if r.depth >= r.e.maxDepth {
		return newError(KindRecursionLimit, pos, "call depth exceeds %d", r.e.maxDepth)
	}
	r.depth++
	return nil
}

func (r *renderer) leave() { r.depth-- }

func (r *renderer) renderNodes(buf *bytes.Buffer, nodes []Node) (signal, error) {
	for _, n := range nodes {
		switch t := n.(type) {
		case *TextNode:
			buf.WriteString(t.Text)
		case *OutputNode:
			v, err := r.eval(t.Expr)
			if err != nil {
				return sigNormal, err
			}
			r.write(buf, v)
		case *SetNode:
			v, err := r.eval(t.Expr)
			if err != nil {
				return sigNormal, err
			}
			if t.Global {
				r.stack.setGlobal(t.Name, v)
			} else {
				r.stack.set(t.Name, v)
			}
		case *IfNode:
			if sig, err := r.renderIf(buf, t); err != nil || sig != sigNormal {
				return sig, err
			}
		case *ForNode:
			if sig, err := r.renderFor(buf, t); err != nil || sig != sigNormal {
				return sig, err
			}
		case *BreakNode:
			r.ctlPos = t.Pos
			return sigBreak, nil
		case *ContinueNode:
			r.ctlPos = t.Pos
			return sigContinue, nil
		case *BlockNode:
			if sig, err := r.renderBlock(buf, t); err != nil || sig != sigNormal {
				return sig, err
			}
		case *IncludeNode:
			if err := r.renderInclude(buf, t); err != nil {
				return sigNormal, err
			}
		case *MacroNode, *ImportNode, *ExtendsNode:
			// collected at parse time
		}
	}
	return sigNormal, nil
}

// write appends the output form of v.
func (r *renderer) write(buf *bytes.Buffer, v Value) {
	switch t := v.(type) {
	case StringValue:
		buf.WriteString(string(t))
	case IntValue:
		r.num = strconv.AppendInt(r.num[:0], int64(t), 10)
		buf.Write(r.num)
	case NoneValue:
	default:
		buf.WriteString(v.String())
	}
}

func (r *renderer) renderIf(buf *bytes.Buffer, n *IfNode) (signal, error) {
	for _, b := range n.Branches {
		v, err := r.eval(b.Cond)
		if err != nil {
			return sigNormal, err
		}
		if v.Truth() {
			return r.renderNodes(buf, b.Body)
		}
	}
	return r.renderNodes(buf, n.Else)
}

func (r *renderer) renderFor(buf *bytes.Buffer, n *ForNode) (signal, error) {
	coll, err := r.eval(n.Iterable)
	if err != nil {
		return sigNormal, err
	}
	var it iterable
	switch c := coll.(type) {
	case ListValue:
		if n.Key != "" {
			return sigNormal, newError(KindTypeMismatch, n.Pos, "cannot unpack list elements into %s, %s; two loop variables need an object", n.Key, n.Value)
		}
		it.list = c
	case *DictValue:
		it.dict = c
	case NoneValue:
		if !r.lenient {
			return sigNormal, newError(KindTypeMismatch, n.Iterable.Position(), "cannot iterate over none")
		}
	default:
		return sigNormal, newError(KindTypeMismatch, n.Iterable.Position(), "cannot iterate over %s", coll.Kind())
	}

	length := it.Len()
	if length == 0 {
		return r.renderNodes(buf, n.Else)
	}
	r.stack.push()
	defer r.stack.pop()
	for i := 0; i < length; i++ {
		if i > 0 {
			r.stack.reset()
		}
		k, v := it.At(i)
		switch {
		case n.Key != "":
			r.stack.set(n.Key, k)
			r.stack.set(n.Value, v)
		case it.dict != nil:
			r.stack.set(n.Value, k)
		default:
			r.stack.set(n.Value, v)
		}
		if n.UsesLoop {
			r.stack.set("loop", loopValue(i, length))
		}
		sig, err := r.renderNodes(buf, n.Body)
		if err != nil {
			return sigNormal, err
		}
		if sig == sigBreak {
			break
		}
	}
	return sigNormal, nil
}

func loopValue(i, length int) *DictValue {
	return NewDict(5).
		Set("index", IntValue(i+1)).
		Set("index0", IntValue(i)).
		Set("first", BoolValue(i == 0)).
		Set("last", BoolValue(i == length-1)).
		Set("length", IntValue(length))
}

func (r *renderer) renderBlock(buf *bytes.Buffer, b *BlockNode) (signal, error) {
	ref, ok := r.blocks[b.Name]
	if !ok {
		ref = blockRef{block: b, owner: r.owner}
	}
	prev := r.owner
	r.owner = ref.owner
	sig, err := r.renderNodes(buf, ref.block.Body)
	r.owner = prev
	return sig, inTemplate(err, ref.owner.Name)
}

// renderInclude renders another template in place. The included template
// sees the current scope through a pushed frame; its own sets stay local.
func (r *renderer) renderInclude(buf *bytes.Buffer, n *IncludeNode) error {
	t, ok := r.reg[n.Template]
	if !ok {
		if n.IgnoreMissing {
			return nil
		}
		return newError(KindTemplateNotFound, n.Pos, "included template %q is not registered", n.Template)
	}
	if err := r.enter(n.Pos); err != nil {
		return err
	}
	defer r.leave()
	r.stack.push()
	defer r.stack.pop()
	return r.renderTemplate(buf, t)
}
