package jinja2

// binding is one name bound in a frame. Frames are small so a slice scan
// beats a map.
type binding struct {
	name string
	val  Value
}

type frame []binding

func (f frame) get(name string) (Value, bool) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i].name == name {
			return f[i].val, true
		}
	}
	return nil, false
}

func (f *frame) set(name string, v Value) {
	for i := range *f {
		if (*f)[i].name == name {
			(*f)[i].val = v
			return
		}
	}
	*f = append(*f, binding{name, v})
}

// stack is the chain of frames for one template or macro body, innermost
// last. Popped frames keep their backing arrays for the next push.
type stack struct {
	frames []frame
}

func newStack(root frame) *stack {
	s := &stack{frames: make([]frame, 1, 8)}
	s.frames[0] = root
	return s
}

func (s *stack) push() {
	n := len(s.frames)
	if n < cap(s.frames) {
		s.frames = s.frames[:n+1]
		s.frames[n] = s.frames[n][:0]
		return
	}
	s.frames = append(s.frames, nil)
}

func (s *stack) pop() {
	n := len(s.frames) - 1
	clear(s.frames[n])
	s.frames = s.frames[:n]
}

// reset empties the innermost frame; loops call it between iterations.
func (s *stack) reset() {
	top := &s.frames[len(s.frames)-1]
	clear(*top)
	*top = (*top)[:0]
}

// set binds name in the innermost frame, shadowing outer bindings.
func (s *stack) set(name string, v Value) { s.frames[len(s.frames)-1].set(name, v) }

// setGlobal binds name in the outermost frame.
func (s *stack) setGlobal(name string, v Value) { s.frames[0].set(name, v) }

func (s *stack) lookup(name string) (Value, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i].get(name); ok {
			return v, true
		}
	}
	return nil, false
}
