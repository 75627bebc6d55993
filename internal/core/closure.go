package core

// Upvalue is open while it still points into its owning thread's stack and
// is a node in that thread's doubly-linked open list (ordered by descending
// stack level, §3); once closed it owns its own Value slot.
type Upvalue struct {
	header
	thread *Thread // owner, nil once closed
	idx    int     // stack slot index while open
	closed Value   // value slot used once closed
	prev   *Upvalue
	next   *Upvalue
}

func (u *Upvalue) traverse(g *gcState) {
	if u.thread == nil {
		g.markValue(u.closed)
	}
	// while open the referenced stack slot is already a GC root via the
	// owning thread, so there is nothing extra to mark here.
}

func (u *Upvalue) String() string { return "upvalue" }

func (u *Upvalue) IsOpen() bool { return u.thread != nil }

func (u *Upvalue) Get() Value {
	if u.thread != nil {
		return u.thread.stack[u.idx]
	}
	return u.closed
}

func (u *Upvalue) Set(g *GlobalState, v Value) {
	if u.thread != nil {
		u.thread.stack[u.idx] = v
	} else {
		u.closed = v
	}
	g.barrierObj(u, v)
}

// Closure combines a Proto with its bound upvalues (script closure) or a
// Go function with its inlined captured values (C closure), §3.
type Closure struct {
	header
	Proto    *Proto     // nil for a C closure
	Upvals   []*Upvalue // script closure: shared references
	Native   GoFunction // C closure: the function pointer
	Captured []Value    // C closure: owned "upvalues"
}

func NewScriptClosure(g *GlobalState, p *Proto) *Closure {
	c := &Closure{
		header: header{kind: objClosure, id: newIdentity()},
		Proto:  p,
		Upvals: make([]*Upvalue, len(p.Upvals)),
	}
	g.linkObject(c)
	return c
}

func NewCClosure(g *GlobalState, fn GoFunction, captured []Value) *Closure {
	c := &Closure{
		header:   header{kind: objClosure, id: newIdentity()},
		Native:   fn,
		Captured: captured,
	}
	g.linkObject(c)
	return c
}

func (c *Closure) IsScript() bool { return c.Proto != nil }

func (c *Closure) traverse(g *gcState) {
	if c.Proto != nil {
		g.markObject(c.Proto)
		for _, uv := range c.Upvals {
			if uv != nil {
				g.markObject(uv)
			}
		}
	}
	for _, v := range c.Captured {
		g.markValue(v)
	}
}

func (c *Closure) String() string {
	if c.IsScript() {
		return c.Proto.String()
	}
	return "function <native>"
}

// findOpenUpvalue reuses an existing node for slot idx if one already
// points there, preserving §8 "Upvalue uniqueness": at most one open
// upvalue per stack slot at any time.
func (th *Thread) findOpenUpvalue(idx int) *Upvalue {
	for uv := th.openUpvals; uv != nil; uv = uv.next {
		if uv.idx == idx {
			return uv
		}
		if uv.idx < idx {
			break // list is ordered by descending level
		}
	}
	return nil
}

// newUpvalue inserts a fresh node keeping the open list sorted by
// descending stack level (head = greatest level).
func (th *Thread) newUpvalue(g *GlobalState, idx int) *Upvalue {
	if uv := th.findOpenUpvalue(idx); uv != nil {
		return uv
	}
	uv := &Upvalue{header: header{kind: objUpvalue, id: newIdentity()}, thread: th, idx: idx}
	g.linkObject(uv)

	var prev *Upvalue
	cur := th.openUpvals
	for cur != nil && cur.idx > idx {
		prev = cur
		cur = cur.next
	}
	uv.next = cur
	uv.prev = prev
	if cur != nil {
		cur.prev = uv
	}
	if prev != nil {
		prev.next = uv
	} else {
		th.openUpvals = uv
	}
	return uv
}

// closeUpvalues closes every open upvalue at or above level, in descending
// order (head first), copying the stack value into the node's own slot and
// detaching it from the thread (§4.7 "Open upvalues").
func (th *Thread) closeUpvalues(level int) {
	for th.openUpvals != nil && th.openUpvals.idx >= level {
		uv := th.openUpvals
		th.openUpvals = uv.next
		if uv.next != nil {
			uv.next.prev = nil
		}
		uv.closed = th.stack[uv.idx]
		uv.thread = nil
		uv.next, uv.prev = nil, nil
	}
}
