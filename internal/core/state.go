package core

import (
	"math/rand"
	"time"
	"unsafe"
)

// Registry well-known slots (§6 "Registry indices").
const (
	RegistryMainThread = 1
	RegistryGlobals    = 2
)

// GlobalState is the one-per-embed record of §3: allocator bookkeeping, the
// interned-string table, the root registry, per-type metatables, the
// object list, the collector's work lists, GC tunables, and the main
// thread. It is passed explicitly (never a process-level global) and every
// Thread holds a stable back-pointer to it.
type GlobalState struct {
	strings  *interner
	registry *Table

	objects Object // head of the global allocation list, linked via header.next

	totalBytes int64
	gcDebt     int64

	phase        gcPhase
	currentWhite color
	gray         []Object
	grayAgain    []Object
	weakTables   []*Table
	tobefin      []Object
	finCursor    int
	sweepCur     Object

	pausePercent int   // §4.4 "pause": percent of last size before next cycle starts
	stepMul      int   // work per byte of debt
	stepSize     int64 // bytes of debt per step
	lastMarked   int64 // total_bytes at the end of the previous cycle
	stopped      bool
	emergency    bool
	stopem       bool

	panicFn func(err error)

	seed uint64

	mainThread *Thread
}

// NewGlobalState creates the interpreter singleton described in §3, with a
// randomized hash seed (time + a heap address, per §4.2) and GC tunables
// clamped to the safe defaults §4.4 describes.
func NewGlobalState() *GlobalState {
	g := &GlobalState{
		pausePercent: 200,
		stepMul:      100,
		stepSize:     1024,
		stopped:      true, // no GC step until the registry anchors every bootstrap object
	}
	var addrSeed int
	g.seed = uint64(time.Now().UnixNano()) ^ uint64(rand.Int63()) ^ uint64(uintptr(unsafe.Pointer(ptrOf(&addrSeed))))
	g.strings = newInterner(g.seed)
	g.registry = &Table{header: header{kind: objTable, id: newIdentity()}, entries: make([]tentry, minTableCap)}
	g.linkObject(g.registry)
	g.registry.setFixed()

	g.mainThread = newThread(g)
	g.registry.Set(g, Int(RegistryMainThread), FromObject(g.mainThread.wrapper()))
	globals := NewTable(g, 0)
	g.registry.Set(g, Int(RegistryGlobals), FromObject(globals))
	g.stopped = false
	return g
}

func (g *GlobalState) MainThread() *Thread { return g.mainThread }
func (g *GlobalState) Registry() *Table    { return g.registry }

func (g *GlobalState) Globals() *Table {
	v, _ := g.registry.Get(Int(RegistryGlobals))
	return v.AsObject().(*Table)
}

func (g *GlobalState) SetPanicFunc(fn func(err error)) { g.panicFn = fn }

// linkObject runs any pending GC step first, then pushes o onto the head of
// the global allocation list and paints it white (the current generation),
// per §3's lifecycle invariant: a new object is reachable only through
// whatever stack slot receives it next, never through the GC's own
// bookkeeping, so the step its own allocation triggers must not see it.
func (g *GlobalState) linkObject(o Object) {
	g.maybeStep()
	h := o.objHeader()
	h.next = g.objects
	h.setColor(g.currentWhite)
	g.objects = o
	g.totalBytes += sizeOf(o)
	g.gcDebt += sizeOf(o)
}

// sizeOf is a deliberately approximate allocation-accounting function: it
// only needs to be monotonic in the object's real footprint, since it only
// drives the pause/step heuristics, never correctness.
func sizeOf(o Object) int64 {
	switch v := o.(type) {
	case *String:
		return int64(48 + len(v.bytes))
	case *Table:
		return int64(32 + len(v.entries)*48)
	case *Array:
		return int64(32 + len(v.vals)*24)
	case *Proto:
		return int64(128 + len(v.Code) + len(v.Constants)*24)
	case *Closure:
		return int64(48 + len(v.Upvals)*8 + len(v.Captured)*24)
	case *Upvalue:
		return 40
	case *Class:
		return int64(64 + len(v.Methods)*16)
	case *Instance:
		return int64(48 + len(v.Fields)*32)
	case *BoundMethod:
		return 32
	case *Userdata:
		return int64(32 + len(v.Data) + len(v.Values)*24)
	default:
		return 32
	}
}

func ptrOf(p *int) *int { return p }

// barrierObj implements the §4.4 write barrier: whenever a black object
// gains a reference to a white value, either repaint the parent gray (put
// it back on the "gray again" list for re-traversal) or mark the child
// now. We always take the cheaper "mark the child" branch except where the
// parent is a table/array/instance that can grow unbounded, where
// repainting is cheaper than re-marking every entry.
func (g *GlobalState) barrierObj(parent Object, v Value) {
	if g.phase == phasePause || g.phase == phaseSweepObjects || g.phase == phaseSweepFinalizers || g.phase == phaseCallFinalizers {
		return // no barrier needed outside an active marking phase
	}
	ph := parent.objHeader()
	if !ph.isBlack() {
		return
	}
	if v.kind != KindObject {
		return
	}
	ch := v.obj.objHeader()
	if !ch.isWhite() {
		return
	}
	switch parent.(type) {
	case *Table, *Array, *Instance:
		ph.setColor(colorGray)
		g.grayAgain = append(g.grayAgain, parent)
	default:
		ch.setColor(colorGray)
		g.gray = append(g.gray, v.obj)
	}
}

// ---------------------------------------------------------------------
// Thread / call frame state (§3 "Thread state", §3 "Call frame")
// ---------------------------------------------------------------------

const multretSentinel = -1

type CallFrame struct {
	base     int
	top      int
	pc       int
	closure  *Closure
	nresults int
	varargs  []Value // extra arguments past the fixed parameters, for a vararg Proto
	prev     *CallFrame

	inGoCall   bool
	tailcalled bool
}

// tbcEntry is one node of the to-be-closed chain of §3: delta is the
// distance (in slot count) back to the previous to-be-closed slot, so
// closing can walk it backwards without a separate data structure.
type tbcEntry struct {
	slot  int
	delta int
}

// errHandler is one frame of the protected-call chain of §4.8 — Go's
// panic/recover stands in for the spec's longjmp-based control transfer,
// the idiomatic substitute the language gives us for a stackable
// nonlocal-exit primitive.
type errHandler struct {
	frameDepth int
	stackTop   int
	prev       *errHandler
}

// threadWrapper lets a *Thread be stored as a registry Value without
// making Thread itself satisfy Object (coroutine scheduling beyond the
// single cooperating main thread is not implemented).
type threadWrapper struct {
	header
	th *Thread
}

func (w *threadWrapper) traverse(g *gcState) { g.markThread(w.th) }
func (w *threadWrapper) String() string      { return "thread" }

type Thread struct {
	g *GlobalState

	stack []Value
	top   int

	frame  *CallFrame
	ncalls int

	openUpvals *Upvalue
	tbc        []tbcEntry

	handlers *errHandler
	ccalls   int

	wrap *threadWrapper
}

const (
	defaultStackSize = 256
	maxStackSize     = 1_000_000
	maxCCalls        = 200
)

func newThread(g *GlobalState) *Thread {
	th := &Thread{g: g, stack: make([]Value, defaultStackSize)}
	th.wrap = &threadWrapper{header: header{kind: objUserdata, id: newIdentity()}, th: th}
	g.linkObject(th.wrap)
	th.wrap.setFixed()
	return th
}

func (th *Thread) wrapper() *threadWrapper { return th.wrap }
func (th *Thread) Global() *GlobalState    { return th.g }

// checkstack grows the stack to accommodate n more slots, raising the
// distinct "stack overflow" error of §8 once maxStackSize is exceeded —
// the message is formatted before anything else is attempted so that
// running out of stack can still be reported.
func (th *Thread) checkstack(n int) error {
	need := th.top + n
	if need <= len(th.stack) {
		return nil
	}
	if need > maxStackSize {
		return newRuntimeError(th, "stack overflow")
	}
	newCap := len(th.stack) * 2
	for newCap < need {
		newCap *= 2
	}
	if newCap > maxStackSize {
		newCap = maxStackSize
	}
	grown := make([]Value, newCap)
	copy(grown, th.stack[:th.top])
	th.stack = grown
	return nil
}

// incCstack implements §8's "recursive-C-call counter raises 'C stack
// overflow' before blowing the real stack": every native-to-script
// reentry increments it, and it is checked before the host's own call
// stack could be at risk.
func (th *Thread) incCstack() error {
	th.ccalls++
	if th.ccalls > maxCCalls {
		th.ccalls--
		return newRuntimeError(th, "C stack overflow")
	}
	return nil
}

func (th *Thread) decCstack() { th.ccalls-- }

func (th *Thread) push(v Value) {
	th.stack[th.top] = v
	th.top++
}

func (th *Thread) pop() Value {
	th.top--
	return th.stack[th.top]
}

// registerTBC marks the local at slot as to-be-closed, recording the delta
// back to the previous registration (§3 "to-be-closed list").
func (th *Thread) registerTBC(slot int) {
	delta := 0
	if n := len(th.tbc); n > 0 {
		delta = slot - th.tbc[n-1].slot
	} else {
		delta = slot
	}
	th.tbc = append(th.tbc, tbcEntry{slot: slot, delta: delta})
}
