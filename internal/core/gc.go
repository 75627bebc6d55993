package core

// gcPhase enumerates the collector's state machine, §4.4:
// PAUSE -> PROPAGATE -> ATOMIC -> SWEEP_OBJECTS -> SWEEP_FINALIZERS ->
// CALL_FINALIZERS -> PAUSE.
type gcPhase uint8

const (
	phasePause gcPhase = iota
	phasePropagate
	phaseAtomic
	phaseSweepObjects
	phaseSweepFinalizers
	phaseCallFinalizers
)

// gcState is the thin handle traverse methods use to mark their children;
// it exists so Object.traverse doesn't need to import/know about
// GlobalState's private work-list fields directly.
type gcState struct {
	g *GlobalState
}

func (gs *gcState) markValue(v Value) {
	if v.kind == KindObject {
		gs.markObject(v.obj)
	}
}

func (gs *gcState) markObject(o Object) {
	h := o.objHeader()
	if !h.isWhite() {
		return
	}
	h.setColor(colorGray)
	gs.g.gray = append(gs.g.gray, o)
}

func (gs *gcState) markThread(th *Thread) {
	for i := 0; i < th.top; i++ {
		gs.markValue(th.stack[i])
	}
	for uv := th.openUpvals; uv != nil; uv = uv.next {
		gs.markObject(uv)
	}
	for cf := th.frame; cf != nil; cf = cf.prev {
		if cf.closure != nil {
			gs.markObject(cf.closure)
		}
	}
}

// maybeStep runs a single collector step if debt has accumulated and the
// collector isn't stopped, mirroring §4.4's "when gc_debt > 0 ... one step
// runs before returning the allocation."
func (g *GlobalState) maybeStep() {
	if g.stopped || g.stopem {
		return
	}
	if g.phase == phasePause {
		threshold := g.lastMarked * int64(g.pausePercent) / 100
		if g.totalBytes < threshold {
			return
		}
		g.startCycle()
	}
	g.step()
}

func (g *GlobalState) startCycle() {
	g.gray = g.gray[:0]
	g.grayAgain = g.grayAgain[:0]
	g.markRoots()
	g.phase = phasePropagate
}

func otherWhite(c color) color {
	if c == colorWhite0 {
		return colorWhite1
	}
	return colorWhite0
}

// markRoots marks every root named in §4.4 PAUSE: the main thread's stack
// and frames, open upvalues, and the registry. Fixed (pinned) objects are
// not marked here; sweepStep never frees them.
func (g *GlobalState) markRoots() {
	gs := &gcState{g: g}
	gs.markThread(g.mainThread)
	gs.markObject(g.registry)
}

// step performs one PROPAGATE/ATOMIC/SWEEP increment, budgeted by
// stepSize*stepMul "work units" the way §4.4 specifies, where one work
// unit is one object traversed or swept.
func (g *GlobalState) step() {
	budget := (g.stepSize * int64(g.stepMul)) / 100
	if budget < 1 {
		budget = 1
	}
	work := int64(0)
	for work < budget {
		switch g.phase {
		case phasePropagate:
			if len(g.gray) == 0 {
				g.atomic()
				work++
				continue
			}
			o := g.gray[len(g.gray)-1]
			g.gray = g.gray[:len(g.gray)-1]
			gs := &gcState{g: g}
			o.traverse(gs)
			o.objHeader().setColor(colorBlack)
			work++
		case phaseSweepObjects:
			if !g.sweepStep() {
				g.strings.sweep(otherWhite(g.currentWhite)) // drop the interner's weak entries for whatever sweepStep just unlinked
				g.phase = phaseSweepFinalizers
				g.tobefin = g.tobefin[:0]
				g.finCursor = 0
			}
			work++
		case phaseSweepFinalizers:
			g.phase = phaseCallFinalizers
			work++
		case phaseCallFinalizers:
			if !g.callOneFinalizer() {
				g.phase = phasePause
				g.lastMarked = g.totalBytes
				return
			}
			work++
		default:
			return
		}
	}
}

// atomic implements §4.4 ATOMIC: drain gray-again, process weak tables,
// move unreachable-but-finalizable objects to the to-be-finalized queue
// (resurrecting them for one more cycle), then flip to sweeping.
func (g *GlobalState) atomic() {
	gs := &gcState{g: g}
	for len(g.grayAgain) > 0 {
		o := g.grayAgain[len(g.grayAgain)-1]
		g.grayAgain = g.grayAgain[:len(g.grayAgain)-1]
		o.traverse(gs)
		o.objHeader().setColor(colorBlack)
	}
	for len(g.gray) > 0 {
		o := g.gray[len(g.gray)-1]
		g.gray = g.gray[:len(g.gray)-1]
		o.traverse(gs)
		o.objHeader().setColor(colorBlack)
	}
	for _, wt := range g.weakTables {
		sweepWeakTable(wt)
	}
	g.resurrectFinalizables()
	g.currentWhite = otherWhite(g.currentWhite) // objects allocated during sweep are the "new" white
	g.sweepCur = g.objects
	g.phase = phaseSweepObjects
}

func sweepWeakTable(t *Table) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.state != slotLive {
			continue
		}
		if e.key.kind == KindObject && e.key.obj.objHeader().isWhite() {
			e.state = slotTombstone
			e.key, e.val = Nil, Nil
		}
	}
}

// resurrectFinalizables walks the object list looking for white objects
// with a pending __gc that haven't been queued yet, marks them reachable
// (resurrection, §3's finalizer lifecycle), and queues them.
func (g *GlobalState) resurrectFinalizables() {
	gs := &gcState{g: g}
	for o := g.objects; o != nil; o = o.objHeader().next {
		h := o.objHeader()
		if h.isWhite() && h.isFinalizable() && h.mark&bitSeparated == 0 {
			h.mark |= bitSeparated
			h.setColor(colorGray)
			g.gray = append(g.gray, o)
			g.tobefin = append(g.tobefin, o)
		}
	}
	for len(g.gray) > 0 {
		o := g.gray[len(g.gray)-1]
		g.gray = g.gray[:len(g.gray)-1]
		o.traverse(gs)
		o.objHeader().setColor(colorBlack)
	}
}

// sweepStep frees (unlinks) one dead-white object from the list and
// repaints survivors to the current white, §4.4 SWEEP_OBJECTS. currentWhite
// was already flipped in atomic(), so "dead" means colored with the white
// that was current before that flip — isWhite() alone can't tell the two
// whites apart, which is why this compares against otherWhite(currentWhite)
// directly rather than calling it. Repainting survivors to the (new)
// current white, not black, is what makes them collectible again next
// cycle if they stop being reachable; painting them black here would pin
// them permanently, since markObject only grays white objects. Returns
// false once the list is exhausted.
func (g *GlobalState) sweepStep() bool {
	var prev Object
	cur := g.sweepCur
	swept := 0
	const sweepBatch = 16
	dead := otherWhite(g.currentWhite)
	for cur != nil && swept < sweepBatch {
		h := cur.objHeader()
		next := h.next
		if color(h.mark&0x3) == dead && !h.isFixed() {
			g.totalBytes -= sizeOf(cur)
			if prev == nil {
				g.objects = next
			} else {
				prev.objHeader().next = next
			}
		} else {
			h.setColor(g.currentWhite)
			prev = cur
		}
		cur = next
		swept++
	}
	g.sweepCur = cur
	return cur != nil
}

// callOneFinalizer pops one object off the to-be-finalized queue and
// invokes its __gc in a protected call, §4.4 CALL_FINALIZERS: errors are
// swallowed (reported through the panic hook) rather than aborting
// collection.
func (g *GlobalState) callOneFinalizer() bool {
	if g.finCursor >= len(g.tobefin) {
		return false
	}
	o := g.tobefin[g.finCursor]
	g.finCursor++
	var vmt *[numMetaEvents]*Closure
	switch v := o.(type) {
	case *Instance:
		vmt = &v.Class.VMT
	case *Userdata:
		vmt = v.VMT
	}
	if vmt == nil || vmt[MetaGC] == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil && g.panicFn != nil {
			g.panicFn(errFromRecover(r))
		}
	}()
	th := g.mainThread
	th.push(FromObject(vmt[MetaGC]))
	th.push(FromObject(o))
	if err := th.Call(1, 0); err != nil && g.panicFn != nil {
		g.panicFn(err)
	}
	return true
}

// Collect forces the collector through a full cycle synchronously —
// used by the host API's `collectgarbage("collect")` and by tests that
// need a deterministic heap.
func (g *GlobalState) Collect() {
	if g.phase == phasePause {
		g.startCycle()
	}
	for g.phase != phasePause {
		g.step()
	}
}

// TotalBytes exposes the §8 round-trip property ("running the
// collector to completion when no roots change leaves total_bytes
// unchanged") to callers/tests.
func (g *GlobalState) TotalBytes() int64 { return g.totalBytes }

// SetPause / SetStepMul / SetStepSize adjust the §4.4 tunables, clamped to
// sane bounds the way the spec requires.
func (g *GlobalState) SetPause(percent int) {
	if percent < 100 {
		percent = 100
	}
	g.pausePercent = percent
}

func (g *GlobalState) SetStepMul(mul int) {
	if mul < 1 {
		mul = 1
	}
	g.stepMul = mul
}

func (g *GlobalState) SetStepSize(bytes int64) {
	if bytes < 64 {
		bytes = 64
	}
	g.stepSize = bytes
}

func (g *GlobalState) Stop()  { g.stopped = true }
func (g *GlobalState) Start() { g.stopped = false }
