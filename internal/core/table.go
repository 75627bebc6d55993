package core

import "math/bits"

// Table is the open-addressed hash map of §4.3: power-of-two capacity,
// linear probing, tombstones on delete. It is the object backing both
// script-level `{ }` table literals and, indirectly, the registry and the
// per-class method tables (which use a Go map directly, see class.go,
// since those are never exposed to script-level `pairs`/rehash pressure).
type Table struct {
	header
	entries []tentry
	used    int // occupied, including tombstones
	live    int // occupied, excluding tombstones
	// VMT is the optional metatable a script attaches with `setmetatable`,
	// mirroring Userdata's VMT field so the same getMetamethod dispatch
	// covers both (§4.1/§6 "tables may carry a metatable"). Meta retains the
	// original metatable object so `getmetatable` can hand it back verbatim;
	// VMT itself only holds the resolved closures dispatch actually needs.
	VMT  *[numMetaEvents]*Closure
	Meta *Table
}

type tslot uint8

const (
	slotEmpty tslot = iota
	slotTombstone
	slotLive
)

type tentry struct {
	key   Value
	val   Value
	state tslot
}

const minTableCap = 8

func NewTable(g *GlobalState, sizeHint int) *Table {
	cap := minTableCap
	if sizeHint > minTableCap {
		// round up to the next power of two via bit-length, the same
		// closed-form idiom the teacher uses instead of a shift loop.
		cap = 1 << bits.Len(uint(sizeHint-1))
	}
	t := &Table{
		header:  header{kind: objTable, id: newIdentity()},
		entries: make([]tentry, cap),
	}
	g.linkObject(t)
	return t
}

func (t *Table) traverse(g *gcState) {
	for i := range t.entries {
		if t.entries[i].state == slotLive {
			g.markValue(t.entries[i].key)
			g.markValue(t.entries[i].val)
		}
	}
	if t.VMT != nil {
		for _, m := range t.VMT {
			if m != nil {
				g.markObject(m)
			}
		}
	}
	if t.Meta != nil {
		g.markObject(t.Meta)
	}
}

func (t *Table) Metamethod(ev MetaEvent) *Closure {
	if t.VMT == nil {
		return nil
	}
	return t.VMT[ev]
}

// SetMetatable installs mt's closures as this table's VMT, one slot per
// MetaEvent found by name in mt (§6 "setmetatable"). Applying the §4.4
// write barrier here since a black table can outlive the mark of a
// freshly-created metatable closure.
func (t *Table) SetMetatable(g *GlobalState, mt *Table) {
	t.Meta = mt
	if mt == nil {
		t.VMT = nil
		return
	}
	g.barrierObj(t, FromObject(mt))
	var vmt [numMetaEvents]*Closure
	for ev := MetaEvent(0); ev < numMetaEvents; ev++ {
		name := metaNames[ev]
		if v, ok := mt.Get(FromObject(g.InternString(name))); ok && v.IsObject() {
			if cl, ok := v.obj.(*Closure); ok {
				vmt[ev] = cl
				g.barrierObj(t, v)
			}
		}
	}
	t.VMT = &vmt
}

func (t *Table) mainPosition(k Value) uint64 {
	return Hash(k) & uint64(len(t.entries)-1)
}

// Get implements §4.3 lookup: probe until a non-tombstone empty slot, or a
// key-equal live slot.
func (t *Table) Get(k Value) (Value, bool) {
	if len(t.entries) == 0 {
		return Nil, false
	}
	i := t.mainPosition(k)
	for {
		e := &t.entries[i]
		switch e.state {
		case slotEmpty:
			return Nil, false
		case slotLive:
			if RawEqual(e.key, k) {
				return e.val, true
			}
		}
		i = (i + 1) & uint64(len(t.entries)-1)
	}
}

// Set implements §4.3 insertion, rehashing to the next power of two once
// the load factor would exceed 0.70.
func (t *Table) Set(g *GlobalState, k, v Value) {
	if t.live+1 > (len(t.entries)*7)/10 {
		t.rehash(g, len(t.entries)*2)
	}
	i := t.mainPosition(k)
	var tombstoneIdx = -1
	for {
		e := &t.entries[i]
		switch e.state {
		case slotEmpty:
			target := i
			if tombstoneIdx >= 0 {
				target = uint64(tombstoneIdx)
			} else {
				t.used++
			}
			t.entries[target] = tentry{key: k, val: v, state: slotLive}
			t.live++
			g.barrierObj(t, k)
			g.barrierObj(t, v)
			return
		case slotTombstone:
			if tombstoneIdx < 0 {
				tombstoneIdx = int(i)
			}
		case slotLive:
			if RawEqual(e.key, k) {
				e.val = v
				g.barrierObj(t, v)
				return
			}
		}
		i = (i + 1) & uint64(len(t.entries)-1)
	}
}

// Delete leaves a tombstone in place so later probes don't stop short.
func (t *Table) Delete(k Value) bool {
	if len(t.entries) == 0 {
		return false
	}
	i := t.mainPosition(k)
	for {
		e := &t.entries[i]
		switch e.state {
		case slotEmpty:
			return false
		case slotLive:
			if RawEqual(e.key, k) {
				e.state = slotTombstone
				e.key, e.val = Nil, Nil
				t.live--
				return true
			}
		}
		i = (i + 1) & uint64(len(t.entries)-1)
	}
}

func (t *Table) rehash(g *GlobalState, newCap int) {
	old := t.entries
	t.entries = make([]tentry, newCap)
	t.used, t.live = 0, 0
	for _, e := range old {
		if e.state == slotLive {
			t.Set(g, e.key, e.val)
		}
	}
}

func (t *Table) Len() int { return t.live }

// Next supports script-level `pairs` iteration: given the previous key
// (Nil to start), returns the next live (key, value) pair in storage
// order. Each key/value is visited exactly once per full iteration,
// matching the invariant in §8 scenario 5.
func (t *Table) Next(prev Value) (k, v Value, ok bool) {
	start := 0
	if !prev.IsNil() {
		i := t.mainPosition(prev)
		for {
			e := &t.entries[i]
			if e.state == slotLive && RawEqual(e.key, prev) {
				start = int(i) + 1
				break
			}
			i = (i + 1) & uint64(len(t.entries)-1)
		}
	}
	for i := start; i < len(t.entries); i++ {
		if t.entries[i].state == slotLive {
			return t.entries[i].key, t.entries[i].val, true
		}
	}
	return Nil, Nil, false
}

func (t *Table) String() string { return "table" }
