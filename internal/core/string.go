package core

// String bits (§3, §4.2): "has hash" is always set once computed (every
// interned string gets one up front), "interned"/"keyword"/"metamethod
// name" are the extra classification bits the lexer and the metamethod
// table rely on.
const (
	strHasHash = 1 << 0
	strInterned = 1 << 1
	strKeyword  = 1 << 2
	strMetaName = 1 << 3
)

// String is an immutable byte sequence, the collectable object every
// identifier, literal, and metamethod name boils down to.
type String struct {
	header
	bytes []byte
	hash  uint64
	bits  uint8
}

func (s *String) Bytes() []byte { return s.bytes }
func (s *String) String() string { return string(s.bytes) }
func (s *String) Len() int       { return len(s.bytes) }

func (s *String) IsKeyword() bool  { return s.bits&strKeyword != 0 }
func (s *String) IsMetaName() bool { return s.bits&strMetaName != 0 }

func (s *String) traverse(g *gcState) {} // strings have no outgoing references (§4.4)

// interner is the weak hash set of §4.2, keyed by (length, hash). It never
// holds a root reference itself: survival is decided purely by whether the
// sweep phase still finds the string reachable from elsewhere.
type interner struct {
	seed    uint64
	buckets map[uint64][]*String
}

func newInterner(seed uint64) *interner {
	return &interner{seed: seed, buckets: make(map[uint64][]*String)}
}

// fnvSeed computes the seeded FNV-1a variant hash §4.1 calls for, combining
// the global random seed so that hash-flooding attacks need to guess it.
func (in *interner) fnvSeed(b []byte) uint64 {
	h := uint64(1469598103934665603) ^ in.seed
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

// intern returns the canonical *String for b, allocating and registering a
// new one on first sight. The caller is responsible for making the returned
// value reachable from a root before the next allocation (§3 lifecycle
// invariant); intern itself never triggers a GC step since it runs during
// lexing/compiling, ahead of the value being placed on any stack.
func (g *GlobalState) intern(b []byte) *String {
	h := g.strings.fnvSeed(b)
	for _, cand := range g.strings.buckets[h] {
		if string(cand.bytes) == string(b) {
			return cand
		}
	}
	s := &String{
		header: header{kind: objString, id: newIdentity()},
		bytes:  append([]byte(nil), b...),
		hash:   h,
		bits:   strHasHash | strInterned,
	}
	// linked by hand rather than through linkObject, which would run a GC step
	s.next = g.objects
	s.setColor(g.currentWhite)
	g.objects = s
	g.totalBytes += sizeOf(s)
	g.gcDebt += sizeOf(s)
	g.strings.buckets[h] = append(g.strings.buckets[h], s)
	return s
}

// InternString is the embedder-facing entry point used by the host API to
// turn a Go string into a Cript string value.
func (g *GlobalState) InternString(s string) *String {
	return g.intern([]byte(s))
}

// sweep drops dead entries (those still colored with the dead white that
// sweepStep unlinked) from the weak set at the end of SWEEP_OBJECTS; it
// never frees the *String itself, that happens via the main object-list
// sweep.
func (in *interner) sweep(dead color) {
	for h, bucket := range in.buckets {
		kept := bucket[:0]
		for _, s := range bucket {
			if color(s.mark&0x3) != dead {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(in.buckets, h)
		} else {
			in.buckets[h] = kept
		}
	}
}
