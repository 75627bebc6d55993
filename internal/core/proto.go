package core

// UpvalDesc names one upvalue a closure of this prototype must capture:
// either an enclosing local (InStack true, Index names the local's stack
// slot) or an enclosing upvalue (InStack false, Index names the enclosing
// function's upvalue slot). §3 "Function prototype".
type UpvalDesc struct {
	Name    *String
	InStack bool
	Index   uint8
}

// LocalDebug records a local variable's name and the [StartPC, EndPC) range
// over which it is in scope, purely for debug/trace output.
type LocalDebug struct {
	Name    *String
	StartPC int
	EndPC   int
}

// lineEntry is one row of the sparse line table (§4.6): absolute rows are
// inserted every 128 instructions so PC->line lookup can binary-search a
// bounded window instead of scanning from the start.
type lineEntry struct {
	pc       int
	line     int
	absolute bool
}

// Proto is the immutable, compiled description of a function: bytecode,
// constants, debug info, nested prototypes. Immutable after Finalize is
// called by the compiler (§3 "Prototypes are immutable after compilation").
type Proto struct {
	header

	Source       *String
	DefinedLine  int
	LastLine     int
	NumParams    uint8
	IsVararg     bool
	MaxStack     uint8

	Code      []byte
	Constants []Value
	Lines     []lineEntry
	Upvals    []UpvalDesc
	Locals    []LocalDebug
	Protos    []*Proto

	// Statics backs `static` locals (§4.6 "Locals, upvalues, globals":
	// local kind {mutable, const, to-be-closed, static}): one slot array
	// owned by the prototype itself rather than by any one call frame, so
	// its values persist across calls the way a C static local would.
	// Unlike Code/Constants this is NOT frozen after compilation — it is
	// the one piece of mutable state a Proto carries, grounded on
	// original_source/src/crparser.h's VARSTATIC/'svars' array.
	Statics []Value
}

func NewProto(g *GlobalState) *Proto {
	p := &Proto{header: header{kind: objProto, id: newIdentity()}}
	g.linkObject(p)
	return p
}

func (p *Proto) traverse(g *gcState) {
	if p.Source != nil {
		g.markObject(p.Source)
	}
	for _, c := range p.Constants {
		g.markValue(c)
	}
	for _, u := range p.Upvals {
		if u.Name != nil {
			g.markObject(u.Name)
		}
	}
	for _, l := range p.Locals {
		if l.Name != nil {
			g.markObject(l.Name)
		}
	}
	for _, np := range p.Protos {
		g.markObject(np)
	}
	for _, s := range p.Statics {
		g.markValue(s)
	}
}

// SetStatic writes Statics[idx] with the §4.4 write barrier applied, since
// it is a mutation of an otherwise-immutable object that may already be
// black.
func (p *Proto) SetStatic(g *GlobalState, idx int, v Value) {
	p.Statics[idx] = v
	g.barrierObj(p, v)
}

func (p *Proto) String() string {
	if p.Source != nil {
		return "function <" + p.Source.String() + ">"
	}
	return "function"
}

// AddLine is the compiler-facing entry point for addLine, exposed so the
// compiler package can record line info as it emits bytecode.
func (p *Proto) AddLine(pc, line int) { p.addLine(pc, line) }

// TruncateLines drops every line-table entry whose recorded pc now falls at
// or past newCodeLen, the compiler-facing counterpart to slicing Code itself
// down when constant folding discards already-emitted instructions (see
// compiler.foldConstTail). Without this the sparse table would keep stale
// entries with pc values past the end of the trimmed code, breaking the
// ascending-pc assumption LineAt's binary search relies on.
func (p *Proto) TruncateLines(newCodeLen int) {
	for len(p.Lines) > 0 && p.Lines[len(p.Lines)-1].pc >= newCodeLen {
		p.Lines = p.Lines[:len(p.Lines)-1]
	}
}

// addLine appends a (pc, line) entry to the sparse table, matching §4.6:
// only record a new entry when the line changed, force an absolute entry
// every 128 instructions regardless.
func (p *Proto) addLine(pc, line int) {
	n := len(p.Lines)
	force := n == 0 || pc-p.Lines[n-1].pc >= 128
	if !force && p.Lines[n-1].line == line {
		return
	}
	p.Lines = append(p.Lines, lineEntry{pc: pc, line: line, absolute: force})
}

// LineAt performs the §8 "Line lookup" testable property: binary search for
// the last entry at or before pc, then linear scan backwards to the
// preceding absolute entry if the match wasn't itself absolute — mirrors
// how the real debug info is decoded without needing every row to carry a
// redundant absolute pc.
func (p *Proto) LineAt(pc int) int {
	if len(p.Lines) == 0 {
		return p.DefinedLine
	}
	lo, hi := 0, len(p.Lines)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if p.Lines[mid].pc <= pc {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return p.Lines[lo].line
}
