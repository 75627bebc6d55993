package core

// Userdata is a raw byte block sized at allocation, with an optional
// per-instance metamethod table and embedded typed user-values reachable
// by the collector (§3 "Userdata").
type Userdata struct {
	header
	Data   []byte
	VMT    *[numMetaEvents]*Closure
	Values []Value // embedded typed user-values, traced like table entries
}

func NewUserdata(g *GlobalState, size int, nuvalue int) *Userdata {
	u := &Userdata{
		header: header{kind: objUserdata, id: newIdentity()},
		Data:   make([]byte, size),
	}
	if nuvalue > 0 {
		u.Values = make([]Value, nuvalue)
	}
	g.linkObject(u)
	return u
}

func (u *Userdata) traverse(g *gcState) {
	for _, v := range u.Values {
		g.markValue(v)
	}
	if u.VMT != nil {
		for _, m := range u.VMT {
			if m != nil {
				g.markObject(m)
			}
		}
	}
}

func (u *Userdata) String() string { return "userdata" }

func (u *Userdata) Metamethod(ev MetaEvent) *Closure {
	if u.VMT == nil {
		return nil
	}
	return u.VMT[ev]
}
