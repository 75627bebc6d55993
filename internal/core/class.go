package core

// MetaEvent indexes the fixed-size virtual-method table every Class and
// Userdata carries (§6 "Metamethod names"). The order here is the order
// metamethod names are pre-interned in, and is load-bearing: SETMM uses
// this index directly as an array slot.
type MetaEvent uint8

const (
	MetaInit MetaEvent = iota
	MetaGetIndex
	MetaSetIndex
	MetaGC
	MetaClose
	MetaCall
	MetaConcat
	MetaAdd
	MetaSub
	MetaMul
	MetaDiv
	MetaMod
	MetaPow
	MetaShl
	MetaShr
	MetaBand
	MetaBor
	MetaXor
	MetaUnm
	MetaBnot
	MetaEq
	MetaLt
	MetaLe
	numMetaEvents
)

var metaNames = [numMetaEvents]string{
	"__init", "__getidx", "__setidx", "__gc", "__close", "__call",
	"__concat", "__add", "__sub", "__mul", "__div", "__mod", "__pow",
	"__shl", "__shr", "__band", "__bor", "__xor", "__unm", "__bnot",
	"__eq", "__lt", "__le",
}

// Class is a named bundle of methods plus a fixed metamethod slot array,
// §3 "Class".
type Class struct {
	header
	Name    *String
	Super   *Class
	Methods map[*String]*Closure
	VMT     [numMetaEvents]*Closure
}

func NewClass(g *GlobalState, name *String) *Class {
	c := &Class{
		header:  header{kind: objClass, id: newIdentity()},
		Name:    name,
		Methods: make(map[*String]*Closure),
	}
	g.linkObject(c)
	return c
}

// Inherit implements the INHERIT opcode: copy methods and vmt slots from
// super, the way prototypal single inheritance works in §4.6 "Classes".
func (c *Class) Inherit(super *Class) {
	c.Super = super
	for k, v := range super.Methods {
		c.Methods[k] = v
	}
	c.VMT = super.VMT
}

func (c *Class) traverse(g *gcState) {
	if c.Name != nil {
		g.markObject(c.Name)
	}
	if c.Super != nil {
		g.markObject(c.Super)
	}
	for k, v := range c.Methods {
		g.markObject(k)
		g.markObject(v)
	}
	for _, m := range c.VMT {
		if m != nil {
			g.markObject(m)
		}
	}
}

func (c *Class) String() string {
	if c.Name != nil {
		return "class " + c.Name.String()
	}
	return "class"
}

// Instance is a live object of a Class: a field table plus the class
// pointer used to resolve methods not found as own fields (§3 "Instance";
// search order detailed in SPEC_FULL.md §D).
type Instance struct {
	header
	Class  *Class
	Fields map[*String]Value
}

func NewInstance(g *GlobalState, class *Class) *Instance {
	in := &Instance{
		header: header{kind: objInstance, id: newIdentity()},
		Class:  class,
		Fields: make(map[*String]Value),
	}
	g.linkObject(in)
	return in
}

func (in *Instance) traverse(g *gcState) {
	g.markObject(in.Class)
	for k, v := range in.Fields {
		g.markObject(k)
		g.markValue(v)
	}
}

func (in *Instance) String() string {
	return "instance of " + in.Class.String()
}

// GetProperty implements §4.7 GET_PROPERTY / SPEC_FULL.md §D search order:
// own field first, then the class method table (producing a bound method).
func (in *Instance) GetProperty(g *GlobalState, name *String) (Value, bool) {
	if v, ok := in.Fields[name]; ok {
		return v, true
	}
	if m, ok := in.Class.Methods[name]; ok {
		return FromObject(NewBoundMethod(g, in, m)), true
	}
	return Nil, false
}

// BoundMethod pairs a receiver instance with one of its class's closures,
// §3 "Bound method".
type BoundMethod struct {
	header
	Receiver *Instance
	Method   *Closure
}

func NewBoundMethod(g *GlobalState, recv *Instance, m *Closure) *BoundMethod {
	bm := &BoundMethod{header: header{kind: objBoundMethod, id: newIdentity()}, Receiver: recv, Method: m}
	g.linkObject(bm)
	return bm
}

func (bm *BoundMethod) traverse(g *gcState) {
	g.markObject(bm.Receiver)
	g.markObject(bm.Method)
}

func (bm *BoundMethod) String() string { return "bound method" }
