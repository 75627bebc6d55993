package core

// getMetamethod looks up ev on v's virtual-method table: classes/instances
// via their Class.VMT, userdata via its own optional VMT. Everything else
// (numbers, strings, booleans, nil, functions) has no metatable of its
// own in this core — per-base-type method tables (§3) are the embedder's
// job to populate through the host API, not the VM's.
func (g *GlobalState) getMetamethod(v Value, ev MetaEvent) *Closure {
	if v.kind != KindObject {
		return nil
	}
	switch o := v.obj.(type) {
	case *Instance:
		return o.Class.VMT[ev]
	case *Class:
		return o.VMT[ev]
	case *Userdata:
		return o.Metamethod(ev)
	case *Table:
		return o.Metamethod(ev)
	}
	return nil
}

// binMeta implements §4.7's dispatch fallback: try the primitive op; on
// type mismatch look up ev on the left operand, then the right, per §4.1.
func (th *Thread) binMeta(a, b Value, ev MetaEvent, opName string) (Value, error) {
	if m := th.g.getMetamethod(a, ev); m != nil {
		return th.callMeta(m, a, b)
	}
	if m := th.g.getMetamethod(b, ev); m != nil {
		return th.callMeta(m, a, b)
	}
	bad := a
	if a.IsNumber() || a.IsString() {
		bad = b
	}
	return Nil, newTypeError(th, opName, bad)
}

func (th *Thread) callMeta(m *Closure, args ...Value) (Value, error) {
	base := th.top
	th.push(FromObject(m))
	for _, a := range args {
		th.push(a)
	}
	if err := th.Call(len(args), 1); err != nil {
		return Nil, err
	}
	v := th.stack[th.top-1]
	th.top = base
	return v, nil
}

// Len implements OP_LEN (§4.1's "length"): byte length for strings, live
// entry count for tables and arrays. Anything else raises a type error —
// the metamethod list of §6 has no `__len` entry, so this is a fixed
// per-type dispatch rather than a metamethod fallback.
func (th *Thread) Len(v Value) (int, error) {
	if v.IsString() {
		return v.AsString().Len(), nil
	}
	if v.IsObject() {
		switch o := v.obj.(type) {
		case *Table:
			return o.Len(), nil
		case *Array:
			return o.Len(), nil
		}
	}
	return 0, newTypeError(th, "get length of", v)
}

// Index implements GET_INDEX/GET_PROPERTY fallback for tables/arrays/
// instances, including the §4.1/§D raw-then-metamethod search order:
// - Instance: own field, then class method (bound), then __getidx.
// - Table/Array: raw get; __getidx only fires when the raw slot is absent.
func (th *Thread) Index(recv, key Value) (Value, error) {
	switch o := recv.obj.(type) {
	case *Instance:
		if v, ok := o.GetProperty(th.g, mustString(th, key)); ok {
			return v, nil
		}
		if mm := o.Class.VMT[MetaGetIndex]; mm != nil {
			return th.callMeta(mm, recv, key)
		}
		return Nil, nil
	case *Table:
		if v, ok := o.Get(key); ok {
			return v, nil
		}
		if mm := o.Metamethod(MetaGetIndex); mm != nil {
			return th.callMeta(mm, recv, key)
		}
		return Nil, nil
	case *Array:
		if key.IsInt() {
			if v, ok := o.Get(int(key.AsInt())); ok {
				return v, nil
			}
		}
		return Nil, nil
	case *Userdata:
		if mm := o.Metamethod(MetaGetIndex); mm != nil {
			return th.callMeta(mm, recv, key)
		}
	}
	return Nil, newTypeError(th, "index", recv)
}

// SetIndex implements SET_INDEX/SET_PROPERTY with the same fallback order.
func (th *Thread) SetIndex(recv, key, val Value) error {
	switch o := recv.obj.(type) {
	case *Instance:
		s := mustString(th, key)
		if mm := o.Class.VMT[MetaSetIndex]; mm != nil {
			if _, ok := o.Fields[s]; !ok {
				_, err := th.callMeta(mm, recv, key, val)
				return err
			}
		}
		o.Fields[s] = val
		return nil
	case *Table:
		if mm := o.Metamethod(MetaSetIndex); mm != nil {
			if _, ok := o.Get(key); !ok {
				_, err := th.callMeta(mm, recv, key, val)
				return err
			}
		}
		o.Set(th.g, key, val)
		return nil
	case *Array:
		if key.IsInt() {
			i := int(key.AsInt())
			if i == o.Len() {
				o.Push(th.g, val)
				return nil
			}
			if o.Set(th.g, i, val) {
				return nil
			}
		}
		return newRuntimeError(th, "array index out of range")
	case *Userdata:
		if mm := o.Metamethod(MetaSetIndex); mm != nil {
			_, err := th.callMeta(mm, recv, key, val)
			return err
		}
	}
	return newTypeError(th, "index", recv)
}

func mustString(th *Thread, v Value) *String {
	if v.IsString() {
		return v.AsString()
	}
	return th.g.InternString(v.TypeName())
}
