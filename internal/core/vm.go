package core

// Call executes the callable sitting nargs+1 slots below the current
// stack top (the callee, then its nargs arguments), adjusting the final
// stack top to hold exactly nresults values (Multret leaves however many
// the callee produced). This is the §4.7 "Call protocol" entry point used
// by both the interpreter's OpCall and the host API.
func (th *Thread) Call(nargs, nresults int) error {
	fnSlot := th.top - nargs - 1
	return th.call(fnSlot, nargs, nresults)
}

func (th *Thread) call(fnSlot, nargs, nresults int) error {
	if err := th.incCstack(); err != nil {
		return err
	}
	defer th.decCstack()
	fnVal := th.stack[fnSlot]

	if fnVal.IsCFunction() {
		return th.callGo(fnVal.AsCFunction(), nil, fnSlot, nargs, nresults)
	}
	if fnVal.IsObject() {
		switch o := fnVal.AsObject().(type) {
		case *Closure:
			if o.IsScript() {
				return th.callScript(o, fnSlot, nargs, nresults)
			}
			return th.callGo(o.Native, o.Captured, fnSlot, nargs, nresults)
		case *BoundMethod:
			// rewrite the call to (method, receiver, args...) in place.
			th.stack[fnSlot] = FromObject(o.Method)
			if err := th.checkstack(1); err != nil {
				return err
			}
			copy(th.stack[fnSlot+2:fnSlot+2+nargs], th.stack[fnSlot+1:fnSlot+1+nargs])
			th.stack[fnSlot+1] = FromObject(o.Receiver)
			th.top++
			return th.call(fnSlot, nargs+1, nresults)
		case *Class:
			return th.instantiate(o, fnSlot, nargs, nresults)
		}
	}
	if mm := th.g.getMetamethod(fnVal, MetaCall); mm != nil {
		th.stack[fnSlot] = FromObject(mm)
		if err := th.checkstack(1); err != nil {
			return err
		}
		copy(th.stack[fnSlot+2:fnSlot+2+nargs], th.stack[fnSlot+1:fnSlot+1+nargs])
		th.stack[fnSlot+1] = fnVal
		th.top++
		return th.call(fnSlot, nargs+1, nresults)
	}
	return newTypeError(th, "call", fnVal)
}

// instantiate implements "calling a class constructs an instance" (§4.6
// "Classes", §8 Scenario 4: `A(42).get()`): allocate the Instance, run its
// `__init` (if any) with (instance, args...) and discard __init's own
// results, then leave the freshly built instance as this call's result,
// adjusted to nresults the same way any other call's results are.
func (th *Thread) instantiate(class *Class, fnSlot, nargs, nresults int) error {
	inst := NewInstance(th.g, class)
	if initFn := class.VMT[MetaInit]; initFn != nil {
		th.stack[fnSlot] = FromObject(initFn)
		if err := th.checkstack(1); err != nil {
			return err
		}
		copy(th.stack[fnSlot+2:fnSlot+2+nargs], th.stack[fnSlot+1:fnSlot+1+nargs])
		th.stack[fnSlot+1] = FromObject(inst)
		th.top++
		if err := th.call(fnSlot, nargs+1, 0); err != nil {
			return err
		}
	}
	th.stack[fnSlot] = FromObject(inst)
	th.top = fnSlot + 1
	return th.finishReturn(fnSlot, fnSlot, 1, nresults)
}

func (th *Thread) callGo(fn GoFunction, captured []Value, fnSlot, nargs, nresults int) error {
	cf := &CallFrame{base: fnSlot + 1, top: th.top, nresults: nresults, prev: th.frame, inGoCall: true}
	th.frame = cf
	_ = captured // native closures read captured state via their own Go closure environment
	nret, err := fn(th)
	th.frame = cf.prev
	if err != nil {
		return err
	}
	return th.finishReturn(fnSlot, th.top-nret, nret, nresults)
}

func scriptClosure(v Value) (*Closure, bool) {
	if !v.IsObject() {
		return nil, false
	}
	c, ok := v.obj.(*Closure)
	return c, ok && c.IsScript()
}

func (th *Thread) callScript(c *Closure, fnSlot, nargs, nresults int) error {
	if err := th.checkstack(int(c.Proto.MaxStack)); err != nil {
		return err
	}
	cf := &CallFrame{base: fnSlot + 1, closure: c, nresults: nresults, prev: th.frame}
	th.frame = cf
	if err := th.prepArgs(cf, c.Proto, nargs); err != nil {
		return err
	}
	return th.runFrame(cf)
}

// prepArgs implements VARARG_PREP's job at call time: pad missing fixed
// parameters with nil, and for a vararg function move any extra arguments
// out of the fixed-parameter window so GET_LOCAL indexing stays simple
// (§4.7 "VARARG_PREP arity").
func (th *Thread) prepArgs(cf *CallFrame, p *Proto, nargs int) error {
	nparams := int(p.NumParams)
	cf.varargs = nil
	if nargs < nparams {
		for i := nargs; i < nparams; i++ {
			th.stack[cf.base+i] = Nil
		}
		th.top = cf.base + nparams
		return nil
	}
	if p.IsVararg && nargs > nparams {
		extra := make([]Value, nargs-nparams)
		copy(extra, th.stack[cf.base+nparams:cf.base+nargs])
		cf.varargs = extra
	}
	th.top = cf.base + nparams
	return nil
}

// runFrame is the bytecode dispatch loop of §4.7: a plain Go switch stands
// in for the spec's computed-goto table, which Go has no direct
// equivalent for — the switch still gives O(1) dispatch per opcode, which
// is the only requirement §4.7 actually states.
func (th *Thread) runFrame(cf *CallFrame) error {
	prevFrame := cf.prev
	th.frame = cf
	code := cf.closure.Proto.Code
	consts := cf.closure.Proto.Constants

	for {
		op := OpCode(code[cf.pc])
		cf.pc++
		switch op {

		case OpNil:
			th.push(Nil)

		case OpTrue:
			th.push(Bool(true))
		case OpFalse:
			th.push(Bool(false))

		case OpConst:
			idx := get24(code, cf.pc)
			cf.pc += 3
			th.push(consts[idx])

		case OpPop:
			n := int(code[cf.pc])
			cf.pc++
			th.top -= n

		case OpGetLocal:
			a := int(code[cf.pc])
			cf.pc++
			th.push(th.stack[cf.base+a])

		case OpSetLocal:
			a := int(code[cf.pc])
			cf.pc++
			th.stack[cf.base+a] = th.pop()

		case OpGetUpval:
			a := int(code[cf.pc])
			cf.pc++
			th.push(cf.closure.Upvals[a].Get())

		case OpSetUpval:
			a := int(code[cf.pc])
			cf.pc++
			cf.closure.Upvals[a].Set(th.g, th.pop())

		case OpGetStatic:
			a := int(code[cf.pc])
			cf.pc++
			th.push(cf.closure.Proto.Statics[a])

		case OpSetStatic:
			a := int(code[cf.pc])
			cf.pc++
			cf.closure.Proto.SetStatic(th.g, a, th.pop())

		case OpGetGlobal:
			idx := get24(code, cf.pc)
			cf.pc += 3
			name := consts[idx].AsString()
			v, _ := th.g.Globals().Get(FromObject(name))
			th.push(v)

		case OpSetGlobal:
			idx := get24(code, cf.pc)
			cf.pc += 3
			name := consts[idx].AsString()
			th.g.Globals().Set(th.g, FromObject(name), th.pop())

		case OpGetIndex:
			key := th.pop()
			recv := th.pop()
			v, err := th.Index(recv, key)
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(v)

		case OpSetIndex:
			val := th.pop()
			key := th.pop()
			recv := th.pop()
			if err := th.SetIndex(recv, key, val); err != nil {
				th.frame = prevFrame
				return err
			}

		case OpGetProperty:
			idx := get24(code, cf.pc)
			cf.pc += 3
			recv := th.pop()
			v, err := th.Index(recv, consts[idx])
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(v)

		case OpSetProperty:
			idx := get24(code, cf.pc)
			cf.pc += 3
			val := th.pop()
			recv := th.pop()
			if err := th.SetIndex(recv, consts[idx], val); err != nil {
				th.frame = prevFrame
				return err
			}

		case OpGetSuper:
			idx := get24(code, cf.pc)
			cf.pc += 3
			super := th.pop().AsObject().(*Class)
			self := th.pop()
			name := consts[idx].AsString()
			m, ok := super.Methods[name]
			if !ok {
				th.frame = prevFrame
				return newRuntimeError(th, "undefined super method '%s'", name.String())
			}
			th.push(FromObject(NewBoundMethod(th.g, self.AsObject().(*Instance), m)))

		case OpAdd, OpSub, OpMul, OpDiv, OpFloorDiv, OpMod, OpPow,
			OpBand, OpBor, OpBxor, OpShl, OpShr:
			b := th.pop()
			a := th.pop()
			v, err := th.Arith(arithOpFor(op), a, b)
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(v)

		case OpNeg:
			a := th.pop()
			if a.IsInt() {
				th.push(Int(-a.AsInt()))
			} else if a.IsFloat() {
				th.push(Float(-a.AsFloat()))
			} else {
				v, err := th.binMeta(a, a, MetaUnm, "negate")
				if err != nil {
					th.frame = prevFrame
					return err
				}
				th.push(v)
			}

		case OpNot:
			th.push(Bool(!th.pop().Truthy()))

		case OpLen:
			a := th.pop()
			n, err := th.Len(a)
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(Int(int64(n)))

		case OpBnot:
			a := th.pop()
			if i, ok := toInt(a); ok {
				th.push(Int(^i))
			} else {
				v, err := th.binMeta(a, a, MetaBnot, "bitwise-not")
				if err != nil {
					th.frame = prevFrame
					return err
				}
				th.push(v)
			}

		case OpConcat:
			b := th.pop()
			a := th.pop()
			v, err := th.Concat(a, b)
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(v)

		case OpEq, OpNe:
			b := th.pop()
			a := th.pop()
			eq, err := th.Equals(a, b)
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(Bool(eq == (op == OpEq)))

		case OpLt, OpLe, OpGt, OpGe:
			b := th.pop()
			a := th.pop()
			var res bool
			var err error
			switch op {
			case OpLt:
				res, err = th.Compare(CmpLt, a, b)
			case OpLe:
				res, err = th.Compare(CmpLe, a, b)
			case OpGt:
				res, err = th.Compare(CmpLt, b, a)
			case OpGe:
				res, err = th.Compare(CmpLe, b, a)
			}
			if err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(Bool(res))

		case OpJmp:
			off := getSigned24(code, cf.pc)
			cf.pc += 3
			cf.pc += off

		case OpJmpIfFalse:
			off := getSigned24(code, cf.pc)
			cf.pc += 3
			if !th.stack[th.top-1].Truthy() {
				cf.pc += off
			}

		case OpJmpIfTrue:
			off := getSigned24(code, cf.pc)
			cf.pc += 3
			if th.stack[th.top-1].Truthy() {
				cf.pc += off
			}

		case OpJmpPopFalse:
			off := getSigned24(code, cf.pc)
			cf.pc += 3
			if !th.pop().Truthy() {
				cf.pc += off
			}

		case OpCall:
			nargs := int(code[cf.pc])
			cf.pc++
			nres := decodeNResults(code[cf.pc])
			cf.pc++
			fnSlot := th.top - nargs - 1
			if err := th.call(fnSlot, nargs, nres); err != nil {
				th.frame = prevFrame
				return err
			}

		case OpTailCall:
			nargs := int(code[cf.pc])
			cf.pc++
			fnSlot := th.top - nargs - 1
			if closure, ok := scriptClosure(th.stack[fnSlot]); ok {
				th.closeUpvalues(cf.base)
				copy(th.stack[cf.base:cf.base+nargs], th.stack[fnSlot+1:fnSlot+1+nargs])
				th.top = cf.base + nargs
				cf.closure = closure
				cf.pc = 0
				cf.tailcalled = true
				if err := th.checkstack(int(closure.Proto.MaxStack)); err != nil {
					th.frame = prevFrame
					return err
				}
				if err := th.prepArgs(cf, closure.Proto, nargs); err != nil {
					th.frame = prevFrame
					return err
				}
				code = closure.Proto.Code
				consts = closure.Proto.Constants
				continue
			}
			if err := th.call(fnSlot, nargs, cf.nresults); err != nil {
				th.frame = prevFrame
				return err
			}
			th.frame = prevFrame
			return nil

		case OpReturn:
			nres := decodeNResults(code[cf.pc])
			cf.pc++
			closeFlag := code[cf.pc] != 0
			cf.pc++
			if closeFlag {
				th.closeTBC(cf.base)
				th.closeUpvalues(cf.base)
			}
			th.frame = prevFrame
			return th.doReturn(cf, nres)

		case OpClosure:
			idx := get24(code, cf.pc)
			cf.pc += 3
			proto := cf.closure.Proto.Protos[idx]
			nc := NewScriptClosure(th.g, proto)
			for i, ud := range proto.Upvals {
				if ud.InStack {
					nc.Upvals[i] = th.newUpvalue(th.g, cf.base+int(ud.Index))
				} else {
					nc.Upvals[i] = cf.closure.Upvals[ud.Index]
				}
			}
			th.push(FromObject(nc))

		case OpCloseUpval:
			a := int(code[cf.pc])
			cf.pc++
			th.closeUpvalues(cf.base + a)

		case OpTBC:
			a := int(code[cf.pc])
			cf.pc++
			th.registerTBC(cf.base + a)

		case OpNewTable:
			hint := int(code[cf.pc])
			cf.pc++
			th.push(FromObject(NewTable(th.g, hint)))

		case OpNewArray:
			hint := int(code[cf.pc])
			cf.pc++
			th.push(FromObject(NewArray(th.g, hint)))

		case OpNewClass:
			idx := get24(code, cf.pc)
			cf.pc += 3
			th.push(FromObject(NewClass(th.g, consts[idx].AsString())))

		case OpMethod:
			idx := get24(code, cf.pc)
			cf.pc += 3
			m := th.pop().AsObject().(*Closure)
			class := th.stack[th.top-1].AsObject().(*Class)
			class.Methods[consts[idx].AsString()] = m

		case OpSetMM:
			ev := MetaEvent(code[cf.pc])
			cf.pc++
			m := th.pop().AsObject().(*Closure)
			class := th.stack[th.top-1].AsObject().(*Class)
			class.VMT[ev] = m

		case OpInherit:
			super := th.pop().AsObject().(*Class)
			class := th.stack[th.top-1].AsObject().(*Class)
			class.Inherit(super)

		case OpVarargPrep:
			cf.pc++ // arity already consumed by prepArgs; operand kept for symmetry with the spec

		case OpVararg:
			n := int(code[cf.pc])
			cf.pc++
			count := len(cf.varargs)
			if n != 0 && n-1 < count {
				count = n - 1
			}
			if err := th.checkstack(count); err != nil {
				th.frame = prevFrame
				return err
			}
			for i := 0; i < count; i++ {
				th.push(cf.varargs[i])
			}

		case OpTForCall:
			// a names the base of three PERSISTENT slots (iterator, state,
			// control) the compiler reserved as hidden locals; results must
			// land just above them (at a+3..) without disturbing those three,
			// since the next iteration's OpTForCall reads them again. top is
			// reset to that floor first so a fresh (iterator, state,
			// control) copy — and the call's results — always land at the
			// same addresses every iteration, discarding whatever the
			// previous iteration's loop variables held.
			a := int(code[cf.pc])
			cf.pc++
			nres := decodeNResults(code[cf.pc])
			cf.pc++
			base := cf.base + a
			th.top = base + 3
			if err := th.checkstack(3); err != nil {
				th.frame = prevFrame
				return err
			}
			th.push(th.stack[base])
			th.push(th.stack[base+1])
			th.push(th.stack[base+2])
			if err := th.call(base+3, 2, nres); err != nil {
				th.frame = prevFrame
				return err
			}

		case OpTForLoop:
			// a is the same base OpTForCall used; its first result (now
			// sitting in the first loop-variable slot, base+3) doubles as
			// the next call's control value once copied back into the
			// persistent control slot (base+2), mirroring the real
			// interpreter's TFORLOOP: continue while that result isn't nil.
			a := int(code[cf.pc])
			cf.pc++
			off := getSigned24(code, cf.pc)
			cf.pc += 3
			base := cf.base + a
			ctrl := th.stack[base+3]
			if !ctrl.IsNil() {
				th.stack[base+2] = ctrl
				cf.pc += off
			}

		default:
			th.frame = prevFrame
			return newRuntimeError(th, "invalid opcode %d", op)
		}
	}
}

func arithOpFor(op OpCode) ArithOp {
	switch op {
	case OpAdd:
		return ArithAdd
	case OpSub:
		return ArithSub
	case OpMul:
		return ArithMul
	case OpDiv:
		return ArithDiv
	case OpFloorDiv:
		return ArithFloorDiv
	case OpMod:
		return ArithMod
	case OpPow:
		return ArithPow
	case OpBand:
		return ArithBand
	case OpBor:
		return ArithBor
	case OpBxor:
		return ArithBxor
	case OpShl:
		return ArithShl
	case OpShr:
		return ArithShr
	}
	panic("unreachable")
}

// doReturn copies the frame's result values (the top nres values, or
// everything above the frame's base for Multret) down to the callee's slot
// and adjusts the count to what the caller requested (truncate/pad with
// nil, or leave all for Multret). OpReturn has already restored the
// caller's frame and closed this frame's to-be-closed slots.
func (th *Thread) doReturn(cf *CallFrame, nres int) error {
	have := th.top - cf.base
	if nres != Multret && nres < have {
		have = nres
	}
	return th.finishReturn(cf.base-1, th.top-have, have, cf.nresults)
}

// finishReturn moves `have` result values starting at resultsBase down to
// destBase (the callee's own slot, which becomes the first free slot for
// the caller) and sets the final top to destBase+want, padding with nil or
// truncating as §4.7's "Returning adjusts results" specifies.
func (th *Thread) finishReturn(destBase, resultsBase, have, want int) error {
	n := have
	if want != Multret && want < n {
		n = want
	}
	copy(th.stack[destBase:destBase+n], th.stack[resultsBase:resultsBase+n])
	if want == Multret {
		th.top = destBase + have
		return nil
	}
	for i := n; i < want; i++ {
		th.stack[destBase+i] = Nil
	}
	th.top = destBase + want
	return nil
}
