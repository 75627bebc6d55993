package core

import "fmt"

// ErrorKind distinguishes the error kinds of §7 (not language type names).
type ErrorKind uint8

const (
	ErrRuntime ErrorKind = iota
	ErrSyntax
	ErrMemoryKind
	ErrInError
	ErrClose
)

// Error is the Go error wrapping a Cript error value as it propagates
// through Go's panic/recover, which stands in for the spec's longjmp-based
// control transfer (§4.8) — Go gives us a built-in stackable nonlocal-exit
// primitive, so re-deriving one by hand would just be a worse copy of what
// the language already provides.
type Error struct {
	Kind ErrorKind
	Val  Value
}

func (e *Error) Error() string {
	if e.Val.IsString() {
		return e.Val.AsString().String()
	}
	return fmt.Sprintf("%s error", errorKindName(e.Kind))
}

func errorKindName(k ErrorKind) string {
	switch k {
	case ErrSyntax:
		return "syntax"
	case ErrMemoryKind:
		return "memory"
	case ErrInError:
		return "error in error handling"
	case ErrClose:
		return "close"
	default:
		return "runtime"
	}
}

func newRuntimeError(th *Thread, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: ErrRuntime, Val: FromObject(th.g.InternString(msg))}
}

func newTypeError(th *Thread, op string, v Value) *Error {
	return newRuntimeError(th, "attempt to %s a %s value", op, v.TypeName())
}

// errFromRecover normalizes whatever panic() produced into an error:
// our own *Error propagates unchanged; anything else (a genuine Go bug
// surfacing through recover, e.g. an index panic in buggy native code) is
// wrapped as a runtime error so script-level pcall still gets a value.
func errFromRecover(r any) error {
	switch v := r.(type) {
	case *Error:
		return v
	case error:
		return v
	default:
		return fmt.Errorf("%v", v)
	}
}

// raise panics with err, unwinding Go's call stack up to the nearest
// recover in PCall — the direct analogue of §4.8 "raising an error sets
// the topmost node's status and jumps to it".
func raise(err error) {
	panic(err)
}

// PCall implements §4.8's protected-call protocol: catch an error raised
// anywhere below, restore the call-frame/stack-top checkpoint, run
// to-be-closed variables over the unwound interval, and report status
// instead of propagating further. msgh, if non-nil, is invoked with the
// error value before unwinding completes so it can build a traceback.
func (th *Thread) PCall(nargs, nresults int, msgh Value) (err error) {
	savedFrame := th.frame
	savedTop := th.top - nargs - 1
	savedTBC := len(th.tbc)
	h := &errHandler{prev: th.handlers, stackTop: savedTop}
	th.handlers = h

	defer func() {
		th.handlers = h.prev
		if r := recover(); r != nil {
			cerr := errFromRecover(r)
			if !msgh.IsNil() {
				cerr = th.runMessageHandler(msgh, cerr)
			}
			th.unwind(savedFrame, savedTop, savedTBC, cerr)
			errVal := errorValue(th, cerr)
			th.top = savedTop
			th.push(errVal)
			err = cerr
		}
	}()

	if cerr := th.Call(nargs, nresults); cerr != nil {
		raise(cerr)
	}
	return nil
}

func errorValue(th *Thread, err error) Value {
	if e, ok := err.(*Error); ok {
		return e.Val
	}
	return FromObject(th.g.InternString(err.Error()))
}

// runMessageHandler calls msgh(err) before the stack unwinds, giving the
// script a chance to attach a traceback (§4.8 "message handler"). A panic
// raised from inside the handler itself becomes an error-in-error, which
// short-circuits to a fixed message rather than recursing further (§7).
func (th *Thread) runMessageHandler(msgh Value, err error) (result error) {
	defer func() {
		if r := recover(); r != nil {
			result = &Error{Kind: ErrInError, Val: FromObject(th.g.InternString("error in error handling"))}
		}
	}()
	base := th.top
	th.push(msgh)
	th.push(errorValue(th, err))
	if cerr := th.Call(1, 1); cerr != nil {
		return cerr
	}
	v := th.stack[th.top-1]
	th.top = base
	return &Error{Kind: ErrRuntime, Val: v}
}

// unwind restores the frame/stack-top checkpoint saved by PCall, first
// closing every to-be-closed variable registered above the checkpoint in
// reverse order (§8 "__close ordering"): the to-be-closed list threads
// through stack slots via its delta field, so closing walks it backwards.
func (th *Thread) unwind(toFrame *CallFrame, toTop int, toTBC int, cause error) {
	errVal := errorValue(th, cause)
	for len(th.tbc) > toTBC {
		e := th.tbc[len(th.tbc)-1]
		th.tbc = th.tbc[:len(th.tbc)-1]
		if e.slot < toTop {
			// still in scope after unwinding to the checkpoint: not ours to close
			th.tbc = append(th.tbc, e)
			break
		}
		th.closeOne(e.slot, errVal)
	}
	th.closeUpvalues(toTop)
	th.frame = toFrame
}

// closeTBC closes every to-be-closed variable registered at or above toTop,
// in reverse registration order, on the normal (non-error) control path —
// the OpReturn counterpart to unwind's error-path closing, §8 "__close
// ordering" applies here too even though nothing panicked.
func (th *Thread) closeTBC(toTop int) {
	for len(th.tbc) > 0 {
		e := th.tbc[len(th.tbc)-1]
		if e.slot < toTop {
			break
		}
		th.tbc = th.tbc[:len(th.tbc)-1]
		th.closeOne(e.slot, Nil)
	}
}

// closeOne invokes the __close metamethod of the value at slot, reporting
// any error raised during the close through the GC's panic hook rather
// than letting it override the original cause (§7 "close error").
func (th *Thread) closeOne(slot int, cause Value) {
	v := th.stack[slot]
	if v.IsNil() || v.kind == KindFalse {
		return
	}
	closer := th.g.getMetamethod(v, MetaClose)
	if closer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && th.g.panicFn != nil {
			th.g.panicFn(fmt.Errorf("error in __close: %v", r))
		}
	}()
	base := th.top
	th.push(FromObject(closer))
	th.push(v)
	th.push(cause)
	if err := th.Call(2, 0); err != nil && th.g.panicFn != nil {
		th.g.panicFn(fmt.Errorf("error in __close: %v", err))
	}
	th.top = base
}
