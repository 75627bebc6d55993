package core

// This file is the thin layer internal/core exposes to the root host-API
// package: argument access and result pushing for native (Go) functions,
// §4.9's stack-indexed C-API surface translated to Go method calls instead
// of lua_tointeger/lua_pushinteger-style free functions.

// At returns the idx'th argument (0-based) of the currently executing Go
// function call.
func (th *Thread) At(idx int) Value {
	i := th.frame.base + idx
	if i < 0 || i >= th.top {
		return Nil
	}
	return th.stack[i]
}

// ArgCount reports how many arguments the currently executing Go function
// was called with.
func (th *Thread) ArgCount() int {
	return th.top - th.frame.base
}

// PushValue pushes v as one of the currently executing Go function's
// results (or, outside a call, onto the host's own staging area ahead of
// a Call), growing the stack if needed.
func (th *Thread) PushValue(v Value) {
	if err := th.checkstack(1); err != nil {
		panic(err)
	}
	th.push(v)
}

// StackLen reports the thread's absolute stack top, letting a host
// remember "everything above here is what I'm about to push" before a
// Call so it can slice out exactly the results that call produced.
func (th *Thread) StackLen() int { return th.top }

// StackAt returns the value at an absolute stack index, as previously
// captured by StackLen — used together to read back a Call's results.
func (th *Thread) StackAt(i int) Value { return th.stack[i] }

// Truncate discards everything above argument index idx (0-based, relative
// to the current Go function's call), letting a native function reshape
// what it pushed — e.g. pcall dropping a nested call's raw results so it
// can re-push them after its own status boolean.
func (th *Thread) Truncate(idx int) { th.top = th.frame.base + idx }
