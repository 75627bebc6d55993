package cript

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/b-jure/Cript/internal/core"
)

// OpenBase registers the minimal basic library every embedding gets by
// default: print/type/tostring/tonumber/assert/error/pcall plus a
// collectgarbage front end for the §4.4 tunables. This lives in the host
// package, not internal/core, matching §1's scoping of "standard library
// beyond the bare minimum" out of the execution core itself.
func OpenBase(s *State) {
	s.Register("print", baseprint)
	s.Register("type", basetype)
	s.Register("tostring", basetostring)
	s.Register("tonumber", basetonumber)
	s.Register("assert", baseassert)
	s.Register("error", baseerror)
	s.Register("pcall", basepcall)
	s.Register("collectgarbage", basecollectgarbage)
	s.Register("next", basenext)
	s.Register("pairs", basepairs)
	s.Register("ipairs", baseipairs)
	s.Register("setmetatable", basesetmetatable)
	s.Register("getmetatable", basegetmetatable)
}

func baseprint(th *core.Thread) (int, error) {
	n := th.ArgCount()
	for i := 0; i < n; i++ {
		if i > 0 {
			fmt.Fprint(os.Stdout, "\t")
		}
		fmt.Fprint(os.Stdout, th.ToString(th.At(i)))
	}
	fmt.Fprintln(os.Stdout)
	return 0, nil
}

func basetype(th *core.Thread) (int, error) {
	th.PushValue(core.FromObject(th.Global().InternString(th.At(0).TypeName())))
	return 1, nil
}

func basetostring(th *core.Thread) (int, error) {
	th.PushValue(core.FromObject(th.Global().InternString(th.ToString(th.At(0)))))
	return 1, nil
}

func basetonumber(th *core.Thread) (int, error) {
	v := th.At(0)
	if v.IsNumber() {
		th.PushValue(v)
		return 1, nil
	}
	if v.IsString() {
		text := v.AsString().String()
		if i, err := strconv.ParseInt(text, 0, 64); err == nil {
			th.PushValue(core.Int(i))
			return 1, nil
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			th.PushValue(core.Float(f))
			return 1, nil
		}
	}
	th.PushValue(core.Nil)
	return 1, nil
}

func baseassert(th *core.Thread) (int, error) {
	v := th.At(0)
	if v.Truthy() {
		th.PushValue(v)
		return 1, nil
	}
	msg := "assertion failed!"
	if th.ArgCount() > 1 {
		msg = th.ToString(th.At(1))
	}
	return 0, fmt.Errorf("%s", msg)
}

func baseerror(th *core.Thread) (int, error) {
	return 0, fmt.Errorf("%s", th.ToString(th.At(0)))
}

// basepcall forwards the callee's actual return values on success
// (true, ret1, ret2, ...) rather than collapsing them to a bare status
// flag: it re-pushes callee+args, lets th.PCall produce its results in
// place (closing any to-be-closed variables if the callee errors), then shifts them one slot over to make room for the status
// boolean using Truncate+re-push instead of stack-index arithmetic the
// host package has no business doing directly.
func basepcall(th *core.Thread) (int, error) {
	if th.ArgCount() == 0 {
		return 0, fmt.Errorf("bad argument #1 to 'pcall' (value expected)")
	}
	base := th.ArgCount()
	fn := th.At(0)
	nargs := base - 1
	args := make([]core.Value, nargs)
	for i := 0; i < nargs; i++ {
		args[i] = th.At(i + 1)
	}
	th.PushValue(fn)
	for _, a := range args {
		th.PushValue(a)
	}
	if err := th.PCall(nargs, core.Multret, core.Nil); err != nil {
		th.Truncate(base)
		th.PushValue(core.Bool(false))
		th.PushValue(core.FromObject(th.Global().InternString(err.Error())))
		return 2, nil
	}
	nres := th.ArgCount() - base
	results := make([]core.Value, nres)
	for i := 0; i < nres; i++ {
		results[i] = th.At(base + i)
	}
	th.Truncate(base)
	th.PushValue(core.Bool(true))
	for _, r := range results {
		th.PushValue(r)
	}
	return nres + 1, nil
}

// basenext is the raw stateless iterator behind pairs: given a table and a
// previous key (nil to start), returns the next (key, value) pair in
// storage order, or a lone nil once exhausted (§8 scenario 5).
func basenext(th *core.Thread) (int, error) {
	t, ok := th.At(0).AsObject().(*core.Table)
	if !ok {
		return 0, fmt.Errorf("bad argument #1 to 'next' (table expected, got %s)", th.At(0).TypeName())
	}
	k, v, ok := t.Next(th.At(1))
	if !ok {
		th.PushValue(core.Nil)
		return 1, nil
	}
	th.PushValue(k)
	th.PushValue(v)
	return 2, nil
}

// basepairs returns the (iterator, state, control) triple of §8 scenario 5,
// the same shape the generic for-in's TFORCALL/TFORLOOP protocol consumes.
func basepairs(th *core.Thread) (int, error) {
	v := th.At(0)
	if _, ok := v.AsObject().(*core.Table); !ok {
		return 0, fmt.Errorf("bad argument #1 to 'pairs' (table expected, got %s)", v.TypeName())
	}
	th.PushValue(core.FromObject(core.NewCClosure(th.Global(), basenext, nil)))
	th.PushValue(v)
	th.PushValue(core.Nil)
	return 3, nil
}

// baseiter is the stateless iterator behind ipairs: given an array and the
// previous 0-based index (-1 before the first call), returns (index+1,
// value) at the next 0-based slot, or a lone nil once the array is
// exhausted, so `for (i, v in ipairs(a))` stops the same way `for (k, v in
// pairs(t))` does (§8 scenario 5's protocol, extended to arrays) while
// keeping this language's 0-based array indexing (§4.1).
func baseiter(th *core.Thread) (int, error) {
	a, ok := th.At(0).AsObject().(*core.Array)
	if !ok {
		return 0, fmt.Errorf("bad argument #1 to 'ipairs' iterator (array expected, got %s)", th.At(0).TypeName())
	}
	i := th.At(1).AsInt() + 1
	v, ok := a.Get(int(i))
	if !ok {
		th.PushValue(core.Nil)
		return 1, nil
	}
	th.PushValue(core.Int(i))
	th.PushValue(v)
	return 2, nil
}

// baseipairs returns the (iterator, state, control) triple over an array's
// 0-based indices, the array counterpart to basepairs.
func baseipairs(th *core.Thread) (int, error) {
	v := th.At(0)
	if _, ok := v.AsObject().(*core.Array); !ok {
		return 0, fmt.Errorf("bad argument #1 to 'ipairs' (array expected, got %s)", v.TypeName())
	}
	th.PushValue(core.FromObject(core.NewCClosure(th.Global(), baseiter, nil)))
	th.PushValue(v)
	th.PushValue(core.Int(-1))
	return 3, nil
}

// basesetmetatable installs (or clears, if mt is nil) t's metatable, §6
// "setmetatable" / scenario 6's `__close` pattern.
func basesetmetatable(th *core.Thread) (int, error) {
	v := th.At(0)
	t, ok := v.AsObject().(*core.Table)
	if !ok {
		return 0, fmt.Errorf("bad argument #1 to 'setmetatable' (table expected, got %s)", v.TypeName())
	}
	mtv := th.At(1)
	if mtv.IsNil() {
		t.SetMetatable(th.Global(), nil)
		th.PushValue(v)
		return 1, nil
	}
	mt, ok := mtv.AsObject().(*core.Table)
	if !ok {
		return 0, fmt.Errorf("bad argument #2 to 'setmetatable' (nil or table expected, got %s)", mtv.TypeName())
	}
	t.SetMetatable(th.Global(), mt)
	th.PushValue(v)
	return 1, nil
}

// basegetmetatable returns t's metatable, or nil if it has none.
func basegetmetatable(th *core.Thread) (int, error) {
	t, ok := th.At(0).AsObject().(*core.Table)
	if !ok || t.Meta == nil {
		th.PushValue(core.Nil)
		return 1, nil
	}
	th.PushValue(core.FromObject(t.Meta))
	return 1, nil
}

// basecollectgarbage implements the §4.4 tunable/stat surface; its "count"
// option formats the byte total the way go-humanize renders it, for a
// human-readable report rather than a raw integer.
func basecollectgarbage(th *core.Thread) (int, error) {
	opt := "collect"
	if th.ArgCount() > 0 {
		opt = th.ToString(th.At(0))
	}
	g := th.Global()
	switch opt {
	case "collect":
		g.Collect()
		th.PushValue(core.Int(g.TotalBytes()))
	case "count":
		th.PushValue(core.FromObject(g.InternString(humanize.Bytes(uint64(g.TotalBytes())))))
	case "stop":
		g.Stop()
		return 0, nil
	case "restart":
		g.Start()
		return 0, nil
	default:
		return 0, fmt.Errorf("bad option %q to 'collectgarbage'", opt)
	}
	return 1, nil
}
