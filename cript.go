// Package cript is the embedding surface of §4.9/§6: a host program gets a
// *State, pushes/pulls values on its stack, registers Go functions as
// callable script functions, and runs source through Compile+Call. It
// plays the role the spec's C API plays for a host written in C, adapted
// to a host written in Go — a *State wraps one core.GlobalState and its
// main core.Thread rather than exposing a lua_State-style opaque pointer.
package cript

import (
	"github.com/pkg/errors"

	"github.com/b-jure/Cript/internal/compiler"
	"github.com/b-jure/Cript/internal/core"
)

// State is the embedder-facing handle: one interpreter instance.
type State struct {
	g  *core.GlobalState
	th *core.Thread
}

// New creates a fresh interpreter with the standard library registered.
func New() *State {
	g := core.NewGlobalState()
	s := &State{g: g, th: g.MainThread()}
	OpenBase(s)
	return s
}

func (s *State) Global() *core.GlobalState { return s.g }
func (s *State) Thread() *core.Thread      { return s.th }

// --- stack manipulation (§4.9 "stack API") -------------------------------

func (s *State) PushNil()          { s.th.PushValue(core.Nil) }
func (s *State) PushBool(b bool)   { s.th.PushValue(core.Bool(b)) }
func (s *State) PushInt(i int64)   { s.th.PushValue(core.Int(i)) }
func (s *State) PushFloat(f float64) { s.th.PushValue(core.Float(f)) }
func (s *State) PushString(str string) {
	s.th.PushValue(core.FromObject(s.g.InternString(str)))
}
func (s *State) PushGoFunction(fn core.GoFunction) {
	s.th.PushValue(core.FromObject(core.NewCClosure(s.g, fn, nil)))
}

// PushArray builds and pushes a new array populated from elems, giving the
// host a way to hand a script-visible sequence (e.g. command-line `arg`)
// across the embedding boundary without going through source text.
func (s *State) PushArray(elems []string) {
	s.th.PushValue(s.newArray(elems))
}

func (s *State) newArray(elems []string) core.Value {
	arr := core.NewArray(s.g, len(elems))
	for _, e := range elems {
		arr.Push(s.g, core.FromObject(s.g.InternString(e)))
	}
	return core.FromObject(arr)
}

// SetGlobalArray binds name directly in the global table to an array built
// from elems, without going through the call stack the way PushArray
// does — used at startup for values like `arg` that exist before any script
// has run.
func (s *State) SetGlobalArray(name string, elems []string) {
	arr := s.newArray(elems) // allocate before interning name, which nothing anchors until Set
	s.g.Globals().Set(s.g, core.FromObject(s.g.InternString(name)), arr)
}

// ToString converts the value at idx (0 = bottom of this call's args, as
// laid out by the call protocol) using the implicit tostring conversion.
func (s *State) ToString(idx int) string { return s.th.ToString(s.th.At(idx)) }
func (s *State) ToInt(idx int) int64     { return s.th.At(idx).AsInt() }
func (s *State) ToFloat(idx int) float64 { return s.th.At(idx).AsFloat() }
func (s *State) ToBool(idx int) bool     { return s.th.At(idx).Truthy() }
func (s *State) IsNil(idx int) bool      { return s.th.At(idx).IsNil() }
func (s *State) Top() int                { return s.th.ArgCount() }

// Register installs a Go function as a global callable from script,
// §4.9 "Registering C functions".
func (s *State) Register(name string, fn core.GoFunction) {
	cl := core.NewCClosure(s.g, fn, nil) // allocate before interning name, which nothing anchors until Set
	s.g.Globals().Set(s.g, core.FromObject(s.g.InternString(name)), core.FromObject(cl))
}

// Compile parses and compiles source into a callable closure without
// running it, §4.6's entry point exposed to the host.
func (s *State) Compile(chunkName, source string) (*core.Closure, error) {
	p, err := compiler.Compile(s.g, chunkName, source)
	if err != nil {
		return nil, errors.Wrapf(err, "compile %s", chunkName)
	}
	return core.NewScriptClosure(s.g, p), nil
}

// Run compiles and executes source as a script in protected mode, §6's
// top-level entry point: compile errors surface distinctly from runtime
// errors, matching the CLI's distinct exit codes.
func (s *State) Run(chunkName, source string) error {
	cl, err := s.Compile(chunkName, source)
	if err != nil {
		return err
	}
	return s.Call(cl, nil)
}

// Call invokes cl with args pushed in protected mode (panic/recover stands
// in for the spec's longjmp-based pcall, §4.8), discarding results.
func (s *State) Call(cl *core.Closure, args []core.Value) error {
	_, err := s.CallResults(cl, args, 0)
	return err
}

// CallResults is Call plus result retrieval, used by the REPL to print
// whatever a typed-in expression evaluates to.
func (s *State) CallResults(cl *core.Closure, args []core.Value, nresults int) ([]core.Value, error) {
	before := s.th.StackLen()
	s.th.PushValue(core.FromObject(cl))
	for _, a := range args {
		s.th.PushValue(a)
	}
	if err := s.th.PCall(len(args), nresults, core.Nil); err != nil {
		return nil, err
	}
	after := s.th.StackLen()
	results := make([]core.Value, after-before)
	for i := range results {
		results[i] = s.th.StackAt(before + i)
	}
	return results, nil
}

// CollectGarbage forces a full collection cycle, exposing §4.4's
// `collectgarbage("collect")` to the host.
func (s *State) CollectGarbage() { s.g.Collect() }

// TotalBytes exposes the §8 round-trip property to the host/CLI.
func (s *State) TotalBytes() int64 { return s.g.TotalBytes() }

// RunErrorKind distinguishes the §6 exit-code categories a failed Call can
// fall into, once compile-time (syntax) errors have already been ruled out
// by a separate Compile call.
type RunErrorKind int

const (
	RunErrorRuntime RunErrorKind = iota
	RunErrorMemory
	RunErrorObject
)

// ClassifyRunError inspects an error returned from Call/Run to tell the CLI
// which of the §6 exit codes applies. Errors that never reached the core
// (e.g. a file-read failure) aren't core.Error values and classify as an
// ordinary runtime error; the caller is expected to have already handled
// those cases distinctly.
func ClassifyRunError(err error) RunErrorKind {
	if cerr, ok := err.(*core.Error); ok {
		switch cerr.Kind {
		case core.ErrMemoryKind:
			return RunErrorMemory
		case core.ErrInError:
			return RunErrorObject
		}
	}
	return RunErrorRuntime
}
