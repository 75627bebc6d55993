// Package compiler implements the single-pass Pratt-parser compiler of
// §4.6: it walks the lexer's token stream once, emitting bytecode directly
// into a core.Proto as it recognizes each expression/statement, the same
// way the teacher emits decoded micro-ops straight into its instruction
// buffer as it decodes rather than building an intermediate tree first.
package compiler

import (
	"fmt"

	"github.com/b-jure/Cript/internal/core"
	"github.com/b-jure/Cript/internal/lexer"
)

// Compile parses source under name and returns its top-level Proto, a
// vararg function with no parameters, ready to be wrapped in a closure and
// called (§4.6 "a chunk is a vararg function of zero parameters").
func Compile(g *core.GlobalState, name, source string) (*core.Proto, error) {
	c := &compiler{g: g, lex: lexer.New(g, source)}
	c.fs = newFuncState(g, nil, true, false)
	c.fs.proto.Source = g.InternString(name)
	c.advance()
	for !c.match(lexer.TokEOF) {
		c.declaration()
	}
	c.emitByte(byte(core.OpNil))
	c.emitReturn(0)
	c.finalizeStack()
	if c.errMsg != "" {
		return nil, fmt.Errorf("%s:%d: %s", name, c.prev.Line, c.errMsg)
	}
	return c.fs.proto, nil
}

// precedence mirrors §4.6's table, lowest to highest binding.
type precedence int

const (
	precNone precedence = iota
	precAssign
	precOr
	precAnd
	precEquality
	precComparison
	precConcat
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(c *compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

// localKind distinguishes the §4.6 local variable kinds: a plain mutable
// local, a `<const>`/`<fixed>` local that rejects reassignment, a `<close>`
// local that registers a to-be-closed slot, and a `<static>` local backed by
// Proto.Statics rather than a stack slot.
type localKind int

const (
	kindMutable localKind = iota
	kindConst
	kindTBC
	kindStatic
)

type local struct {
	name       *core.String
	depth      int
	isCaptured bool
	kind       localKind
}

type upvalRef struct {
	index   uint8
	inStack bool
}

// loopState tracks one enclosing loop's break/continue patch lists, §4.6
// "jump patching". continueAt is the backward target pc for `continue` in
// `while`/numeric-`for` loops; the generic for-in loop instead sets it to
// -1 and collects forward patches in continues, since its "continue"
// target (the TFORCALL re-invocation) isn't emitted until after the body.
type loopState struct {
	enclosing   *loopState
	continueAt  int
	breaks      []int
	continues   []int
	scopeDepth  int
}

type funcState struct {
	enclosing   *funcState
	proto       *core.Proto
	locals      []local
	upvalues    []upvalRef
	scope       int
	loop        *loopState
	isMethod    bool
	// staticNames parallels proto.Statics, letting `<static>` locals resolve
	// by name the same way plain locals resolve against fs.locals. Statics
	// are scoped to the function that declares them; a nested closure does
	// not see its enclosing function's statics as an upvalue, since the
	// slot lives on the Proto rather than the stack frame. §4.6.
	staticNames []*core.String
}

// newFuncState starts a fresh per-function compile scope. For a method,
// local slot 0 is reserved for the receiver ("self") and counts as an
// implicit first parameter — callScript's prepArgs pads/positions
// arguments purely off Proto.NumParams, and at the call site every method
// invocation (OpCall through a BoundMethod, or class instantiation calling
// __init) pushes the receiver as that first argument — so NumParams must
// include it or prepArgs miscounts the frame's top and the receiver's slot
// gets overwritten by the method body's first local push. A plain function
// reserves no such slot: its first declared parameter is local index 0,
// matching the first value callScript actually finds at cf.base+0.
func newFuncState(g *core.GlobalState, enclosing *funcState, topLevel, isMethod bool) *funcState {
	fs := &funcState{enclosing: enclosing, proto: core.NewProto(g)}
	fs.proto.IsVararg = topLevel
	if isMethod {
		fs.locals = append(fs.locals, local{name: nil, depth: 0})
		fs.proto.NumParams = 1
	}
	return fs
}

type compiler struct {
	g      *core.GlobalState
	lex    *lexer.Lexer
	fs     *funcState
	cur    lexer.Token
	prev   lexer.Token
	errMsg string
	class  *classState

	// foldable/foldableOK track whether the expression just emitted is a
	// bare numeric constant, so binary() can const-fold a chain of literal
	// arithmetic (`1 + 2 * 3`) into a single OpConst instead of three
	// opcodes, grounded on original_source/src/compiler.c's const-fold
	// path (§D "Integer-vs-float constant folding rules"). Division-family
	// ops are deliberately excluded from folding (see foldArith) so a
	// literal `1 // 0` still raises at runtime instead of at compile time.
	foldable   core.Value
	foldableOK bool
}

type classState struct {
	enclosing *classState
	hasSuper  bool
}

func (c *compiler) advance() {
	c.prev = c.cur
	for {
		c.cur = c.lex.Next()
		if c.cur.Kind != lexer.TokError {
			break
		}
		c.errAt(c.cur, c.cur.Lexeme)
	}
}

func (c *compiler) check(k lexer.TokenKind) bool { return c.cur.Kind == k }

func (c *compiler) match(k lexer.TokenKind) bool {
	if !c.check(k) {
		return false
	}
	c.advance()
	return true
}

func (c *compiler) consume(k lexer.TokenKind, msg string) {
	if c.cur.Kind == k {
		c.advance()
		return
	}
	c.errAt(c.cur, msg)
}

func (c *compiler) errAt(t lexer.Token, msg string) {
	if c.errMsg != "" {
		return // only the first error is reported, later ones are likely noise
	}
	c.errMsg = msg
}

// --- bytecode emission -----------------------------------------------

func (c *compiler) emitByte(b byte) {
	c.fs.proto.Code = append(c.fs.proto.Code, b)
	c.fs.proto.AddLine(len(c.fs.proto.Code)-1, c.prev.Line)
}

func (c *compiler) emitOp(op core.OpCode) { c.emitByte(byte(op)) }

func (c *compiler) emitOp2(op core.OpCode, a byte) {
	c.emitOp(op)
	c.emitByte(a)
}

func (c *compiler) emit24(op core.OpCode, v int) {
	c.emitOp(op)
	c.emitByte(byte(v >> 16))
	c.emitByte(byte(v >> 8))
	c.emitByte(byte(v))
}

func (c *compiler) emitJump(op core.OpCode) int {
	c.emitOp(op)
	pos := len(c.fs.proto.Code)
	c.emitByte(0)
	c.emitByte(0)
	c.emitByte(0)
	return pos
}

func (c *compiler) patchJump(at int) {
	c.patchJumpTo(at, len(c.fs.proto.Code))
}

// patchJumpTo patches the 3-byte operand of the jump emitted at `at` (by
// emitJump) to land at an arbitrary `target` pc rather than the current
// one, for forward jumps whose destination is only known well after the
// jump itself was emitted (the generic for-in's `continue`, §4.6).
func (c *compiler) patchJumpTo(at, target int) {
	offset := target - (at + 3)
	if offset > core.MaxJump || offset < core.MinJump {
		c.errAt(c.prev, "jump target out of range")
		return
	}
	code := c.fs.proto.Code
	code[at] = byte(offset >> 16)
	code[at+1] = byte(offset >> 8)
	code[at+2] = byte(offset)
}

func (c *compiler) emitLoop(to int) {
	offset := to - (len(c.fs.proto.Code) + 4)
	c.emit24(core.OpJmp, offset)
}

// emitTForLoop emits OpTForLoop a, sBx: a names the same (iterfn, state,
// control) base OpTForCall used; sBx is the backward offset to `to` (the
// loop body start), §4.7 "TFORCALL/TFORLOOP".
func (c *compiler) emitTForLoop(a byte, to int) {
	c.emitOp(core.OpTForLoop)
	c.emitByte(a)
	offset := to - (len(c.fs.proto.Code) + 3)
	if offset > core.MaxJump || offset < core.MinJump {
		c.errAt(c.prev, "jump target out of range")
		return
	}
	c.emitByte(byte(offset >> 16))
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// forceMultiResult rewrites the nresults operand of the call expression
// just compiled (if the expression's last emitted instruction is indeed an
// OpCall) from its default single-result encoding to n, the same
// last-instruction-rewrite trick §4.6 uses for assignment ("rewriting the
// last emitted 'get' operation into its 'set' counterpart"). A non-call
// iterator expression is left alone; its extra requested results simply
// aren't there; the generic for-in loop then sees `false, nil` and its
// loop-var slots get padded with nil by the normal call-result padding.
func (c *compiler) forceMultiResult(n int) {
	code := c.fs.proto.Code
	if len(code) >= 3 && core.OpCode(code[len(code)-3]) == core.OpCall {
		code[len(code)-1] = encodeNResults(n)
	}
}

func (c *compiler) emitReturn(nres int) {
	c.emitOp(core.OpReturn)
	c.emitByte(encodeNResults(nres))
	c.emitByte(1) // always close TBCs/upvalues on the way out
}

func (c *compiler) addConstant(v core.Value) int {
	for i, k := range c.fs.proto.Constants {
		if core.RawEqual(k, v) {
			return i
		}
	}
	c.fs.proto.Constants = append(c.fs.proto.Constants, v)
	return len(c.fs.proto.Constants) - 1
}

func encodeNResults(n int) byte {
	if n == core.Multret {
		return 0
	}
	return byte(n + 1)
}

// --- scopes & locals ----------------------------------------------------

func (c *compiler) beginScope() { c.fs.scope++ }

func (c *compiler) endScope() {
	c.fs.scope--
	n := 0
	for len(c.fs.locals) > 0 && c.fs.locals[len(c.fs.locals)-1].depth > c.fs.scope {
		loc := c.fs.locals[len(c.fs.locals)-1]
		if loc.isCaptured {
			c.emitOp2(core.OpCloseUpval, byte(len(c.fs.locals)-1))
		}
		c.fs.locals = c.fs.locals[:len(c.fs.locals)-1]
		n++
	}
	if n > 0 {
		c.emitOp2(core.OpPop, byte(n))
	}
}

func (c *compiler) declareLocal(name *core.String, kind localKind) {
	for i := len(c.fs.locals) - 1; i >= 0; i-- {
		l := c.fs.locals[i]
		if l.depth != -1 && l.depth < c.fs.scope {
			break
		}
		if l.name == name {
			c.errAt(c.prev, "duplicate local variable")
			return
		}
	}
	c.fs.locals = append(c.fs.locals, local{name: name, depth: c.fs.scope, kind: kind})
	if kind == kindTBC {
		c.emitOp2(core.OpTBC, byte(len(c.fs.locals)-1))
	}
}

func resolveLocal(fs *funcState, name *core.String) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i
		}
	}
	return -1
}

// resolveStatic looks up a `<static>` local by name within the current
// function only; statics do not participate in upvalue capture (see
// funcState.staticNames).
func resolveStatic(fs *funcState, name *core.String) int {
	for i := len(fs.staticNames) - 1; i >= 0; i-- {
		if fs.staticNames[i] == name {
			return i
		}
	}
	return -1
}

func resolveUpvalue(fs *funcState, name *core.String) int {
	if fs.enclosing == nil {
		return -1
	}
	if i := resolveLocal(fs.enclosing, name); i >= 0 {
		fs.enclosing.locals[i].isCaptured = true
		return addUpvalue(fs, uint8(i), true)
	}
	if i := resolveUpvalue(fs.enclosing, name); i >= 0 {
		return addUpvalue(fs, uint8(i), false)
	}
	return -1
}

func addUpvalue(fs *funcState, index uint8, inStack bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.inStack == inStack {
			return i
		}
	}
	fs.upvalues = append(fs.upvalues, upvalRef{index: index, inStack: inStack})
	return len(fs.upvalues) - 1
}

// --- declarations & statements -------------------------------------------

func (c *compiler) declaration() {
	switch {
	case c.match(lexer.TokVar):
		c.varDecl()
	case c.match(lexer.TokFun):
		c.funDecl()
	case c.match(lexer.TokClass):
		c.classDecl()
	default:
		c.statement()
	}
}

// varDecl compiles `local name [<attrib>] [= expr];`, §4.6 "Locals,
// upvalues, globals": attrib is one of const/fixed (interchangeable
// spellings), close, or static.
func (c *compiler) varDecl() {
	c.consume(lexer.TokIdent, "expected variable name")
	name := c.prev.Str
	kind := kindMutable
	if c.match(lexer.TokLt) {
		switch {
		case c.match(lexer.TokConst):
			kind = kindConst
		case c.match(lexer.TokStatic):
			kind = kindStatic
		case c.check(lexer.TokIdent) && c.cur.Lexeme == "close":
			c.advance()
			kind = kindTBC
		default:
			c.errAt(c.cur, "unknown variable attribute")
		}
		c.consume(lexer.TokGt, "expected '>' after variable attribute")
	}
	if kind == kindStatic {
		c.staticVarDecl(name)
		return
	}
	if c.match(lexer.TokAssign) {
		c.expression()
	} else {
		c.emitOp(core.OpNil)
	}
	c.consume(lexer.TokSemicolon, "expected ';' after variable declaration")
	c.defineVariable(name, kind)
}

// staticVarDecl compiles a `<static>` local: its slot lives in Proto.Statics
// rather than on the stack, so it is never popped at scope exit and keeps
// its value across separate calls to the enclosing function. The
// initializer still runs every time the declaration is executed; no
// per-slot initialized flag is tracked, so it is not run-once.
func (c *compiler) staticVarDecl(name *core.String) {
	if c.match(lexer.TokAssign) {
		c.expression()
	} else {
		c.emitOp(core.OpNil)
	}
	c.consume(lexer.TokSemicolon, "expected ';' after variable declaration")
	idx := len(c.fs.proto.Statics)
	c.fs.proto.Statics = append(c.fs.proto.Statics, core.Nil)
	c.fs.staticNames = append(c.fs.staticNames, name)
	c.emitOp2(core.OpSetStatic, byte(idx))
}

func (c *compiler) defineVariable(name *core.String, kind localKind) {
	if c.fs.scope > 0 {
		c.declareLocal(name, kind)
		return
	}
	idx := c.addConstant(core.FromObject(name))
	c.emit24(core.OpSetGlobal, idx) // OpSetGlobal itself pops the value
}

func (c *compiler) namedVariableStore(name *core.String) {
	if i := resolveLocal(c.fs, name); i >= 0 {
		if c.fs.locals[i].kind == kindConst || c.fs.locals[i].kind == kindTBC {
			c.errAt(c.prev, "attempt to assign to a const variable")
			return
		}
		c.emitOp2(core.OpSetLocal, byte(i))
		return
	}
	if i := resolveUpvalue(c.fs, name); i >= 0 {
		c.emitOp2(core.OpSetUpval, byte(i))
		return
	}
	if i := resolveStatic(c.fs, name); i >= 0 {
		c.emitOp2(core.OpSetStatic, byte(i))
		return
	}
	idx := c.addConstant(core.FromObject(name))
	c.emit24(core.OpSetGlobal, idx)
}

func (c *compiler) funDecl() {
	c.consume(lexer.TokIdent, "expected function name")
	name := c.prev.Str
	if c.fs.scope > 0 {
		c.declareLocal(name, kindMutable)
	}
	c.function(name, false)
	if c.fs.scope == 0 {
		c.defineVariable(name, kindMutable)
	}
}

// function compiles a nested function body into its own Proto and emits
// OpClosure to produce a closure over it, binding upvalues (§4.6 "Closure
// conversion").
func (c *compiler) function(name *core.String, isMethod bool) {
	parent := c.fs
	c.fs = newFuncState(c.g, parent, false, isMethod)
	c.fs.isMethod = isMethod
	c.fs.proto.Source = parent.proto.Source
	c.fs.proto.DefinedLine = c.prev.Line
	if isMethod {
		c.fs.locals[0].name = c.g.InternString("self")
	}
	c.beginScope()
	c.consume(lexer.TokLParen, "expected '(' after function name")
	if !c.check(lexer.TokRParen) {
		for {
			if c.match(lexer.TokDotDotDot) {
				c.fs.proto.IsVararg = true
				break
			}
			c.fs.proto.NumParams++
			c.consume(lexer.TokIdent, "expected parameter name")
			c.declareLocal(c.prev.Str, kindMutable)
			if !c.match(lexer.TokComma) {
				break
			}
		}
	}
	c.consume(lexer.TokRParen, "expected ')' after parameters")
	c.consume(lexer.TokLBrace, "expected '{' before function body")
	c.block()
	c.emitOp(core.OpNil)
	c.emitReturn(0)
	c.finalizeStack()

	child := c.fs
	c.fs = parent
	idx := len(parent.proto.Protos)
	parent.proto.Protos = append(parent.proto.Protos, child.proto)
	child.proto.Upvals = make([]core.UpvalDesc, len(child.upvalues))
	for i, uv := range child.upvalues {
		child.proto.Upvals[i] = core.UpvalDesc{InStack: uv.inStack, Index: uv.index}
	}
	c.emit24(core.OpClosure, idx)
}

// finalizeStack records the worst-case stack depth this Proto needs. A full
// compiler tracks a running high-water mark as it emits; this one takes the
// simpler, slightly conservative route of sizing for every local slot plus
// a fixed expression-evaluation margin, which errs safe rather than tight.
func (c *compiler) finalizeStack() {
	n := len(c.fs.locals) + 32
	if n > 255 {
		n = 255
	}
	c.fs.proto.MaxStack = uint8(n)
}

func (c *compiler) classDecl() {
	c.consume(lexer.TokIdent, "expected class name")
	name := c.prev.Str
	if c.fs.scope > 0 {
		c.declareLocal(name, kindMutable)
	}
	nameIdx := c.addConstant(core.FromObject(name))
	c.emit24(core.OpNewClass, nameIdx)
	if c.fs.scope == 0 {
		c.defineVariable(name, kindMutable)
	}

	cs := &classState{enclosing: c.class}
	c.class = cs
	if c.match(lexer.TokLt) {
		c.consume(lexer.TokIdent, "expected superclass name")
		if c.prev.Str == name {
			c.errAt(c.prev, "a class cannot inherit from itself")
		}
		// "super" is bound as a synthetic enclosing local so that methods
		// (which see it as an upvalue) can resolve it the same way any
		// other captured name resolves, §4.6 "super binding".
		c.beginScope()
		c.declareLocal(c.g.InternString(superLocalName), kindMutable)
		c.namedVariableLoad(c.prev.Str)
		cs.hasSuper = true

		c.namedVariableLoad(name)
		c.namedVariableLoad(c.g.InternString(superLocalName))
		c.emitOp(core.OpInherit) // pops the super reference; the class reference is left on the stack for the methods below
	} else {
		c.namedVariableLoad(name)
	}
	c.consume(lexer.TokLBrace, "expected '{' before class body")
	for !c.check(lexer.TokRBrace) && !c.check(lexer.TokEOF) {
		c.method()
	}
	c.consume(lexer.TokRBrace, "expected '}' after class body")
	c.emitOp2(core.OpPop, 1)
	if cs.hasSuper {
		c.endScope()
	}
	c.class = cs.enclosing
}

func (c *compiler) method() {
	c.consume(lexer.TokIdent, "expected method name")
	name := c.prev.Str
	c.function(name, true)
	idx := c.addConstant(core.FromObject(name))
	if ev, ok := metaEventFor(name.String()); ok {
		c.emitOp2(core.OpSetMM, byte(ev))
	} else {
		c.emit24(core.OpMethod, idx)
	}
}

func (c *compiler) statement() {
	switch {
	case c.match(lexer.TokIf):
		c.ifStatement()
	case c.match(lexer.TokWhile):
		c.whileStatement()
	case c.match(lexer.TokFor):
		c.forStatement()
	case c.match(lexer.TokReturn):
		c.returnStatement()
	case c.match(lexer.TokBreak):
		c.breakStatement()
	case c.match(lexer.TokContinue):
		c.continueStatement()
	case c.match(lexer.TokLBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *compiler) block() {
	for !c.check(lexer.TokRBrace) && !c.check(lexer.TokEOF) {
		c.declaration()
	}
	c.consume(lexer.TokRBrace, "expected '}' after block")
}

func (c *compiler) expressionStatement() {
	if names, ok := c.tryMultiAssignTargets(); ok {
		c.finishMultiAssign(names)
		c.consume(lexer.TokSemicolon, "expected ';' after assignment")
		return
	}
	c.expression()
	c.consume(lexer.TokSemicolon, "expected ';' after expression")
	c.emitOp2(core.OpPop, 1)
}

// tryMultiAssignTargets speculatively scans a comma-separated list of bare
// identifiers followed by '=', the `a, b, c = ...` shape from §8 Scenario 3.
// Anything else (a single name, a dotted/indexed target, a call statement)
// restores the lexer/token state and reports no match so expressionStatement
// falls back to the ordinary single-expression path — namedVariableLoad's
// own canAssign handling already covers single-target `name = expr`, and
// dot()/index() already cover single-target `a.b = expr`/`a[k] = expr`.
// Mixing dotted/indexed targets into a multi-assignment list is not
// supported (see DESIGN.md Open Questions).
func (c *compiler) tryMultiAssignTargets() ([]*core.String, bool) {
	if !c.check(lexer.TokIdent) {
		return nil, false
	}
	savedLex := *c.lex
	savedCur, savedPrev := c.cur, c.prev
	restore := func() {
		*c.lex = savedLex
		c.cur, c.prev = savedCur, savedPrev
	}
	var names []*core.String
	for {
		if !c.check(lexer.TokIdent) {
			restore()
			return nil, false
		}
		c.advance()
		names = append(names, c.prev.Str)
		if !c.match(lexer.TokComma) {
			break
		}
	}
	if len(names) < 2 || !c.match(lexer.TokAssign) {
		restore()
		return nil, false
	}
	return names, true
}

// finishMultiAssign compiles the right-hand side of a multi-target
// assignment already past its '='. When there are fewer expressions than
// targets and the last one is a call, it is asked (via forceMultiResult,
// the same after-the-fact patch argumentList's multiret callers use) to
// produce exactly enough results to fill the rest, covering `a,b,c,d =
// f(10,20)` where f returns four values. Results are then popped into the
// targets back-to-front, matching the order they sit on the stack.
func (c *compiler) finishMultiAssign(names []*core.String) {
	want := len(names)
	exprCount := 0
	for {
		c.expression()
		exprCount++
		if !c.match(lexer.TokComma) {
			break
		}
	}
	switch {
	case exprCount < want:
		c.forceMultiResult(want - exprCount + 1)
	case exprCount > want:
		c.errAt(c.prev, "too many values in assignment")
		return
	}
	for i := want - 1; i >= 0; i-- {
		c.namedVariableStore(names[i])
	}
}

func (c *compiler) ifStatement() {
	c.consume(lexer.TokLParen, "expected '(' after 'if'")
	c.expression()
	c.consume(lexer.TokRParen, "expected ')' after condition")
	thenJump := c.emitJump(core.OpJmpPopFalse)
	c.statement()
	elseJump := c.emitJump(core.OpJmp)
	c.patchJump(thenJump)
	if c.match(lexer.TokElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *compiler) whileStatement() {
	loopStart := len(c.fs.proto.Code)
	loop := &loopState{enclosing: c.fs.loop, continueAt: loopStart, scopeDepth: c.fs.scope}
	c.fs.loop = loop
	c.consume(lexer.TokLParen, "expected '(' after 'while'")
	c.expression()
	c.consume(lexer.TokRParen, "expected ')' after condition")
	exitJump := c.emitJump(core.OpJmpPopFalse)
	c.statement()
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	for _, b := range loop.breaks {
		c.patchJump(b)
	}
	c.fs.loop = loop.enclosing
}

// forStatement implements both loop forms §4.6 groups under "for": the
// numeric/C-style `for (init; cond; post) body` and, when the header
// parses as a name list followed by `in`, the generic iterator-protocol
// `for (name [, name...] in expr) body` (§4.7 "TFORCALL/TFORLOOP", §8
// scenario 5's `for k,v in pairs(t)`).
func (c *compiler) forStatement() {
	c.consume(lexer.TokLParen, "expected '(' after 'for'")
	if names, ok := c.tryGenericForHeader(); ok {
		c.genericForStatement(names)
		return
	}
	c.beginScope()
	if c.match(lexer.TokSemicolon) {
		// no initializer
	} else if c.match(lexer.TokVar) {
		c.varDecl()
	} else {
		c.expressionStatement()
	}
	loopStart := len(c.fs.proto.Code)
	exitJump := -1
	if !c.check(lexer.TokSemicolon) {
		c.expression()
		exitJump = c.emitJump(core.OpJmpPopFalse)
	}
	c.consume(lexer.TokSemicolon, "expected ';' after loop condition")
	if !c.check(lexer.TokRParen) {
		bodyJump := c.emitJump(core.OpJmp)
		incStart := len(c.fs.proto.Code)
		c.expression()
		c.emitOp2(core.OpPop, 1)
		c.emitLoop(loopStart)
		loopStart = incStart
		c.patchJump(bodyJump)
	}
	c.consume(lexer.TokRParen, "expected ')' after 'for' clauses")

	loop := &loopState{enclosing: c.fs.loop, continueAt: loopStart, scopeDepth: c.fs.scope}
	c.fs.loop = loop
	c.statement()
	c.emitLoop(loopStart)
	if exitJump != -1 {
		c.patchJump(exitJump)
	}
	for _, b := range loop.breaks {
		c.patchJump(b)
	}
	c.fs.loop = loop.enclosing
	c.endScope()
}

// tryGenericForHeader looks ahead, past the '(' forStatement already
// consumed, for a `name [, name...] in` header. The lexer has no
// multi-token lookahead, so this speculatively advances the parser and
// rewinds (the Lexer is a plain value, cheap to snapshot) if the header
// turns out to be the numeric for's initializer instead.
func (c *compiler) tryGenericForHeader() ([]*core.String, bool) {
	if !c.check(lexer.TokIdent) {
		return nil, false
	}
	savedLex := *c.lex
	savedCur, savedPrev, savedErr := c.cur, c.prev, c.errMsg
	rewind := func() {
		*c.lex = savedLex
		c.cur, c.prev, c.errMsg = savedCur, savedPrev, savedErr
	}

	names := []*core.String{c.cur.Str}
	c.advance()
	for c.check(lexer.TokComma) {
		c.advance()
		if !c.check(lexer.TokIdent) {
			rewind()
			return nil, false
		}
		names = append(names, c.cur.Str)
		c.advance()
	}
	if !c.check(lexer.TokIn) {
		rewind()
		return nil, false
	}
	c.advance() // consume 'in'
	return names, true
}

// genericForStatement compiles the generic for-in: the iterator
// expression must produce (iterator, state, control) — builtins like
// pairs()/ipairs() return exactly that triple — bound to three hidden
// locals TFORCALL re-reads every iteration, with the named loop variables
// bound to its per-iteration results (§4.7).
func (c *compiler) genericForStatement(names []*core.String) {
	c.beginScope()
	c.expression()
	c.consume(lexer.TokRParen, "expected ')' after 'for' clauses")
	c.forceMultiResult(3)

	base := len(c.fs.locals)
	c.declareLocal(c.g.InternString(" iterfn"), kindMutable)
	c.declareLocal(c.g.InternString(" state"), kindMutable)
	c.declareLocal(c.g.InternString(" control"), kindMutable)
	for _, nm := range names {
		c.emitOp(core.OpNil)
		c.declareLocal(nm, kindMutable)
	}

	loop := &loopState{enclosing: c.fs.loop, continueAt: -1, scopeDepth: c.fs.scope}
	c.fs.loop = loop

	prepJump := c.emitJump(core.OpJmp)
	bodyStart := len(c.fs.proto.Code)
	c.statement()
	callSite := len(c.fs.proto.Code)
	c.emitOp(core.OpTForCall)
	c.emitByte(byte(base))
	c.emitByte(encodeNResults(len(names)))
	c.emitTForLoop(byte(base), bodyStart)
	c.patchJumpTo(prepJump, callSite)

	for _, cont := range loop.continues {
		c.patchJumpTo(cont, callSite)
	}
	for _, b := range loop.breaks {
		c.patchJump(b)
	}
	c.fs.loop = loop.enclosing
	c.endScope()
}

func (c *compiler) returnStatement() {
	if c.match(lexer.TokSemicolon) {
		c.emitOp(core.OpNil)
		c.emitReturn(0)
		return
	}
	n := 0
	for {
		c.expression()
		n++
		if !c.match(lexer.TokComma) {
			break
		}
	}
	c.consume(lexer.TokSemicolon, "expected ';' after return value")
	c.emitReturn(n)
}

func (c *compiler) breakStatement() {
	c.consume(lexer.TokSemicolon, "expected ';' after 'break'")
	if c.fs.loop == nil {
		c.errAt(c.prev, "'break' outside a loop")
		return
	}
	jmp := c.emitJump(core.OpJmp)
	c.fs.loop.breaks = append(c.fs.loop.breaks, jmp)
}

func (c *compiler) continueStatement() {
	c.consume(lexer.TokSemicolon, "expected ';' after 'continue'")
	if c.fs.loop == nil {
		c.errAt(c.prev, "'continue' outside a loop")
		return
	}
	if c.fs.loop.continueAt < 0 {
		jmp := c.emitJump(core.OpJmp)
		c.fs.loop.continues = append(c.fs.loop.continues, jmp)
		return
	}
	c.emitLoop(c.fs.loop.continueAt)
}

// --- expressions (Pratt parser) ------------------------------------------

var rules map[lexer.TokenKind]parseRule

func init() {
	rules = map[lexer.TokenKind]parseRule{
		lexer.TokLParen:   {prefix: (*compiler).grouping, infix: (*compiler).call, precedence: precCall},
		lexer.TokDot:      {infix: (*compiler).dot, precedence: precCall},
		lexer.TokLBracket: {prefix: (*compiler).arrayLit, infix: (*compiler).index, precedence: precCall},
		lexer.TokLBrace:   {prefix: (*compiler).tableLit},
		lexer.TokMinus:    {prefix: (*compiler).unary, infix: (*compiler).binary, precedence: precTerm},
		lexer.TokPlus:     {infix: (*compiler).binary, precedence: precTerm},
		lexer.TokSlash:    {infix: (*compiler).binary, precedence: precFactor},
		lexer.TokSlashSlash: {infix: (*compiler).binary, precedence: precFactor},
		lexer.TokPercent:  {infix: (*compiler).binary, precedence: precFactor},
		lexer.TokStar:     {infix: (*compiler).binary, precedence: precFactor},
		lexer.TokCaret:    {infix: (*compiler).binary, precedence: precUnary},
		lexer.TokAmp:      {infix: (*compiler).binary, precedence: precFactor},
		lexer.TokPipe:     {infix: (*compiler).binary, precedence: precTerm},
		lexer.TokLtLt:     {infix: (*compiler).binary, precedence: precTerm},
		lexer.TokGtGt:     {infix: (*compiler).binary, precedence: precTerm},
		lexer.TokConcat:   {infix: (*compiler).binary, precedence: precConcat},
		lexer.TokNot:      {prefix: (*compiler).unary},
		lexer.TokTilde:    {prefix: (*compiler).unary},
		lexer.TokHash:     {prefix: (*compiler).unary},
		lexer.TokNe:       {infix: (*compiler).binary, precedence: precEquality},
		lexer.TokEq:       {infix: (*compiler).binary, precedence: precEquality},
		lexer.TokGt:       {infix: (*compiler).binary, precedence: precComparison},
		lexer.TokGe:       {infix: (*compiler).binary, precedence: precComparison},
		lexer.TokLt:       {infix: (*compiler).binary, precedence: precComparison},
		lexer.TokLe:       {infix: (*compiler).binary, precedence: precComparison},
		lexer.TokIdent:    {prefix: (*compiler).variable},
		lexer.TokString:   {prefix: (*compiler).stringLit},
		lexer.TokInt:      {prefix: (*compiler).intLit},
		lexer.TokFloat:    {prefix: (*compiler).floatLit},
		lexer.TokNil:      {prefix: (*compiler).literal},
		lexer.TokTrue:     {prefix: (*compiler).literal},
		lexer.TokFalse:    {prefix: (*compiler).literal},
		lexer.TokSelf:     {prefix: (*compiler).self},
		lexer.TokSuper:    {prefix: (*compiler).super},
		lexer.TokAnd:      {infix: (*compiler).and, precedence: precAnd},
		lexer.TokOr:       {infix: (*compiler).or, precedence: precOr},
		lexer.TokFun:      {prefix: (*compiler).lambda},
	}
}

func (c *compiler) getRule(k lexer.TokenKind) parseRule { return rules[k] }

func (c *compiler) expression() { c.parsePrecedence(precAssign) }

func (c *compiler) parsePrecedence(p precedence) {
	c.advance()
	rule := c.getRule(c.prev.Kind)
	if rule.prefix == nil {
		c.errAt(c.prev, "expected an expression")
		return
	}
	canAssign := p <= precAssign
	rule.prefix(c, canAssign)
	for p <= c.getRule(c.cur.Kind).precedence {
		c.advance()
		infix := c.getRule(c.prev.Kind).infix
		infix(c, canAssign)
	}
	if canAssign && c.match(lexer.TokAssign) {
		c.errAt(c.prev, "invalid assignment target")
	}
}

func (c *compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokRParen, "expected ')' after expression")
}

func (c *compiler) intLit(canAssign bool) {
	v := core.Int(c.prev.Int)
	c.addAndLoadConst(v)
	c.foldable, c.foldableOK = v, true
}

func (c *compiler) floatLit(canAssign bool) {
	v := core.Float(c.prev.Float)
	c.addAndLoadConst(v)
	c.foldable, c.foldableOK = v, true
}

func (c *compiler) stringLit(canAssign bool) {
	c.addAndLoadConst(core.FromObject(c.prev.Str))
	c.foldableOK = false
}

func (c *compiler) addAndLoadConst(v core.Value) {
	idx := c.addConstant(v)
	c.emit24(core.OpConst, idx)
}

func (c *compiler) literal(canAssign bool) {
	switch c.prev.Kind {
	case lexer.TokNil:
		c.emitOp(core.OpNil)
	case lexer.TokTrue:
		c.emitOp(core.OpTrue)
	case lexer.TokFalse:
		c.emitOp(core.OpFalse)
	}
	c.foldableOK = false
}

func (c *compiler) unary(canAssign bool) {
	op := c.prev.Kind
	c.parsePrecedence(precUnary)
	if op == lexer.TokMinus && c.foldableOK {
		if v, ok := foldNeg(c.foldable); ok {
			c.foldConstTail(1, v)
			return
		}
	}
	switch op {
	case lexer.TokMinus:
		c.emitOp(core.OpNeg)
	case lexer.TokNot:
		c.emitOp(core.OpNot)
	case lexer.TokTilde:
		c.emitOp(core.OpBnot)
	case lexer.TokHash:
		c.emitOp(core.OpLen)
	}
	c.foldableOK = false
}

// binary compiles one infix operator application. For arithmetic operators
// where both operands folded down to a bare numeric constant, it collapses
// the two OpConst loads plus the operator into a single OpConst instead —
// §D's constant-folding behavior.
func (c *compiler) binary(canAssign bool) {
	op := c.prev.Kind
	rule := c.getRule(op)
	lhsFoldable, lhs := c.foldableOK, c.foldable
	c.parsePrecedence(rule.precedence + 1)
	rhsFoldable, rhs := c.foldableOK, c.foldable

	if lhsFoldable && rhsFoldable {
		if v, ok := foldArith(op, lhs, rhs); ok {
			c.foldConstTail(2, v)
			return
		}
	}
	c.foldableOK = false

	switch op {
	case lexer.TokPlus:
		c.emitOp(core.OpAdd)
	case lexer.TokMinus:
		c.emitOp(core.OpSub)
	case lexer.TokStar:
		c.emitOp(core.OpMul)
	case lexer.TokSlash:
		c.emitOp(core.OpDiv)
	case lexer.TokSlashSlash:
		c.emitOp(core.OpFloorDiv)
	case lexer.TokPercent:
		c.emitOp(core.OpMod)
	case lexer.TokCaret:
		c.emitOp(core.OpPow)
	case lexer.TokAmp:
		c.emitOp(core.OpBand)
	case lexer.TokPipe:
		c.emitOp(core.OpBor)
	case lexer.TokLtLt:
		c.emitOp(core.OpShl)
	case lexer.TokGtGt:
		c.emitOp(core.OpShr)
	case lexer.TokConcat:
		c.emitOp(core.OpConcat)
	case lexer.TokEq:
		c.emitOp(core.OpEq)
	case lexer.TokNe:
		c.emitOp(core.OpNe)
	case lexer.TokLt:
		c.emitOp(core.OpLt)
	case lexer.TokLe:
		c.emitOp(core.OpLe)
	case lexer.TokGt:
		c.emitOp(core.OpGt)
	case lexer.TokGe:
		c.emitOp(core.OpGe)
	}
}

// foldConstTail replaces the trailing n freshly-emitted OpConst loads (one
// per folded operand) with a single OpConst for v. Safe because a foldable
// operand always ends in exactly one 4-byte OpConst instruction with
// nothing emitted after it, so n of them back-to-back cover exactly the
// operands this fold consumed.
func (c *compiler) foldConstTail(n int, v core.Value) {
	code := c.fs.proto.Code
	c.fs.proto.Code = code[:len(code)-4*n]
	c.fs.proto.TruncateLines(len(c.fs.proto.Code))
	c.addAndLoadConst(v)
	c.foldable, c.foldableOK = v, true
}

// foldArith implements the subset of §D's constant-folding rule this
// compiler applies: same-kind (int/int or float/float) operands only, and
// never the division family, so a literal division by zero still raises
// at runtime instead of silently folding away.
func foldArith(op lexer.TokenKind, a, b core.Value) (core.Value, bool) {
	if a.IsInt() && b.IsInt() {
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case lexer.TokPlus:
			return core.Int(x + y), true
		case lexer.TokMinus:
			return core.Int(x - y), true
		case lexer.TokStar:
			return core.Int(x * y), true
		case lexer.TokAmp:
			return core.Int(x & y), true
		case lexer.TokPipe:
			return core.Int(x | y), true
		case lexer.TokLtLt:
			if y >= 0 && y < 64 {
				return core.Int(x << uint(y)), true
			}
		case lexer.TokGtGt:
			if y >= 0 && y < 64 {
				return core.Int(x >> uint(y)), true
			}
		}
		return core.Nil, false
	}
	if a.IsFloat() && b.IsFloat() {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case lexer.TokPlus:
			return core.Float(x + y), true
		case lexer.TokMinus:
			return core.Float(x - y), true
		case lexer.TokStar:
			return core.Float(x * y), true
		}
	}
	return core.Nil, false
}

func foldNeg(a core.Value) (core.Value, bool) {
	if a.IsInt() {
		return core.Int(-a.AsInt()), true
	}
	if a.IsFloat() {
		return core.Float(-a.AsFloat()), true
	}
	return core.Nil, false
}

// and/or implement §4.6 short-circuit evaluation via JmpIfFalse/JmpIfTrue,
// which peek the top of stack without popping it on the short-circuit path.
func (c *compiler) and(canAssign bool) {
	jmp := c.emitJump(core.OpJmpIfFalse)
	c.emitOp2(core.OpPop, 1)
	c.parsePrecedence(precAnd)
	c.patchJump(jmp)
	c.foldableOK = false
}

func (c *compiler) or(canAssign bool) {
	jmp := c.emitJump(core.OpJmpIfTrue)
	c.emitOp2(core.OpPop, 1)
	c.parsePrecedence(precOr)
	c.patchJump(jmp)
	c.foldableOK = false
}

func (c *compiler) variable(canAssign bool) {
	name := c.prev.Str
	if canAssign && c.match(lexer.TokAssign) {
		c.expression()
		c.namedVariableStore(name)
		c.namedVariableLoad(name) // the store pops; reload so the assignment has a value
		c.foldableOK = false
		return
	}
	c.namedVariableLoad(name)
	c.foldableOK = false
}

func (c *compiler) namedVariableLoad(name *core.String) {
	if i := resolveLocal(c.fs, name); i >= 0 {
		c.emitOp2(core.OpGetLocal, byte(i))
		return
	}
	if i := resolveUpvalue(c.fs, name); i >= 0 {
		c.emitOp2(core.OpGetUpval, byte(i))
		return
	}
	if i := resolveStatic(c.fs, name); i >= 0 {
		c.emitOp2(core.OpGetStatic, byte(i))
		return
	}
	idx := c.addConstant(core.FromObject(name))
	c.emit24(core.OpGetGlobal, idx)
}

// self resolves "self" exactly like any other name: the receiver occupies
// local slot 0 of the nearest enclosing method (function() names it there),
// so a closure nested inside a method captures it as an upvalue the same
// way it would capture any other local from an enclosing scope.
func (c *compiler) self(canAssign bool) {
	name := c.g.InternString("self")
	if resolveLocal(c.fs, name) < 0 && resolveUpvalue(c.fs, name) < 0 {
		c.errAt(c.prev, "'self' used outside a method")
		return
	}
	c.namedVariableLoad(name)
	c.foldableOK = false
}

func (c *compiler) super(canAssign bool) {
	if c.class == nil || !c.class.hasSuper {
		c.errAt(c.prev, "'super' used outside a subclass method")
		return
	}
	c.consume(lexer.TokDot, "expected '.' after 'super'")
	c.consume(lexer.TokIdent, "expected superclass method name")
	name := c.prev.Str
	c.emitOp2(core.OpGetLocal, 0) // self
	c.namedVariableLoad(c.g.InternString(superLocalName))
	idx := c.addConstant(core.FromObject(name))
	c.emit24(core.OpGetSuper, idx)
	c.foldableOK = false
}

const superLocalName = "super"

func (c *compiler) call(canAssign bool) {
	nargs := c.argumentList()
	c.emitOp(core.OpCall)
	c.emitByte(byte(nargs))
	c.emitByte(encodeNResults(1))
	c.foldableOK = false
}

func (c *compiler) argumentList() int {
	n := 0
	if !c.check(lexer.TokRParen) {
		for {
			c.expression()
			n++
			if !c.match(lexer.TokComma) {
				break
			}
		}
	}
	c.consume(lexer.TokRParen, "expected ')' after arguments")
	return n
}

func (c *compiler) dot(canAssign bool) {
	c.consume(lexer.TokIdent, "expected property name after '.'")
	name := c.prev.Str
	idx := c.addConstant(core.FromObject(name))
	if canAssign && c.match(lexer.TokAssign) {
		c.expression()
		c.emit24(core.OpSetProperty, idx)
		c.emitOp(core.OpNil) // the store pops its operands; the assignment's value is nil
		c.foldableOK = false
		return
	}
	c.emit24(core.OpGetProperty, idx)
	c.foldableOK = false
}

func (c *compiler) index(canAssign bool) {
	c.expression()
	c.consume(lexer.TokRBracket, "expected ']' after index expression")
	if canAssign && c.match(lexer.TokAssign) {
		c.expression()
		c.emitOp(core.OpSetIndex)
		c.emitOp(core.OpNil) // the store pops its operands; the assignment's value is nil
		c.foldableOK = false
		return
	}
	c.emitOp(core.OpGetIndex)
	c.foldableOK = false
}

// lambda compiles an anonymous `fn (...) { ... }` expression.
func (c *compiler) lambda(canAssign bool) {
	c.function(nil, false)
	c.foldableOK = false
}

// tableLit compiles a `{ name = expr, [expr] = expr, ... }` table
// constructor (§4.1/§3 "Table"), the literal form behind the
// `{ __close = fn(){...} }` style metatables in §8 scenario 6. NEWTABLE
// itself only allocates; each pair is then installed with a SET_INDEX
// against a hidden local pinned to the table's stack slot for the
// constructor's duration, the same last-emitted-local trick the generic
// for-in loop uses to address a value that needs repeated reads (see
// genericForStatement) — removed from fs.locals once the literal is done so
// the table's value, left on the stack, becomes whatever slot the
// surrounding expression assigns it next.
func (c *compiler) tableLit(canAssign bool) {
	c.emitOp2(core.OpNewTable, 0)
	base := len(c.fs.locals)
	c.declareLocal(c.g.InternString(" tablelit"), kindMutable)
	if !c.check(lexer.TokRBrace) {
		for {
			c.emitOp2(core.OpGetLocal, byte(base))
			if c.match(lexer.TokLBracket) {
				c.expression()
				c.consume(lexer.TokRBracket, "expected ']' after computed table key")
			} else {
				c.consume(lexer.TokIdent, "expected table key")
				c.addAndLoadConst(core.FromObject(c.prev.Str))
			}
			c.consume(lexer.TokAssign, "expected '=' after table key")
			c.expression()
			c.emitOp(core.OpSetIndex)
			if !c.match(lexer.TokComma) || c.check(lexer.TokRBrace) {
				break
			}
		}
	}
	c.consume(lexer.TokRBrace, "expected '}' after table literal")
	c.fs.locals = c.fs.locals[:base]
	c.foldableOK = false
}

// arrayLit compiles a `[expr, expr, ...]` array constructor (§3 "Array"):
// each element is appended in order via SET_INDEX at the next 0-based
// index, relying on Array.SetIndex's append-at-length behavior (see
// internal/core/meta.go). Uses the same hidden-local addressing trick as
// tableLit.
func (c *compiler) arrayLit(canAssign bool) {
	c.emitOp2(core.OpNewArray, 0)
	base := len(c.fs.locals)
	c.declareLocal(c.g.InternString(" arraylit"), kindMutable)
	idx := int64(0)
	if !c.check(lexer.TokRBracket) {
		for {
			c.emitOp2(core.OpGetLocal, byte(base))
			c.addAndLoadConst(core.Int(idx))
			idx++
			c.expression()
			c.emitOp(core.OpSetIndex)
			if !c.match(lexer.TokComma) || c.check(lexer.TokRBracket) {
				break
			}
		}
	}
	c.consume(lexer.TokRBracket, "expected ']' after array literal")
	c.fs.locals = c.fs.locals[:base]
	c.foldableOK = false
}

// metaEventFor maps a method name spelled in a class body to its fixed
// VMT slot. The constructor accepts both the §6 metamethod-list spelling
// (`__init`) and the bare `init` spelling §8 Scenario 4 writes its example
// in (`class A { init(x){ self.x = x } ... }`) — §9 flags this exact
// spelling/arity mismatch as an open question the source itself never
// resolved, so both are treated as the same slot here rather than
// silently failing to run the constructor for whichever spelling a script
// happens to use.
func metaEventFor(name string) (core.MetaEvent, bool) {
	switch name {
	case "__init", "init":
		return core.MetaInit, true
	case "__getidx":
		return core.MetaGetIndex, true
	case "__setidx":
		return core.MetaSetIndex, true
	case "__gc":
		return core.MetaGC, true
	case "__close":
		return core.MetaClose, true
	case "__call":
		return core.MetaCall, true
	case "__concat":
		return core.MetaConcat, true
	case "__add":
		return core.MetaAdd, true
	case "__sub":
		return core.MetaSub, true
	case "__mul":
		return core.MetaMul, true
	case "__div":
		return core.MetaDiv, true
	case "__mod":
		return core.MetaMod, true
	case "__pow":
		return core.MetaPow, true
	case "__shl":
		return core.MetaShl, true
	case "__shr":
		return core.MetaShr, true
	case "__band":
		return core.MetaBand, true
	case "__bor":
		return core.MetaBor, true
	case "__xor":
		return core.MetaXor, true
	case "__unm":
		return core.MetaUnm, true
	case "__bnot":
		return core.MetaBnot, true
	case "__eq":
		return core.MetaEq, true
	case "__lt":
		return core.MetaLt, true
	case "__le":
		return core.MetaLe, true
	}
	return 0, false
}
