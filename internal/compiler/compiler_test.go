package compiler

import (
	"bytes"
	"testing"

	"github.com/b-jure/Cript/internal/core"
)

func mustCompile(t *testing.T, src string) *core.Proto {
	t.Helper()
	g := core.NewGlobalState()
	p, err := Compile(g, "test", src)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return p
}

func TestCompileValidPrograms(t *testing.T) {
	srcs := []string{
		`var x = 1;`,
		`var x = 1 + 2 * 3;`,
		`fn add(a, b) { return a + b; }`,
		`class Point { __init(x, y) { self.x = x; self.y = y; } }`,
		`class Base { greet() { return "hi"; } } class Derived < Base { }`,
		`var t = {}; t["k"] = 1;`,
		`var a = []; a[0] = 1;`,
		`while (true) { break; }`,
		`for (var i = 0; i < 10; i = i + 1) { continue; }`,
		`for (k, v in pairs({})) { }`,
		`for (i, v in ipairs([])) { }`,
		`var s = #"abc";`,
		`var c <const> = 1;`,
		`var r <close> = nil;`,
		`var s <static> = 0;`,
		`fn f(a, b) { return a, b, b, a; } var a = 0; var b = 0; var c = 0; var d = 0; a, b, c, d = f(10, 20);`,
	}
	for _, src := range srcs {
		mustCompile(t, src)
	}
}

func TestCompileReportsSyntaxErrors(t *testing.T) {
	srcs := []string{
		`var x = ;`,
		`fn () { }`,
		`if (true) { `, // missing closing brace
		`break;`,       // break outside a loop
		`continue;`,    // continue outside a loop
	}
	g := core.NewGlobalState()
	for _, src := range srcs {
		if _, err := Compile(g, "test", src); err == nil {
			t.Errorf("Compile(%q): expected error, got none", src)
		}
	}
}

// countOp reports how many times op appears as a one-byte opcode tag in code,
// scanning naively byte-by-byte; good enough since no operand byte in this
// bytecode happens to equal another opcode's tag in the snippets tested here
// (each snippet below touches very few distinct opcodes).
func countOp(code []byte, op core.OpCode) int {
	return bytes.Count(code, []byte{byte(op)})
}

func TestGenericForEmitsTForCallAndTForLoop(t *testing.T) {
	p := mustCompile(t, `for (k, v in pairs({})) { }`)
	if countOp(p.Code, core.OpTForCall) != 1 {
		t.Errorf("expected exactly one OpTForCall, code = %v", p.Code)
	}
	if countOp(p.Code, core.OpTForLoop) != 1 {
		t.Errorf("expected exactly one OpTForLoop, code = %v", p.Code)
	}
}

func TestNumericForDoesNotEmitTForOpcodes(t *testing.T) {
	p := mustCompile(t, `for (var i = 0; i < 10; i = i + 1) { }`)
	if countOp(p.Code, core.OpTForCall) != 0 || countOp(p.Code, core.OpTForLoop) != 0 {
		t.Errorf("numeric for must not use the generic for-in opcodes, code = %v", p.Code)
	}
}

func TestHashOperatorEmitsOpLen(t *testing.T) {
	p := mustCompile(t, `var x = #"abc";`)
	if countOp(p.Code, core.OpLen) != 1 {
		t.Errorf("expected exactly one OpLen, code = %v", p.Code)
	}
}

// Chains of literal integer/float arithmetic fold to a single constant at
// compile time (§D), so the generated code loads the result with exactly one
// OpConst and carries no arithmetic opcode for a fully-foldable expression.
// The operands' own constants stay in the pool; only the code is rewritten.
func TestConstantFoldingCollapsesLiteralArithmetic(t *testing.T) {
	p := mustCompile(t, `var x = 1 + 2 * 3;`)
	if countOp(p.Code, core.OpAdd) != 0 || countOp(p.Code, core.OpMul) != 0 {
		t.Errorf("expected literal arithmetic to fold away, code = %v", p.Code)
	}
	if core.OpCode(p.Code[0]) != core.OpConst || core.OpCode(p.Code[4]) != core.OpSetGlobal {
		t.Fatalf("expected one OpConst (the folded result) followed by OpSetGlobal, code = %v", p.Code)
	}
	k := p.Constants[int(p.Code[1])<<16|int(p.Code[2])<<8|int(p.Code[3])]
	if !k.IsInt() || k.AsInt() != 7 {
		t.Errorf("folded constant = %v, want Int(7)", k)
	}
}

// Division-family operators are excluded from folding so that a literal
// division by zero still raises at runtime instead of vanishing at compile
// time (§D).
func TestDivisionIsNeverFolded(t *testing.T) {
	p := mustCompile(t, `var x = 4 / 2;`)
	if countOp(p.Code, core.OpDiv) != 1 {
		t.Errorf("expected OpDiv to survive (not folded), code = %v", p.Code)
	}
}

func TestConstAssignmentIsRejected(t *testing.T) {
	g := core.NewGlobalState()
	_, err := Compile(g, "test", `{ var c <const> = 1; c = 2; }`)
	if err == nil {
		t.Fatal("expected error assigning to a <const> local")
	}
}

func TestDuplicateLocalInSameScopeIsRejected(t *testing.T) {
	g := core.NewGlobalState()
	_, err := Compile(g, "test", `{ var x = 1; var x = 2; }`)
	if err == nil {
		t.Fatal("expected error for duplicate local declaration")
	}
}

func TestClosureCapturesEnclosingLocal(t *testing.T) {
	p := mustCompile(t, `fn outer() { var x = 1; fn inner() { return x; } return inner; }`)
	if len(p.Protos) != 1 {
		t.Fatalf("expected one nested proto for outer(), got %d", len(p.Protos))
	}
	outer := p.Protos[0]
	if len(outer.Protos) != 1 {
		t.Fatalf("expected one nested proto for inner(), got %d", len(outer.Protos))
	}
	inner := outer.Protos[0]
	if len(inner.Upvals) != 1 {
		t.Fatalf("expected inner() to capture exactly one upvalue, got %d", len(inner.Upvals))
	}
	if !inner.Upvals[0].InStack {
		t.Errorf("expected inner()'s upvalue to reference outer()'s stack local directly")
	}
}
