package cript

import (
	"strings"
	"testing"

	"github.com/b-jure/Cript/internal/core"
)

// runGlobal runs src and returns the named global it left behind, failing
// the test if the script errored.
func runGlobal(t *testing.T, src, name string) core.Value {
	t.Helper()
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run(%q): %v", src, err)
	}
	v, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString(name)))
	return v
}

func TestArithmeticAndPrecedence(t *testing.T) {
	v := runGlobal(t, `result = 1 + 2 * 3 - 4 / 2;`, "result")
	if !v.IsFloat() && !v.IsInt() {
		t.Fatalf("result is not numeric: %v", v)
	}
	// 4 / 2 style division produces a float under this language's numeric
	// tower (mixed int/float arithmetic promotes to float); only check the
	// value, not the exact kind.
	got := v.AsFloat()
	if v.IsInt() {
		got = float64(v.AsInt())
	}
	if got != 5 {
		t.Fatalf("1 + 2*3 - 4/2 = %v, want 5", got)
	}
}

func TestStringConcatenationWithCoercion(t *testing.T) {
	v := runGlobal(t, `result = "count: " .. 3 .. ", " .. 1.5;`, "result")
	if !v.IsString() {
		t.Fatalf("result is not a string: %v", v)
	}
	if v.AsString().String() != "count: 3, 1.5" {
		t.Fatalf("result = %q, want %q", v.AsString().String(), "count: 3, 1.5")
	}
}

func TestClosureCapturesByReference(t *testing.T) {
	src := `
		fn makeCounter() {
			var n = 0;
			fn inc() {
				n = n + 1;
				return n;
			}
			return inc;
		}
		var c = makeCounter();
		c();
		c();
		result = c();
	`
	v := runGlobal(t, src, "result")
	if v.AsInt() != 3 {
		t.Fatalf("result = %v, want 3", v)
	}
}

func TestClassInheritanceAndSuper(t *testing.T) {
	src := `
		class Animal {
			__init(name) { self.name = name; }
			speak() { return self.name .. " makes a sound"; }
		}
		class Dog < Animal {
			speak() { return super.speak() .. " (bark)"; }
		}
		var d = Dog("Rex");
		result = d.speak();
	`
	v := runGlobal(t, src, "result")
	want := "Rex makes a sound (bark)"
	if v.AsString().String() != want {
		t.Fatalf("result = %q, want %q", v.AsString().String(), want)
	}
}

func TestPcallCatchesRuntimeError(t *testing.T) {
	src := `
		fn boom() { return 1 + nil; }
		ok, err = pcall(boom);
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ok, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("ok")))
	if ok.Truthy() {
		t.Fatal("pcall should report failure for a runtime error")
	}
	errv, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("err")))
	if !errv.IsString() {
		t.Fatalf("pcall's error value is not a string: %v", errv)
	}
}

func TestPcallForwardsSuccessfulResults(t *testing.T) {
	src := `
		fn two() { return 42; }
		ok, v = pcall(two);
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ok, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("ok")))
	if !ok.Truthy() {
		t.Fatal("pcall should report success")
	}
	v, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("v")))
	if v.AsInt() != 42 {
		t.Fatalf("v = %v, want 42", v)
	}
}

func TestLengthOperatorOnStringsArraysAndTables(t *testing.T) {
	src := `
		strLen = #"hello";
		arrLen = #[1, 2, 3, 4];
		var t = {};
		t["a"] = 1;
		t["b"] = 2;
		tabLen = #t;
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	get := func(name string) core.Value {
		v, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString(name)))
		return v
	}
	if get("strLen").AsInt() != 5 {
		t.Errorf("#\"hello\" = %v, want 5", get("strLen"))
	}
	if get("arrLen").AsInt() != 4 {
		t.Errorf("#[1,2,3,4] = %v, want 4", get("arrLen"))
	}
	if get("tabLen").AsInt() != 2 {
		t.Errorf("#t = %v, want 2", get("tabLen"))
	}
}

func TestGenericForOverPairsVisitsEveryEntry(t *testing.T) {
	src := `
		var t = {};
		t["a"] = 1;
		t["b"] = 2;
		t["c"] = 3;
		var sum = 0;
		var count = 0;
		for (k, v in pairs(t)) {
			sum = sum + v;
			count = count + 1;
		}
		result = sum;
		seen = count;
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	result, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("result")))
	seen, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("seen")))
	if result.AsInt() != 6 {
		t.Fatalf("sum over pairs(t) = %v, want 6", result)
	}
	if seen.AsInt() != 3 {
		t.Fatalf("iterations over pairs(t) = %v, want 3", seen)
	}
}

func TestGenericForOverIpairsPreserves0BasedIndices(t *testing.T) {
	src := `
		var a = [10, 20, 30];
		var idxSum = 0;
		var valSum = 0;
		for (i, v in ipairs(a)) {
			idxSum = idxSum + i;
			valSum = valSum + v;
		}
		idxResult = idxSum;
		valResult = valSum;
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	idxResult, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("idxResult")))
	valResult, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("valResult")))
	// a's 0-based indices are 0,1,2 (sum 3); values sum to 60.
	if idxResult.AsInt() != 3 {
		t.Fatalf("sum of ipairs indices = %v, want 3 (0-based: 0+1+2)", idxResult)
	}
	if valResult.AsInt() != 60 {
		t.Fatalf("sum of ipairs values = %v, want 60", valResult)
	}
}

func TestGenericForBreakStopsIteration(t *testing.T) {
	src := `
		var a = [1, 2, 3, 4, 5];
		var count = 0;
		for (i, v in ipairs(a)) {
			if (v == 3) { break; }
			count = count + 1;
		}
		result = count;
	`
	v := runGlobal(t, src, "result")
	if v.AsInt() != 2 {
		t.Fatalf("loop should break after visiting indices 0 and 1, count = %v, want 2", v)
	}
}

func TestToCloseRunsOnScopeExit(t *testing.T) {
	src := `
		closedCount = 0;
		var mt = {};
		mt["__close"] = fn (obj, err) { closedCount = closedCount + 1; };
		fn useResource() {
			var r <close> = setmetatable({}, mt);
		}
		useResource();
	`
	v := runGlobal(t, src, "closedCount")
	if v.AsInt() != 1 {
		t.Fatalf("closedCount = %v, want 1", v)
	}
}

func TestToCloseRunsOnErrorUnwind(t *testing.T) {
	src := `
		closedCount = 0;
		var mt = {};
		mt["__close"] = fn (obj, err) { closedCount = closedCount + 1; };
		fn useResource() {
			var r <close> = setmetatable({}, mt);
			error("boom");
		}
		ok, err = pcall(useResource);
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	closedCount, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("closedCount")))
	if closedCount.AsInt() != 1 {
		t.Fatalf("closedCount = %v, want 1 (close must run even when unwinding through an error)", closedCount)
	}
	ok, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("ok")))
	if ok.Truthy() {
		t.Fatal("pcall should report the error() call as a failure")
	}
}

func TestMetamethodDispatchForArithmetic(t *testing.T) {
	src := `
		class Vec {
			__init(x, y) { self.x = x; self.y = y; }
			__add(other) {
				var v = Vec(self.x + other.x, self.y + other.y);
				return v;
			}
		}
		var a = Vec(1, 2);
		var b = Vec(3, 4);
		var c = a + b;
		resultX = c.x;
		resultY = c.y;
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	x, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("resultX")))
	y, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString("resultY")))
	if x.AsInt() != 4 || y.AsInt() != 6 {
		t.Fatalf("a+b = (%v, %v), want (4, 6)", x, y)
	}
}

func TestSyntaxErrorSurfacesAsDistinctFromRuntimeError(t *testing.T) {
	s := New()
	err := s.Run("test", `var x = ;`)
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	if !strings.Contains(err.Error(), "test") {
		t.Fatalf("syntax error should mention the chunk name, got: %v", err)
	}
}

func TestRuntimeErrorClassification(t *testing.T) {
	s := New()
	err := s.Run("test", `nil + 1;`)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	if kind := ClassifyRunError(err); kind != RunErrorRuntime {
		t.Fatalf("ClassifyRunError = %v, want RunErrorRuntime", kind)
	}
}

func TestCollectGarbageBaselibOption(t *testing.T) {
	src := `var t = {}; collectgarbage("collect"); result = "ok";`
	v := runGlobal(t, src, "result")
	if v.AsString().String() != "ok" {
		t.Fatalf("result = %v, want ok", v)
	}
}

func TestTypeAndToStringBuiltins(t *testing.T) {
	src := `
		tNil = type(nil);
		tBool = type(true);
		tNum = type(1);
		tStr = type("s");
		sNum = tostring(42);
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	get := func(name string) string {
		v, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString(name)))
		return v.AsString().String()
	}
	if get("tNil") != "nil" || get("tBool") != "boolean" || get("tNum") != "number" || get("tStr") != "string" {
		t.Fatalf("type() results: nil=%s bool=%s num=%s str=%s", get("tNil"), get("tBool"), get("tNum"), get("tStr"))
	}
	if get("sNum") != "42" {
		t.Fatalf("tostring(42) = %q, want \"42\"", get("sNum"))
	}
}

// TestMultiValueReturnAndAssignment covers §8 Scenario 3: a function
// returning several values feeding a multi-target assignment.
func TestMultiValueReturnAndAssignment(t *testing.T) {
	src := `
		fn f(a, b) { return a, b, b, a; }
		var a = 0; var b = 0; var c = 0; var d = 0;
		a, b, c, d = f(10, 20);
	`
	s := New()
	if err := s.Run("test", src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	get := func(name string) int64 {
		v, _ := s.Global().Globals().Get(core.FromObject(s.Global().InternString(name)))
		return v.AsInt()
	}
	if a, b, c, d := get("a"), get("b"), get("c"), get("d"); a != 10 || b != 20 || c != 20 || d != 10 {
		t.Fatalf("a,b,c,d = %d,%d,%d,%d want 10,20,20,10", a, b, c, d)
	}
}
