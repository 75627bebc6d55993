package core

import "testing"

func TestTableSetGetDelete(t *testing.T) {
	g := NewGlobalState()
	tab := NewTable(g, 0)

	k1 := FromObject(g.InternString("a"))
	k2 := FromObject(g.InternString("b"))

	tab.Set(g, k1, Int(1))
	tab.Set(g, k2, Int(2))

	if v, ok := tab.Get(k1); !ok || v.AsInt() != 1 {
		t.Fatalf("Get(a) = %v, %v, want 1, true", v, ok)
	}
	if tab.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tab.Len())
	}

	if !tab.Delete(k1) {
		t.Fatal("Delete(a) = false, want true")
	}
	if _, ok := tab.Get(k1); ok {
		t.Fatal("Get(a) found a value after Delete")
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() after delete = %d, want 1", tab.Len())
	}
	// the second key must still resolve correctly once the probe chain has a
	// tombstone in it
	if v, ok := tab.Get(k2); !ok || v.AsInt() != 2 {
		t.Fatalf("Get(b) after deleting a = %v, %v, want 2, true", v, ok)
	}
}

func TestTableRehashPreservesEntries(t *testing.T) {
	g := NewGlobalState()
	tab := NewTable(g, 0)
	const n = 64
	for i := 0; i < n; i++ {
		tab.Set(g, Int(int64(i)), Int(int64(i*i)))
	}
	if tab.Len() != n {
		t.Fatalf("Len() = %d, want %d", tab.Len(), n)
	}
	for i := 0; i < n; i++ {
		v, ok := tab.Get(Int(int64(i)))
		if !ok || v.AsInt() != int64(i*i) {
			t.Fatalf("Get(%d) = %v, %v, want %d, true", i, v, ok, i*i)
		}
	}
}

func TestTableNextVisitsEveryLiveEntryOnce(t *testing.T) {
	g := NewGlobalState()
	tab := NewTable(g, 0)
	want := map[int64]bool{1: false, 2: false, 3: false}
	for k := range want {
		tab.Set(g, Int(k), Bool(true))
	}
	seen := map[int64]int{}
	k, _, ok := tab.Next(Nil)
	for ok {
		seen[k.AsInt()]++
		k, _, ok = tab.Next(k)
	}
	if len(seen) != len(want) {
		t.Fatalf("Next walked %d distinct keys, want %d", len(seen), len(want))
	}
	for key, count := range seen {
		if count != 1 {
			t.Errorf("key %d visited %d times, want 1", key, count)
		}
	}
}

func TestArrayGetSetPushPop(t *testing.T) {
	g := NewGlobalState()
	a := NewArray(g, 0)
	a.Push(g, Int(10))
	a.Push(g, Int(20))
	a.Push(g, Int(30))
	if a.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", a.Len())
	}
	if v, ok := a.Get(1); !ok || v.AsInt() != 20 {
		t.Fatalf("Get(1) = %v, %v, want 20, true", v, ok)
	}
	if !a.Set(g, 1, Int(99)) {
		t.Fatal("Set(1, 99) = false")
	}
	if v, _ := a.Get(1); v.AsInt() != 99 {
		t.Fatalf("Get(1) after Set = %v, want 99", v)
	}
	if _, ok := a.Get(3); ok {
		t.Fatal("Get(3) on a 3-element array should fail")
	}
	v, ok := a.Pop()
	if !ok || v.AsInt() != 30 {
		t.Fatalf("Pop() = %v, %v, want 30, true", v, ok)
	}
	if a.Len() != 2 {
		t.Fatalf("Len() after Pop = %d, want 2", a.Len())
	}
}

func TestStringInterningIsByValue(t *testing.T) {
	g := NewGlobalState()
	a := g.InternString("hello")
	b := g.InternString("hello")
	c := g.InternString("world")
	if a != b {
		t.Error("two interned calls with the same bytes returned different *String")
	}
	if a == c {
		t.Error("distinct byte sequences interned to the same *String")
	}
	if a.Len() != 5 {
		t.Errorf("Len() = %d, want 5", a.Len())
	}
}

func TestRawEqualNumericCrossKind(t *testing.T) {
	if !RawEqual(Int(3), Float(3.0)) {
		t.Error("RawEqual(Int(3), Float(3.0)) = false, want true")
	}
	if RawEqual(Int(3), Float(3.5)) {
		t.Error("RawEqual(Int(3), Float(3.5)) = true, want false")
	}
	if RawEqual(Nil, Bool(false)) {
		t.Error("nil must not equal false under RawEqual")
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Nil, false},
		{Bool(false), false},
		{Bool(true), true},
		{Int(0), true}, // unlike some scripting languages, 0 is truthy (§4.1: only nil/false are false)
		{Float(0), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("Truthy(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestGCCollectRoundTripLeavesReachableBytesUnchanged(t *testing.T) {
	g := NewGlobalState()
	g.Stop() // keep collection fully manual via Collect(), not background maybeStep
	tab := NewTable(g, 0)
	g.Globals().Set(g, FromObject(g.InternString("root")), FromObject(tab))
	tab.Set(g, Int(1), FromObject(g.InternString("kept")))

	g.Collect()
	before := g.TotalBytes()
	g.Collect()
	after := g.TotalBytes()
	if before != after {
		t.Errorf("running the collector to completion twice with no root changes: bytes %d then %d", before, after)
	}
	if v, ok := tab.Get(Int(1)); !ok || v.AsString().String() != "kept" {
		t.Fatal("reachable entry did not survive collection")
	}
}

func TestGCCollectsUnreachableObjects(t *testing.T) {
	g := NewGlobalState()
	g.Stop() // keep collection fully manual via Collect(), not background maybeStep
	// Allocate a table reachable from nothing once this function returns the
	// Go-level reference; the collector should free its bytes back.
	discarded := NewTable(g, 0)
	discarded.Set(g, Int(1), Int(2))
	beforeBytes := g.TotalBytes()
	g.Collect()
	afterFirstCollect := g.TotalBytes()
	if afterFirstCollect >= beforeBytes {
		t.Errorf("expected total bytes to drop after collecting an unreachable table: before=%d after=%d", beforeBytes, afterFirstCollect)
	}
}
