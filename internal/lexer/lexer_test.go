package lexer

import (
	"testing"

	"github.com/b-jure/Cript/internal/core"
)

func scanAll(t *testing.T, src string) []Token {
	t.Helper()
	g := core.NewGlobalState()
	l := New(g, src)
	var toks []Token
	for {
		tok := l.Next()
		if tok.Kind == TokError {
			t.Fatalf("scanning %q: %s", src, tok.Lexeme)
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			break
		}
	}
	return toks
}

func kinds(toks []Token) []TokenKind {
	ks := make([]TokenKind, len(toks))
	for i, tok := range toks {
		ks[i] = tok.Kind
	}
	return ks
}

func assertKinds(t *testing.T, src string, want ...TokenKind) {
	t.Helper()
	want = append(want, TokEOF)
	got := kinds(scanAll(t, src))
	if len(got) != len(want) {
		t.Fatalf("%q: got %d tokens %v, want %d %v", src, len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%q: token %d = %v, want %v", src, i, got[i], want[i])
		}
	}
}

func TestPunctuationAndOperators(t *testing.T) {
	cases := []struct {
		src  string
		want []TokenKind
	}{
		{"( ) { } [ ]", []TokenKind{TokLParen, TokRParen, TokLBrace, TokRBrace, TokLBracket, TokRBracket}},
		{", . ... ; : ::", []TokenKind{TokComma, TokDot, TokDotDotDot, TokSemicolon, TokColon, TokColonColon}},
		{"+ - * / // %", []TokenKind{TokPlus, TokMinus, TokStar, TokSlash, TokSlashSlash, TokPercent}},
		{"^ & | ~ << >>", []TokenKind{TokCaret, TokAmp, TokPipe, TokTilde, TokLtLt, TokGtGt}},
		{".. #", []TokenKind{TokConcat, TokHash}},
		{"= == ~= < <= > >=", []TokenKind{TokAssign, TokEq, TokNe, TokLt, TokLe, TokGt, TokGe}},
	}
	for _, c := range cases {
		assertKinds(t, c.src, c.want...)
	}
}

// The length operator `#` must be recognized everywhere in the token stream,
// including byte offset 0 (skipTrivia's shebang-line check only swallows a
// leading "#!").
func TestHashIsLengthOperatorNotShebang(t *testing.T) {
	assertKinds(t, "#arr", TokHash, TokIdent)
	assertKinds(t, "x = #arr;", TokIdent, TokAssign, TokHash, TokIdent, TokSemicolon)
}

func TestShebangLineSkippedOnlyAtStart(t *testing.T) {
	// A "#!" line is swallowed as a shebang only when it starts at the very
	// first byte of the source.
	toks := scanAll(t, "#!/usr/bin/cript\nvar x = 1;")
	if toks[0].Kind != TokVar {
		t.Fatalf("expected shebang line to be skipped, first token = %v", toks[0].Kind)
	}
}

func TestKeywords(t *testing.T) {
	assertKinds(t, "and or not nil true false", TokAnd, TokOr, TokNot, TokNil, TokTrue, TokFalse)
	assertKinds(t, "if else while for in", TokIf, TokElse, TokWhile, TokFor, TokIn)
	assertKinds(t, "fn return class super self", TokFun, TokReturn, TokClass, TokSuper, TokSelf)
	assertKinds(t, "local break continue static fixed const",
		TokVar, TokBreak, TokContinue, TokStatic, TokConst, TokConst)
}

func TestIntegerAndFloatLiterals(t *testing.T) {
	g := core.NewGlobalState()
	cases := []struct {
		src     string
		isFloat bool
		ival    int64
		fval    float64
	}{
		{"0", false, 0, 0},
		{"42", false, 42, 0},
		{"0x2A", false, 42, 0},
		{"3.14", true, 0, 3.14},
		{"1e3", true, 0, 1000},
		{"2.5e-1", true, 0, 0.25},
	}
	for _, c := range cases {
		l := New(g, c.src)
		tok := l.Next()
		if c.isFloat {
			if tok.Kind != TokFloat {
				t.Errorf("%q: kind = %v, want TokFloat", c.src, tok.Kind)
				continue
			}
			if tok.Float != c.fval {
				t.Errorf("%q: float = %v, want %v", c.src, tok.Float, c.fval)
			}
		} else {
			if tok.Kind != TokInt {
				t.Errorf("%q: kind = %v, want TokInt", c.src, tok.Kind)
				continue
			}
			if tok.Int != c.ival {
				t.Errorf("%q: int = %v, want %v", c.src, tok.Int, c.ival)
			}
		}
	}
}

func TestStringEscapes(t *testing.T) {
	g := core.NewGlobalState()
	cases := []struct {
		src  string
		want string
	}{
		{`"hello"`, "hello"},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`'single'`, "single"},
		{`"quote\"inside"`, `quote"inside`},
		{`"\x41\x42"`, "AB"},
	}
	for _, c := range cases {
		l := New(g, c.src)
		tok := l.Next()
		if tok.Kind != TokString {
			t.Fatalf("%q: kind = %v, want TokString (%s)", c.src, tok.Kind, tok.Lexeme)
		}
		if tok.Str.String() != c.want {
			t.Errorf("%q: decoded %q, want %q", c.src, tok.Str.String(), c.want)
		}
	}
}

func TestUnterminatedStringIsError(t *testing.T) {
	g := core.NewGlobalState()
	l := New(g, `"no closing quote`)
	tok := l.Next()
	if tok.Kind != TokError {
		t.Fatalf("kind = %v, want TokError", tok.Kind)
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	assertKinds(t, "1 // trailing comment\n+ 2", TokInt, TokPlus, TokInt)
	assertKinds(t, "1 /* block\ncomment */ + 2", TokInt, TokPlus, TokInt)
}

func TestIdentifiersAreInterned(t *testing.T) {
	g := core.NewGlobalState()
	l := New(g, "foo foo bar")
	a := l.Next()
	b := l.Next()
	c := l.Next()
	if a.Str != b.Str {
		t.Errorf("two occurrences of the same identifier did not intern to the same *core.String")
	}
	if a.Str == c.Str {
		t.Errorf("distinct identifiers interned to the same *core.String")
	}
}

func TestLineTracking(t *testing.T) {
	g := core.NewGlobalState()
	l := New(g, "1\n2\n\n3")
	var lines []int
	for {
		tok := l.Next()
		if tok.Kind == TokEOF {
			break
		}
		lines = append(lines, tok.Line)
	}
	want := []int{1, 2, 4}
	if len(lines) != len(want) {
		t.Fatalf("got lines %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("token %d on line %d, want %d", i, lines[i], want[i])
		}
	}
}
