package templating

import (
	"errors"
	"testing"
)

// lexAll drains the lexer, failing the test on a lex error.
func lexAll(t *testing.T, src string) []token {
	t.Helper()
	l := newLexer(src)
	var toks []token
	for {
		tok, ok, err := l.next()
		if err != nil {
			t.Fatalf("lex(%q) failed: %v", src, err)
		}
		if !ok {
			return toks
		}
		toks = append(toks, tok)
	}
}

func TestLexLiteralOnly(t *testing.T) {
	toks := lexAll(t, "Hello, world!")
	if len(toks) != 1 {
		t.Fatalf("expected 1 token, got %d", len(toks))
	}
	if toks[0].kind != tokenText || toks[0].text != "Hello, world!" {
		t.Errorf("unexpected token %+v", toks[0])
	}
}

func TestLexValueTag(t *testing.T) {
	toks := lexAll(t, "Hello, {{ name }}!")
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(toks))
	}
	if toks[0].kind != tokenText || toks[0].text != "Hello, " {
		t.Errorf("unexpected first token %+v", toks[0])
	}
	if toks[1].kind != tokenValue || toks[1].text != "name" {
		t.Errorf("unexpected value token %+v", toks[1])
	}
	if toks[2].kind != tokenText || toks[2].text != "!" {
		t.Errorf("unexpected last token %+v", toks[2])
	}
}

func TestLexKeywordClassification(t *testing.T) {
	tests := []struct {
		src  string
		kind tokenKind
		body string
	}{
		{"{{ if flag }}", tokenIf, "flag"},
		{"{{ else }}", tokenElse, ""},
		{"{{ endif }}", tokenEndIf, ""},
		{"{{ for x in items }}", tokenFor, "x in items"},
		{"{{ endfor }}", tokenEndFor, ""},
		{"{{ with user as u }}", tokenWith, "user as u"},
		{"{{ endwith }}", tokenEndWith, ""},
		{"{{ iffy }}", tokenValue, "iffy"},
		{"{{ forecast.today }}", tokenValue, "forecast.today"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			toks := lexAll(t, tt.src)
			if len(toks) != 1 {
				t.Fatalf("expected 1 token, got %d", len(toks))
			}
			if toks[0].kind != tt.kind {
				t.Errorf("kind = %v, want %v", toks[0].kind, tt.kind)
			}
			if toks[0].text != tt.body {
				t.Errorf("body = %q, want %q", toks[0].text, tt.body)
			}
		})
	}
}

func TestLexRawSection(t *testing.T) {
	toks := lexAll(t, "a{= {{ not a tag }} =}b")
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(toks))
	}
	if toks[1].kind != tokenRaw || toks[1].text != " {{ not a tag }} " {
		t.Errorf("unexpected raw token %+v", toks[1])
	}
}

func TestLexLoneBraceIsText(t *testing.T) {
	toks := lexAll(t, "a { b } c {d}")
	if len(toks) != 1 {
		t.Fatalf("expected 1 token, got %d", len(toks))
	}
	if toks[0].text != "a { b } c {d}" {
		t.Errorf("unexpected text %q", toks[0].text)
	}
}

func TestLexStripMarkers(t *testing.T) {
	toks := lexAll(t, "a {{- name -}} b")
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(toks))
	}
	tok := toks[1]
	if !tok.stripBefore || !tok.stripAfter {
		t.Errorf("strip markers not detected: %+v", tok)
	}
	if tok.kind != tokenValue || tok.text != "name" {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestLexUnterminatedTag(t *testing.T) {
	tests := []struct {
		src    string
		offset int
	}{
		{"{{", 0},
		{"{{ foo.bar", 0},
		{"hello {{ foo", 6},
		{"{= raw", 0},
		{"text {= raw =", 5},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			l := newLexer(tt.src)
			for {
				_, ok, err := l.next()
				if err != nil {
					var lexErr *LexError
					if !errors.As(err, &lexErr) {
						t.Fatalf("expected a *LexError, got %T", err)
					}
					if lexErr.Offset != tt.offset {
						t.Errorf("offset = %d, want %d", lexErr.Offset, tt.offset)
					}
					return
				}
				if !ok {
					t.Fatal("expected a lex error, got clean end of input")
				}
			}
		})
	}
}

// TestLexRoundTrip checks that literal spans cover markup-free input
// exactly once with no gaps.
func TestLexRoundTrip(t *testing.T) {
	srcs := []string{
		"",
		"plain text with no markup at all",
		"line one\nline two\n\ttabbed",
		"a { b } c",
	}
	for _, src := range srcs {
		var got string
		for _, tok := range lexAll(t, src) {
			if tok.kind != tokenText {
				t.Fatalf("markup-free input produced token kind %v", tok.kind)
			}
			got += tok.text
		}
		if got != src {
			t.Errorf("round trip of %q produced %q", src, got)
		}
	}
}

func TestLexOffsets(t *testing.T) {
	src := "ab{{ name }}cd"
	toks := lexAll(t, src)
	if len(toks) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(toks))
	}
	if toks[0].offset != 0 || toks[1].offset != 2 || toks[2].offset != 12 {
		t.Errorf("unexpected offsets: %d, %d, %d", toks[0].offset, toks[1].offset, toks[2].offset)
	}
	if toks[1].bodyOffset != 5 {
		t.Errorf("bodyOffset = %d, want 5", toks[1].bodyOffset)
	}
}
