package textnorm

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "hello world", "hello world"},
		{"whitespace collapse", "  hello \t\n world  ", "hello world"},
		{"zero width removed", "he​llo", "hello"},
		{"bidi override removed", "abc‮def", "abcdef"},
		{"fullwidth folded", "ｈｅｌｌｏ", "hello"},
		{"invalid utf8 dropped", "ok\xffok", "okok"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	in := "I​ had a ｇｏｏｄ day\n today"
	first := Normalize(in)
	for i := 0; i < 5; i++ {
		if got := Normalize(in); got != first {
			t.Fatalf("Normalize not deterministic: %q vs %q", got, first)
		}
	}
}

func TestSnippet(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"

	got := Snippet(text, 10, 15, 4)
	if !strings.Contains(got, "brown") {
		t.Errorf("snippet should contain the span, got %q", got)
	}
	if len(got) > 5+8 {
		t.Errorf("snippet exceeds radius bound: %q", got)
	}

	// Clamping at the edges.
	if got := Snippet(text, 0, 3, 100); got != text {
		t.Errorf("full-radius snippet should return whole text, got %q", got)
	}
	if got := Snippet(text, -1, 3, 5); got != "" {
		t.Errorf("negative start should return empty, got %q", got)
	}
	if got := Snippet("", 0, 0, 5); got != "" {
		t.Errorf("empty text should return empty, got %q", got)
	}
}

func TestSnippetSpanPastEnd(t *testing.T) {
	// Spans beyond the text must clamp, never panic.
	if got := Snippet("ab", 10, 12, 0); got != "" {
		t.Errorf("span past end = %q, want empty", got)
	}
	if got := Snippet("ab", 1, 50, 0); got != "b" {
		t.Errorf("end past text = %q, want %q", got, "b")
	}
	if got := Snippet("ab", 5, 9, 3); got != "ab" {
		t.Errorf("radius from clamped span = %q, want %q", got, "ab")
	}
}

func TestSnippetRuneBoundaries(t *testing.T) {
	text := "héllo wörld, this contains multibyte runes"
	// Offsets deliberately land inside multibyte sequences.
	for start := 0; start < len(text); start++ {
		s := Snippet(text, start, start+3, 2)
		if !strings.Contains(text, s) && s != "" {
			t.Fatalf("snippet %q is not a substring of input", s)
		}
	}
}
