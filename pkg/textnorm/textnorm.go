// Package textnorm prepares raw utterance text for the downstream
// detectors. Normalization is lossy on purpose: compatibility folding
// collapses homoglyph tricks and invisible characters so that pattern
// matching sees the text a human reader sees.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// cleaner folds to NFKC and strips format characters (zero-width
// joiners, bidi overrides, soft hyphens). Compiled once at init.
var cleaner = transform.Chain(
	norm.NFKC,
	runes.Remove(runes.In(unicode.Cf)),
)

// Normalize returns a canonical form of text for detector input:
// NFKC-folded, invisible characters removed, whitespace runs collapsed
// to single spaces, leading/trailing whitespace trimmed.
// Total function: malformed input is returned best-effort, never an error.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	out, _, err := transform.String(cleaner, text)
	if err != nil {
		out = text
	}
	return strings.Join(strings.Fields(out), " ")
}

// Snippet returns a bounded context window around the [start, end) byte
// span of text, expanded by radius bytes on each side and clamped to
// the text and to rune boundaries. Total function: out-of-range spans
// yield a truncated or empty snippet, never a panic.
// Used to attach explainable context to detector
// signals without ever exporting the full turn.
func Snippet(text string, start, end, radius int) string {
	if text == "" || start < 0 || end < start {
		return ""
	}
	if start > len(text) {
		start = len(text)
	}
	if end > len(text) {
		end = len(text)
	}
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	// Back off to rune boundaries so the snippet is always valid UTF-8.
	for lo > 0 && lo < len(text) && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return text[lo:hi]
}
