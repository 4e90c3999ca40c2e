// Package redact masks personally identifying information in turn text
// before it is logged, stored, or forwarded. All patterns are compiled
// once at package init and organized by category so callers can scan
// for exactly the categories their compliance posture requires.
package redact

import (
	"regexp"
	"sort"
	"strings"
)

// Category identifies one class of sensitive content.
type Category string

const (
	CategoryNames     Category = "names"
	CategoryEmails    Category = "emails"
	CategoryPhones    Category = "phones"
	CategoryAddresses Category = "addresses"
	CategorySSN       Category = "ssn"
	CategoryDates     Category = "dates"
	CategoryFinancial Category = "financial"
)

// MaskType selects the replacement style.
type MaskType string

const (
	// MaskPlaceholder replaces matches with a category token, e.g. [EMAIL].
	MaskPlaceholder MaskType = "placeholder"
	// MaskRedacted replaces every match with the generic [REDACTED] token.
	MaskRedacted MaskType = "redacted"
)

// GenericMask is the replacement used under MaskRedacted.
const GenericMask = "[REDACTED]"

// pattern pairs a compiled regex with its category placeholder.
type pattern struct {
	re          *regexp.Regexp
	placeholder string
}

// categoryPatterns holds the ordered matcher list per category.
// Order matters within a category: more specific forms first, so the
// honorific name pattern consumes "Dr. John Smith" before the bare
// first-last pattern sees the remainder.
//
// None of these patterns can match an already-applied placeholder
// ([NAME], [EMAIL], ...): placeholders are bracketed upper-case tokens
// and every pattern below requires digits or lower-case letters. That
// is what makes Redact idempotent.
var categoryPatterns = map[Category][]pattern{
	CategoryNames: {
		{regexp.MustCompile(`\b(?:Dr|Mr|Mrs|Ms|Mx|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*`), "[NAME]"},
		{regexp.MustCompile(`\b[A-Z][a-z]{1,20}\s+[A-Z][a-z]{1,20}\b`), "[NAME]"},
	},
	CategoryEmails: {
		{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	},
	CategoryPhones: {
		{regexp.MustCompile(`\b(?:\+?1[-.\s]?)?(?:\(\d{3}\)\s?|\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`), "[PHONE]"},
		{regexp.MustCompile(`\b\d{10}\b`), "[PHONE]"},
	},
	CategoryAddresses: {
		{regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][a-z]+\s+)+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Place|Pl|Way)\b\.?`), "[ADDRESS]"},
		{regexp.MustCompile(`\b[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`), "[ADDRESS]"},
	},
	CategorySSN: {
		{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	},
	CategoryDates: {
		{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "[DATE]"},
		{regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`), "[DATE]"},
		{regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b`), "[DATE]"},
	},
	CategoryFinancial: {
		{regexp.MustCompile(`\b(?:\d{4}[- ]){3}\d{4}\b`), "[FINANCIAL]"},
		{regexp.MustCompile(`\b(?i:account|acct|routing)\.?\s*#?\s*\d{6,}\b`), "[FINANCIAL]"},
	},
}

// applyOrder fixes the category application sequence. Categories are
// matched independently; when masks overlap, the later category's
// replacement wins.
var applyOrder = []Category{
	CategoryEmails,
	CategoryPhones,
	CategorySSN,
	CategoryFinancial,
	CategoryDates,
	CategoryAddresses,
	CategoryNames,
}

// DefaultCategories are the categories active when Options does not
// specify any.
func DefaultCategories() []Category {
	return []Category{CategoryNames, CategoryEmails, CategoryPhones, CategorySSN}
}

// AllCategories returns every supported category in application order.
func AllCategories() []Category {
	out := make([]Category, len(applyOrder))
	copy(out, applyOrder)
	return out
}

// Options configures a redaction pass.
type Options struct {
	// Categories to scan. Empty means DefaultCategories.
	Categories []Category
	// Mask selects placeholder vs generic replacement. Empty means placeholder.
	Mask MaskType
	// Custom maps literal strings to their replacements. Custom
	// replacements are applied before any category pattern, in
	// deterministic (sorted) key order.
	Custom map[string]string
}

// Finding records one detected sensitive span. Start and End are byte
// offsets into the text as originally passed to Redact. The matched
// text itself is deliberately not retained.
type Finding struct {
	Category    Category `json:"category"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Replacement string   `json:"replacement"`
}

// Result is the outcome of a redaction pass.
type Result struct {
	Redacted string    `json:"redacted"`
	Findings []Finding `json:"findings,omitempty"`
}

// Summary is the non-mutating scan report used for audit and metrics.
type Summary struct {
	Found      bool       `json:"found"`
	Categories []Category `json:"categories,omitempty"`
	Count      int        `json:"count"`
}

// Redact masks every match of the active categories in text.
// It is a pure function of (text, opts): no I/O, no randomness, and it
// never fails: empty input comes back unchanged with no findings.
func Redact(text string, opts Options) Result {
	if text == "" {
		return Result{}
	}

	active := activeSet(opts.Categories)
	out := text

	// Custom literal replacements run first, sorted for determinism.
	if len(opts.Custom) > 0 {
		keys := make([]string, 0, len(opts.Custom))
		for k := range opts.Custom {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k != "" {
				out = strings.ReplaceAll(out, k, opts.Custom[k])
			}
		}
	}

	var findings []Finding
	for _, cat := range applyOrder {
		if !active[cat] {
			continue
		}
		for _, p := range categoryPatterns[cat] {
			repl := p.placeholder
			if opts.Mask == MaskRedacted {
				repl = GenericMask
			}
			// Findings are located against the caller's original text;
			// the rewrite runs against the working copy so earlier
			// masks are honored (last applied wins on overlap).
			for _, span := range p.re.FindAllStringIndex(text, -1) {
				findings = append(findings, Finding{
					Category:    cat,
					Start:       span[0],
					End:         span[1],
					Replacement: repl,
				})
			}
			out = p.re.ReplaceAllString(out, repl)
		}
	}

	return Result{Redacted: out, Findings: findings}
}

// Scan reports whether text contains PII across all supported
// categories without rewriting anything.
func Scan(text string) Summary {
	var s Summary
	if text == "" {
		return s
	}
	for _, cat := range applyOrder {
		n := 0
		for _, p := range categoryPatterns[cat] {
			n += len(p.re.FindAllStringIndex(text, -1))
		}
		if n > 0 {
			s.Found = true
			s.Categories = append(s.Categories, cat)
			s.Count += n
		}
	}
	return s
}

// CategoryCounts returns the per-category match count for text.
// Used to build sanitized audit records (counts survive, spans do not).
func CategoryCounts(text string) map[Category]int {
	counts := make(map[Category]int)
	if text == "" {
		return counts
	}
	for cat, pats := range categoryPatterns {
		n := 0
		for _, p := range pats {
			n += len(p.re.FindAllStringIndex(text, -1))
		}
		if n > 0 {
			counts[cat] = n
		}
	}
	return counts
}

func activeSet(cats []Category) map[Category]bool {
	if len(cats) == 0 {
		cats = DefaultCategories()
	}
	set := make(map[Category]bool, len(cats))
	for _, c := range cats {
		set[c] = true
	}
	return set
}
