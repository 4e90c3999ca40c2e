package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/eq"
)

// Lexicon is the optional YAML overlay that extends the built-in
// detection vocabularies per deployment. Overlay entries only ever add
// patterns; the built-ins cannot be disabled from here.
//
// Example:
//
//	crisis:
//	  self_harm:
//	    - '(?i)\bunalive\b'
//	pii:
//	  custom:
//	    "Acme Clinic": "[FACILITY]"
//	bias:
//	  - domain: cultural
//	    weight: 0.8
//	    patterns:
//	      - '(?i)\bthose\s+people\b'
type Lexicon struct {
	Crisis map[string][]string `yaml:"crisis"`
	PII    struct {
		Custom map[string]string `yaml:"custom"`
	} `yaml:"pii"`
	Bias []BiasEntry `yaml:"bias"`
}

// BiasEntry is one overlay bias indicator group.
type BiasEntry struct {
	Domain   string   `yaml:"domain"`
	Weight   float64  `yaml:"weight"`
	Patterns []string `yaml:"patterns"`
}

// LoadLexicon reads and parses a YAML lexicon overlay.
func LoadLexicon(path string) (*Lexicon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	var lex Lexicon
	if err := yaml.Unmarshal(raw, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return &lex, nil
}

// CrisisOptions converts the overlay's crisis section into detector
// options. Unknown category names are ignored with a warning inside
// the detector; malformed patterns are skipped there too.
func (l *Lexicon) CrisisOptions() []crisis.Option {
	if l == nil || len(l.Crisis) == 0 {
		return nil
	}
	var opts []crisis.Option
	for _, cat := range crisis.Categories() {
		if exprs := l.Crisis[string(cat)]; len(exprs) > 0 {
			opts = append(opts, crisis.WithExtraPatterns(cat, exprs...))
		}
	}
	return opts
}

// BiasOptions converts the overlay's bias section into validator
// options.
func (l *Lexicon) BiasOptions() []eq.Option {
	if l == nil || len(l.Bias) == 0 {
		return nil
	}
	var opts []eq.Option
	for _, entry := range l.Bias {
		if entry.Domain == "" || len(entry.Patterns) == 0 {
			continue
		}
		opts = append(opts, eq.WithExtraIndicators(entry.Domain, entry.Weight, entry.Patterns...))
	}
	return opts
}

// CustomRedactions returns the overlay's literal replacement map, nil
// when there is none.
func (l *Lexicon) CustomRedactions() map[string]string {
	if l == nil || len(l.PII.Custom) == 0 {
		return nil
	}
	return l.PII.Custom
}
