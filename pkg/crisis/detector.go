package crisis

import (
	"regexp"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/textnorm"
)

// Thresholds holds the tunable scoring parameters of the detector.
// The zero value is unusable; use DefaultThresholds and override.
type Thresholds struct {
	BaseSeverity     float64 `yaml:"base_severity"`
	SpecificityBoost float64 `yaml:"specificity_boost"`
	MeansBoost       float64 `yaml:"means_boost"`
	ImmediacyBoost   float64 `yaml:"immediacy_boost"`

	// Risk derivation cut-offs over max signal severity.
	ImminentSeverity float64 `yaml:"imminent_severity"` // > this => imminent
	HighSeverity     float64 `yaml:"high_severity"`     // > this => high
	ModerateSeverity float64 `yaml:"moderate_severity"` // > this => moderate
	LowSeverity      float64 `yaml:"low_severity"`      // > this => low
	// HighSignalCount: more than this many signals => high regardless
	// of individual severity.
	HighSignalCount int `yaml:"high_signal_count"`

	// Confidence: base for one signal, increment per additional
	// signal, capped. Zero signals always reports 1.0 (certain of
	// "no crisis").
	ConfidenceBase float64 `yaml:"confidence_base"`
	ConfidenceStep float64 `yaml:"confidence_step"`
	ConfidenceCap  float64 `yaml:"confidence_cap"`

	// SnippetRadius bounds the context window attached to signals.
	SnippetRadius int `yaml:"snippet_radius"`
}

// DefaultThresholds returns the documented default parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BaseSeverity:     defaultBaseSeverity,
		SpecificityBoost: defaultSpecificityBoost,
		MeansBoost:       defaultMeansBoost,
		ImmediacyBoost:   defaultImmediacyBoost,
		ImminentSeverity: 0.9,
		HighSeverity:     0.7,
		ModerateSeverity: 0.4,
		LowSeverity:      0.2,
		HighSignalCount:  2,
		ConfidenceBase:   0.7,
		ConfidenceStep:   0.1,
		ConfidenceCap:    0.95,
		SnippetRadius:    40,
	}
}

// Detector runs category pattern matching over a turn and derives the
// risk assessment. Construction compiles nothing at call time; all
// built-in patterns are package-level and shared.
type Detector struct {
	thresholds Thresholds
	patterns   map[Category][]*regexp.Regexp
}

// Option configures a Detector.
type Option func(*Detector)

// WithThresholds overrides the default scoring parameters.
func WithThresholds(t Thresholds) Option {
	return func(d *Detector) { d.thresholds = t }
}

// WithExtraPatterns appends lexicon-overlay patterns to a category.
// Extra patterns are tested after the built-ins, in the given order.
func WithExtraPatterns(cat Category, exprs ...string) Option {
	return func(d *Detector) {
		for _, expr := range exprs {
			re, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				continue // a bad overlay entry never disables detection
			}
			d.patterns[cat] = append(d.patterns[cat], re)
		}
	}
}

// NewDetector builds a Detector with the default pattern set.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		thresholds: DefaultThresholds(),
		patterns:   make(map[Category][]*regexp.Regexp, len(defaultPatterns)),
	}
	for cat, pats := range defaultPatterns {
		d.patterns[cat] = append([]*regexp.Regexp(nil), pats...)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect analyzes one turn of text and returns the per-turn assessment.
// It is a total, deterministic function of (text, thresholds, patterns):
// unmatched text yields RiskMinimal with no signals and confidence 1.0,
// and Detect never fails regardless of input.
func (d *Detector) Detect(text string) Assessment {
	text = textnorm.Normalize(text)
	t := d.thresholds

	// Marker boosts are computed once per turn and apply to every
	// signal in it: "tonight" changes what any indicator means.
	boost := 0.0
	if text != "" {
		if specificityMarkers.MatchString(text) {
			boost += t.SpecificityBoost
		}
		if meansMarkers.MatchString(text) {
			boost += t.MeansBoost
		}
		if immediacyMarkers.MatchString(text) {
			boost += t.ImmediacyBoost
		}
	}

	var signals []Signal
	for _, cat := range Categories() {
		for _, re := range d.patterns[cat] {
			for _, span := range re.FindAllStringIndex(text, -1) {
				sev := t.BaseSeverity + boost
				if sev > 1.0 {
					sev = 1.0
				}
				signals = append(signals, Signal{
					Category:       cat,
					Severity:       sev,
					MatchedSpan:    text[span[0]:span[1]],
					Start:          span[0],
					End:            span[1],
					ContextSnippet: textnorm.Snippet(text, span[0], span[1], t.SnippetRadius),
					Source:         "heuristic",
				})
			}
		}
	}

	return d.assess(signals)
}

// assess derives the risk level, confidence and protocol from a signal
// set. Exposed through Merge so an optional advisory layer (semantic
// similarity) can add signals and re-derive without ever lowering risk.
func (d *Detector) assess(signals []Signal) Assessment {
	t := d.thresholds

	maxSev := 0.0
	for _, s := range signals {
		if s.Severity > maxSev {
			maxSev = s.Severity
		}
	}

	var level RiskLevel
	switch {
	case maxSev > t.ImminentSeverity:
		level = RiskImminent
	case maxSev > t.HighSeverity || len(signals) > t.HighSignalCount:
		level = RiskHigh
	case maxSev > t.ModerateSeverity || len(signals) > 0:
		level = RiskModerate
	case maxSev > t.LowSeverity:
		level = RiskLow
	default:
		level = RiskMinimal
	}

	confidence := 1.0 // zero signals: certain of "no crisis"
	if len(signals) > 0 {
		confidence = t.ConfidenceBase + t.ConfidenceStep*float64(len(signals)-1)
		if confidence > t.ConfidenceCap {
			confidence = t.ConfidenceCap
		}
	}

	return Assessment{
		RiskLevel:       level,
		Confidence:      confidence,
		Signals:         signals,
		ActionRequired:  level >= RiskModerate,
		EscalationSteps: StepsFor(level),
	}
}

// Merge folds additional advisory signals into an assessment and
// re-derives the decision. Risk is monotonic: the merged level is never
// below the original, so an advisory layer can only raise concern.
func (d *Detector) Merge(a Assessment, extra ...Signal) Assessment {
	if len(extra) == 0 {
		return a
	}
	merged := d.assess(append(append([]Signal(nil), a.Signals...), extra...))
	if merged.RiskLevel < a.RiskLevel {
		merged.RiskLevel = a.RiskLevel
		merged.ActionRequired = a.ActionRequired
		merged.EscalationSteps = StepsFor(a.RiskLevel)
	}
	merged.ManualReviewRequired = a.ManualReviewRequired
	return merged
}

// Degraded returns the assessment recorded when a detector could not
// complete for a turn: unknown confidence, flagged for manual review,
// so the turn is preserved in history instead of being dropped.
func (d *Detector) Degraded() Assessment {
	return Assessment{
		RiskLevel:            RiskMinimal,
		Confidence:           0,
		ActionRequired:       false,
		ManualReviewRequired: true,
	}
}
