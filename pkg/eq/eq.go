// Package eq scores emotional-intelligence dimensions of generated
// responses and flags demographically biased or stereotyped content.
//
// Everything here is deterministic lexical scoring: identical
// (turn, context) input always yields identical output, so the pipeline
// stays testable end to end. The feature lexicons are heuristic
// defaults from the product documentation, not clinically validated.
package eq

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Input is the turn under validation.
type Input struct {
	Role      string    // "user", "assistant", "system"
	Text      string    // redacted turn text
	Timestamp time.Time // turn timestamp; flags inherit it
}

// ContextTurn is one prior turn of rolling context.
type ContextTurn struct {
	Role string
	Text string
}

// Context is the session-scoped input to validation: the sliding turn
// window plus any demographics the simulated client has stated.
type Context struct {
	Turns        []ContextTurn
	Demographics map[string]string
}

// Metrics are the five bounded EQ domain scores plus their mean.
type Metrics struct {
	EmotionalAwareness  float64 `json:"emotional_awareness"`
	EmpathyRecognition  float64 `json:"empathy_recognition"`
	EmotionalRegulation float64 `json:"emotional_regulation"`
	SocialCognition     float64 `json:"social_cognition"`
	InterpersonalSkills float64 `json:"interpersonal_skills"`
	Overall             float64 `json:"overall"`
}

// Severity bands for bias flags.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// BiasFlag records a suspected biased or stereotyped response.
type BiasFlag struct {
	Severity            Severity  `json:"severity"`
	Domain              string    `json:"domain"`
	Score               float64   `json:"score"`
	Indicator           string    `json:"indicator"`
	SuggestedCorrection string    `json:"suggested_correction,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// biasIndicator is one stereotype/fairness matcher with its normalized
// contribution and, where one can be stated generically, a correction.
type biasIndicator struct {
	re         *regexp.Regexp
	domain     string
	weight     float64
	correction string
}

var biasIndicators = []biasIndicator{
	{regexp.MustCompile(`(?i)\b(?:women|men|girls|boys)\s+(?:are|can'?t|don'?t|always|never|should)\b`), "gender", 0.85,
		"describe the individual's behavior instead of generalizing by gender"},
	{regexp.MustCompile(`(?i)\bfor\s+a\s+(?:woman|man|girl|boy)\b`), "gender", 0.7,
		"drop the gendered qualifier; the observation stands on its own"},
	{regexp.MustCompile(`(?i)\bpeople\s+like\s+you\b`), "demographic", 0.9,
		"address the person's stated experience, not a presumed group"},
	{regexp.MustCompile(`(?i)\byour\s+kind\b`), "demographic", 0.95, ""},
	{regexp.MustCompile(`(?i)\b(?:all|most|typical)\s+(?:immigrants|foreigners|teenagers|old\s+people|poor\s+people|rich\s+people)\b`), "demographic", 0.85,
		"replace the group generalization with what this client actually reported"},
	{regexp.MustCompile(`(?i)\bat\s+your\s+age\s+you\s+(?:should|can'?t|shouldn'?t)\b`), "age", 0.7,
		"frame the suggestion around the client's goals rather than their age"},
	{regexp.MustCompile(`(?i)\bwhere\s+you\s+come\s+from\b.{0,40}\b(?:normal|usual|expected)\b`), "culture", 0.75, ""},
	{regexp.MustCompile(`(?i)\bhysterical\b`), "gender", 0.6,
		"name the emotion specifically (overwhelmed, panicked) instead of a loaded label"},
	{regexp.MustCompile(`(?i)\bman\s+up\b|\bboys\s+don'?t\s+cry\b`), "gender", 0.9,
		"validate the emotion; avoid prescribing emotional display by gender"},
}

// Domain feature lexicons. Matching is presence-based over the
// normalized, lowercased turn.
var (
	emotionWords = regexp.MustCompile(`(?i)\b(?:sad|sadness|angry|anger|afraid|fear|scared|anxious|anxiety|lonely|ashamed|guilty|hurt|frustrated|overwhelmed|hopeful|relieved|proud|happy|joy|grief|numb)\b`)

	attentiveMarkers = regexp.MustCompile(`(?i)\b(?:i\s+hear\s+you|that\s+sounds|it\s+sounds\s+like|i\s+notice|you\s+mentioned|you\s+said|it\s+seems\s+like)\b`)

	empathyMarkers = regexp.MustCompile(`(?i)\b(?:that\s+must\s+(?:be|have\s+been)|i'?m\s+sorry\s+(?:you|that)|understandable|makes\s+sense\s+that\s+you|anyone\s+in\s+your\s+position|i\s+can\s+see\s+why)\b`)

	regulationMarkers = regexp.MustCompile(`(?i)\b(?:take\s+a\s+(?:breath|moment)|slow\s+down|one\s+step\s+at\s+a\s+time|ground(?:ing)?|let'?s\s+pause|when\s+you'?re\s+ready)\b`)

	perspectiveMarkers = regexp.MustCompile(`(?i)\b(?:from\s+(?:their|his|her)\s+(?:perspective|point\s+of\s+view)|they\s+might\s+(?:feel|think)|how\s+(?:they|others)\s+see|in\s+their\s+shoes)\b`)

	invitationMarkers = regexp.MustCompile(`(?i)\b(?:tell\s+me\s+more|can\s+you\s+say\s+more|what\s+was\s+that\s+like|how\s+did\s+that\s+feel|would\s+you\s+like\s+to)\b`)

	dismissiveMarkers = regexp.MustCompile(`(?i)\b(?:just\s+get\s+over|calm\s+down|it'?s\s+not\s+a\s+big\s+deal|you'?re\s+overreacting|stop\s+being)\b`)
)

// Validator computes EQ metrics and bias flags for a turn.
type Validator struct {
	threshold  float64
	indicators []biasIndicator
}

// Option configures a Validator.
type Option func(*Validator)

// WithThreshold overrides the bias flag threshold (default 0.3).
func WithThreshold(t float64) Option {
	return func(v *Validator) { v.threshold = t }
}

// WithExtraIndicators appends lexicon-overlay bias matchers.
func WithExtraIndicators(domain string, weight float64, exprs ...string) Option {
	return func(v *Validator) {
		for _, expr := range exprs {
			re, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				continue
			}
			v.indicators = append(v.indicators, biasIndicator{re: re, domain: domain, weight: weight})
		}
	}
}

// NewValidator builds a Validator with the default indicator set.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		threshold:  0.3,
		indicators: append([]biasIndicator(nil), biasIndicators...),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate scores the turn against its rolling context. Total and
// deterministic; empty text yields neutral mid-scale metrics and no
// flags.
func (v *Validator) Validate(in Input, ctx Context) (Metrics, []BiasFlag) {
	text := in.Text

	m := Metrics{
		EmotionalAwareness:  scoreAwareness(text, ctx),
		EmpathyRecognition:  scoreEmpathy(text),
		EmotionalRegulation: scoreRegulation(text),
		SocialCognition:     scoreSocialCognition(text, ctx),
		InterpersonalSkills: scoreInterpersonal(text),
	}
	m.Overall = (m.EmotionalAwareness + m.EmpathyRecognition + m.EmotionalRegulation +
		m.SocialCognition + m.InterpersonalSkills) / 5.0

	return m, v.checkBias(text, in.Timestamp)
}

// checkBias cross-references the turn against every indicator. The
// highest-weighted match per domain becomes a flag when it crosses the
// threshold.
func (v *Validator) checkBias(text string, ts time.Time) []BiasFlag {
	if text == "" {
		return nil
	}

	var flags []BiasFlag
	for _, ind := range v.indicators {
		loc := ind.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if ind.weight <= v.threshold {
			continue
		}
		flags = append(flags, BiasFlag{
			Severity:            bandFor(ind.weight),
			Domain:              ind.domain,
			Score:               ind.weight,
			Indicator:           text[loc[0]:loc[1]],
			SuggestedCorrection: ind.correction,
			Timestamp:           ts,
		})
	}
	return flags
}

func bandFor(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// scoreAwareness rewards naming emotions, and consistency with emotions
// already present in the rolling context.
func scoreAwareness(text string, ctx Context) float64 {
	if text == "" {
		return 0.5
	}
	score := 0.4
	own := emotionWords.FindAllString(strings.ToLower(text), -1)
	score += 0.15 * float64(min(len(own), 3))

	// Consistency: acknowledging an emotion the context already named.
	prior := contextEmotions(ctx)
	for _, w := range own {
		if prior[strings.ToLower(w)] {
			score += 0.15
			break
		}
	}
	return clamp(score)
}

func scoreEmpathy(text string) float64 {
	if text == "" {
		return 0.5
	}
	score := 0.4
	if empathyMarkers.MatchString(text) {
		score += 0.35
	}
	if attentiveMarkers.MatchString(text) {
		score += 0.15
	}
	if dismissiveMarkers.MatchString(text) {
		score -= 0.3
	}
	return clamp(score)
}

func scoreRegulation(text string) float64 {
	if text == "" {
		return 0.5
	}
	score := 0.5
	if regulationMarkers.MatchString(text) {
		score += 0.3
	}
	if dismissiveMarkers.MatchString(text) {
		score -= 0.25
	}
	// Shouting register reads as dysregulated.
	if isShouting(text) {
		score -= 0.2
	}
	return clamp(score)
}

func scoreSocialCognition(text string, ctx Context) float64 {
	if text == "" {
		return 0.5
	}
	score := 0.45
	if perspectiveMarkers.MatchString(text) {
		score += 0.3
	}
	// Appropriateness given stated demographics: referencing what the
	// client actually told us, rather than assuming.
	for _, val := range ctx.Demographics {
		if val != "" && strings.Contains(strings.ToLower(text), strings.ToLower(val)) {
			score += 0.1
			break
		}
	}
	return clamp(score)
}

func scoreInterpersonal(text string) float64 {
	if text == "" {
		return 0.5
	}
	score := 0.45
	if invitationMarkers.MatchString(text) {
		score += 0.25
	}
	if strings.Contains(text, "?") {
		score += 0.1
	}
	if dismissiveMarkers.MatchString(text) {
		score -= 0.3
	}
	return clamp(score)
}

func contextEmotions(ctx Context) map[string]bool {
	out := make(map[string]bool)
	for _, turn := range ctx.Turns {
		for _, w := range emotionWords.FindAllString(strings.ToLower(turn.Text), -1) {
			out[strings.ToLower(w)] = true
		}
	}
	return out
}

func isShouting(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			upper++
		}
	}
	return letters >= 12 && float64(upper) > 0.7*float64(letters)
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// String renders a compact one-line summary for log lines.
func (m Metrics) String() string {
	return fmt.Sprintf("eq overall=%.2f aware=%.2f empathy=%.2f regulation=%.2f social=%.2f interpersonal=%.2f",
		m.Overall, m.EmotionalAwareness, m.EmpathyRecognition, m.EmotionalRegulation, m.SocialCognition, m.InterpersonalSkills)
}
