// Package crisis detects crisis indicators (self-harm, violence,
// despair, substance abuse, medical emergency) in conversation turns
// and derives a per-turn risk assessment with an escalation protocol.
//
// The detector is advisory decision support only. Every assessment
// carries its signals with matched spans so a clinician can see exactly
// why a risk level was assigned, and nothing in this package takes any
// action on its own.
package crisis

import (
	"encoding/json"
	"fmt"
)

// Category is one class of crisis indicator. The set is closed so
// threshold and escalation logic can stay exhaustive.
type Category string

const (
	CategorySelfHarm       Category = "self_harm"
	CategoryViolence       Category = "violence"
	CategoryDespair        Category = "despair"
	CategorySubstanceAbuse Category = "substance_abuse"
	CategoryMedical        Category = "medical"
)

// Categories returns every crisis category in detection order.
func Categories() []Category {
	return []Category{
		CategorySelfHarm,
		CategoryViolence,
		CategoryDespair,
		CategorySubstanceAbuse,
		CategoryMedical,
	}
}

// RiskLevel is the ordered severity classification for one turn.
// Ordering is significant: higher values are strictly more severe.
type RiskLevel int

const (
	RiskMinimal RiskLevel = iota
	RiskLow
	RiskModerate
	RiskHigh
	RiskImminent
)

var riskNames = [...]string{"minimal", "low", "moderate", "high", "imminent"}

func (r RiskLevel) String() string {
	if r < RiskMinimal || r > RiskImminent {
		return "unknown"
	}
	return riskNames[r]
}

// MarshalJSON encodes the level as its name so wire payloads and audit
// records stay readable.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts the level name. Round-tripping matters for the
// Redis-backed session store.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range riskNames {
		if name == s {
			*r = RiskLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", s)
}

// Signal is one matched crisis indicator.
type Signal struct {
	Category Category `json:"category"`
	// Severity in [0,1]: base score plus specificity/means/immediacy
	// marker boosts, capped.
	Severity float64 `json:"severity"`
	// MatchedSpan is the exact text the pattern matched.
	MatchedSpan string `json:"matched_span"`
	// Start/End are byte offsets of the match in the analyzed text.
	Start int `json:"start"`
	End   int `json:"end"`
	// ContextSnippet is a bounded window around the match for
	// clinician explainability.
	ContextSnippet string `json:"context_snippet,omitempty"`
	// Source identifies the detection layer ("heuristic" or "semantic").
	Source string `json:"source,omitempty"`
}

// Assessment is the per-turn decision derived from all signals.
type Assessment struct {
	RiskLevel  RiskLevel `json:"risk_level"`
	Confidence float64   `json:"confidence"`
	Signals    []Signal  `json:"signals,omitempty"`
	// ActionRequired is true iff RiskLevel is moderate or above.
	ActionRequired  bool     `json:"action_required"`
	EscalationSteps []string `json:"escalation_steps,omitempty"`
	// ManualReviewRequired marks degraded assessments produced when a
	// detector could not complete; the turn is preserved, not dropped.
	ManualReviewRequired bool `json:"manual_review_required,omitempty"`
}

// MaxSeverity returns the highest signal severity, 0 when no signals.
func (a *Assessment) MaxSeverity() float64 {
	max := 0.0
	for _, s := range a.Signals {
		if s.Severity > max {
			max = s.Severity
		}
	}
	return max
}

// escalationProtocols maps each risk level to its fixed, ordered
// human-facing protocol. Low and minimal intentionally have none.
var escalationProtocols = map[RiskLevel][]string{
	RiskImminent: {
		"contact emergency services",
		"notify on-call clinician",
		"activate location tracking",
	},
	RiskHigh: {
		"contact primary therapist",
		"notify crisis team",
		"initiate safety-plan review",
	},
	RiskModerate: {
		"flag for supervisor review",
		"schedule 24h follow-up",
		"provide crisis resources",
	},
}

// StepsFor returns a copy of the escalation protocol for a risk level.
func StepsFor(level RiskLevel) []string {
	steps := escalationProtocols[level]
	if len(steps) == 0 {
		return nil
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}
