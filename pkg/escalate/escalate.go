// Package escalate maps a session's current crisis assessment and its
// recent risk history to a concrete escalation decision. The engine is
// strictly a pure decision function: it never pages, notifies, or
// performs I/O of any kind; the hosting system owns execution of
// whatever the decision recommends.
package escalate

import (
	"fmt"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
)

// RiskPoint is one turn's risk level, kept by the session manager as
// bounded history for sustained-pattern detection.
type RiskPoint struct {
	TurnIndex int              `json:"turn_index"`
	Level     crisis.RiskLevel `json:"level"`
}

// Decision is the engine's verdict for the current session state.
type Decision struct {
	RequiresHumanReview bool     `json:"requires_human_review"`
	Steps               []string `json:"steps,omitempty"`
	Confidence          float64  `json:"confidence"`
	// ContributingTurns lists the turn indices that produced this
	// decision, for explainability and audit.
	ContributingTurns []int  `json:"contributing_turns,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Engine holds the policy parameters.
type Engine struct {
	// SustainedLowTurns: this many consecutive turns at low risk or
	// above triggers review even when no single turn reached moderate.
	SustainedLowTurns int
}

// NewEngine returns an Engine with the documented default policy.
func NewEngine() *Engine {
	return &Engine{SustainedLowTurns: 3}
}

// Decide evaluates the current assessment against the recent risk
// history. history is ordered oldest-first and is expected to include
// the current turn as its last element.
func (e *Engine) Decide(current crisis.Assessment, history []RiskPoint) Decision {
	// Rule 1: the current turn alone crosses the action threshold.
	if current.RiskLevel >= crisis.RiskModerate {
		d := Decision{
			RequiresHumanReview: true,
			Steps:               crisis.StepsFor(current.RiskLevel),
			Confidence:          current.Confidence,
			Reason:              fmt.Sprintf("current turn risk %s", current.RiskLevel),
		}
		if len(history) > 0 {
			d.ContributingTurns = []int{history[len(history)-1].TurnIndex}
		}
		return d
	}

	// Rule 2: sustained distress. Count the trailing run of turns at
	// low risk or above.
	window := e.SustainedLowTurns
	if window <= 0 {
		window = 3
	}
	var run []int
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Level < crisis.RiskLow {
			break
		}
		run = append([]int{history[i].TurnIndex}, run...)
	}

	if len(run) >= window {
		conf := 0.7 + 0.05*float64(len(run)-window)
		if conf > 0.9 {
			conf = 0.9
		}
		return Decision{
			RequiresHumanReview: true,
			Steps:               crisis.StepsFor(crisis.RiskModerate),
			Confidence:          conf,
			ContributingTurns:   run,
			Reason:              fmt.Sprintf("risk at or above low for %d consecutive turns", len(run)),
		}
	}

	return Decision{Confidence: current.Confidence}
}
