// Package session owns conversation lifecycle and per-turn
// orchestration: normalize, redact, run the detectors, decide
// escalation, and commit the result to the session atomically.
package session

import (
	"errors"
	"time"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/eq"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/escalate"
)

// Default sliding-window bounds. Sessions hold bounded state
// regardless of conversation length; deployments tune the bounds via
// Limits, these are the documented defaults.
const (
	MaxTurnWindow  = 10
	MaxEQTrend     = 20
	MaxBiasFlags   = 50
	MaxRiskHistory = 20
)

// Limits holds the per-session window bounds. The zero value of any
// field falls back to its default.
type Limits struct {
	TurnWindow  int // retained turns (default 10)
	EQTrend     int // rolling EQ overall scores (default 20)
	BiasFlags   int // retained bias flags (default 50)
	RiskHistory int // retained risk points (default 20)
}

// DefaultLimits returns the documented default window bounds.
func DefaultLimits() Limits {
	return Limits{
		TurnWindow:  MaxTurnWindow,
		EQTrend:     MaxEQTrend,
		BiasFlags:   MaxBiasFlags,
		RiskHistory: MaxRiskHistory,
	}
}

// normalized fills zero or negative fields with their defaults.
func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.TurnWindow < 1 {
		l.TurnWindow = d.TurnWindow
	}
	if l.EQTrend < 1 {
		l.EQTrend = d.EQTrend
	}
	if l.BiasFlags < 1 {
		l.BiasFlags = d.BiasFlags
	}
	if l.RiskHistory < 1 {
		l.RiskHistory = d.RiskHistory
	}
	return l
}

var (
	// ErrSessionNotFound is returned for operations on unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned for mutating operations on ended sessions.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionExists is returned when initializing an ID already in use.
	ErrSessionExists = errors.New("session already exists")
)

// State is the session lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateEnded         State = "ended"
)

// Turn is one committed conversation turn. RawText is kept in memory
// for the hosting process only and is never serialized; every
// persisted or exported surface carries RedactedText.
type Turn struct {
	Index        int       `json:"index"`
	Role         string    `json:"role"`
	RawText      string    `json:"-"`
	RedactedText string    `json:"redacted_text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Override records a clinician risk-level override.
type Override struct {
	By         string           `json:"by"`
	Note       string           `json:"note,omitempty"`
	PriorLevel crisis.RiskLevel `json:"prior_level"`
	NewLevel   crisis.RiskLevel `json:"new_level"`
	At         time.Time        `json:"at"`
}

// Session is the full per-conversation state. All windows are trimmed
// on commit, so the struct stays bounded for arbitrarily long
// conversations.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	State  State  `json:"state"`

	CreatedAt  time.Time `json:"created_at"`
	LastTurnAt time.Time `json:"last_turn_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`

	// TotalTurns counts every committed turn, including those no
	// longer inside the turn window.
	TotalTurns int    `json:"total_turns"`
	Turns      []Turn `json:"turns,omitempty"`

	EQTrend   []float64     `json:"eq_trend,omitempty"`
	BiasFlags []eq.BiasFlag `json:"bias_flags,omitempty"`

	Demographics map[string]string `json:"demographics,omitempty"`

	CurrentAssessment *crisis.Assessment   `json:"current_assessment,omitempty"`
	RiskHistory       []escalate.RiskPoint `json:"risk_history,omitempty"`
	Overrides         []Override           `json:"overrides,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can
// never mutate shared state behind the manager's back.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Turns != nil {
		out.Turns = make([]Turn, len(s.Turns))
		copy(out.Turns, s.Turns)
	}
	if s.EQTrend != nil {
		out.EQTrend = make([]float64, len(s.EQTrend))
		copy(out.EQTrend, s.EQTrend)
	}
	if s.BiasFlags != nil {
		out.BiasFlags = make([]eq.BiasFlag, len(s.BiasFlags))
		copy(out.BiasFlags, s.BiasFlags)
	}
	if s.Demographics != nil {
		out.Demographics = make(map[string]string, len(s.Demographics))
		for k, v := range s.Demographics {
			out.Demographics[k] = v
		}
	}
	if s.CurrentAssessment != nil {
		a := *s.CurrentAssessment
		if s.CurrentAssessment.Signals != nil {
			a.Signals = make([]crisis.Signal, len(s.CurrentAssessment.Signals))
			copy(a.Signals, s.CurrentAssessment.Signals)
		}
		if s.CurrentAssessment.EscalationSteps != nil {
			a.EscalationSteps = make([]string, len(s.CurrentAssessment.EscalationSteps))
			copy(a.EscalationSteps, s.CurrentAssessment.EscalationSteps)
		}
		out.CurrentAssessment = &a
	}
	if s.RiskHistory != nil {
		out.RiskHistory = make([]escalate.RiskPoint, len(s.RiskHistory))
		copy(out.RiskHistory, s.RiskHistory)
	}
	if s.Overrides != nil {
		out.Overrides = make([]Override, len(s.Overrides))
		copy(out.Overrides, s.Overrides)
	}
	return &out
}
