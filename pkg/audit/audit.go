// Package audit emits one immutable record per committed turn. Records
// are built from redacted text only; raw utterance text never enters
// this package.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/session"
)

// Record is one turn's audit entry.
type Record struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	TurnIndex int    `json:"turn_index"`
	Role      string `json:"role"`

	RedactedText  string         `json:"redacted_text"`
	PIICategories map[string]int `json:"pii_categories,omitempty"`

	RiskLevel           crisis.RiskLevel `json:"risk_level"`
	RiskConfidence      float64          `json:"risk_confidence"`
	SignalCount         int              `json:"signal_count"`
	EQOverall           float64          `json:"eq_overall"`
	BiasFlagCount       int              `json:"bias_flag_count"`
	RequiresHumanReview bool             `json:"requires_human_review"`
	EscalationReason    string           `json:"escalation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRecord builds the audit record for a committed turn.
func NewRecord(sessionID, userID string, res *session.TurnResult) Record {
	rec := Record{
		ID:                  uuid.NewString(),
		SessionID:           sessionID,
		UserID:              userID,
		TurnIndex:           res.Turn.Index,
		Role:                res.Turn.Role,
		RedactedText:        res.Turn.RedactedText,
		RiskLevel:           res.Assessment.RiskLevel,
		RiskConfidence:      res.Assessment.Confidence,
		SignalCount:         len(res.Assessment.Signals),
		EQOverall:           res.Metrics.Overall,
		BiasFlagCount:       len(res.BiasFlags),
		RequiresHumanReview: res.Decision.RequiresHumanReview,
		EscalationReason:    res.Decision.Reason,
		CreatedAt:           time.Now().UTC(),
	}
	if len(res.PIICategories) > 0 {
		rec.PIICategories = make(map[string]int, len(res.PIICategories))
		for cat, n := range res.PIICategories {
			rec.PIICategories[string(cat)] = n
		}
	}
	return rec
}

// Sink receives audit records. Implementations must be safe for
// concurrent use; Write failures are the caller's to log, auditing
// never blocks the turn pipeline on retries.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// NopSink discards every record. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) Write(context.Context, Record) error { return nil }
func (NopSink) Close() error                        { return nil }

var _ Sink = NopSink{}
