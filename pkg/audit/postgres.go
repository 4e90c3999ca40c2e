package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink writes audit records to a Postgres table for
// deployments that need queryable, durable audit storage.
type PostgresSink struct {
	pool *pgxpool.Pool
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id                    UUID PRIMARY KEY,
	session_id            TEXT NOT NULL,
	user_id               TEXT,
	turn_index            INT NOT NULL,
	role                  TEXT NOT NULL,
	redacted_text         TEXT NOT NULL,
	pii_categories        JSONB,
	risk_level            TEXT NOT NULL,
	risk_confidence       DOUBLE PRECISION NOT NULL,
	signal_count          INT NOT NULL,
	eq_overall            DOUBLE PRECISION NOT NULL,
	bias_flag_count       INT NOT NULL,
	requires_human_review BOOLEAN NOT NULL,
	escalation_reason     TEXT,
	created_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_session_idx ON audit_events (session_id, turn_index);
`

// NewPostgresSink connects to dsn, verifies the connection, and
// ensures the audit table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit postgres: %w", err)
	}
	s := &PostgresSink{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// Write inserts one record.
func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	var pii []byte
	if len(rec.PIICategories) > 0 {
		var err error
		pii, err = json.Marshal(rec.PIICategories)
		if err != nil {
			return fmt.Errorf("encode pii categories: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (
			id, session_id, user_id, turn_index, role,
			redacted_text, pii_categories,
			risk_level, risk_confidence, signal_count,
			eq_overall, bias_flag_count, requires_human_review,
			escalation_reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.SessionID, rec.UserID, rec.TurnIndex, rec.Role,
		rec.RedactedText, pii,
		rec.RiskLevel.String(), rec.RiskConfidence, rec.SignalCount,
		rec.EQOverall, rec.BiasFlagCount, rec.RequiresHumanReview,
		rec.EscalationReason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

var _ Sink = (*PostgresSink)(nil)
