package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/eq"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/escalate"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/redact"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/textnorm"
)

// ============================================================================
// SESSION MANAGER
// ============================================================================
// The manager is the only writer for session state. Turns for the same
// session are serialized on a per-session lock; the read-only detectors
// inside a turn run in parallel; the session update at the end of a
// turn is atomic (all windows advance together or not at all).

// TurnResult is everything one committed turn produced.
type TurnResult struct {
	Turn       Turn              `json:"turn"`
	Assessment crisis.Assessment `json:"assessment"`
	Metrics    eq.Metrics        `json:"metrics"`
	BiasFlags  []eq.BiasFlag     `json:"bias_flags,omitempty"`
	Decision   escalate.Decision `json:"decision"`
	// PIICategories counts findings per category, safe for audit.
	PIICategories map[redact.Category]int `json:"pii_categories,omitempty"`
}

// CrisisDetector is the manager's view of the crisis layer.
// *crisis.Detector is the production implementation.
type CrisisDetector interface {
	Detect(text string) crisis.Assessment
	Merge(a crisis.Assessment, extra ...crisis.Signal) crisis.Assessment
	Degraded() crisis.Assessment
}

// EQValidator is the manager's view of the bias/emotion layer.
// *eq.Validator is the production implementation.
type EQValidator interface {
	Validate(in eq.Input, ctx eq.Context) (eq.Metrics, []eq.BiasFlag)
}

// Manager orchestrates the per-turn pipeline over a Store.
type Manager struct {
	store     Store
	detector  CrisisDetector
	validator EQValidator
	engine    *escalate.Engine
	semantic  *crisis.SemanticDetector
	redactOpt redact.Options
	limits    Limits

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore replaces the default in-memory store.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithDetector replaces the default crisis detector.
func WithDetector(d CrisisDetector) ManagerOption {
	return func(m *Manager) { m.detector = d }
}

// WithValidator replaces the default EQ validator.
func WithValidator(v EQValidator) ManagerOption {
	return func(m *Manager) { m.validator = v }
}

// WithEngine replaces the default escalation engine.
func WithEngine(e *escalate.Engine) ManagerOption {
	return func(m *Manager) { m.engine = e }
}

// WithRedaction sets the redaction options applied to every turn.
func WithRedaction(opts redact.Options) ManagerOption {
	return func(m *Manager) { m.redactOpt = opts }
}

// WithLimits overrides the per-session window bounds. Zero fields keep
// their defaults.
func WithLimits(l Limits) ManagerOption {
	return func(m *Manager) { m.limits = l.normalized() }
}

// WithSemantic enables the advisory semantic crisis layer. Its signals
// merge into the lexical assessment and can raise the risk level but
// never lower it.
func WithSemantic(sd *crisis.SemanticDetector) ManagerOption {
	return func(m *Manager) { m.semantic = sd }
}

// NewManager builds a Manager with default components: in-memory
// store, default detector thresholds, default bias threshold.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		limits: DefaultLimits(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.detector == nil {
		m.detector = crisis.NewDetector()
	}
	if m.validator == nil {
		m.validator = eq.NewValidator()
	}
	if m.engine == nil {
		m.engine = escalate.NewEngine()
	}
	return m
}

// lockFor returns the per-session mutex, creating it on first use.
// Sessions never contend with each other; turns within one session
// are fully serialized.
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	mu, ok := m.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[sessionID] = mu
	}
	return mu
}

// Init creates a new active session. An empty sessionID gets a
// generated UUID. Returns ErrSessionExists if the ID is already live.
func (m *Manager) Init(ctx context.Context, sessionID, userID string, demographics map[string]string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	mu := m.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("init session %s: %w", sessionID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("init session %s: %w", sessionID, ErrSessionExists)
	}

	now := time.Now()
	sess := &Session{
		ID:           sessionID,
		UserID:       userID,
		State:        StateActive,
		CreatedAt:    now,
		LastTurnAt:   now,
		Demographics: demographics,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("init session %s: %w", sessionID, err)
	}

	log.Printf("[SESSION] initialized session=%s", sessionID)
	return sess.Clone(), nil
}

// Append runs the full per-turn pipeline and commits the turn.
//
// Pipeline: normalize, redact, then crisis detection and EQ validation
// in parallel over the redacted text, then escalation policy, then one
// atomic session update. If ctx is cancelled before the commit the
// session is left untouched.
func (m *Manager) Append(ctx context.Context, sessionID, role, rawText string) (*TurnResult, error) {
	mu := m.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("append to session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("append to session %s: %w", sessionID, ErrSessionNotFound)
	}
	if sess.State != StateActive {
		return nil, fmt.Errorf("append to session %s: %w", sessionID, ErrSessionClosed)
	}

	// Invalid encodings are downgraded to an empty turn rather than
	// rejected: the turn record survives, the detectors see nothing.
	if !utf8.ValidString(rawText) {
		log.Printf("[SESSION] session=%s turn=%d invalid UTF-8, treating text as empty", sessionID, sess.TotalTurns)
		rawText = ""
	}

	normalized := textnorm.Normalize(rawText)
	red := redact.Redact(normalized, m.redactOpt)

	assessment, metrics, flags := m.analyze(ctx, red.Redacted, role, sess)

	// Commit gate: a cancelled context means no state change at all.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("append to session %s: %w", sessionID, err)
	}

	now := time.Now()
	turn := Turn{
		Index:        sess.TotalTurns,
		Role:         role,
		RawText:      rawText,
		RedactedText: red.Redacted,
		Timestamp:    now,
	}

	sess.Turns = append(sess.Turns, turn)
	if len(sess.Turns) > m.limits.TurnWindow {
		sess.Turns = sess.Turns[len(sess.Turns)-m.limits.TurnWindow:]
	}
	sess.EQTrend = append(sess.EQTrend, metrics.Overall)
	if len(sess.EQTrend) > m.limits.EQTrend {
		sess.EQTrend = sess.EQTrend[len(sess.EQTrend)-m.limits.EQTrend:]
	}
	sess.BiasFlags = append(sess.BiasFlags, flags...)
	if len(sess.BiasFlags) > m.limits.BiasFlags {
		sess.BiasFlags = sess.BiasFlags[len(sess.BiasFlags)-m.limits.BiasFlags:]
	}
	sess.RiskHistory = append(sess.RiskHistory, escalate.RiskPoint{
		TurnIndex: turn.Index,
		Level:     assessment.RiskLevel,
	})
	if len(sess.RiskHistory) > m.limits.RiskHistory {
		sess.RiskHistory = sess.RiskHistory[len(sess.RiskHistory)-m.limits.RiskHistory:]
	}

	decision := m.engine.Decide(assessment, sess.RiskHistory)

	sess.CurrentAssessment = &assessment
	sess.LastTurnAt = now
	sess.TotalTurns++

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("append to session %s: %w", sessionID, err)
	}

	if decision.RequiresHumanReview {
		log.Printf("[ESCALATE] session=%s turn=%d risk=%s reason=%q",
			sessionID, turn.Index, assessment.RiskLevel, decision.Reason)
	}

	result := &TurnResult{
		Turn:       turn,
		Assessment: assessment,
		Metrics:    metrics,
		BiasFlags:  flags,
		Decision:   decision,
	}
	if len(red.Findings) > 0 {
		counts := make(map[redact.Category]int)
		for _, f := range red.Findings {
			counts[f.Category]++
		}
		result.PIICategories = counts
	}
	return result, nil
}

// analyze runs the read-only detectors in parallel over redacted text.
// A panicking detector degrades the committed assessment and never
// takes the turn down with it: whichever branch fails, the result
// carries unknown confidence and is flagged for manual review.
func (m *Manager) analyze(ctx context.Context, text, role string, sess *Session) (crisis.Assessment, eq.Metrics, []eq.BiasFlag) {
	var (
		assessment crisis.Assessment
		metrics    eq.Metrics
		flags      []eq.BiasFlag
		eqFailed   bool
		wg         sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SESSION] crisis detector panic recovered: %v", r)
				assessment = m.detector.Degraded()
			}
		}()
		assessment = m.detector.Detect(text)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SESSION] eq validator panic recovered: %v", r)
				metrics = eq.Metrics{}
				flags = nil
				eqFailed = true
			}
		}()
		eqCtx := eq.Context{Demographics: sess.Demographics}
		for _, t := range sess.Turns {
			eqCtx.Turns = append(eqCtx.Turns, eq.ContextTurn{Role: t.Role, Text: t.RedactedText})
		}
		metrics, flags = m.validator.Validate(eq.Input{
			Role:      role,
			Text:      text,
			Timestamp: time.Now(),
		}, eqCtx)
	}()
	wg.Wait()

	if eqFailed {
		assessment.Confidence = 0
		assessment.ManualReviewRequired = true
	}

	// Advisory semantic layer: merged after the lexical pass, raises
	// only. Failures here log and fall through to the lexical result.
	if m.semantic != nil && m.semantic.IsReady() {
		match, err := m.semantic.Detect(ctx, text)
		if err != nil {
			log.Printf("[SESSION] semantic detect failed: %v", err)
		} else if match != nil {
			if sig, ok := match.Signal(); ok {
				assessment = m.detector.Merge(assessment, sig)
			}
		}
	}

	return assessment, metrics, flags
}

// State returns a snapshot of the session.
func (m *Manager) State(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("state of session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("state of session %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess, nil
}

// End closes the session. Further Append or override calls return
// ErrSessionClosed; State keeps working for post-hoc review.
func (m *Manager) End(ctx context.Context, sessionID string) (*Session, error) {
	mu := m.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("end session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("end session %s: %w", sessionID, ErrSessionNotFound)
	}
	if sess.State != StateActive {
		return nil, fmt.Errorf("end session %s: %w", sessionID, ErrSessionClosed)
	}

	sess.State = StateEnded
	sess.EndedAt = time.Now()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("end session %s: %w", sessionID, err)
	}

	log.Printf("[SESSION] ended session=%s turns=%d", sessionID, sess.TotalTurns)
	return sess.Clone(), nil
}

// RecordOverride applies a clinician risk-level override to an active
// session. The override is recorded on the session and replaces the
// current risk level and escalation steps.
func (m *Manager) RecordOverride(ctx context.Context, sessionID, by, note string, newLevel crisis.RiskLevel) (*Session, error) {
	mu := m.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("override session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("override session %s: %w", sessionID, ErrSessionNotFound)
	}
	if sess.State != StateActive {
		return nil, fmt.Errorf("override session %s: %w", sessionID, ErrSessionClosed)
	}

	prior := crisis.RiskMinimal
	if sess.CurrentAssessment != nil {
		prior = sess.CurrentAssessment.RiskLevel
	}
	sess.Overrides = append(sess.Overrides, Override{
		By:         by,
		Note:       note,
		PriorLevel: prior,
		NewLevel:   newLevel,
		At:         time.Now(),
	})

	if sess.CurrentAssessment == nil {
		sess.CurrentAssessment = &crisis.Assessment{}
	}
	sess.CurrentAssessment.RiskLevel = newLevel
	sess.CurrentAssessment.ActionRequired = newLevel >= crisis.RiskModerate
	sess.CurrentAssessment.EscalationSteps = crisis.StepsFor(newLevel)

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("override session %s: %w", sessionID, err)
	}

	log.Printf("[SESSION] override session=%s by=%s %s -> %s", sessionID, by, prior, newLevel)
	return sess.Clone(), nil
}

// Close releases the manager's store.
func (m *Manager) Close() error {
	return m.store.Close()
}
