package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/eq"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestInitAndAppend(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Init(ctx, "", "user-1", nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Init must assign a session ID")
	}
	if sess.State != StateActive {
		t.Fatalf("state = %s, want active", sess.State)
	}

	res, err := m.Append(ctx, sess.ID, "user", "I had a calm day and enjoyed the walk.")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Turn.Index != 0 {
		t.Errorf("first turn index = %d, want 0", res.Turn.Index)
	}
	if res.Assessment.RiskLevel != crisis.RiskMinimal {
		t.Errorf("benign turn risk = %s, want minimal", res.Assessment.RiskLevel)
	}
	if res.Decision.RequiresHumanReview {
		t.Error("benign turn must not require review")
	}

	state, err := m.State(ctx, sess.ID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.TotalTurns != 1 || len(state.Turns) != 1 {
		t.Errorf("turns = %d/%d, want 1/1", state.TotalTurns, len(state.Turns))
	}
	if len(state.EQTrend) != 1 {
		t.Errorf("eq trend length = %d, want 1", len(state.EQTrend))
	}
}

func TestInitExistingID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Init(ctx, "dup", "", nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, err := m.Init(ctx, "dup", "", nil)
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second Init err = %v, want ErrSessionExists", err)
	}
}

func TestAppendUnknownSession(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Append(context.Background(), "missing", "user", "hello")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Init(ctx, "life", "", nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := m.Append(ctx, sess.ID, "user", "hello there"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ended, err := m.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.State != StateEnded || ended.EndedAt.IsZero() {
		t.Errorf("ended session = %+v", ended)
	}

	if _, err := m.Append(ctx, sess.ID, "user", "one more"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Append after End err = %v, want ErrSessionClosed", err)
	}
	if _, err := m.End(ctx, sess.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("double End err = %v, want ErrSessionClosed", err)
	}

	// Read-only access keeps working for post-hoc review.
	if _, err := m.State(ctx, sess.ID); err != nil {
		t.Errorf("State after End: %v", err)
	}
}

func TestTurnWindowBound(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Init(ctx, "window", "", nil)
	const n = MaxTurnWindow + 5
	for i := 0; i < n; i++ {
		if _, err := m.Append(ctx, sess.ID, "user", fmt.Sprintf("turn number %d", i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	state, _ := m.State(ctx, sess.ID)
	if state.TotalTurns != n {
		t.Errorf("total turns = %d, want %d", state.TotalTurns, n)
	}
	if len(state.Turns) != MaxTurnWindow {
		t.Errorf("window size = %d, want %d", len(state.Turns), MaxTurnWindow)
	}
	if got, want := state.Turns[0].Index, n-MaxTurnWindow; got != want {
		t.Errorf("oldest retained index = %d, want %d", got, want)
	}
	if got, want := state.Turns[len(state.Turns)-1].Index, n-1; got != want {
		t.Errorf("newest index = %d, want %d", got, want)
	}
}

func TestCustomLimitsHonored(t *testing.T) {
	m := NewManager(WithLimits(Limits{TurnWindow: 3, EQTrend: 2, RiskHistory: 4}))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	sess, _ := m.Init(ctx, "small-window", "", nil)
	for i := 0; i < 6; i++ {
		if _, err := m.Append(ctx, sess.ID, "user", fmt.Sprintf("turn number %d", i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	state, _ := m.State(ctx, sess.ID)
	if len(state.Turns) != 3 {
		t.Errorf("window size = %d, want 3", len(state.Turns))
	}
	if got, want := state.Turns[0].Index, 3; got != want {
		t.Errorf("oldest retained index = %d, want %d", got, want)
	}
	if len(state.EQTrend) != 2 {
		t.Errorf("EQ trend length = %d, want 2", len(state.EQTrend))
	}
	if len(state.RiskHistory) != 4 {
		t.Errorf("risk history length = %d, want 4", len(state.RiskHistory))
	}
	if state.TotalTurns != 6 {
		t.Errorf("total turns = %d, want 6", state.TotalTurns)
	}
}

func TestZeroLimitsFallBackToDefaults(t *testing.T) {
	got := Limits{TurnWindow: 5}.normalized()
	want := Limits{TurnWindow: 5, EQTrend: 20, BiasFlags: 50, RiskHistory: 20}
	if got != want {
		t.Errorf("normalized = %+v, want %+v", got, want)
	}
	if DefaultLimits() != (Limits{TurnWindow: 10, EQTrend: 20, BiasFlags: 50, RiskHistory: 20}) {
		t.Errorf("defaults = %+v", DefaultLimits())
	}
}

func TestRawTextNeverSerialized(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Init(ctx, "pii", "", nil)
	raw := "My name is Dr. Sarah Johnson, email sarah.j@example.com"
	res, err := m.Append(ctx, sess.ID, "user", raw)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if strings.Contains(res.Turn.RedactedText, "Sarah") || strings.Contains(res.Turn.RedactedText, "example.com") {
		t.Fatalf("redacted text leaks PII: %q", res.Turn.RedactedText)
	}
	if res.PIICategories == nil {
		t.Fatal("expected PII category counts")
	}

	state, _ := m.State(ctx, sess.ID)
	blob, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	for _, leak := range []string{"Sarah", "Johnson", "sarah.j@example.com"} {
		if strings.Contains(string(blob), leak) {
			t.Errorf("serialized session contains %q", leak)
		}
	}
}

func TestCrisisTurnEscalates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Init(ctx, "crisis", "", nil)
	res, err := m.Append(ctx, sess.ID, "user", "I have the pills and I'm going to take them all tonight")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if res.Assessment.RiskLevel != crisis.RiskImminent {
		t.Fatalf("risk = %s, want imminent", res.Assessment.RiskLevel)
	}
	if !res.Decision.RequiresHumanReview {
		t.Fatal("imminent turn must require human review")
	}
	if len(res.Decision.Steps) == 0 || res.Decision.Steps[0] != "contact emergency services" {
		t.Errorf("steps = %v", res.Decision.Steps)
	}

	state, _ := m.State(ctx, sess.ID)
	if state.CurrentAssessment == nil || state.CurrentAssessment.RiskLevel != crisis.RiskImminent {
		t.Error("current assessment not committed to session")
	}
	if len(state.RiskHistory) != 1 || state.RiskHistory[0].Level != crisis.RiskImminent {
		t.Errorf("risk history = %+v", state.RiskHistory)
	}
}

func TestInvalidUTF8TreatedAsEmpty(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Init(ctx, "utf8", "", nil)
	res, err := m.Append(ctx, sess.ID, "user", "bad \xff\xfe bytes")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Turn.RedactedText != "" {
		t.Errorf("redacted text = %q, want empty for invalid input", res.Turn.RedactedText)
	}
	if res.Assessment.RiskLevel != crisis.RiskMinimal {
		t.Errorf("risk = %s, want minimal for empty turn", res.Assessment.RiskLevel)
	}

	// The turn is still committed: history is preserved, not dropped.
	state, _ := m.State(ctx, sess.ID)
	if state.TotalTurns != 1 {
		t.Errorf("total turns = %d, want 1", state.TotalTurns)
	}
}

func TestCancelledContextLeavesSessionUntouched(t *testing.T) {
	m := newTestManager(t)
	sess, _ := m.Init(context.Background(), "cancel", "", nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Append(cancelled, sess.ID, "user", "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	state, _ := m.State(context.Background(), sess.ID)
	if state.TotalTurns != 0 {
		t.Errorf("cancelled append mutated session: %d turns", state.TotalTurns)
	}
}

func TestRecordOverride(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Init(ctx, "override", "", nil)
	if _, err := m.Append(ctx, sess.ID, "user", "I want to hurt myself"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	updated, err := m.RecordOverride(ctx, sess.ID, "clin-7", "assessed in call, de-escalated", crisis.RiskLow)
	if err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}
	if len(updated.Overrides) != 1 {
		t.Fatalf("overrides = %d, want 1", len(updated.Overrides))
	}
	ov := updated.Overrides[0]
	if ov.By != "clin-7" || ov.NewLevel != crisis.RiskLow {
		t.Errorf("override = %+v", ov)
	}
	if ov.PriorLevel < crisis.RiskModerate {
		t.Errorf("prior level = %s, want at least moderate", ov.PriorLevel)
	}
	if updated.CurrentAssessment.RiskLevel != crisis.RiskLow {
		t.Errorf("current risk after override = %s", updated.CurrentAssessment.RiskLevel)
	}
	if updated.CurrentAssessment.ActionRequired {
		t.Error("low risk after override must not require action")
	}
}

func TestSessionIsolation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Init(ctx, "iso-a", "", nil)
	b, _ := m.Init(ctx, "iso-b", "", nil)

	if _, err := m.Append(ctx, a.ID, "user", "I have the pills and I'm going to take them all tonight"); err != nil {
		t.Fatalf("Append a: %v", err)
	}
	if _, err := m.Append(ctx, b.ID, "user", "the weather was lovely today"); err != nil {
		t.Fatalf("Append b: %v", err)
	}

	stateB, _ := m.State(ctx, b.ID)
	if stateB.CurrentAssessment.RiskLevel != crisis.RiskMinimal {
		t.Errorf("session b risk = %s, bled over from a", stateB.CurrentAssessment.RiskLevel)
	}
	if len(stateB.RiskHistory) != 1 {
		t.Errorf("session b history = %d points", len(stateB.RiskHistory))
	}
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Init(ctx, "conc", "", nil)

	const workers = 8
	const perWorker = 5
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := m.Append(ctx, sess.ID, "user", fmt.Sprintf("worker %d message %d", w, i)); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	state, _ := m.State(ctx, sess.ID)
	if state.TotalTurns != workers*perWorker {
		t.Errorf("total turns = %d, want %d (lost update)", state.TotalTurns, workers*perWorker)
	}
	// Retained turn indices must be the trailing contiguous range.
	for i := 1; i < len(state.Turns); i++ {
		if state.Turns[i].Index != state.Turns[i-1].Index+1 {
			t.Fatalf("non-contiguous turn indices: %d then %d", state.Turns[i-1].Index, state.Turns[i].Index)
		}
	}
}

// panickyDetector blows up on Detect to exercise the degraded path.
type panickyDetector struct {
	inner *crisis.Detector
}

func (d panickyDetector) Detect(string) crisis.Assessment { panic("pattern table corrupted") }
func (d panickyDetector) Merge(a crisis.Assessment, extra ...crisis.Signal) crisis.Assessment {
	return d.inner.Merge(a, extra...)
}
func (d panickyDetector) Degraded() crisis.Assessment { return d.inner.Degraded() }

func TestDetectorPanicDegradesTurn(t *testing.T) {
	m := NewManager(WithDetector(panickyDetector{inner: crisis.NewDetector()}))
	defer m.Close()
	ctx := context.Background()

	sess, _ := m.Init(ctx, "degraded", "", nil)
	res, err := m.Append(ctx, sess.ID, "user", "hello there")
	if err != nil {
		t.Fatalf("Append must survive a detector panic: %v", err)
	}
	if !res.Assessment.ManualReviewRequired {
		t.Error("degraded assessment must be flagged for manual review")
	}
	if res.Assessment.Confidence != 0 {
		t.Errorf("degraded confidence = %v, want 0", res.Assessment.Confidence)
	}

	// The turn is committed, not dropped.
	state, _ := m.State(ctx, sess.ID)
	if state.TotalTurns != 1 {
		t.Errorf("total turns = %d, want 1", state.TotalTurns)
	}
}

// panickyValidator blows up on Validate to exercise the degraded path.
type panickyValidator struct{}

func (panickyValidator) Validate(eq.Input, eq.Context) (eq.Metrics, []eq.BiasFlag) {
	panic("indicator table corrupted")
}

func TestValidatorPanicDegradesTurn(t *testing.T) {
	m := NewManager(WithValidator(panickyValidator{}))
	defer m.Close()
	ctx := context.Background()

	sess, _ := m.Init(ctx, "degraded-eq", "", nil)
	res, err := m.Append(ctx, sess.ID, "user", "hello there")
	if err != nil {
		t.Fatalf("Append must survive a validator panic: %v", err)
	}
	if !res.Assessment.ManualReviewRequired {
		t.Error("failed EQ analysis must flag the turn for manual review")
	}
	if res.Assessment.Confidence != 0 {
		t.Errorf("degraded confidence = %v, want 0", res.Assessment.Confidence)
	}
	if res.Metrics != (eq.Metrics{}) {
		t.Errorf("metrics = %+v, want zero", res.Metrics)
	}

	// The turn is committed, and the risk level from the healthy
	// crisis detector is kept.
	state, _ := m.State(ctx, sess.ID)
	if state.TotalTurns != 1 {
		t.Errorf("total turns = %d, want 1", state.TotalTurns)
	}
	if state.CurrentAssessment == nil || !state.CurrentAssessment.ManualReviewRequired {
		t.Error("committed assessment not flagged for manual review")
	}
}

func TestValidatorPanicKeepsCrisisRisk(t *testing.T) {
	m := NewManager(WithValidator(panickyValidator{}))
	defer m.Close()
	ctx := context.Background()

	sess, _ := m.Init(ctx, "degraded-eq-risk", "", nil)
	res, err := m.Append(ctx, sess.ID, "user", "I have the pills and I'm going to take them all tonight")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if res.Assessment.RiskLevel != crisis.RiskImminent {
		t.Errorf("risk = %s, want imminent despite validator failure", res.Assessment.RiskLevel)
	}
	if !res.Assessment.ManualReviewRequired {
		t.Error("turn must still be flagged for manual review")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(WithMaxAge(10*time.Millisecond), WithCleanupInterval(5*time.Millisecond))
	defer store.Close()
	ctx := context.Background()

	sess := &Session{ID: "exp", State: StateActive, LastTurnAt: time.Now()}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	got, err := store.Get(ctx, "exp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("expired session still retrievable")
	}
}
