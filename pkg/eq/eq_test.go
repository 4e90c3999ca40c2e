package eq

import (
	"reflect"
	"testing"
	"time"
)

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMetricsBounded(t *testing.T) {
	v := NewValidator()
	texts := []string{
		"",
		"I hear you, that must be really hard. Tell me more about what happened?",
		"JUST GET OVER IT ALREADY, CALM DOWN, YOU ARE OVERREACTING COMPLETELY",
		"You mentioned feeling anxious and sad. From their perspective it may look different.",
	}
	for _, text := range texts {
		m, _ := v.Validate(Input{Role: "assistant", Text: text, Timestamp: ts}, Context{})
		for name, score := range map[string]float64{
			"awareness":     m.EmotionalAwareness,
			"empathy":       m.EmpathyRecognition,
			"regulation":    m.EmotionalRegulation,
			"social":        m.SocialCognition,
			"interpersonal": m.InterpersonalSkills,
			"overall":       m.Overall,
		} {
			if score < 0 || score > 1 {
				t.Errorf("%s out of bounds for %q: %.2f", name, text, score)
			}
		}
	}
}

func TestOverallIsMean(t *testing.T) {
	v := NewValidator()
	m, _ := v.Validate(Input{Role: "assistant", Text: "I hear you, that sounds frightening. How did that feel?", Timestamp: ts}, Context{})
	mean := (m.EmotionalAwareness + m.EmpathyRecognition + m.EmotionalRegulation +
		m.SocialCognition + m.InterpersonalSkills) / 5.0
	if m.Overall != mean {
		t.Errorf("overall %.4f != mean of domains %.4f", m.Overall, mean)
	}
}

func TestEmpathicBeatsDismissive(t *testing.T) {
	v := NewValidator()
	empathic, _ := v.Validate(Input{Role: "assistant", Text: "That must have been so hard. I hear you. Would you like to say more?", Timestamp: ts}, Context{})
	dismissive, _ := v.Validate(Input{Role: "assistant", Text: "Calm down, it's not a big deal, you're overreacting.", Timestamp: ts}, Context{})

	if empathic.Overall <= dismissive.Overall {
		t.Errorf("empathic response should outscore dismissive: %.2f vs %.2f", empathic.Overall, dismissive.Overall)
	}
	if empathic.EmpathyRecognition <= dismissive.EmpathyRecognition {
		t.Errorf("empathy domain should separate the two: %.2f vs %.2f",
			empathic.EmpathyRecognition, dismissive.EmpathyRecognition)
	}
}

func TestContextConsistencyBoost(t *testing.T) {
	v := NewValidator()
	in := Input{Role: "assistant", Text: "It sounds like the anxious feeling came back this week.", Timestamp: ts}

	without, _ := v.Validate(in, Context{})
	with, _ := v.Validate(in, Context{Turns: []ContextTurn{
		{Role: "user", Text: "I've been really anxious since the accident."},
	}})

	if with.EmotionalAwareness <= without.EmotionalAwareness {
		t.Errorf("acknowledging a context emotion should boost awareness: %.2f vs %.2f",
			with.EmotionalAwareness, without.EmotionalAwareness)
	}
}

func TestBiasFlags(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name       string
		text       string
		wantDomain string
		wantSev    Severity
	}{
		{"gendered generalization", "Women are always too emotional for this kind of work.", "gender", SeverityHigh},
		{"demographic generalization", "People like you never stick with therapy.", "demographic", SeverityHigh},
		{"age assumption", "At your age you should already be settled.", "age", SeverityMedium},
		{"gendered qualifier", "That's ambitious for a woman.", "gender", SeverityMedium},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, flags := v.Validate(Input{Role: "assistant", Text: tc.text, Timestamp: ts}, Context{})
			if len(flags) == 0 {
				t.Fatalf("expected a bias flag for %q", tc.text)
			}
			f := flags[0]
			if f.Domain != tc.wantDomain {
				t.Errorf("domain = %s, want %s", f.Domain, tc.wantDomain)
			}
			if f.Severity != tc.wantSev {
				t.Errorf("severity = %s, want %s", f.Severity, tc.wantSev)
			}
			if f.Timestamp != ts {
				t.Errorf("flag must inherit the turn timestamp")
			}
			if f.Indicator == "" {
				t.Error("flag must carry the matched indicator text")
			}
		})
	}
}

func TestNoBiasOnNeutralText(t *testing.T) {
	v := NewValidator()
	_, flags := v.Validate(Input{Role: "assistant", Text: "It sounds like work has been stressful lately. What helped before?", Timestamp: ts}, Context{})
	if len(flags) != 0 {
		t.Errorf("neutral text should not be flagged, got %+v", flags)
	}
}

func TestThresholdGatesFlags(t *testing.T) {
	// A threshold above every indicator weight suppresses all flags.
	v := NewValidator(WithThreshold(0.99))
	_, flags := v.Validate(Input{Role: "assistant", Text: "Women are always too emotional.", Timestamp: ts}, Context{})
	if len(flags) != 0 {
		t.Errorf("threshold 0.99 should suppress flags, got %+v", flags)
	}
}

func TestExtraIndicators(t *testing.T) {
	v := NewValidator(WithExtraIndicators("culture", 0.8, `\bthose\s+people\b`))
	_, flags := v.Validate(Input{Role: "assistant", Text: "Those people always exaggerate.", Timestamp: ts}, Context{})
	if len(flags) == 0 {
		t.Fatal("overlay indicator should produce a flag")
	}
	if flags[len(flags)-1].Domain != "culture" {
		t.Errorf("overlay flag domain = %s, want culture", flags[len(flags)-1].Domain)
	}
}

func TestValidateDeterministic(t *testing.T) {
	v := NewValidator()
	in := Input{Role: "assistant", Text: "Women are always too emotional. I hear you though, that sounds hard.", Timestamp: ts}
	ctx := Context{
		Turns:        []ContextTurn{{Role: "user", Text: "I felt ashamed after the meeting."}},
		Demographics: map[string]string{"occupation": "teacher"},
	}

	m1, f1 := v.Validate(in, ctx)
	for i := 0; i < 10; i++ {
		m2, f2 := v.Validate(in, ctx)
		if m1 != m2 {
			t.Fatalf("metrics not deterministic: %+v vs %+v", m1, m2)
		}
		if !reflect.DeepEqual(f1, f2) {
			t.Fatalf("flags not deterministic: %+v vs %+v", f1, f2)
		}
	}
}
