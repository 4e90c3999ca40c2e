package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/eq"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/escalate"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/redact"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/session"
)

func sampleResult() *session.TurnResult {
	return &session.TurnResult{
		Turn: session.Turn{
			Index:        3,
			Role:         "user",
			RawText:      "my email is sarah.j@example.com and I feel hopeless",
			RedactedText: "my email is [EMAIL] and I feel hopeless",
		},
		Assessment: crisis.Assessment{
			RiskLevel:  crisis.RiskModerate,
			Confidence: 0.7,
			Signals:    []crisis.Signal{{Category: crisis.CategoryDespair, Severity: 0.5}},
		},
		Metrics:       eq.Metrics{Overall: 0.42},
		Decision:      escalate.Decision{RequiresHumanReview: true, Reason: "current turn risk moderate"},
		PIICategories: map[redact.Category]int{redact.CategoryEmails: 1},
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord("sess-1", "user-1", sampleResult())

	if rec.ID == "" {
		t.Fatal("record must get an ID")
	}
	if rec.SessionID != "sess-1" || rec.TurnIndex != 3 {
		t.Errorf("record = %+v", rec)
	}
	if rec.RiskLevel != crisis.RiskModerate || !rec.RequiresHumanReview {
		t.Errorf("risk fields = %s / %v", rec.RiskLevel, rec.RequiresHumanReview)
	}
	if rec.PIICategories["emails"] != 1 {
		t.Errorf("pii counts = %v", rec.PIICategories)
	}
	if strings.Contains(rec.RedactedText, "sarah.j@example.com") {
		t.Error("record carries raw text")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestJSONLSinkWritesRedactedOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}

	rec := NewRecord("sess-2", "", sampleResult())
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if strings.Contains(string(raw), "sarah.j@example.com") {
		t.Fatal("audit file contains raw PII")
	}

	var got Record
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if got.ID != rec.ID || got.RiskLevel != crisis.RiskModerate {
		t.Errorf("round trip = %+v", got)
	}
}

func TestJSONLSinkConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.Write(context.Background(), NewRecord("sess-c", "", sampleResult())); err != nil {
				t.Errorf("Write: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != n {
		t.Errorf("lines = %d, want %d", lines, n)
	}
}

func TestNopSink(t *testing.T) {
	var sink Sink = NopSink{}
	if err := sink.Write(context.Background(), Record{}); err != nil {
		t.Errorf("NopSink.Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("NopSink.Close: %v", err)
	}
}
