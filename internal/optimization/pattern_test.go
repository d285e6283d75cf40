package optimization

import (
	"testing"

	"github.com/COORDINATOR/internal/storage"
)

func TestDetectPatterns(t *testing.T) {
	d := NewPatternDetector(nil)

	tests := []struct {
		task         string
		wantPattern  string
		wantStrategy string
	}{
		{"fix the login bug", "debugging", "review"},
		{"investigate and analyze the scheduler", "research", "research"},
		{"design the notification system", "architecture", "full"},
		{"refactor and simplify the parser", "refactoring", "implement"},
		{"implement a new feature for exports", "implementation", "implement"},
		{"add pytest coverage for the cache", "testing", "review"},
		{"write a readme guide", "documentation", "research"},
		{"optimize slow cache performance", "optimization", "full"},
	}
	for _, tt := range tests {
		got := d.Detect(tt.task)
		if got.Pattern != tt.wantPattern {
			t.Errorf("Detect(%q).Pattern = %s, want %s", tt.task, got.Pattern, tt.wantPattern)
		}
		if got.SuggestedStrategy != tt.wantStrategy {
			t.Errorf("Detect(%q).SuggestedStrategy = %s, want %s", tt.task, got.SuggestedStrategy, tt.wantStrategy)
		}
		if got.Confidence <= 0 || got.Confidence > 1 {
			t.Errorf("Detect(%q).Confidence = %v, want in (0,1]", tt.task, got.Confidence)
		}
	}
}

func TestDetectUnknown(t *testing.T) {
	d := NewPatternDetector(nil)

	got := d.Detect("xylophone quartet rehearsal")
	if got.Pattern != "unknown" || got.Confidence != 0 || got.SuggestedStrategy != "implement" {
		t.Errorf("unmatched task = %+v", got)
	}
}

func TestDetectConfidenceScalesWithMatches(t *testing.T) {
	d := NewPatternDetector(nil)

	one := d.Detect("fix it")
	three := d.Detect("debug and fix the crash")
	if three.Confidence <= one.Confidence {
		t.Errorf("more keyword matches should raise confidence: %v vs %v",
			three.Confidence, one.Confidence)
	}
	if one.Confidence != 1.0/8.0 {
		t.Errorf("single-match confidence = %v, want 1/8", one.Confidence)
	}
}

func TestDetectTieBreaksInDeclarationOrder(t *testing.T) {
	d := NewPatternDetector(nil)

	// One debugging keyword and one testing keyword; debugging wins.
	got := d.Detect("test the fix")
	if got.Pattern != "debugging" {
		t.Errorf("tie broke to %s, want debugging", got.Pattern)
	}
}

func TestDetectAndRecord(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d := NewPatternDetector(db)
	result := d.DetectAndRecord("sess-1", "fix the login bug")

	var pattern, strategy string
	var confidence float64
	err = db.Conn().QueryRow(`
		SELECT detected_pattern, confidence, selected_strategy
		FROM patterns WHERE session_id = ?`, "sess-1").
		Scan(&pattern, &confidence, &strategy)
	if err != nil {
		t.Fatalf("pattern row missing: %v", err)
	}
	if pattern != result.Pattern || strategy != result.SuggestedStrategy {
		t.Errorf("stored (%s, %s) != detected (%s, %s)",
			pattern, strategy, result.Pattern, result.SuggestedStrategy)
	}
}
