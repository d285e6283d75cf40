package trust

import (
	"testing"
	"time"

	"github.com/COORDINATOR/internal/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLedger(db)
}

func TestRecordOutcomeValidation(t *testing.T) {
	l := newTestLedger(t)

	if err := l.RecordOutcome("agent-a", "research", true, 1.5, 1); err == nil {
		t.Error("quality > 1 should be rejected")
	}
	if err := l.RecordOutcome("agent-a", "research", true, -0.1, 1); err == nil {
		t.Error("quality < 0 should be rejected")
	}
	if err := l.RecordOutcome("agent-a", "research", true, 0.5, -1); err == nil {
		t.Error("negative duration should be rejected")
	}
}

func TestBayesianTrustFormula(t *testing.T) {
	l := newTestLedger(t)

	// One success: (1+1)/(1+0+2) = 2/3.
	if err := l.RecordOutcome("agent-a", "research", true, 0.9, 2); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	got := l.GetTrustScore("agent-a", "research")
	want := 2.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("trust after one success = %v, want %v", got, want)
	}

	// Add one failure: (1+1)/(1+1+2) = 0.5.
	if err := l.RecordOutcome("agent-a", "research", false, 0.2, 2); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	got = l.GetTrustScore("agent-a", "research")
	if got != 0.5 {
		t.Errorf("trust after 1/1 = %v, want 0.5", got)
	}
}

func TestTrustGrowth(t *testing.T) {
	l := newTestLedger(t)

	for i := 0; i < 10; i++ {
		if err := l.RecordOutcome("agent-a", "build", true, 0.9, 1); err != nil {
			t.Fatalf("RecordOutcome %d failed: %v", i, err)
		}
	}

	got := l.GetTrustScore("agent-a", "build")
	if got < 0.85 {
		t.Errorf("trust after ten successes = %v, want >= 0.85", got)
	}
}

func TestDefaultTrustForUnknownAgent(t *testing.T) {
	l := newTestLedger(t)
	if got := l.GetTrustScore("nobody", "anything"); got != DefaultTrust {
		t.Errorf("unknown agent trust = %v, want %v", got, DefaultTrust)
	}
}

func TestDecayAfterSevenDays(t *testing.T) {
	l := newTestLedger(t)

	if err := l.RecordOutcome("agent-a", "review", true, 0.8, 1); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	fresh := l.GetTrustScore("agent-a", "review")

	// Advance the clock past the decay horizon.
	l.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	l.cache.Flush()

	stale := l.GetTrustScore("agent-a", "review")
	want := fresh * DecayFactor
	if diff := stale - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("decayed trust = %v, want %v", stale, want)
	}

	// Decay is observational: the stored row is unchanged.
	stats, err := l.GetAgentStats("agent-a", "review")
	if err != nil {
		t.Fatalf("GetAgentStats failed: %v", err)
	}
	if diff := stats.TrustScore - fresh; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("stored trust = %v, want undecayed %v", stats.TrustScore, fresh)
	}
}

func TestGetTopAgents(t *testing.T) {
	l := newTestLedger(t)

	for i := 0; i < 5; i++ {
		if err := l.RecordOutcome("agent-strong", "build", true, 0.9, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.RecordOutcome("agent-weak", "build", false, 0.2, 1); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordOutcome("agent-other", "review", true, 0.8, 1); err != nil {
		t.Fatal(err)
	}

	top, err := l.GetTopAgents("build", 5)
	if err != nil {
		t.Fatalf("GetTopAgents failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d entries for build, want 2", len(top))
	}
	if top[0].AgentID != "agent-strong" {
		t.Errorf("top agent = %s, want agent-strong", top[0].AgentID)
	}

	all, err := l.GetTopAgents("", 10)
	if err != nil {
		t.Fatalf("GetTopAgents all failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d entries across task types, want 3", len(all))
	}
}

func TestRunningAverages(t *testing.T) {
	l := newTestLedger(t)

	if err := l.RecordOutcome("agent-a", "build", true, 0.4, 2); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordOutcome("agent-a", "build", true, 0.8, 4); err != nil {
		t.Fatal(err)
	}

	stats, err := l.GetAgentStats("agent-a", "build")
	if err != nil {
		t.Fatalf("GetAgentStats failed: %v", err)
	}
	if diff := stats.AvgQuality - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg quality = %v, want 0.6", stats.AvgQuality)
	}
	if diff := stats.AvgDuration - 3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg duration = %v, want 3.0", stats.AvgDuration)
	}
}
