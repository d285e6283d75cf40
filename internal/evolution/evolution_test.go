package evolution

import (
	"fmt"
	"testing"
	"time"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func outcome(id string, success bool, quality, complexity float64, subtasks int) types.EvolutionOutcome {
	return types.EvolutionOutcome{
		DelegationID: id,
		Success:      success,
		QualityScore: quality,
		Complexity:   complexity,
		SubtaskCount: subtasks,
		ActualCost:   0.1,
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		complexity float64
		want       string
	}{
		{0.0, "low"},
		{0.29, "low"},
		{0.3, "medium"},
		{0.6, "high"},
		{0.8, "very_high"},
		{1.0, "very_high"},
	}
	for _, tt := range tests {
		if got := BandFor(tt.complexity); got != tt.want {
			t.Errorf("BandFor(%v) = %s, want %s", tt.complexity, got, tt.want)
		}
	}
}

func TestRecordOutcomeClampsAndReplaces(t *testing.T) {
	e := newTestEngine(t)

	if err := e.RecordOutcome(types.EvolutionOutcome{}); err == nil {
		t.Error("empty delegation id should be rejected")
	}

	o := outcome("del-1", true, 1.5, 0.5, 3)
	if err := e.RecordOutcome(o); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	// Same id replaces.
	o.QualityScore = 0.4
	if err := e.RecordOutcome(o); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	trend, err := e.learnQualityTrend()
	if err != nil {
		t.Fatal(err)
	}
	if trend.SampleSize != 1 {
		t.Errorf("sample size = %d, want 1 after replace", trend.SampleSize)
	}
	if trend.EMAQuality != 0.4 {
		t.Errorf("quality = %v, want clamped/replaced 0.4", trend.EMAQuality)
	}
}

func TestEvolveStrategiesDecomposition(t *testing.T) {
	e := newTestEngine(t)

	// Medium-band successes with three subtasks, one low-quality outlier
	// with nine.
	for i := 0; i < 5; i++ {
		if err := e.RecordOutcome(outcome(fmt.Sprintf("del-%d", i), true, 0.9, 0.5, 3)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.RecordOutcome(outcome("del-outlier", true, 0.1, 0.5, 9)); err != nil {
		t.Fatal(err)
	}

	result, err := e.EvolveStrategies()
	if err != nil {
		t.Fatalf("EvolveStrategies failed: %v", err)
	}

	medium, ok := result.Decomposition["medium"]
	if !ok {
		t.Fatal("medium band missing from decomposition")
	}
	if medium.SampleSize != 6 {
		t.Errorf("sample size = %d, want 6", medium.SampleSize)
	}
	// Quality weighting keeps the optimum near 3 despite the outlier.
	if medium.OptimalSubtaskCount < 3.0 || medium.OptimalSubtaskCount > 4.0 {
		t.Errorf("optimal subtask count = %v, want near 3", medium.OptimalSubtaskCount)
	}

	// The weight is persisted.
	if got := e.GetWeight("decomp_medium", 0); got != medium.OptimalSubtaskCount {
		t.Errorf("persisted weight = %v, want %v", got, medium.OptimalSubtaskCount)
	}
}

func TestQualityTrendDirection(t *testing.T) {
	e := newTestEngine(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		quality := 0.3
		if i >= 5 {
			quality = 0.9
		}
		o := outcome(fmt.Sprintf("del-%d", i), true, quality, 0.5, 2)
		o.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := e.RecordOutcome(o); err != nil {
			t.Fatal(err)
		}
	}

	trend, err := e.learnQualityTrend()
	if err != nil {
		t.Fatal(err)
	}
	if trend.Trend != "improving" {
		t.Errorf("trend = %s, want improving", trend.Trend)
	}
	if trend.EMAQuality < 0.7 {
		t.Errorf("EMA = %v, want weighted toward recent 0.9", trend.EMAQuality)
	}
}

func TestAgentAffinity(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 4; i++ {
		o := outcome(fmt.Sprintf("del-a%d", i), true, 0.8, 0.5, 2)
		o.AgentIDs = []string{"agent-good"}
		if err := e.RecordOutcome(o); err != nil {
			t.Fatal(err)
		}
	}
	bad := outcome("del-b0", false, 0.2, 0.5, 2)
	bad.AgentIDs = []string{"agent-bad"}
	if err := e.RecordOutcome(bad); err != nil {
		t.Fatal(err)
	}

	result, err := e.EvolveStrategies()
	if err != nil {
		t.Fatal(err)
	}

	good := result.AgentAffinity["agent-good"]
	if good.SuccessRate != 1.0 || good.TotalDelegations != 4 {
		t.Errorf("agent-good affinity = %+v", good)
	}
	if result.AgentAffinity["agent-bad"].SuccessRate != 0.0 {
		t.Errorf("agent-bad affinity = %+v", result.AgentAffinity["agent-bad"])
	}
}

func TestCostEfficiency(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 4; i++ {
		o := outcome(fmt.Sprintf("del-%d", i), true, 0.5, 0.5, 2)
		o.ActualCost = 1.0
		if err := e.RecordOutcome(o); err != nil {
			t.Fatal(err)
		}
	}

	cost, err := e.learnCostEfficiency()
	if err != nil {
		t.Fatal(err)
	}
	if cost.SampleSize != 4 || cost.AvgCost != 1.0 {
		t.Errorf("cost efficiency = %+v", cost)
	}
	if cost.AvgCostPerQuality != 2.0 {
		t.Errorf("cost per quality = %v, want 2.0", cost.AvgCostPerQuality)
	}
}

func TestWeights(t *testing.T) {
	e := newTestEngine(t)

	if got := e.GetWeight("missing", 0.42); got != 0.42 {
		t.Errorf("default weight = %v, want 0.42", got)
	}
	if err := e.SetWeight("ema_quality", 0.875); err != nil {
		t.Fatal(err)
	}
	if got := e.GetWeight("ema_quality", 0); got != 0.875 {
		t.Errorf("stored weight = %v, want 0.875", got)
	}
}

func TestPerformanceTrends(t *testing.T) {
	e := newTestEngine(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		o := outcome(fmt.Sprintf("del-today-%d", i), true, 0.8, 0.5, 2)
		o.Timestamp = now
		if err := e.RecordOutcome(o); err != nil {
			t.Fatal(err)
		}
	}
	old := outcome("del-ancient", true, 0.8, 0.5, 2)
	old.Timestamp = now.Add(-60 * 24 * time.Hour)
	if err := e.RecordOutcome(old); err != nil {
		t.Fatal(err)
	}

	trends, err := e.GetPerformanceTrends(30)
	if err != nil {
		t.Fatalf("GetPerformanceTrends failed: %v", err)
	}
	if trends.Summary.TotalDelegations != 3 {
		t.Errorf("window total = %d, want 3 (ancient row excluded)", trends.Summary.TotalDelegations)
	}
	if trends.Summary.ActiveDays != 1 {
		t.Errorf("active days = %d, want 1", trends.Summary.ActiveDays)
	}
	if trends.Summary.OverallSuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0", trends.Summary.OverallSuccessRate)
	}
}

func TestRecommendations(t *testing.T) {
	e := newTestEngine(t)

	recs, err := e.GetRecommendations()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0] != "System is performing within normal parameters." {
		t.Errorf("empty-store recommendations = %v", recs)
	}

	for i := 0; i < 10; i++ {
		if err := e.RecordOutcome(outcome(fmt.Sprintf("del-%d", i), i < 3, 0.4, 0.5, 1)); err != nil {
			t.Fatal(err)
		}
	}
	recs, err = e.GetRecommendations()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) < 2 {
		t.Errorf("low success rate + shallow decomposition should both be flagged: %v", recs)
	}
}
