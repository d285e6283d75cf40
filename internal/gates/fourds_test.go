package gates

import (
	"strings"
	"testing"

	"github.com/COORDINATOR/internal/events"
	"github.com/COORDINATOR/internal/types"
)

type captureSink struct {
	events []events.Event
}

func (c *captureSink) Log(e events.Event) { c.events = append(c.events, e) }

func TestDelegationBlocksHighRiskCombination(t *testing.T) {
	g := New(nil)

	profile := types.TaskProfile{
		Subjectivity:  0.8,
		Criticality:   0.9,
		Reversibility: 0.1,
	}
	res := g.Delegation("decide the company strategy", profile)
	if res.Approved {
		t.Error("high subjectivity + criticality + irreversibility should be blocked")
	}
	if !strings.Contains(res.Reason, "human judgment") {
		t.Errorf("unexpected reason: %s", res.Reason)
	}
}

func TestDelegationBlocksCriticalUnverifiable(t *testing.T) {
	g := New(nil)

	res := g.Delegation("migrate billing", types.TaskProfile{
		Criticality:   0.8,
		Verifiability: 0.2,
		Reversibility: 0.9,
	})
	if res.Approved {
		t.Error("critical + unverifiable should be blocked")
	}
	if !strings.Contains(res.Reason, "validation difficult") {
		t.Errorf("unexpected reason: %s", res.Reason)
	}

	res = g.Delegation("migrate billing", types.TaskProfile{
		Criticality:   0.8,
		Verifiability: 0.9,
		Reversibility: 0.2,
	})
	if res.Approved {
		t.Error("critical + irreversible should be blocked")
	}
	if !strings.Contains(res.Reason, "errors costly") {
		t.Errorf("unexpected reason: %s", res.Reason)
	}
}

func TestDelegationApprovesTypicalTask(t *testing.T) {
	g := New(nil)
	res := g.Delegation("add a helper function", types.TaskProfile{
		Criticality:   0.4,
		Verifiability: 0.8,
		Reversibility: 0.8,
	})
	if !res.Approved {
		t.Errorf("ordinary task should be approved: %s", res.Reason)
	}
}

func TestDescriptionScoring(t *testing.T) {
	g := New(nil)

	vague := g.Description("do the thing somehow")
	if vague.Score >= 0.6 {
		t.Errorf("vague description score = %v, want < 0.6", vague.Score)
	}
	if !strings.HasPrefix(vague.Suggestions, "Improve description:") {
		t.Errorf("unexpected suggestions: %s", vague.Suggestions)
	}

	good := g.Description(
		"Implement a rate limiter middleware that must reject requests above 100 per minute " +
			"and should include unit tests verifying the limit boundary")
	if good.Score < 0.8 {
		t.Errorf("detailed description score = %v, want >= 0.8", good.Score)
	}
	if good.Suggestions != "Description is clear and complete" {
		t.Errorf("unexpected suggestions: %s", good.Suggestions)
	}

	if vague.Score >= good.Score {
		t.Error("vague description should score below a specific one")
	}
}

func TestDiscernmentFlagsErrorOutput(t *testing.T) {
	g := New(nil)

	res := g.Discernment(
		"error: undefined is not a function",
		"a working rate limiter implementation with tests",
		types.TaskProfile{})
	if res.Score >= QualityThreshold {
		t.Errorf("error output score = %v, want < %v", res.Score, QualityThreshold)
	}
	if !strings.Contains(res.Issues[0], "flagged for human review") {
		t.Errorf("low score should be flagged first, got %v", res.Issues)
	}

	found := false
	for _, issue := range res.Issues {
		if issue == "Output contains error indicators" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected error-indicator issue, got %v", res.Issues)
	}
}

func TestDiscernmentAcceptsMatchingOutput(t *testing.T) {
	g := New(nil)

	expected := "implement rate limiter middleware with tests"
	output := "implemented the rate limiter middleware with tests covering the limit boundary"
	res := g.Discernment(output, expected, types.TaskProfile{})
	if res.Score < QualityThreshold {
		t.Errorf("matching output score = %v, want >= %v (issues %v)",
			res.Score, QualityThreshold, res.Issues)
	}
}

func TestDiligenceBlocksDestructiveIrreversible(t *testing.T) {
	g := New(nil)

	res := g.Diligence("wipe the database", types.TaskProfile{Reversibility: 0.1})
	if res.Safe {
		t.Error("destructive + reversibility < 0.15 should be blocked")
	}
	if !strings.HasPrefix(res.Warnings[0], "BLOCKED:") {
		t.Errorf("first warning should be the block, got %v", res.Warnings)
	}

	res = g.Diligence("delete the stored password file", types.TaskProfile{Reversibility: 0.18})
	if res.Safe {
		t.Error("sensitive + destructive + reversibility < 0.2 should be blocked")
	}
	if !strings.Contains(res.Warnings[0], "Sensitive + destructive") {
		t.Errorf("unexpected block message: %v", res.Warnings)
	}
}

func TestDiligenceWarnsWithoutBlocking(t *testing.T) {
	g := New(nil)

	res := g.Diligence("deploy the service to production", types.TaskProfile{
		Reversibility: 0.8,
		Verifiability: 0.4,
	})
	if !res.Safe {
		t.Errorf("production deploy should warn, not block: %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], "Production deployment") {
		t.Errorf("expected production warning, got %v", res.Warnings)
	}

	clean := g.Diligence("format the README", types.TaskProfile{Reversibility: 0.9})
	if !clean.Safe || clean.Warnings[0] != "No ethical or safety concerns detected" {
		t.Errorf("benign task got %v", clean.Warnings)
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	sink := &captureSink{}
	g := New(sink)

	g.Delegation("task", types.TaskProfile{Reversibility: 0.8, Verifiability: 0.8})
	g.Description("implement a parser")
	g.Diligence("task", types.TaskProfile{Reversibility: 0.8})

	if len(sink.events) != 3 {
		t.Fatalf("got %d audit events, want 3", len(sink.events))
	}
	for _, e := range sink.events {
		if e.Type != events.EventGateAudit {
			t.Errorf("event type = %s, want %s", e.Type, events.EventGateAudit)
		}
		if e.TaskID == "" || e.GateType == "" {
			t.Errorf("audit event missing identifiers: %+v", e)
		}
	}
	if sink.events[0].GateType != "delegation" || sink.events[1].GateType != "description" {
		t.Errorf("gate types = %s, %s", sink.events[0].GateType, sink.events[1].GateType)
	}
}

func TestTaskHashStable(t *testing.T) {
	a := TaskHash("same task")
	b := TaskHash("same task")
	if a != b || len(a) != 8 {
		t.Errorf("TaskHash not stable 8-char: %s vs %s", a, b)
	}
}
