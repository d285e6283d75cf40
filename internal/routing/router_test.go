package routing

import (
	"testing"

	"github.com/COORDINATOR/internal/types"
)

func TestKeywordsFiltering(t *testing.T) {
	got := Keywords("Search the codebase and refactor the parser parser")

	for _, kw := range got {
		if len(kw) < 4 {
			t.Errorf("keyword %q shorter than 4 chars", kw)
		}
		if kw == "the" || kw == "and" || kw == "search" {
			t.Errorf("stop word %q not filtered", kw)
		}
	}

	seen := map[string]int{}
	for _, kw := range got {
		seen[kw]++
	}
	if seen["parser"] != 1 {
		t.Errorf("duplicate keyword not removed: %v", got)
	}
}

func TestCapabilityMatch(t *testing.T) {
	tests := []struct {
		name    string
		subtask []string
		agent   []string
		want    float64
	}{
		{"identical", []string{"parse", "tokenize"}, []string{"parse", "tokenize"}, 1.0},
		{"half overlap larger agent", []string{"parse"}, []string{"parse", "emit"}, 0.5},
		{"no overlap", []string{"parse"}, []string{"deploy"}, 0},
		{"empty subtask", nil, []string{"parse"}, 0},
		{"empty agent", []string{"parse"}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CapabilityMatch(tt.subtask, tt.agent); got != tt.want {
				t.Errorf("CapabilityMatch = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouteBypassesTrivialSubtask(t *testing.T) {
	r := New()
	subtask := types.SubTask{
		ID:          "subtask-1",
		Description: "print the current version",
		Profile:     types.TaskProfile{Complexity: 0.1},
	}
	agents := []types.AgentCapability{{AgentID: "agent-a", Keywords: []string{"print"}}}

	a := r.Route(subtask, agents, nil)

	if a.AgentID != types.DirectExecution {
		t.Fatalf("agent = %s, want DIRECT_EXECUTION", a.AgentID)
	}
	if a.Metadata["delegation_bypassed"] != "true" {
		t.Error("bypass metadata missing")
	}
	if a.TrustScore != 1.0 || a.CapabilityMatch != 1.0 {
		t.Errorf("bypass scores = %v/%v, want 1.0/1.0", a.TrustScore, a.CapabilityMatch)
	}
}

func TestRouteExactThresholdDelegates(t *testing.T) {
	// 0.2 exactly is NOT below the strict threshold, so it delegates.
	r := New()
	subtask := types.SubTask{
		ID:          "subtask-1",
		Description: "refactor authentication module",
		Profile:     types.TaskProfile{Complexity: 0.2},
	}
	agents := []types.AgentCapability{{AgentID: "agent-a", Keywords: []string{"refactor", "authentication"}}}

	a := r.Route(subtask, agents, nil)
	if a.AgentID == types.DirectExecution {
		t.Error("complexity 0.2 exactly should delegate, not bypass")
	}
}

func TestRouteNoAgentsFallsBack(t *testing.T) {
	r := New()
	subtask := types.SubTask{
		ID:          "subtask-1",
		Description: "implement the scheduler",
		Profile:     types.TaskProfile{Complexity: 0.5},
	}

	a := r.Route(subtask, nil, nil)
	if a.AgentID != types.DirectExecution {
		t.Fatalf("agent = %s, want DIRECT_EXECUTION", a.AgentID)
	}
	if a.Metadata["no_agents_available"] != "true" {
		t.Error("no-agents metadata missing")
	}
	if a.TrustScore != 0.5 {
		t.Errorf("trust = %v, want 0.5", a.TrustScore)
	}
}

func TestRouteRankingAndFallbacks(t *testing.T) {
	r := New()
	subtask := types.SubTask{
		ID:            "subtask-1",
		Description:   "implement database migration tooling",
		EstimatedCost: 0.5,
		Profile:       types.TaskProfile{Complexity: 0.6},
	}
	agents := []types.AgentCapability{
		{AgentID: "agent-db", Keywords: []string{"database", "migration", "tooling"}, EstimatedCost: 0.5},
		{AgentID: "agent-ui", Keywords: []string{"frontend", "styling"}, EstimatedCost: 0.5},
		{AgentID: "agent-gen", Keywords: []string{"implement", "tooling"}, EstimatedCost: 0.5},
		{AgentID: "agent-doc", Keywords: []string{"documentation"}, EstimatedCost: 0.5},
		{AgentID: "agent-ops", Keywords: []string{"deploy"}, EstimatedCost: 0.5},
	}
	trust := map[string]float64{"agent-db": 0.9, "agent-ui": 0.9}

	a := r.Route(subtask, agents, trust)

	if a.AgentID != "agent-db" {
		t.Fatalf("winner = %s, want agent-db", a.AgentID)
	}
	if len(a.FallbackAgents) != 3 {
		t.Errorf("fallback chain length = %d, want 3", len(a.FallbackAgents))
	}
	for _, fb := range a.FallbackAgents {
		if fb == "agent-db" {
			t.Error("winner must not appear in fallback chain")
		}
	}
}

func TestRouteBatch(t *testing.T) {
	r := New()
	subtasks := []types.SubTask{
		{ID: "s1", Description: "analyze query planner", Profile: types.TaskProfile{Complexity: 0.5}},
		{ID: "s2", Description: "show version", Profile: types.TaskProfile{Complexity: 0.1}},
	}
	agents := []types.AgentCapability{{AgentID: "agent-a", Keywords: []string{"analyze", "query"}}}

	assignments := r.RouteBatch(subtasks, agents, nil)
	if len(assignments) != 2 {
		t.Fatalf("got %d assignments, want 2", len(assignments))
	}
	if assignments[0].AgentID != "agent-a" {
		t.Errorf("s1 routed to %s, want agent-a", assignments[0].AgentID)
	}
	if assignments[1].AgentID != types.DirectExecution {
		t.Errorf("s2 routed to %s, want DIRECT_EXECUTION", assignments[1].AgentID)
	}
}
