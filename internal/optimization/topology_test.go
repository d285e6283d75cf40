package optimization

import (
	"reflect"
	"testing"
)

func TestSelectParallelWhenNoDependencies(t *testing.T) {
	s := NewTopologySelector()

	result := s.Select(TaskGraph{Nodes: []string{"a", "b", "c"}})
	if result.Topology != TopologyParallel {
		t.Fatalf("topology = %s, want parallel", result.Topology)
	}
	if len(result.ExecutionOrder) != 1 || len(result.ExecutionOrder[0]) != 3 {
		t.Errorf("execution order = %v, want one batch of 3", result.ExecutionOrder)
	}
	if result.AgentAssignments["a"] == result.AgentAssignments["b"] {
		t.Errorf("parallel tasks share an agent: %v", result.AgentAssignments)
	}
}

func TestSelectSequentialForLinearChain(t *testing.T) {
	s := NewTopologySelector()

	result := s.Select(TaskGraph{
		Nodes: []string{"a", "b", "c"},
		Edges: []Edge{{"a", "b"}, {"b", "c"}},
	})
	if result.Topology != TopologySequential {
		t.Fatalf("topology = %s, want sequential", result.Topology)
	}

	want := []ExecutionStep{{"a"}, {"b"}, {"c"}}
	if !reflect.DeepEqual(result.ExecutionOrder, want) {
		t.Errorf("execution order = %v, want %v", result.ExecutionOrder, want)
	}
	for node, agent := range result.AgentAssignments {
		if agent != "agent_0" {
			t.Errorf("chain node %s on %s, want agent_0", node, agent)
		}
	}
}

func TestSelectHierarchicalBeatsChainCheck(t *testing.T) {
	s := NewTopologySelector()

	// A linear chain, but one node is hard enough to need supervision.
	result := s.Select(TaskGraph{
		Nodes:        []string{"a", "b"},
		Edges:        []Edge{{"a", "b"}},
		Complexities: map[string]float64{"a": 0.95},
	})
	if result.Topology != TopologyHierarchical {
		t.Fatalf("topology = %s, want hierarchical", result.Topology)
	}
	if result.AgentAssignments["supervisor"] != "agent_supervisor" {
		t.Errorf("supervisor missing from assignments: %v", result.AgentAssignments)
	}
	if result.AgentAssignments["a"] != "agent_0" || result.AgentAssignments["b"] != "agent_1" {
		t.Errorf("worker assignments = %v", result.AgentAssignments)
	}
}

func TestSelectHybridForDiamond(t *testing.T) {
	s := NewTopologySelector()

	result := s.Select(TaskGraph{
		Nodes: []string{"a", "b", "c", "d"},
		Edges: []Edge{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
	})
	if result.Topology != TopologyHybrid {
		t.Fatalf("topology = %s, want hybrid", result.Topology)
	}

	want := []ExecutionStep{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(result.ExecutionOrder, want) {
		t.Errorf("execution order = %v, want %v", result.ExecutionOrder, want)
	}

	// The parallel pair gets distinct agents; sequential steps reuse
	// the first agent.
	if result.AgentAssignments["b"] == result.AgentAssignments["c"] {
		t.Errorf("parallel pair shares an agent: %v", result.AgentAssignments)
	}
	if result.AgentAssignments["a"] != "agent_0" || result.AgentAssignments["d"] != "agent_0" {
		t.Errorf("sequential steps = %v, want agent_0", result.AgentAssignments)
	}
}

func TestSelectSingleNode(t *testing.T) {
	s := NewTopologySelector()

	result := s.Select(TaskGraph{Nodes: []string{"only"}})
	if result.Topology != TopologyParallel {
		t.Errorf("topology = %s, want parallel", result.Topology)
	}
	if result.AgentAssignments["only"] != "agent_0" {
		t.Errorf("assignments = %v", result.AgentAssignments)
	}
}

func TestIsLinearChainRejectsFanOut(t *testing.T) {
	s := NewTopologySelector()

	fanOut := TaskGraph{
		Nodes: []string{"a", "b", "c"},
		Edges: []Edge{{"a", "b"}, {"a", "c"}},
	}
	if s.isLinearChain(fanOut) {
		t.Error("fan-out graph is not a linear chain")
	}

	result := s.Select(fanOut)
	if result.Topology != TopologyHybrid {
		t.Errorf("fan-out topology = %s, want hybrid", result.Topology)
	}
}
