package optimization

import "strconv"

// Edge is a dependency from one task to another.
type Edge struct {
	From string
	To   string
}

// TaskGraph is the dependency graph of a decomposed task.
type TaskGraph struct {
	Nodes        []string
	Edges        []Edge
	Complexities map[string]float64
}

// ExecutionStep is a group of tasks that can run concurrently. A
// single-element step runs alone.
type ExecutionStep []string

// TopologyResult is the chosen execution shape for a task graph.
type TopologyResult struct {
	Topology         string            `json:"topology"`
	AgentAssignments map[string]string `json:"agent_assignments"`
	ExecutionOrder   []ExecutionStep   `json:"execution_order"`
}

const (
	TopologyParallel     = "parallel"
	TopologySequential   = "sequential"
	TopologyHybrid       = "hybrid"
	TopologyHierarchical = "hierarchical"
)

// supervisorComplexity is the per-node complexity above which a
// supervisor agent coordinates the run.
const supervisorComplexity = 0.9

// TopologySelector picks an execution topology from graph structure.
type TopologySelector struct{}

func NewTopologySelector() *TopologySelector {
	return &TopologySelector{}
}

// Select chooses the topology for a task graph:
//   - no dependencies: one parallel batch
//   - any node above the supervisor threshold: hierarchical, checked
//     before the chain test so hard chains still get a supervisor
//   - single linear chain: sequential on one agent
//   - anything else: hybrid with level-ordered parallel groups
func (s *TopologySelector) Select(graph TaskGraph) TopologyResult {
	switch {
	case len(graph.Edges) == 0:
		assignments := make(map[string]string, len(graph.Nodes))
		for i, node := range graph.Nodes {
			assignments[node] = agentName(i)
		}
		return TopologyResult{
			Topology:         TopologyParallel,
			AgentAssignments: assignments,
			ExecutionOrder:   []ExecutionStep{append(ExecutionStep(nil), graph.Nodes...)},
		}

	case s.hasHighComplexityNode(graph):
		assignments := map[string]string{"supervisor": "agent_supervisor"}
		for i, node := range graph.Nodes {
			assignments[node] = agentName(i)
		}
		return TopologyResult{
			Topology:         TopologyHierarchical,
			AgentAssignments: assignments,
			ExecutionOrder:   s.topologicalSort(graph),
		}

	case s.isLinearChain(graph):
		assignments := make(map[string]string, len(graph.Nodes))
		for _, node := range graph.Nodes {
			assignments[node] = agentName(0)
		}
		return TopologyResult{
			Topology:         TopologySequential,
			AgentAssignments: assignments,
			ExecutionOrder:   s.topologicalSort(graph),
		}

	default:
		order := s.topologicalSort(graph)
		assignments := make(map[string]string, len(graph.Nodes))
		agentCount := 0
		for _, step := range order {
			if len(step) > 1 {
				// Parallel group members each get their own agent.
				for _, node := range step {
					assignments[node] = agentName(agentCount)
					agentCount++
				}
			} else if len(step) == 1 {
				// Sequential steps reuse the first agent.
				assignments[step[0]] = agentName(0)
			}
		}
		return TopologyResult{
			Topology:         TopologyHybrid,
			AgentAssignments: assignments,
			ExecutionOrder:   order,
		}
	}
}

// isLinearChain reports whether the graph is a single connected chain:
// exactly N-1 edges with every node at in/out degree one or less.
func (s *TopologySelector) isLinearChain(graph TaskGraph) bool {
	if len(graph.Edges) == 0 || len(graph.Edges) != len(graph.Nodes)-1 {
		return false
	}

	inDegree := make(map[string]int, len(graph.Nodes))
	outDegree := make(map[string]int, len(graph.Nodes))
	for _, e := range graph.Edges {
		outDegree[e.From]++
		inDegree[e.To]++
	}
	for _, node := range graph.Nodes {
		if inDegree[node] > 1 || outDegree[node] > 1 {
			return false
		}
	}
	return true
}

func (s *TopologySelector) hasHighComplexityNode(graph TaskGraph) bool {
	for _, c := range graph.Complexities {
		if c > supervisorComplexity {
			return true
		}
	}
	return false
}

// topologicalSort orders the graph in Kahn levels, grouping nodes that
// become ready together into one step.
func (s *TopologySelector) topologicalSort(graph TaskGraph) []ExecutionStep {
	inDegree := make(map[string]int, len(graph.Nodes))
	children := make(map[string][]string, len(graph.Nodes))
	for _, node := range graph.Nodes {
		inDegree[node] = 0
	}
	for _, e := range graph.Edges {
		children[e.From] = append(children[e.From], e.To)
		inDegree[e.To]++
	}

	var queue []string
	for _, node := range graph.Nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	var order []ExecutionStep
	for len(queue) > 0 {
		order = append(order, append(ExecutionStep(nil), queue...))

		var next []string
		for _, node := range queue {
			for _, child := range children[node] {
				inDegree[child]--
				if inDegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		queue = next
	}
	return order
}

func agentName(i int) string {
	return "agent_" + strconv.Itoa(i)
}
