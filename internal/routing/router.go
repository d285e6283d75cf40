package routing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/COORDINATOR/internal/types"
)

// MinComplexityForDelegation is the strict lower bound below which a
// subtask executes directly instead of being delegated.
const MinComplexityForDelegation = 0.2

// Scoring weights: capability match dominates, trust second, cost last.
const (
	weightCapability = 0.6
	weightTrust      = 0.3
	weightCost       = 0.1
)

const maxFallbacks = 3

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "from": {}, "with": {}, "this": {},
	"that": {}, "are": {}, "was": {}, "will": {}, "can": {}, "has": {},
	"have": {}, "been": {}, "get": {}, "set": {}, "list": {}, "find": {},
	"search": {}, "load": {}, "create": {},
}

var wordPattern = regexp.MustCompile(`\w+`)

// Keywords extracts the routing keyword set of a text: word tokens of
// length >= 4, lower-cased, stop-word filtered, deduplicated.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 4 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// CapabilityMatch is the overlap ratio of two keyword sets, normalized
// by the larger set. Empty sets never match.
func CapabilityMatch(subtaskKeywords, agentKeywords []string) float64 {
	if len(subtaskKeywords) == 0 || len(agentKeywords) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(subtaskKeywords))
	for _, k := range subtaskKeywords {
		set[k] = struct{}{}
	}
	overlap := 0
	for _, k := range agentKeywords {
		if _, ok := set[k]; ok {
			overlap++
		}
	}
	denom := len(subtaskKeywords)
	if len(agentKeywords) > denom {
		denom = len(agentKeywords)
	}
	return float64(overlap) / float64(denom)
}

// Router matches subtasks to agents by capability, trust, and cost.
type Router struct{}

// New returns a router.
func New() *Router {
	return &Router{}
}

// Route produces an assignment for one subtask. trustScores maps agent
// id to current trust; missing agents default to 0.5.
func (r *Router) Route(subtask types.SubTask, agents []types.AgentCapability, trustScores map[string]float64) types.Assignment {
	now := time.Now().UTC()

	// Trivial subtasks are cheaper to run in-process than to delegate.
	if subtask.Profile.Complexity < MinComplexityForDelegation {
		return types.Assignment{
			SubtaskID:       subtask.ID,
			AgentID:         types.DirectExecution,
			TrustScore:      1.0,
			CapabilityMatch: 1.0,
			Timestamp:       now,
			Reasoning:       fmt.Sprintf("complexity %.2f below delegation threshold", subtask.Profile.Complexity),
			Metadata:        map[string]string{"delegation_bypassed": "true"},
		}
	}

	if len(agents) == 0 {
		return types.Assignment{
			SubtaskID:  subtask.ID,
			AgentID:    types.DirectExecution,
			TrustScore: 0.5,
			Timestamp:  now,
			Reasoning:  "no agents available",
			Metadata:   map[string]string{"no_agents_available": "true"},
		}
	}

	subtaskKeywords := Keywords(subtask.Description)

	type scored struct {
		agent types.AgentCapability
		match float64
		trust float64
		final float64
	}
	ranked := make([]scored, 0, len(agents))

	for _, agent := range agents {
		agentKeywords := agent.Keywords
		if len(agentKeywords) == 0 {
			agentKeywords = Keywords(agent.Description)
		}
		match := CapabilityMatch(subtaskKeywords, agentKeywords)

		trust, ok := trustScores[agent.AgentID]
		if !ok {
			trust = 0.5
		}

		costDiff := subtask.EstimatedCost - agent.EstimatedCost
		if costDiff < 0 {
			costDiff = -costDiff
		}
		costEfficiency := 1.0 - costDiff

		ranked = append(ranked, scored{
			agent: agent,
			match: match,
			trust: trust,
			final: weightCapability*match + weightTrust*trust + weightCost*costEfficiency,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].final > ranked[j].final })

	winner := ranked[0]
	fallbacks := make([]string, 0, maxFallbacks)
	for _, s := range ranked[1:] {
		if len(fallbacks) == maxFallbacks {
			break
		}
		fallbacks = append(fallbacks, s.agent.AgentID)
	}

	return types.Assignment{
		SubtaskID:       subtask.ID,
		AgentID:         winner.agent.AgentID,
		TrustScore:      winner.trust,
		CapabilityMatch: winner.match,
		Timestamp:       now,
		Reasoning: fmt.Sprintf("capability %.2f, trust %.2f, score %.2f",
			winner.match, winner.trust, winner.final),
		FallbackAgents: fallbacks,
	}
}

// RouteBatch routes every subtask independently.
func (r *Router) RouteBatch(subtasks []types.SubTask, agents []types.AgentCapability, trustScores map[string]float64) []types.Assignment {
	assignments := make([]types.Assignment, 0, len(subtasks))
	for _, st := range subtasks {
		assignments = append(assignments, r.Route(st, agents, trustScores))
	}
	return assignments
}
