package optimization

import (
	"sort"

	"github.com/COORDINATOR/internal/types"
)

// TaskInfo carries the uncertainty signals for one task.
type TaskInfo struct {
	ID                    string  `json:"id"`
	Description           string  `json:"description"`
	Complexity            float64 `json:"complexity"`
	HistoricalFailureRate float64 `json:"historical_failure_rate"`
	DQVariance            float64 `json:"dq_variance"`
}

// Allocation is the resource grant for one task.
type Allocation struct {
	TaskID         string `json:"task_id"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	AgentCount     int    `json:"agent_count"`
}

// Entropy component weights.
const (
	entropyComplexityWeight = 0.4
	entropyFailureWeight    = 0.3
	entropyVarianceWeight   = 0.3
)

// modelCosts are normalized cost-per-second rates used for budgeting.
var modelCosts = map[string]float64{
	types.TierHaiku:  0.1,
	types.TierSonnet: 0.5,
	types.TierOpus:   2.0,
}

// EntropyAllocator grants models, timeouts, and agent counts from task
// entropy, spending a budget on the most uncertain tasks first.
type EntropyAllocator struct{}

func NewEntropyAllocator() *EntropyAllocator {
	return &EntropyAllocator{}
}

// Entropy scores a task's uncertainty in [0,1].
func (a *EntropyAllocator) Entropy(task TaskInfo) float64 {
	return entropyComplexityWeight*task.Complexity +
		entropyFailureWeight*task.HistoricalFailureRate +
		entropyVarianceWeight*task.DQVariance
}

// resourcesFor maps an entropy score to a model, timeout, and agent
// count. High entropy gets opus with a second agent for redundancy.
func (a *EntropyAllocator) resourcesFor(entropy float64) (string, int, int) {
	switch {
	case entropy > 0.7:
		return types.TierOpus, 600, 2
	case entropy > 0.3:
		return types.TierSonnet, 300, 1
	default:
		return types.TierHaiku, 120, 1
	}
}

func (a *EntropyAllocator) cost(model string, timeout int) float64 {
	return modelCosts[model] * float64(timeout)
}

// Allocate grants resources to tasks in descending entropy order until
// the budget runs out. An unaffordable grant is downgraded through
// sonnet to haiku; when even haiku does not fit, allocation stops.
func (a *EntropyAllocator) Allocate(tasks []TaskInfo, budget float64) []Allocation {
	type scored struct {
		task    TaskInfo
		entropy float64
	}
	ranked := make([]scored, len(tasks))
	for i, task := range tasks {
		ranked[i] = scored{task: task, entropy: a.Entropy(task)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].entropy > ranked[j].entropy
	})

	var allocations []Allocation
	totalCost := 0.0

	for _, s := range ranked {
		model, timeout, agentCount := a.resourcesFor(s.entropy)
		cost := a.cost(model, timeout)

		if totalCost+cost <= budget {
			allocations = append(allocations, Allocation{
				TaskID:         s.task.ID,
				Model:          model,
				TimeoutSeconds: timeout,
				AgentCount:     agentCount,
			})
			totalCost += cost
			continue
		}

		if model == types.TierOpus {
			cost = a.cost(types.TierSonnet, 300)
			if totalCost+cost <= budget {
				allocations = append(allocations, Allocation{
					TaskID:         s.task.ID,
					Model:          types.TierSonnet,
					TimeoutSeconds: 300,
					AgentCount:     1,
				})
				totalCost += cost
				continue
			}
		}
		if model == types.TierOpus || model == types.TierSonnet {
			cost = a.cost(types.TierHaiku, 120)
			if totalCost+cost <= budget {
				allocations = append(allocations, Allocation{
					TaskID:         s.task.ID,
					Model:          types.TierHaiku,
					TimeoutSeconds: 120,
					AgentCount:     1,
				})
				totalCost += cost
				continue
			}
		}

		// Even the cheapest grant does not fit.
		break
	}

	return allocations
}
