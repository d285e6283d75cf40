package orchestrator

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/COORDINATOR/internal/types"
)

// Distribution DQ weights: validity 40%, specificity 30%, correctness
// (historical accuracy) 30%.
var distDQWeights = struct {
	validity, specificity, correctness float64
}{0.4, 0.3, 0.3}

// Complexity bands for model selection, half-open [min, max).
var complexityBands = []struct {
	model    string
	min, max float64
}{
	{types.TierHaiku, 0.0, 0.30},
	{types.TierSonnet, 0.30, 0.70},
	{types.TierOpus, 0.70, 1.0},
}

// Cost per million tokens by tier.
var costPerMTok = map[string]struct{ input, output float64 }{
	types.TierHaiku:  {0.25, 1.25},
	types.TierSonnet: {3.0, 15.0},
	types.TierOpus:   {5.0, 25.0},
}

// bestFor maps task-type hints to the cheapest tier suited to them.
var bestFor = map[string][]string{
	types.TierHaiku:  {"explore", "read", "search", "simple review"},
	types.TierSonnet: {"implement", "refactor", "debug", "test", "review"},
	types.TierOpus:   {"architecture", "research", "complex design", "multi-step planning"},
}

// TaskAssignment is one subtask's model assignment.
type TaskAssignment struct {
	Subtask      string   `json:"subtask"`
	Model        string   `json:"model"`
	Complexity   float64  `json:"complexity"`
	DQScore      float64  `json:"dq_score"`
	CostEstimate float64  `json:"cost_estimate"`
	Priority     int      `json:"priority"`
	AgentType    string   `json:"agent_type"`
	Files        []string `json:"files,omitempty"`
	LockType     string   `json:"lock_type"`
}

// SubtaskSpec is the distributor's input: one planned unit of work.
type SubtaskSpec struct {
	Subtask   string   `json:"subtask"`
	Files     []string `json:"files,omitempty"`
	LockType  string   `json:"lock_type,omitempty"`
	AgentType string   `json:"agent_type,omitempty"`
	Priority  *int     `json:"priority,omitempty"`
}

// Distributor assigns models to subtasks by complexity and DQ score.
// Model accuracy history, when present in the baselines file, feeds the
// correctness component.
type Distributor struct {
	modelAccuracy map[string]float64
}

// NewDistributor loads model-accuracy baselines from path when it
// exists; a missing or malformed file leaves history empty.
func NewDistributor(baselinesPath string) *Distributor {
	d := &Distributor{modelAccuracy: map[string]float64{}}
	if baselinesPath == "" {
		return d
	}
	data, err := os.ReadFile(baselinesPath)
	if err != nil {
		return d
	}
	var raw struct {
		ModelAccuracy map[string]float64 `json:"model_accuracy"`
	}
	if err := json.Unmarshal(data, &raw); err == nil && raw.ModelAccuracy != nil {
		d.modelAccuracy = raw.ModelAccuracy
	}
	return d
}

var highComplexityKeywords = []string{
	"architecture", "design", "refactor", "rewrite", "optimize",
	"complex", "system", "framework", "integrate", "migrate",
	"security", "performance", "scalable", "distributed",
}

var mediumComplexityKeywords = []string{
	"implement", "create", "build", "add", "modify", "update",
	"fix", "debug", "test", "analyze", "review",
}

var lowComplexityKeywords = []string{
	"read", "find", "search", "list", "check", "show",
	"simple", "quick", "basic", "minor",
}

// EstimateComplexity scores a subtask in [0,1] from keyword signals and
// file-operation hints, starting from a 0.3 base.
func (d *Distributor) EstimateComplexity(subtask, context string) float64 {
	text := strings.ToLower(subtask + " " + context)
	score := 0.3

	for _, kw := range highComplexityKeywords {
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	for _, kw := range mediumComplexityKeywords {
		if strings.Contains(text, kw) {
			score += 0.05
		}
	}
	for _, kw := range lowComplexityKeywords {
		if strings.Contains(text, kw) {
			score -= 0.05
		}
	}

	for _, op := range []string{"write", "edit", "create file", "modify"} {
		if strings.Contains(text, op) {
			score += 0.1
			break
		}
	}
	for _, op := range []string{"multiple files", "several files", "across files"} {
		if strings.Contains(text, op) {
			score += 0.1
			break
		}
	}

	return math.Max(0, math.Min(1, score))
}

// SelectModel picks a tier for a complexity score, honoring task-type
// hints when the complexity does not exceed the hinted tier's band.
func (d *Distributor) SelectModel(complexity float64, taskType string) string {
	if taskType != "" {
		hint := strings.ToLower(taskType)
		for _, band := range complexityBands {
			for _, suited := range bestFor[band.model] {
				if hint == suited {
					if complexity > band.max {
						continue
					}
					return band.model
				}
			}
		}
	}

	for _, band := range complexityBands {
		if complexity >= band.min && complexity < band.max {
			return band.model
		}
	}
	if complexity >= 0.7 {
		return types.TierOpus
	}
	return types.TierSonnet
}

// EstimateCost prices a subtask for a tier. With no token estimate it
// derives one from the task length plus a base context allowance.
func (d *Distributor) EstimateCost(subtask, model string, estimatedTokens int) float64 {
	var inputTokens, outputTokens int
	if estimatedTokens <= 0 {
		words := float64(len(strings.Fields(subtask)))
		inputTokens = int(math.Max(150, words*1.5)) + 1000
		outputTokens = int(math.Max(500, words*5))
	} else {
		inputTokens = int(float64(estimatedTokens) * 0.3)
		outputTokens = int(float64(estimatedTokens) * 0.7)
	}

	costs, ok := costPerMTok[model]
	if !ok {
		costs = costPerMTok[types.TierSonnet]
	}
	return float64(inputTokens)/1e6*costs.input + float64(outputTokens)/1e6*costs.output
}

// CalculateDQScore scores one task-model pairing.
func (d *Distributor) CalculateDQScore(subtask, model string, complexity float64) float64 {
	var band struct{ min, max float64 }
	for _, b := range complexityBands {
		if b.model == model {
			band.min, band.max = b.min, b.max
			break
		}
	}

	validity := 0.4
	if complexity >= band.min && complexity < band.max {
		validity = 1.0
	} else if math.Abs(complexity-(band.min+band.max)/2) < 0.15 {
		validity = 0.7
	}

	specificity := 0.5
	if len(subtask) > 50 {
		specificity += 0.2
	}
	lower := strings.ToLower(subtask)
	for _, word := range []string{"specifically", "exactly", "only"} {
		if strings.Contains(lower, word) {
			specificity += 0.15
			break
		}
	}
	for _, word := range []string{"maybe", "perhaps", "might"} {
		if strings.Contains(lower, word) {
			specificity -= 0.15
			break
		}
	}
	specificity = math.Max(0, math.Min(1, specificity))

	correctness := 0.7
	if acc, ok := d.modelAccuracy[model]; ok {
		correctness = acc
	}

	dq := validity*distDQWeights.validity +
		specificity*distDQWeights.specificity +
		correctness*distDQWeights.correctness
	return math.Round(dq*1000) / 1000
}

// Assign maps models onto subtasks and orders them by priority. Write
// locks bump complexity by 0.1 before selection.
func (d *Distributor) Assign(subtasks []SubtaskSpec) []TaskAssignment {
	assignments := make([]TaskAssignment, 0, len(subtasks))

	for i, spec := range subtasks {
		lockType := spec.LockType
		if lockType == "" {
			lockType = types.LockRead
		}
		agentType := spec.AgentType
		if agentType == "" {
			agentType = "general-purpose"
		}
		priority := i
		if spec.Priority != nil {
			priority = *spec.Priority
		}

		complexity := d.EstimateComplexity(spec.Subtask, "")
		if lockType == types.LockWrite {
			complexity = math.Min(1, complexity+0.1)
		}

		model := d.SelectModel(complexity, agentType)
		assignments = append(assignments, TaskAssignment{
			Subtask:      spec.Subtask,
			Model:        model,
			Complexity:   complexity,
			DQScore:      d.CalculateDQScore(spec.Subtask, model, complexity),
			CostEstimate: d.EstimateCost(spec.Subtask, model, 0),
			Priority:     priority,
			AgentType:    agentType,
			Files:        spec.Files,
			LockType:     lockType,
		})
	}

	sort.SliceStable(assignments, func(i, j int) bool {
		return assignments[i].Priority < assignments[j].Priority
	})
	return assignments
}

// CostSummary totals assignment cost estimates.
type CostSummary struct {
	Total      float64            `json:"total"`
	ByModel    map[string]float64 `json:"by_model"`
	AgentCount int                `json:"agent_count"`
}

// EstimateTotalCost sums assignment costs per model.
func (d *Distributor) EstimateTotalCost(assignments []TaskAssignment) CostSummary {
	summary := CostSummary{
		ByModel: map[string]float64{
			types.TierHaiku:  0,
			types.TierSonnet: 0,
			types.TierOpus:   0,
		},
		AgentCount: len(assignments),
	}
	for _, a := range assignments {
		summary.Total += a.CostEstimate
		summary.ByModel[a.Model] += a.CostEstimate
	}
	summary.Total = math.Round(summary.Total*10000) / 10000
	for k, v := range summary.ByModel {
		summary.ByModel[k] = math.Round(v*10000) / 10000
	}
	return summary
}

// OptimizeForCost fits assignments into a budget, downgrading tiers
// where needed and dropping what still cannot fit.
func (d *Distributor) OptimizeForCost(assignments []TaskAssignment, budget float64) []TaskAssignment {
	var optimized []TaskAssignment
	remaining := budget

	for _, a := range assignments {
		if a.CostEstimate <= remaining {
			optimized = append(optimized, a)
			remaining -= a.CostEstimate
			continue
		}

		if a.Model == types.TierOpus {
			newCost := d.EstimateCost(a.Subtask, types.TierSonnet, 0)
			if newCost <= remaining {
				a.Model = types.TierSonnet
				a.CostEstimate = newCost
				a.DQScore = d.CalculateDQScore(a.Subtask, types.TierSonnet, a.Complexity)
				optimized = append(optimized, a)
				remaining -= newCost
				continue
			}
		}

		if a.Model == types.TierOpus || a.Model == types.TierSonnet {
			newCost := d.EstimateCost(a.Subtask, types.TierHaiku, 0)
			if newCost <= remaining {
				a.Model = types.TierHaiku
				a.CostEstimate = newCost
				a.DQScore = d.CalculateDQScore(a.Subtask, types.TierHaiku, a.Complexity)
				optimized = append(optimized, a)
				remaining -= newCost
			}
		}
	}
	return optimized
}

// DecomposeTask splits a task into phased subtasks with a simple
// keyword heuristic: research, implementation, testing, then a closing
// review.
func DecomposeTask(task string) []SubtaskSpec {
	lower := strings.ToLower(task)
	var subtasks []SubtaskSpec

	intp := func(v int) *int { return &v }

	if containsAnyKeyword(lower, "understand", "analyze", "explore", "find", "investigate") {
		subtasks = append(subtasks, SubtaskSpec{
			Subtask:   "Research and explore: " + task,
			AgentType: "Explore",
			LockType:  types.LockRead,
			Priority:  intp(0),
		})
	}
	if containsAnyKeyword(lower, "implement", "create", "add", "build", "write") {
		subtasks = append(subtasks, SubtaskSpec{
			Subtask:   "Implement: " + task,
			AgentType: "general-purpose",
			LockType:  types.LockWrite,
			Priority:  intp(1),
		})
	}
	if containsAnyKeyword(lower, "test", "verify", "check") {
		subtasks = append(subtasks, SubtaskSpec{
			Subtask:   "Test and verify: " + task,
			AgentType: "general-purpose",
			LockType:  types.LockRead,
			Priority:  intp(2),
		})
	}

	subtasks = append(subtasks, SubtaskSpec{
		Subtask:   "Review changes for: " + task,
		AgentType: "Explore",
		LockType:  types.LockRead,
		Priority:  intp(3),
	})

	if len(subtasks) == 1 {
		subtasks = append([]SubtaskSpec{{
			Subtask:   task,
			AgentType: "general-purpose",
			LockType:  types.LockRead,
			Priority:  intp(0),
		}}, subtasks...)
	}
	return subtasks
}

func containsAnyKeyword(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
