package scoring

import (
	"sort"

	"github.com/COORDINATOR/internal/types"
)

// DQComponents are the three ingredients of a decision-quality score.
type DQComponents struct {
	Validity    float64 `json:"validity"`
	Specificity float64 `json:"specificity"`
	Correctness float64 `json:"correctness"`
}

// DQScore is a weighted decision-quality score. Actionable means the
// routing decision can be executed without escalation.
type DQScore struct {
	Score      float64      `json:"score"`
	Components DQComponents `json:"components"`
	Actionable bool         `json:"actionable"`
}

// ScoreResult is the full routing decision for one query.
type ScoreResult struct {
	Query          string  `json:"query"`
	Complexity     float64 `json:"complexity"`
	Model          string  `json:"model"`
	ThinkingEffort string  `json:"thinking_effort,omitempty"`
	DQ             DQScore `json:"dq"`
	CostEstimate   float64 `json:"cost_estimate"`
	Reasoning      string  `json:"reasoning"`
}

// Recorder persists scoring decisions. Implementations must be
// best-effort; the scorer ignores their errors.
type Recorder interface {
	RecordDQScore(result ScoreResult) error
}

// Scorer routes queries to model tiers by decision quality.
type Scorer struct {
	baselines *Baselines
	recorder  Recorder
}

// NewScorer builds a scorer; baselines and recorder may be nil.
func NewScorer(baselines *Baselines, recorder Recorder) *Scorer {
	if baselines == nil {
		baselines = DefaultBaselines()
	}
	return &Scorer{baselines: baselines, recorder: recorder}
}

var tierOrder = []string{types.TierHaiku, types.TierSonnet, types.TierOpus}

func tierRank(model string) int {
	for i, m := range tierOrder {
		if m == model {
			return i
		}
	}
	return len(tierOrder)
}

// idealTier is the tier the complexity band nominates.
func idealTier(complexity float64) string {
	switch {
	case complexity < 0.25:
		return types.TierHaiku
	case complexity < 0.75:
		return types.TierSonnet
	default:
		return types.TierOpus
	}
}

// validity scores how well a tier's capability band matches the
// complexity. Over-provisioning is penalized mildly, under-provisioning
// steeply.
func (s *Scorer) validity(model string, complexity float64) float64 {
	threshold, ok := s.baselines.ComplexityThresholds[model]
	if !ok {
		return 0.5
	}
	maxC := threshold.MaxComplexity

	if complexity <= maxC {
		if model == types.TierOpus && complexity < 0.5 {
			return 0.6
		}
		if model == types.TierSonnet && complexity < 0.2 {
			return 0.7
		}
		return 1.0 - (maxC-complexity)*0.2
	}

	over := complexity - maxC
	v := 1.0 - 2.0*over
	if v < 0 {
		return 0
	}
	return v
}

// specificity scores distance from the ideal tier on the ordered list.
func (s *Scorer) specificity(model string, complexity float64) float64 {
	ideal := idealTier(complexity)
	if model == ideal {
		return 1.0
	}
	d := tierRank(model) - tierRank(ideal)
	if d < 0 {
		d = -d
	}
	v := 1.0 - 0.4*float64(d)
	if v < 0 {
		return 0
	}
	return v
}

// correctness is neutral without outcome history; learning it is the
// optimizer's job.
func (s *Scorer) correctness(string) float64 {
	return 0.5
}

func (s *Scorer) dqFor(model string, complexity float64) DQScore {
	c := DQComponents{
		Validity:    s.validity(model, complexity),
		Specificity: s.specificity(model, complexity),
		Correctness: s.correctness(model),
	}
	w := s.baselines.DQWeights
	score := round3(w.Validity*c.Validity + w.Specificity*c.Specificity + w.Correctness*c.Correctness)
	return DQScore{
		Score:      score,
		Components: c,
		Actionable: score >= s.baselines.DQThresholds.Actionable,
	}
}

// thinkingEffort derives the opus reasoning sub-tier from complexity.
func (s *Scorer) thinkingEffort(complexity float64) string {
	opus, ok := s.baselines.ComplexityThresholds[types.TierOpus]
	if ok && len(opus.ThinkingTiers) > 0 {
		for _, name := range []string{types.ThinkingLow, types.ThinkingMedium, types.ThinkingHigh} {
			if r, ok := opus.ThinkingTiers[name]; ok && complexity >= r[0] && complexity < r[1] {
				return name
			}
		}
		if r, ok := opus.ThinkingTiers[types.ThinkingMax]; ok && complexity >= r[0] && complexity <= r[1] {
			return types.ThinkingMax
		}
	}
	if complexity >= 0.95 {
		return types.ThinkingMax
	}
	return types.ThinkingHigh
}

// estimateCost prices a query at the tier's token rates: ~len/4 input
// tokens (floor 100) plus a 500-token output allowance.
func (s *Scorer) estimateCost(query, model string) float64 {
	rates, ok := s.baselines.CostPerMTok[model]
	if !ok {
		return 0
	}
	inputTokens := float64(len(query)) / 4
	if inputTokens < 100 {
		inputTokens = 100
	}
	return inputTokens*rates.Input/1e6 + 500*rates.Output/1e6
}

// Score analyzes a query, scores every tier, and picks the best by
// (DQ descending, cost ascending). Opus selections also carry a
// thinking-effort tier.
func (s *Scorer) Score(query string) ScoreResult {
	analysis := AnalyzeComplexity(query)

	type candidate struct {
		model string
		dq    DQScore
	}
	candidates := make([]candidate, 0, len(tierOrder))
	for _, model := range tierOrder {
		candidates = append(candidates, candidate{model: model, dq: s.dqFor(model, analysis.Score)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dq.Score != candidates[j].dq.Score {
			return candidates[i].dq.Score > candidates[j].dq.Score
		}
		return tierRank(candidates[i].model) < tierRank(candidates[j].model)
	})

	best := candidates[0]

	result := ScoreResult{
		Query:        truncateQuery(query, 200),
		Complexity:   analysis.Score,
		Model:        best.model,
		DQ:           best.dq,
		CostEstimate: s.estimateCost(query, best.model),
		Reasoning:    analysis.Reasoning,
	}
	if best.model == types.TierOpus {
		result.ThinkingEffort = s.thinkingEffort(analysis.Score)
	}

	if s.recorder != nil {
		// Best-effort persistence; scoring never fails on a write error.
		_ = s.recorder.RecordDQScore(result)
	}

	return result
}

func truncateQuery(q string, n int) string {
	if len(q) <= n {
		return q
	}
	return q[:n]
}
