// Package feedback closes the loop between finished sessions and the
// coordinator's tunable parameters. The ACE analyzer scores session
// transcripts with six independent analyses and fuses them into a
// DQ-weighted consensus; the optimizer turns accumulated outcomes into
// baseline proposals.
package feedback

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/COORDINATOR/internal/storage"
)

// DQ component weights shared by every analysis agent.
const (
	dqValidity    = 0.4
	dqSpecificity = 0.3
	dqCorrectness = 0.3
)

// ToolCall is one tool invocation observed in a session transcript.
type ToolCall struct {
	Name string `json:"name"`
}

// SessionData is the transcript slice the analyzer works from.
type SessionData struct {
	Messages []string   `json:"messages"`
	Errors   []string   `json:"errors"`
	Tools    []ToolCall `json:"tools"`
	Model    string     `json:"model"`
}

// AnalysisResult is the verdict of a single analysis agent.
type AnalysisResult struct {
	AgentName  string         `json:"agent_name"`
	Summary    string         `json:"summary"`
	DQScore    float64        `json:"dq_score"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data"`
}

// ConsensusResult is the fused verdict of all agents.
type ConsensusResult struct {
	Outcome         string  `json:"outcome"`
	Quality         float64 `json:"quality"`
	Complexity      float64 `json:"complexity"`
	ModelEfficiency float64 `json:"model_efficiency"`
	DQScore         float64 `json:"dq_score"`
	Confidence      float64 `json:"confidence"`
}

func hasTool(tools []ToolCall, names ...string) bool {
	for _, t := range tools {
		for _, n := range names {
			if t.Name == n {
				return true
			}
		}
	}
	return false
}

// DetectOutcome classifies the session as success, partial, error,
// research, or abandoned.
func DetectOutcome(data SessionData) AnalysisResult {
	var outcome string
	var validity float64

	switch {
	case len(data.Errors) > 5:
		outcome = "error"
		validity = 0.7
	case len(data.Messages) < 5:
		outcome = "abandoned"
		validity = 0.5
	case hasTool(data.Tools, "Read") && !hasTool(data.Tools, "Write", "Edit"):
		outcome = "research"
		validity = 0.8
	case hasTool(data.Tools, "Write", "Edit"):
		if len(data.Errors) < 3 {
			outcome = "success"
		} else {
			outcome = "partial"
		}
		validity = 0.7
	default:
		outcome = "partial"
		validity = 0.5
	}

	return AnalysisResult{
		AgentName:  "outcome_detector",
		Summary:    fmt.Sprintf("Outcome: %s", outcome),
		DQScore:    dqValidity*validity + dqSpecificity*0.6,
		Confidence: 0.7,
		Data:       map[string]any{"outcome": outcome},
	}
}

// ScoreQuality rates the session 1-5 from its error rate.
func ScoreQuality(data SessionData) AnalysisResult {
	msgs := len(data.Messages)
	if msgs < 1 {
		msgs = 1
	}
	errorRate := float64(len(data.Errors)) / float64(msgs)

	var quality, correctness float64
	switch {
	case errorRate < 0.1:
		quality, correctness = 4.5, 0.8
	case errorRate < 0.2:
		quality, correctness = 3.5, 0.6
	default:
		quality, correctness = 2.5, 0.4
	}

	return AnalysisResult{
		AgentName:  "quality_scorer",
		Summary:    fmt.Sprintf("Quality: %g/5", quality),
		DQScore:    dqCorrectness*correctness + dqSpecificity*0.6,
		Confidence: 0.7,
		Data:       map[string]any{"quality": quality},
	}
}

// AnalyzeComplexity estimates task complexity from transcript volume.
func AnalyzeComplexity(data SessionData) AnalysisResult {
	msgCount := len(data.Messages)
	toolCount := len(data.Tools)

	var complexity, specificity float64
	switch {
	case msgCount > 50 || toolCount > 30:
		complexity, specificity = 0.8, 0.8
	case msgCount > 20 || toolCount > 15:
		complexity, specificity = 0.5, 0.6
	default:
		complexity, specificity = 0.3, 0.5
	}

	return AnalysisResult{
		AgentName:  "complexity_analyzer",
		Summary:    fmt.Sprintf("Complexity: %.1f%%", complexity*100),
		DQScore:    dqSpecificity*specificity + dqValidity*0.6,
		Confidence: 0.6,
		Data:       map[string]any{"complexity": complexity},
	}
}

// AssessModelEfficiency checks whether the model tier matched the
// session's complexity.
func AssessModelEfficiency(data SessionData) AnalysisResult {
	model := strings.ToLower(data.Model)
	complexity := 0.5
	if len(data.Messages) >= 20 {
		complexity = 0.7
	}

	var efficiency float64
	var optimal string
	switch {
	case strings.Contains(model, "opus"):
		if complexity > 0.6 {
			efficiency, optimal = 0.9, "opus"
		} else {
			efficiency, optimal = 0.5, "sonnet"
		}
	case strings.Contains(model, "sonnet"):
		efficiency, optimal = 0.8, "sonnet"
	case strings.Contains(model, "haiku"):
		if complexity <= 0.5 {
			efficiency, optimal = 0.7, "haiku"
		} else {
			efficiency, optimal = 0.4, "sonnet"
		}
	default:
		efficiency, optimal = 0.5, "unknown"
	}

	return AnalysisResult{
		AgentName:  "model_efficiency",
		Summary:    fmt.Sprintf("Efficiency: %.1f%%", efficiency*100),
		DQScore:    dqValidity*0.6 + dqCorrectness*efficiency,
		Confidence: 0.6,
		Data:       map[string]any{"efficiency": efficiency, "optimal_model": optimal},
	}
}

// AnalyzeProductivity measures the ratio of producing tool calls
// (Write, Edit) to exploratory ones (Read, Grep, Glob).
func AnalyzeProductivity(data SessionData) AnalysisResult {
	var productive, exploratory int
	for _, t := range data.Tools {
		switch t.Name {
		case "Write", "Edit":
			productive++
		case "Read", "Grep", "Glob":
			exploratory++
		}
	}

	score := 0.3
	if productive > 0 {
		total := productive + exploratory
		score = float64(productive) / float64(total)
	}

	level := "Low"
	switch {
	case score > 0.6:
		level = "High"
	case score > 0.3:
		level = "Moderate"
	}

	return AnalysisResult{
		AgentName:  "productivity_analyzer",
		Summary:    fmt.Sprintf("Productivity: %s", level),
		DQScore:    dqSpecificity*score + dqValidity*0.6,
		Confidence: 0.6,
		Data:       map[string]any{"productivity_score": score, "level": level},
	}
}

// AssessRoutingQuality checks whether the session landed on the right
// model tier for its apparent complexity.
func AssessRoutingQuality(data SessionData) AnalysisResult {
	model := strings.ToLower(data.Model)
	complexity := 0.5
	if len(data.Messages) >= 20 {
		complexity = 0.7
	}

	routingQuality := 0.5
	switch {
	case strings.Contains(model, "opus") && complexity > 0.6:
		routingQuality = 0.9
	case strings.Contains(model, "sonnet") && complexity > 0.3 && complexity < 0.7:
		routingQuality = 0.8
	case strings.Contains(model, "haiku") && complexity < 0.4:
		routingQuality = 0.8
	}

	return AnalysisResult{
		AgentName:  "routing_quality",
		Summary:    fmt.Sprintf("Routing quality: %.1f%%", routingQuality*100),
		DQScore:    dqValidity*routingQuality + dqSpecificity*0.6,
		Confidence: 0.6,
		Data:       map[string]any{"routing_quality": routingQuality},
	}
}

// SynthesizeConsensus fuses agent results with DQ-weighted voting. The
// outcome detector carries double weight as the authority on outcome.
func SynthesizeConsensus(results []AnalysisResult) ConsensusResult {
	if len(results) == 0 {
		return ConsensusResult{
			Outcome:         "unknown",
			Quality:         3.0,
			Complexity:      0.5,
			ModelEfficiency: 0.5,
			DQScore:         0.5,
			Confidence:      0.3,
		}
	}

	consensus := ConsensusResult{
		Outcome:         "unknown",
		Quality:         3.0,
		Complexity:      0.5,
		ModelEfficiency: 0.5,
	}

	var totalDQ, totalWeight float64
	for _, r := range results {
		weight := r.DQScore * r.Confidence

		switch r.AgentName {
		case "outcome_detector":
			if v, ok := r.Data["outcome"].(string); ok {
				consensus.Outcome = v
			}
			weight *= 2
		case "quality_scorer":
			if v, ok := r.Data["quality"].(float64); ok {
				consensus.Quality = v
			}
		case "complexity_analyzer":
			if v, ok := r.Data["complexity"].(float64); ok {
				consensus.Complexity = v
			}
		case "model_efficiency":
			if v, ok := r.Data["efficiency"].(float64); ok {
				consensus.ModelEfficiency = v
			}
		}

		totalDQ += r.DQScore * weight
		totalWeight += weight
	}

	consensus.DQScore = 0.5
	if totalWeight > 0 {
		consensus.DQScore = totalDQ / totalWeight
	}

	var sumDQ, sumConf float64
	for _, r := range results {
		sumDQ += r.DQScore
		sumConf += r.Confidence
	}
	n := float64(len(results))
	confidence := 0.6*(sumDQ/n) + 0.4*(sumConf/n)
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	consensus.Confidence = confidence

	return consensus
}

// Analyzer runs the full agent panel and persists the consensus.
type Analyzer struct {
	db *storage.DB
}

func NewAnalyzer(db *storage.DB) *Analyzer {
	return &Analyzer{db: db}
}

// Analyze runs all six analysis agents and synthesizes their consensus
// without touching the database.
func (a *Analyzer) Analyze(data SessionData) ([]AnalysisResult, ConsensusResult) {
	results := []AnalysisResult{
		DetectOutcome(data),
		ScoreQuality(data),
		AnalyzeComplexity(data),
		AssessModelEfficiency(data),
		AnalyzeProductivity(data),
		AssessRoutingQuality(data),
	}
	return results, SynthesizeConsensus(results)
}

// AnalyzeAndStore analyzes a session and upserts the consensus row for
// its session id, keeping per-agent contributions for audit.
func (a *Analyzer) AnalyzeAndStore(sessionID string, data SessionData) (ConsensusResult, error) {
	results, consensus := a.Analyze(data)

	contributions := make(map[string]map[string]any, len(results))
	for _, r := range results {
		contributions[r.AgentName] = map[string]any{
			"summary":    r.Summary,
			"dq_score":   r.DQScore,
			"confidence": r.Confidence,
		}
	}
	contribJSON, err := json.Marshal(contributions)
	if err != nil {
		return consensus, fmt.Errorf("failed to encode agent contributions: %w", err)
	}

	_, err = a.db.Conn().Exec(`
		INSERT INTO outcomes (session_id, outcome, quality, complexity, model_efficiency, dq_score, confidence, agent_contributions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			outcome = excluded.outcome,
			quality = excluded.quality,
			complexity = excluded.complexity,
			model_efficiency = excluded.model_efficiency,
			dq_score = excluded.dq_score,
			confidence = excluded.confidence,
			agent_contributions = excluded.agent_contributions,
			analyzed_at = datetime('now')`,
		sessionID, consensus.Outcome, consensus.Quality, consensus.Complexity,
		consensus.ModelEfficiency, consensus.DQScore, consensus.Confidence,
		string(contribJSON))
	if err != nil {
		return consensus, fmt.Errorf("failed to store session outcome: %w", err)
	}

	log.Printf("[ACE] Session %s analyzed: outcome=%s quality=%.1f confidence=%.2f",
		sessionID, consensus.Outcome, consensus.Quality, consensus.Confidence)
	return consensus, nil
}
