// Package optimization holds the planning heuristics that shape a
// coordination before any agent spawns: task pattern detection,
// execution topology selection, and entropy-based resource allocation.
package optimization

import (
	"log"
	"strings"

	"github.com/COORDINATOR/internal/storage"
)

// PatternResult classifies a task description and suggests a strategy.
type PatternResult struct {
	Pattern           string  `json:"pattern"`
	Confidence        float64 `json:"confidence"`
	SuggestedStrategy string  `json:"suggested_strategy"`
}

type patternSpec struct {
	name     string
	keywords []string
	strategy string
}

// Patterns are scored in order; the first pattern wins ties.
var patternSpecs = []patternSpec{
	{"debugging", []string{"debug", "fix", "bug", "error", "issue", "broken", "crash", "traceback"}, "review"},
	{"research", []string{"research", "explore", "investigate", "understand", "analyze", "study", "survey"}, "research"},
	{"architecture", []string{"architect", "design", "structure", "system", "refactor major", "redesign"}, "full"},
	{"refactoring", []string{"refactor", "rename", "extract", "reorganize", "cleanup", "simplify"}, "implement"},
	{"implementation", []string{"implement", "build", "create", "add", "feature", "develop", "new"}, "implement"},
	{"testing", []string{"test", "spec", "coverage", "vitest", "jest", "pytest", "assert"}, "review"},
	{"documentation", []string{"doc", "readme", "comment", "explain", "guide", "tutorial"}, "research"},
	{"optimization", []string{"optim", "performance", "speed", "efficient", "cache", "fast", "slow"}, "full"},
}

// PatternDetector classifies tasks by keyword matching and records
// detections for later pattern-frequency analysis.
type PatternDetector struct {
	db *storage.DB
}

// NewPatternDetector returns a detector. The database is optional;
// without one, detections are not recorded.
func NewPatternDetector(db *storage.DB) *PatternDetector {
	return &PatternDetector{db: db}
}

// Detect classifies a task description. Unmatched tasks fall back to
// the implement strategy with zero confidence.
func (d *PatternDetector) Detect(taskDescription string) PatternResult {
	taskLower := strings.ToLower(taskDescription)

	var best *patternSpec
	bestMatches := 0
	for i := range patternSpecs {
		spec := &patternSpecs[i]
		matches := 0
		for _, kw := range spec.keywords {
			if strings.Contains(taskLower, kw) {
				matches++
			}
		}
		if matches > bestMatches {
			best = spec
			bestMatches = matches
		}
	}

	if best == nil {
		return PatternResult{Pattern: "unknown", Confidence: 0.0, SuggestedStrategy: "implement"}
	}

	confidence := float64(bestMatches) / float64(len(best.keywords))
	if confidence > 1 {
		confidence = 1
	}
	return PatternResult{
		Pattern:           best.name,
		Confidence:        confidence,
		SuggestedStrategy: best.strategy,
	}
}

// DetectAndRecord detects the pattern and persists the detection,
// best-effort, for the given session.
func (d *PatternDetector) DetectAndRecord(sessionID, taskDescription string) PatternResult {
	result := d.Detect(taskDescription)
	if d.db == nil {
		return result
	}

	_, err := d.db.Conn().Exec(`
		INSERT INTO patterns (session_id, detected_pattern, confidence, selected_strategy)
		VALUES (?, ?, ?, ?)`,
		sessionID, result.Pattern, result.Confidence, result.SuggestedStrategy)
	if err != nil {
		log.Printf("[PATTERN] Failed to record detection for %s: %v", sessionID, err)
	}
	return result
}
