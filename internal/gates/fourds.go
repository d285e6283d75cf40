// Package gates implements the 4Ds delegation gates: delegation (should
// this task go to an agent), description (is it specified well enough),
// discernment (is the output acceptable), and diligence (safety and
// ethics). Every evaluation emits an audit event.
package gates

import (
	"crypto/md5"
	"fmt"
	"strings"

	"github.com/COORDINATOR/internal/events"
	"github.com/COORDINATOR/internal/types"
)

// QualityThreshold is the discernment score below which output is
// flagged for human review.
const QualityThreshold = 0.7

// Gate evaluates tasks and outputs against the four gates. The zero
// value is not usable; construct with New.
type Gate struct {
	sink events.Sink
}

// New builds a gate that audits decisions through sink. A nil sink
// disables auditing.
func New(sink events.Sink) *Gate {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Gate{sink: sink}
}

// DelegationResult is the outcome of the delegation gate.
type DelegationResult struct {
	Approved bool
	Reason   string
}

// Delegation decides whether a task is appropriate for agent delegation.
func (g *Gate) Delegation(task string, profile types.TaskProfile) DelegationResult {
	highRisk := profile.Subjectivity > 0.7 &&
		profile.Criticality > 0.8 &&
		profile.Reversibility < 0.2

	if highRisk {
		reason := fmt.Sprintf(
			"Task blocked: high subjectivity (%.2f) + high criticality (%.2f) + low reversibility (%.2f) requires human judgment",
			profile.Subjectivity, profile.Criticality, profile.Reversibility)
		g.audit(task, "delegation", "blocked", map[string]interface{}{
			"approved": false, "reason": reason,
		})
		return DelegationResult{Approved: false, Reason: reason}
	}

	if profile.Criticality >= 0.8 && (profile.Verifiability < 0.3 || profile.Reversibility < 0.3) {
		var reason string
		if profile.Verifiability < 0.3 {
			reason = fmt.Sprintf(
				"Task blocked: high criticality (%.2f) + low verifiability (%.2f) makes validation difficult",
				profile.Criticality, profile.Verifiability)
		} else {
			reason = fmt.Sprintf(
				"Task blocked: high criticality (%.2f) + low reversibility (%.2f) makes errors costly",
				profile.Criticality, profile.Reversibility)
		}
		g.audit(task, "delegation", "blocked", map[string]interface{}{
			"approved": false, "reason": reason,
		})
		return DelegationResult{Approved: false, Reason: reason}
	}

	reason := "Task approved: risk factors within acceptable bounds"
	g.audit(task, "delegation", "approved", map[string]interface{}{
		"approved": true, "reason": reason,
	})
	return DelegationResult{Approved: true, Reason: reason}
}

// DescriptionResult is the outcome of the description gate.
type DescriptionResult struct {
	Score       float64
	Suggestions string
}

var vagueWords = []string{
	"thing", "stuff", "something", "somehow", "figure out", "handle", "deal with",
}

var specificIndicators = []string{
	"implement", "create", "build", "analyze", "verify", "test",
}

var criteriaWords = []string{
	"should", "must", "verify", "test", "expect", "ensure", "include", "output",
}

var metricWords = []string{"at least", "minimum", "maximum"}

// Description scores how well a task is specified: 40% specificity,
// 30% completeness, 30% constraint clarity.
func (g *Gate) Description(description string) DescriptionResult {
	lower := strings.ToLower(description)
	var suggestions []string
	var total float64

	hasVague := containsAny(lower, vagueWords)
	hasSpecific := containsAny(lower, specificIndicators)

	specificity := 0.5
	if hasVague {
		specificity = 0.3
	} else if hasSpecific {
		specificity = 0.8
	}
	total += specificity * 0.4

	if hasVague {
		suggestions = append(suggestions, "Replace vague language with specific requirements")
	}
	if !hasSpecific {
		suggestions = append(suggestions, "Add concrete action verbs (implement, create, analyze)")
	}

	wordCount := len(strings.Fields(description))
	var completeness float64
	switch {
	case wordCount < 5:
		completeness = 0.2
		suggestions = append(suggestions, "Provide more context and details")
	case wordCount < 15:
		completeness = 0.5
		suggestions = append(suggestions, "Add more context about requirements and constraints")
	default:
		completeness = 0.8
	}
	total += completeness * 0.3

	hasCriteria := containsAny(lower, criteriaWords)
	hasMetrics := strings.ContainsAny(description, "<>=%") || containsAny(lower, metricWords)

	clarity := 0.3
	if hasCriteria && hasMetrics {
		clarity = 0.8
	} else if hasCriteria {
		clarity = 0.6
	}
	total += clarity * 0.3

	if !hasCriteria {
		suggestions = append(suggestions, "Define success criteria")
	}
	if !hasMetrics {
		suggestions = append(suggestions, "Add measurable constraints where applicable")
	}

	total = clamp01(total)

	var text string
	switch {
	case total >= 0.8:
		text = "Description is clear and complete"
	case total >= 0.6:
		text = "Good description. Consider: " + strings.Join(suggestions, "; ")
	default:
		text = "Improve description: " + strings.Join(suggestions, "; ")
	}

	g.audit(description, "description", "analyzed", map[string]interface{}{
		"score": total, "suggestions": text, "method": "heuristic",
	})
	return DescriptionResult{Score: total, Suggestions: text}
}

// DiscernmentResult is the outcome of the discernment gate.
type DiscernmentResult struct {
	Score  float64
	Issues []string
}

var errorIndicators = []string{
	"error", "failed", "exception", "undefined", "null", "nan", "invalid",
}

// Discernment scores agent output against expectation: 40% keyword
// completeness, 30% error-free correctness, 30% length consistency.
// Scores below QualityThreshold are flagged for human review.
func (g *Gate) Discernment(output, expected string, profile types.TaskProfile) DiscernmentResult {
	var issues []string
	var total float64

	outputWords := wordSet(output)
	expectedWords := wordSet(expected)
	overlap := 0
	for w := range outputWords {
		if _, ok := expectedWords[w]; ok {
			overlap++
		}
	}
	denom := len(expectedWords)
	if denom < 1 {
		denom = 1
	}
	completeness := float64(overlap)/float64(denom) + 0.3
	if completeness > 1 {
		completeness = 1
	}
	total += completeness * 0.4
	if completeness < 0.5 {
		issues = append(issues, fmt.Sprintf(
			"Low completeness (%.2f): output may be missing key requirements", completeness))
	}

	hasErrors := containsAny(strings.ToLower(output), errorIndicators)
	correctness := 0.8
	if hasErrors {
		correctness = 0.3
		issues = append(issues, "Output contains error indicators")
	}
	total += correctness * 0.3

	expLen := len(expected)
	if expLen < 1 {
		expLen = 1
	}
	ratio := float64(len(output)) / float64(expLen)
	var consistency float64
	switch {
	case ratio < 0.3:
		consistency = 0.4
		issues = append(issues, "Output significantly shorter than expected")
	case ratio > 3.0:
		consistency = 0.6
		issues = append(issues, "Output significantly longer than expected")
	default:
		consistency = 0.8
	}
	total += consistency * 0.3

	total = clamp01(total)

	if total < QualityThreshold {
		issues = append([]string{fmt.Sprintf(
			"Quality score %.2f < %.2f threshold: flagged for human review",
			total, QualityThreshold)}, issues...)
	}
	if len(issues) == 0 {
		issues = append(issues, "Output quality acceptable")
	}

	status := "reviewed"
	if total < QualityThreshold {
		status = "flagged"
	}
	sample := output
	if len(sample) > 100 {
		sample = sample[:100]
	}
	g.audit(sample, "discernment", status, map[string]interface{}{
		"quality_score": total, "issues": issues,
	})
	return DiscernmentResult{Score: total, Issues: issues}
}

// DiligenceResult is the outcome of the diligence gate.
type DiligenceResult struct {
	Safe     bool
	Warnings []string
}

var sensitiveKeywords = []string{
	"password", "credential", "secret", "api_key", "token",
	"private_key", "ssn", "credit_card", "personal", "pii", "confidential",
}

var destructiveKeywords = []string{
	"delete", "drop", "remove", "destroy", "wipe", "erase",
	"truncate", "clear", "purge", "reset",
}

var productionKeywords = []string{
	"deploy", "production", "release", "publish", "launch",
}

// Diligence checks ethical and safety constraints. Unsafe combinations
// (sensitive + destructive + irreversible, or destructive with
// reversibility below 0.15) block outright; everything else passes
// with warnings.
func (g *Gate) Diligence(task string, profile types.TaskProfile) DiligenceResult {
	lower := strings.ToLower(task)
	var warnings []string

	hasSensitive := containsAny(lower, sensitiveKeywords)
	if hasSensitive {
		warnings = append(warnings, "Task involves sensitive data: ensure proper access controls")
	}

	isDestructive := containsAny(lower, destructiveKeywords)
	if isDestructive && profile.Reversibility < 0.5 {
		warnings = append(warnings, fmt.Sprintf(
			"Destructive operation with low reversibility (%.2f): high risk", profile.Reversibility))
	}

	if profile.Criticality > 0.8 && profile.Reversibility < 0.3 {
		warnings = append(warnings, fmt.Sprintf(
			"High criticality (%.2f) + low reversibility (%.2f): consider human oversight",
			profile.Criticality, profile.Reversibility))
	}

	if containsAny(lower, productionKeywords) && profile.Verifiability <= 0.6 {
		warnings = append(warnings, fmt.Sprintf(
			"Production deployment with low verifiability (%.2f): ensure thorough testing",
			profile.Verifiability))
	}

	unsafe := (hasSensitive && isDestructive && profile.Reversibility < 0.2) ||
		(isDestructive && profile.Reversibility < 0.15)

	safe := !unsafe
	if unsafe {
		if hasSensitive {
			warnings = append([]string{"BLOCKED: Sensitive + destructive + irreversible combination"}, warnings...)
		} else {
			warnings = append([]string{"BLOCKED: Destructive operation with critically low reversibility"}, warnings...)
		}
	} else if len(warnings) == 0 {
		warnings = append(warnings, "No ethical or safety concerns detected")
	}

	status := "safe"
	if !safe {
		status = "blocked"
	} else if len(warnings) > 1 {
		status = "warning"
	}
	g.audit(task, "diligence", status, map[string]interface{}{
		"safe": safe, "warnings": warnings,
	})
	return DiligenceResult{Safe: safe, Warnings: warnings}
}

// TaskHash produces the short task identifier used in audit rows.
func TaskHash(task string) string {
	sum := md5.Sum([]byte(task))
	return fmt.Sprintf("%x", sum)[:8]
}

func (g *Gate) audit(task, gateType, status string, details map[string]interface{}) {
	details["gate"] = gateType
	details["status"] = status

	event := events.NewEvent(events.EventGateAudit, "all", details)
	event.DelegationID = "4ds-gate"
	event.Agent = "4ds-gate-system"
	event.TaskID = TaskHash(task)
	event.GateType = gateType
	g.sink.Log(event)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
