package feedback

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/COORDINATOR/internal/storage"
)

// Optimizer thresholds. Proposals need a large enough evidence window
// and high confidence before they touch the baselines.
const (
	minOutcomes      = 50
	outcomeWindow    = 200
	minSuccesses     = 10
	minConfidence    = 0.75
	evidenceDivisor  = 50.0
	defaultQuality   = 3.0
	defaultComplex   = 0.5
	defaultEfficient = 0.7
)

// Proposal is one suggested change to a baseline parameter.
type Proposal struct {
	Parameter      string  `json:"parameter"`
	CurrentValue   float64 `json:"current_value"`
	ProposedValue  float64 `json:"proposed_value"`
	Confidence     float64 `json:"confidence"`
	EvidenceCount  int     `json:"evidence_count"`
	ImprovementPct float64 `json:"improvement_pct"`
}

// Optimizer derives baseline parameter proposals from analyzed session
// outcomes and versions every applied change.
type Optimizer struct {
	db            *storage.DB
	baselinesPath string
}

func NewOptimizer(db *storage.DB) *Optimizer {
	return &Optimizer{db: db, baselinesPath: db.BaselinesPath()}
}

type outcomeRow struct {
	outcome         string
	quality         float64
	complexity      float64
	modelEfficiency float64
	dqScore         float64
}

// Propose generates optimization proposals from recent outcomes. It
// returns nothing until at least 50 sessions have been analyzed, and
// only proposals above 75% confidence survive.
func (o *Optimizer) Propose() ([]Proposal, error) {
	rows, err := o.recentOutcomes()
	if err != nil {
		return nil, err
	}
	if len(rows) < minOutcomes {
		return nil, nil
	}

	baselines := o.loadBaselines()

	var proposals []Proposal
	candidates := []*Proposal{
		o.optimizeQualityThreshold(rows, baselines),
		o.optimizeComplexityThreshold(rows, baselines),
		o.optimizeEfficiencyThreshold(rows, baselines),
	}
	for _, p := range candidates {
		if p != nil && p.Confidence > minConfidence {
			proposals = append(proposals, *p)
		}
	}
	return proposals, nil
}

// Apply merges proposals into the baselines file and records the new
// version with its lineage.
func (o *Optimizer) Apply(proposals []Proposal) error {
	if len(proposals) == 0 {
		return fmt.Errorf("no proposals to apply")
	}

	baselines := o.loadBaselines()
	for _, p := range proposals {
		baselines[p.Parameter] = p.ProposedValue
	}
	if err := o.saveBaselines(baselines); err != nil {
		return err
	}

	type lineageEntry struct {
		Parameter  string  `json:"parameter"`
		From       float64 `json:"from"`
		To         float64 `json:"to"`
		Confidence float64 `json:"confidence"`
		Evidence   int     `json:"evidence"`
	}
	lineage := make([]lineageEntry, 0, len(proposals))
	var evidence int
	var confSum float64
	for _, p := range proposals {
		lineage = append(lineage, lineageEntry{
			Parameter:  p.Parameter,
			From:       p.CurrentValue,
			To:         p.ProposedValue,
			Confidence: p.Confidence,
			Evidence:   p.EvidenceCount,
		})
		evidence += p.EvidenceCount
		confSum += p.Confidence
	}

	paramsJSON, err := json.Marshal(baselines)
	if err != nil {
		return fmt.Errorf("failed to encode baselines: %w", err)
	}
	lineageJSON, err := json.Marshal(lineage)
	if err != nil {
		return fmt.Errorf("failed to encode lineage: %w", err)
	}

	version, err := o.nextVersion()
	if err != nil {
		return err
	}
	_, err = o.db.Conn().Exec(`
		INSERT INTO baselines (version, parameters, evidence_count, confidence, lineage)
		VALUES (?, ?, ?, ?, ?)`,
		version, string(paramsJSON), evidence,
		confSum/float64(len(proposals)), string(lineageJSON))
	if err != nil {
		return fmt.Errorf("failed to record baseline version: %w", err)
	}

	log.Printf("[OPTIMIZER] Applied %d proposal(s), baseline version %s", len(proposals), version)
	return nil
}

// Rollback restores the previous baseline version's parameters.
func (o *Optimizer) Rollback() error {
	rows, err := o.db.Conn().Query(`
		SELECT parameters FROM baselines ORDER BY id DESC LIMIT 2`)
	if err != nil {
		return fmt.Errorf("failed to query baseline versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var params string
		if err := rows.Scan(&params); err != nil {
			return fmt.Errorf("failed to scan baseline version: %w", err)
		}
		versions = append(versions, params)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(versions) < 2 {
		return fmt.Errorf("no previous baseline version to roll back to")
	}

	var prev map[string]any
	if err := json.Unmarshal([]byte(versions[1]), &prev); err != nil {
		return fmt.Errorf("failed to decode previous baseline: %w", err)
	}
	if err := o.saveBaselines(prev); err != nil {
		return err
	}

	log.Printf("[OPTIMIZER] Rolled back to previous baseline version")
	return nil
}

func (o *Optimizer) recentOutcomes() ([]outcomeRow, error) {
	rows, err := o.db.Conn().Query(`
		SELECT outcome, quality, complexity, model_efficiency, dq_score
		FROM outcomes
		ORDER BY analyzed_at DESC
		LIMIT ?`, outcomeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []outcomeRow
	for rows.Next() {
		var r outcomeRow
		var quality, complexity, efficiency, dq sql.NullFloat64
		if err := rows.Scan(&r.outcome, &quality, &complexity, &efficiency, &dq); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		r.quality = quality.Float64
		r.complexity = complexity.Float64
		r.modelEfficiency = efficiency.Float64
		r.dqScore = dq.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

func (o *Optimizer) optimizeQualityThreshold(rows []outcomeRow, baselines map[string]any) *Proposal {
	var successful []float64
	for _, r := range rows {
		if r.quality != 0 && r.outcome == "success" {
			successful = append(successful, r.quality)
		}
	}
	if len(successful) < minSuccesses {
		return nil
	}

	optimal := mean(successful)
	current := getFloat(baselines, "quality_threshold", defaultQuality)
	return proposalFor("quality_threshold", current, optimal, len(successful))
}

func (o *Optimizer) optimizeComplexityThreshold(rows []outcomeRow, baselines map[string]any) *Proposal {
	var complexities []float64
	for _, r := range rows {
		if r.complexity != 0 {
			complexities = append(complexities, r.complexity)
		}
	}
	if len(complexities) == 0 {
		return nil
	}

	sorted := append([]float64(nil), complexities...)
	sort.Float64s(sorted)
	optimal := sorted[len(sorted)/2]

	current := getFloat(baselines, "complexity_threshold", defaultComplex)
	return proposalFor("complexity_threshold", current, optimal, len(complexities))
}

func (o *Optimizer) optimizeEfficiencyThreshold(rows []outcomeRow, baselines map[string]any) *Proposal {
	var successful []float64
	for _, r := range rows {
		if r.modelEfficiency != 0 && r.outcome == "success" {
			successful = append(successful, r.modelEfficiency)
		}
	}
	if len(successful) < minSuccesses {
		return nil
	}

	optimal := mean(successful)
	current := getFloat(baselines, "efficiency_threshold", defaultEfficient)
	return proposalFor("efficiency_threshold", current, optimal, len(successful))
}

func proposalFor(parameter string, current, optimal float64, evidence int) *Proposal {
	improvement := 0.0
	if current > 0 {
		improvement = abs(optimal-current) / current
	}
	confidence := float64(evidence) / evidenceDivisor
	if confidence > 1 {
		confidence = 1
	}
	return &Proposal{
		Parameter:      parameter,
		CurrentValue:   current,
		ProposedValue:  optimal,
		Confidence:     confidence,
		EvidenceCount:  evidence,
		ImprovementPct: improvement * 100,
	}
}

// loadBaselines reads the baselines file, keeping non-threshold keys
// (like model_accuracy history) intact across apply cycles.
func (o *Optimizer) loadBaselines() map[string]any {
	data, err := os.ReadFile(o.baselinesPath)
	if err != nil {
		return map[string]any{
			"quality_threshold":    defaultQuality,
			"complexity_threshold": defaultComplex,
			"efficiency_threshold": defaultEfficient,
		}
	}
	var baselines map[string]any
	if err := json.Unmarshal(data, &baselines); err != nil || baselines == nil {
		log.Printf("[OPTIMIZER] Failed to parse baselines file, using defaults: %v", err)
		return map[string]any{
			"quality_threshold":    defaultQuality,
			"complexity_threshold": defaultComplex,
			"efficiency_threshold": defaultEfficient,
		}
	}
	return baselines
}

// saveBaselines writes the baselines file atomically (temp + rename)
// so a crash mid-write cannot leave a truncated file behind.
func (o *Optimizer) saveBaselines(baselines map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(o.baselinesPath), 0o755); err != nil {
		return fmt.Errorf("failed to create baselines directory: %w", err)
	}
	data, err := json.MarshalIndent(baselines, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode baselines: %w", err)
	}
	tmp := o.baselinesPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write baselines file: %w", err)
	}
	if err := os.Rename(tmp, o.baselinesPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace baselines file: %w", err)
	}
	return nil
}

func (o *Optimizer) nextVersion() (string, error) {
	var version string
	err := o.db.Conn().QueryRow(`
		SELECT version FROM baselines ORDER BY id DESC LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return "1.0.0", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query baseline version: %w", err)
	}

	parts := strings.Split(version, ".")
	patch, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", fmt.Errorf("failed to parse baseline version %q: %w", version, err)
	}
	parts[len(parts)-1] = strconv.Itoa(patch + 1)
	return strings.Join(parts, "."), nil
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return fallback
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
