// Package evolution learns from delegation outcomes with plain
// statistics over the outcome tables: EMA quality trends, per-band
// decomposition targets, agent affinity, and cost efficiency.
package evolution

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// EMAAlpha weights the newest outcome in the quality EMA.
const EMAAlpha = 0.3

// complexityBands label outcome complexity, half-open [low, high).
var complexityBands = []struct {
	low, high float64
	label     string
}{
	{0.0, 0.3, "low"},
	{0.3, 0.6, "medium"},
	{0.6, 0.8, "high"},
	{0.8, 1.0, "very_high"},
}

// BandFor labels a complexity score.
func BandFor(complexity float64) string {
	for _, b := range complexityBands {
		if complexity >= b.low && complexity < b.high {
			return b.label
		}
	}
	return "very_high"
}

// Engine records outcomes and evolves strategy weights.
type Engine struct {
	db  *storage.DB
	now func() time.Time
}

// New builds an engine over an open store.
func New(db *storage.DB) *Engine {
	return &Engine{db: db, now: time.Now}
}

// RecordOutcome stores one delegation outcome. Quality is clamped to
// [0,1]; re-recording a delegation id replaces the previous row.
func (e *Engine) RecordOutcome(outcome types.EvolutionOutcome) error {
	if outcome.DelegationID == "" {
		return fmt.Errorf("delegation id is required")
	}
	quality := math.Max(0, math.Min(1, outcome.QualityScore))

	agentIDs, err := json.Marshal(outcome.AgentIDs)
	if err != nil || outcome.AgentIDs == nil {
		agentIDs = []byte("[]")
	}

	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	_, err = e.db.Conn().Exec(
		`INSERT OR REPLACE INTO evolution_outcomes (
		    delegation_id, timestamp, success, quality_score,
		    actual_cost, actual_duration, complexity,
		    subtask_count, agent_ids, feedback
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.DelegationID, ts.UTC().Format(storage.TimeFormat),
		storage.BoolToInt(outcome.Success), quality,
		outcome.ActualCost, outcome.ActualDuration, outcome.Complexity,
		outcome.SubtaskCount, string(agentIDs), outcome.Feedback)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// BandStats is the learned decomposition target for one complexity band.
type BandStats struct {
	OptimalSubtaskCount float64 `json:"optimal_subtask_count"`
	SampleSize          int     `json:"sample_size"`
	AvgQuality          float64 `json:"avg_quality"`
}

// AgentAffinity is one agent's historical delegation performance.
type AgentAffinity struct {
	SuccessRate      float64 `json:"success_rate"`
	AvgQuality       float64 `json:"avg_quality"`
	TotalDelegations int     `json:"total_delegations"`
}

// QualityTrend summarizes the EMA quality and its direction.
type QualityTrend struct {
	EMAQuality float64 `json:"ema_quality"`
	Trend      string  `json:"trend"`
	SampleSize int     `json:"sample_size"`
}

// CostEfficiency summarizes recent spend against quality.
type CostEfficiency struct {
	AvgCostPerQuality float64 `json:"avg_cost_per_quality"`
	AvgCost           float64 `json:"avg_cost"`
	SuccessRate       float64 `json:"success_rate"`
	SampleSize        int     `json:"sample_size"`
}

// Evolution is the output of one evolve pass.
type Evolution struct {
	Decomposition  map[string]BandStats     `json:"decomposition"`
	AgentAffinity  map[string]AgentAffinity `json:"agent_affinity"`
	QualityTrend   QualityTrend             `json:"quality_trend"`
	CostEfficiency CostEfficiency           `json:"cost_efficiency"`
}

// EvolveStrategies runs the four learners and persists the resulting
// weights.
func (e *Engine) EvolveStrategies() (Evolution, error) {
	decomposition, err := e.learnDecomposition()
	if err != nil {
		return Evolution{}, err
	}
	affinity, err := e.learnAgentAffinity()
	if err != nil {
		return Evolution{}, err
	}
	trend, err := e.learnQualityTrend()
	if err != nil {
		return Evolution{}, err
	}
	cost, err := e.learnCostEfficiency()
	if err != nil {
		return Evolution{}, err
	}

	for band, stats := range decomposition {
		if err := e.SetWeight("decomp_"+band, stats.OptimalSubtaskCount); err != nil {
			return Evolution{}, err
		}
	}
	if trend.EMAQuality > 0 {
		if err := e.SetWeight("ema_quality", trend.EMAQuality); err != nil {
			return Evolution{}, err
		}
	}

	return Evolution{
		Decomposition:  decomposition,
		AgentAffinity:  affinity,
		QualityTrend:   trend,
		CostEfficiency: cost,
	}, nil
}

// learnDecomposition finds the quality-weighted optimal subtask count
// per complexity band over the latest fifty successes.
func (e *Engine) learnDecomposition() (map[string]BandStats, error) {
	result := make(map[string]BandStats)
	for _, band := range complexityBands {
		rows, err := e.db.Conn().Query(
			`SELECT subtask_count, quality_score
			 FROM evolution_outcomes
			 WHERE success = 1 AND complexity >= ? AND complexity < ?
			   AND subtask_count > 0
			 ORDER BY timestamp DESC LIMIT 50`,
			band.low, band.high)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s band: %w", band.label, err)
		}

		var counts []int
		var qualities []float64
		for rows.Next() {
			var count int
			var quality float64
			if err := rows.Scan(&count, &quality); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan band row: %w", err)
			}
			counts = append(counts, count)
			qualities = append(qualities, quality)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		if len(counts) == 0 {
			continue
		}

		var totalWeight, weighted float64
		for i := range counts {
			totalWeight += qualities[i]
			weighted += float64(counts[i]) * qualities[i]
		}
		var optimal float64
		if totalWeight > 0 {
			optimal = weighted / totalWeight
		} else {
			var sum int
			for _, c := range counts {
				sum += c
			}
			optimal = float64(sum) / float64(len(counts))
		}

		result[band.label] = BandStats{
			OptimalSubtaskCount: math.Round(optimal*10) / 10,
			SampleSize:          len(counts),
			AvgQuality:          round3(totalWeight / float64(len(counts))),
		}
	}
	return result, nil
}

// learnAgentAffinity aggregates per-agent success rates over the
// latest two hundred outcomes with agent attributions.
func (e *Engine) learnAgentAffinity() (map[string]AgentAffinity, error) {
	rows, err := e.db.Conn().Query(
		`SELECT agent_ids, success, quality_score
		 FROM evolution_outcomes WHERE agent_ids != '[]'
		 ORDER BY timestamp DESC LIMIT 200`)
	if err != nil {
		return nil, fmt.Errorf("failed to query affinity: %w", err)
	}
	defer rows.Close()

	type tally struct {
		successes, failures int
		qualitySum          float64
		count               int
	}
	stats := make(map[string]*tally)
	for rows.Next() {
		var agentIDs string
		var success int
		var quality float64
		if err := rows.Scan(&agentIDs, &success, &quality); err != nil {
			return nil, fmt.Errorf("failed to scan affinity row: %w", err)
		}
		var agents []string
		if err := json.Unmarshal([]byte(agentIDs), &agents); err != nil {
			continue
		}
		for _, agentID := range agents {
			t, ok := stats[agentID]
			if !ok {
				t = &tally{}
				stats[agentID] = t
			}
			t.count++
			t.qualitySum += quality
			if success == 1 {
				t.successes++
			} else {
				t.failures++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	affinity := make(map[string]AgentAffinity, len(stats))
	for agentID, t := range stats {
		total := t.successes + t.failures
		entry := AgentAffinity{TotalDelegations: total}
		if total > 0 {
			entry.SuccessRate = round3(float64(t.successes) / float64(total))
		}
		if t.count > 0 {
			entry.AvgQuality = round3(t.qualitySum / float64(t.count))
		}
		affinity[agentID] = entry
	}
	return affinity, nil
}

// learnQualityTrend folds an EMA over all outcomes oldest-first and
// compares half-window means for the direction.
func (e *Engine) learnQualityTrend() (QualityTrend, error) {
	rows, err := e.db.Conn().Query(
		`SELECT quality_score FROM evolution_outcomes ORDER BY timestamp ASC`)
	if err != nil {
		return QualityTrend{}, fmt.Errorf("failed to query trend: %w", err)
	}
	defer rows.Close()

	var qualities []float64
	for rows.Next() {
		var q float64
		if err := rows.Scan(&q); err != nil {
			return QualityTrend{}, fmt.Errorf("failed to scan trend row: %w", err)
		}
		qualities = append(qualities, q)
	}
	if err := rows.Err(); err != nil {
		return QualityTrend{}, err
	}

	if len(qualities) == 0 {
		return QualityTrend{Trend: "insufficient_data"}, nil
	}

	ema := qualities[0]
	for _, q := range qualities[1:] {
		ema = EMAAlpha*q + (1-EMAAlpha)*ema
	}

	trend := "insufficient_data"
	mid := len(qualities) / 2
	if mid > 0 {
		var first, second float64
		for _, q := range qualities[:mid] {
			first += q
		}
		for _, q := range qualities[mid:] {
			second += q
		}
		delta := second/float64(len(qualities)-mid) - first/float64(mid)
		switch {
		case delta > 0.05:
			trend = "improving"
		case delta < -0.05:
			trend = "declining"
		default:
			trend = "stable"
		}
	}

	return QualityTrend{
		EMAQuality: round3(ema),
		Trend:      trend,
		SampleSize: len(qualities),
	}, nil
}

// learnCostEfficiency averages spend per quality point over the latest
// fifty costed outcomes.
func (e *Engine) learnCostEfficiency() (CostEfficiency, error) {
	rows, err := e.db.Conn().Query(
		`SELECT actual_cost, quality_score, success
		 FROM evolution_outcomes WHERE actual_cost > 0
		 ORDER BY timestamp DESC LIMIT 50`)
	if err != nil {
		return CostEfficiency{}, fmt.Errorf("failed to query cost efficiency: %w", err)
	}
	defer rows.Close()

	var totalCost, totalQuality float64
	var successes, n int
	for rows.Next() {
		var cost, quality float64
		var success int
		if err := rows.Scan(&cost, &quality, &success); err != nil {
			return CostEfficiency{}, fmt.Errorf("failed to scan cost row: %w", err)
		}
		totalCost += cost
		totalQuality += quality
		successes += success
		n++
	}
	if err := rows.Err(); err != nil {
		return CostEfficiency{}, err
	}

	if n == 0 {
		return CostEfficiency{}, nil
	}
	return CostEfficiency{
		AvgCostPerQuality: round3(totalCost / math.Max(totalQuality, 0.01)),
		AvgCost:           round3(totalCost / float64(n)),
		SuccessRate:       round3(float64(successes) / float64(n)),
		SampleSize:        n,
	}, nil
}

// SetWeight upserts one learned weight.
func (e *Engine) SetWeight(key string, value float64) error {
	_, err := e.db.Conn().Exec(
		`INSERT OR REPLACE INTO evolution_weights (key, value, updated_at)
		 VALUES (?, ?, ?)`,
		key, strconv.FormatFloat(value, 'f', -1, 64),
		e.now().UTC().Format(storage.TimeFormat))
	if err != nil {
		return fmt.Errorf("failed to set weight %s: %w", key, err)
	}
	return nil
}

// GetWeight reads one learned weight, returning def when absent.
func (e *Engine) GetWeight(key string, def float64) float64 {
	var raw string
	err := e.db.Conn().QueryRow(
		`SELECT value FROM evolution_weights WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		return def
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return value
}

// DayTrend is one day's aggregate delegation performance.
type DayTrend struct {
	Date        string  `json:"date"`
	Delegations int     `json:"delegations"`
	SuccessRate float64 `json:"success_rate"`
	AvgQuality  float64 `json:"avg_quality"`
	AvgCost     float64 `json:"avg_cost"`
	AvgDuration float64 `json:"avg_duration"`
}

// TrendSummary totals a performance window.
type TrendSummary struct {
	TotalDelegations   int     `json:"total_delegations"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
	AvgDailyVolume     float64 `json:"avg_daily_volume"`
	WindowDays         int     `json:"window_days"`
	ActiveDays         int     `json:"active_days"`
}

// PerformanceTrends is the per-day breakdown plus summary.
type PerformanceTrends struct {
	Days    []DayTrend   `json:"days"`
	Summary TrendSummary `json:"summary"`
}

// GetPerformanceTrends aggregates outcomes per day over the window.
func (e *Engine) GetPerformanceTrends(windowDays int) (PerformanceTrends, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	cutoff := e.now().Add(-time.Duration(windowDays) * 24 * time.Hour).
		UTC().Format(storage.TimeFormat)

	rows, err := e.db.Conn().Query(
		`SELECT substr(timestamp, 1, 10) AS day,
		        COUNT(*), SUM(success), AVG(quality_score),
		        AVG(actual_cost), AVG(actual_duration)
		 FROM evolution_outcomes WHERE timestamp >= ?
		 GROUP BY day ORDER BY day ASC`, cutoff)
	if err != nil {
		return PerformanceTrends{}, fmt.Errorf("failed to query trends: %w", err)
	}
	defer rows.Close()

	var days []DayTrend
	for rows.Next() {
		var d DayTrend
		var successes int
		var avgQuality, avgCost, avgDuration sql.NullFloat64
		if err := rows.Scan(&d.Date, &d.Delegations, &successes,
			&avgQuality, &avgCost, &avgDuration); err != nil {
			return PerformanceTrends{}, fmt.Errorf("failed to scan trend day: %w", err)
		}
		if d.Delegations > 0 {
			d.SuccessRate = round3(float64(successes) / float64(d.Delegations))
		}
		d.AvgQuality = round3(avgQuality.Float64)
		d.AvgCost = round3(avgCost.Float64)
		d.AvgDuration = math.Round(avgDuration.Float64*10) / 10
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return PerformanceTrends{}, err
	}

	trends := PerformanceTrends{Days: days}
	trends.Summary.WindowDays = windowDays
	trends.Summary.ActiveDays = len(days)
	if len(days) == 0 {
		return trends, nil
	}

	var totalSuccess float64
	for _, d := range days {
		trends.Summary.TotalDelegations += d.Delegations
		totalSuccess += float64(d.Delegations) * d.SuccessRate
	}
	total := trends.Summary.TotalDelegations
	trends.Summary.OverallSuccessRate = round3(totalSuccess / math.Max(float64(total), 1))
	trends.Summary.AvgDailyVolume = math.Round(float64(total)/float64(len(days))*10) / 10
	return trends, nil
}

// GetRecommendations generates actionable guidance from the learned
// patterns.
func (e *Engine) GetRecommendations() ([]string, error) {
	var recommendations []string

	var total, wins int
	err := e.db.Conn().QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM evolution_outcomes`).
		Scan(&total, &wins)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	if total >= 5 {
		rate := float64(wins) / float64(total)
		if rate < 0.6 {
			recommendations = append(recommendations, fmt.Sprintf(
				"Success rate is low (%.0f%%). Consider raising quality_threshold or improving task descriptions.",
				rate*100))
		} else if rate > 0.9 {
			recommendations = append(recommendations, fmt.Sprintf(
				"Success rate is high (%.0f%%). You may be over-cautious; consider delegating more complex tasks.",
				rate*100))
		}
	}

	var avgSubtasks sql.NullFloat64
	err = e.db.Conn().QueryRow(
		`SELECT AVG(subtask_count) FROM evolution_outcomes
		 WHERE success = 1 AND subtask_count > 0`).Scan(&avgSubtasks)
	if err != nil {
		return nil, fmt.Errorf("failed to average subtask counts: %w", err)
	}
	if avgSubtasks.Valid {
		if avgSubtasks.Float64 > 6 {
			recommendations = append(recommendations, fmt.Sprintf(
				"Average subtask count is high (%.1f). Over-decomposition may be adding overhead.",
				avgSubtasks.Float64))
		} else if avgSubtasks.Float64 < 2 {
			recommendations = append(recommendations, fmt.Sprintf(
				"Average subtask count is low (%.1f). Consider deeper decomposition for complex tasks.",
				avgSubtasks.Float64))
		}
	}

	if ema := e.GetWeight("ema_quality", 0); ema > 0 && ema < 0.6 {
		recommendations = append(recommendations, fmt.Sprintf(
			"EMA quality trend is low (%.3f). Review recent delegation failures for patterns.", ema))
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations, "System is performing within normal parameters.")
	}
	return recommendations, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
