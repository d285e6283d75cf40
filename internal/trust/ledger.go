package trust

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
	gocache "github.com/patrickmn/go-cache"
)

const (
	// DecayDays is the staleness horizon after which observed trust
	// decays.
	DecayDays = 7

	// DecayFactor is applied once an entry is older than DecayDays.
	DecayFactor = 0.95

	// DefaultTrust is returned for unknown (agent, task type) pairs.
	DefaultTrust = 0.5

	cacheTTL = 30 * time.Second
)

// Ledger is the persistent Bayesian trust store. Scores follow the
// Beta posterior mean (s+1)/(s+f+2).
type Ledger struct {
	db    *storage.DB
	cache *gocache.Cache
	now   func() time.Time
}

// NewLedger builds a ledger over an open store.
func NewLedger(db *storage.DB) *Ledger {
	return &Ledger{
		db:    db,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
		now:   time.Now,
	}
}

func cacheKey(agentID, taskType string) string {
	return agentID + "\x00" + taskType
}

// RecordOutcome updates the running counts and means for one
// (agent, task type) pair. Quality must be in [0,1]; duration must be
// non-negative.
func (l *Ledger) RecordOutcome(agentID, taskType string, success bool, quality, duration float64) error {
	if quality < 0 || quality > 1 {
		return fmt.Errorf("quality must be in [0,1], got %v", quality)
	}
	if duration < 0 {
		return fmt.Errorf("duration must be non-negative, got %v", duration)
	}

	now := l.now().UTC().Format(storage.TimeFormat)

	err := l.db.WithTx(func(tx *sql.Tx) error {
		var entry types.TrustEntry
		err := tx.QueryRow(
			`SELECT success_count, failure_count, avg_quality, avg_duration
			 FROM trust_entries WHERE agent_id = ? AND task_type = ?`,
			agentID, taskType,
		).Scan(&entry.SuccessCount, &entry.FailureCount, &entry.AvgQuality, &entry.AvgDuration)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read trust entry: %w", err)
		}

		n := entry.SuccessCount + entry.FailureCount
		avgQuality := (entry.AvgQuality*float64(n) + quality) / float64(n+1)
		avgDuration := (entry.AvgDuration*float64(n) + duration) / float64(n+1)

		if success {
			entry.SuccessCount++
		} else {
			entry.FailureCount++
		}
		trustScore := float64(entry.SuccessCount+1) / float64(entry.SuccessCount+entry.FailureCount+2)

		_, err = tx.Exec(
			`INSERT INTO trust_entries
			   (agent_id, task_type, success_count, failure_count, avg_quality, avg_duration, trust_score, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_type) DO UPDATE SET
			   success_count = excluded.success_count,
			   failure_count = excluded.failure_count,
			   avg_quality = excluded.avg_quality,
			   avg_duration = excluded.avg_duration,
			   trust_score = excluded.trust_score,
			   last_updated = excluded.last_updated`,
			agentID, taskType, entry.SuccessCount, entry.FailureCount,
			avgQuality, avgDuration, trustScore, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert trust entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.cache.Delete(cacheKey(agentID, taskType))
	return nil
}

// decayed applies the time decay to a stored score without writing it
// back; only a further RecordOutcome refreshes last_updated.
func (l *Ledger) decayed(score float64, lastUpdated time.Time) float64 {
	if l.now().UTC().Sub(lastUpdated) >= DecayDays*24*time.Hour {
		score *= DecayFactor
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// GetTrustScore returns the decay-adjusted trust for a pair, or the
// neutral default when no entry exists.
func (l *Ledger) GetTrustScore(agentID, taskType string) float64 {
	key := cacheKey(agentID, taskType)
	if v, ok := l.cache.Get(key); ok {
		return v.(float64)
	}

	var score float64
	var updatedAt string
	err := l.db.Conn().QueryRow(
		"SELECT trust_score, last_updated FROM trust_entries WHERE agent_id = ? AND task_type = ?",
		agentID, taskType,
	).Scan(&score, &updatedAt)
	if err != nil {
		return DefaultTrust
	}

	if t := storage.ParseTime(sql.NullString{String: updatedAt, Valid: true}); t != nil {
		score = l.decayed(score, *t)
	}

	l.cache.Set(key, score, gocache.DefaultExpiration)
	return score
}

// GetTopAgents ranks agents for a task type by decay-adjusted trust.
// An empty taskType ranks across all task types.
func (l *Ledger) GetTopAgents(taskType string, limit int) ([]types.TrustEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `SELECT agent_id, task_type, success_count, failure_count,
	                 avg_quality, avg_duration, trust_score, last_updated
	          FROM trust_entries`
	args := []interface{}{}
	if taskType != "" {
		query += " WHERE task_type = ?"
		args = append(args, taskType)
	}
	query += " ORDER BY trust_score DESC"

	rows, err := l.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust entries: %w", err)
	}
	defer rows.Close()

	var entries []types.TrustEntry
	for rows.Next() {
		entry, err := scanTrustEntry(rows)
		if err != nil {
			return nil, err
		}
		if t := entry.LastUpdated; !t.IsZero() {
			entry.TrustScore = l.decayed(entry.TrustScore, t)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Re-rank after decay, then cut to limit.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TrustScore > entries[j].TrustScore
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GetAgentStats returns the raw stored entry for one pair.
func (l *Ledger) GetAgentStats(agentID, taskType string) (*types.TrustEntry, error) {
	row := l.db.Conn().QueryRow(
		`SELECT agent_id, task_type, success_count, failure_count,
		        avg_quality, avg_duration, trust_score, last_updated
		 FROM trust_entries WHERE agent_id = ? AND task_type = ?`,
		agentID, taskType,
	)
	entry, err := scanTrustEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no trust entry for %s/%s", agentID, taskType)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func scanTrustEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (types.TrustEntry, error) {
	var entry types.TrustEntry
	var updatedAt string
	err := scanner.Scan(
		&entry.AgentID, &entry.TaskType, &entry.SuccessCount, &entry.FailureCount,
		&entry.AvgQuality, &entry.AvgDuration, &entry.TrustScore, &updatedAt,
	)
	if err != nil {
		return entry, err
	}
	if t := storage.ParseTime(sql.NullString{String: updatedAt, Valid: true}); t != nil {
		entry.LastUpdated = *t
	}
	return entry, nil
}
