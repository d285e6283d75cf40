// Package registry tracks agent lifecycles: registration, heartbeats,
// terminal transitions, and stale-agent sweeps.
package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// Timeout thresholds.
const (
	// HeartbeatTimeout marks a running agent stale when no heartbeat
	// arrives within it.
	HeartbeatTimeout = 60 * time.Second
	// AgentTimeout is the default maximum runtime.
	AgentTimeout = 300 * time.Second
	// StaleCleanup is how long terminal agents linger before sweeps
	// remove them from active tracking.
	StaleCleanup = 600 * time.Second
)

// Registry persists agent records. Terminal transitions also mirror
// the record into the agents history table.
type Registry struct {
	db  *storage.DB
	now func() time.Time
}

// New builds a registry over an open store.
func New(db *storage.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// RegisterParams are the inputs for registering a new agent.
type RegisterParams struct {
	TaskID       string
	Subtask      string
	AgentType    string
	Model        string
	FilesToLock  []string
	DQScore      float64
	CostEstimate float64
}

// Register creates a pending agent record and returns its id.
func (r *Registry) Register(params RegisterParams) (string, error) {
	if params.Model == "" {
		params.Model = types.TierSonnet
	}
	agentID := "agent-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	files, err := json.Marshal(params.FilesToLock)
	if err != nil || params.FilesToLock == nil {
		files = []byte("[]")
	}

	_, err = r.db.Conn().Exec(
		`INSERT INTO agent_registry (
		    agent_id, task_id, subtask, agent_type, model, state,
		    created_at, files_locked, dq_score, cost_estimate
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID, params.TaskID, params.Subtask, params.AgentType, params.Model,
		types.StatePending, r.now().UTC().Format(storage.TimeFormat),
		string(files), params.DQScore, params.CostEstimate)
	if err != nil {
		return "", fmt.Errorf("failed to register agent: %w", err)
	}
	return agentID, nil
}

// Start marks an agent running and stamps its first heartbeat.
func (r *Registry) Start(agentID string) error {
	now := r.now().UTC().Format(storage.TimeFormat)
	_, err := r.db.Conn().Exec(
		`UPDATE agent_registry
		 SET state = ?, started_at = ?, last_heartbeat = ?
		 WHERE agent_id = ?`,
		types.StateRunning, now, now, agentID)
	if err != nil {
		return fmt.Errorf("failed to start agent %s: %w", agentID, err)
	}
	return nil
}

// Heartbeat refreshes the agent's liveness stamp. Progress, when
// non-nil, is clamped to [0,1].
func (r *Registry) Heartbeat(agentID string, progress *float64) error {
	now := r.now().UTC().Format(storage.TimeFormat)
	var err error
	if progress != nil {
		p := *progress
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		_, err = r.db.Conn().Exec(
			`UPDATE agent_registry SET last_heartbeat = ?, progress = ? WHERE agent_id = ?`,
			now, p, agentID)
	} else {
		_, err = r.db.Conn().Exec(
			`UPDATE agent_registry SET last_heartbeat = ? WHERE agent_id = ?`,
			now, agentID)
	}
	if err != nil {
		return fmt.Errorf("failed to heartbeat agent %s: %w", agentID, err)
	}
	return nil
}

// terminalTransition moves an agent into a terminal state. Only
// pending or running agents transition; terminal states are absorbing,
// so a late cancel or timeout cannot overwrite a completed record.
// The mirror fires only when a row actually changed.
func (r *Registry) terminalTransition(agentID, setClause string, setArgs ...interface{}) error {
	args := append(setArgs, agentID, types.StatePending, types.StateRunning)
	res, err := r.db.Conn().Exec(
		`UPDATE agent_registry SET `+setClause+
			` WHERE agent_id = ? AND state IN (?, ?)`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}
	r.mirrorOutcome(agentID)
	return nil
}

// Complete marks an agent finished with an optional result payload.
func (r *Registry) Complete(agentID string, result map[string]string) error {
	var resultJSON sql.NullString
	if result != nil {
		data, err := json.Marshal(result)
		if err == nil {
			resultJSON = sql.NullString{String: string(data), Valid: true}
		}
	}
	err := r.terminalTransition(agentID,
		`state = ?, completed_at = ?, progress = 1.0, result = ?`,
		types.StateCompleted, r.now().UTC().Format(storage.TimeFormat), resultJSON)
	if err != nil {
		return fmt.Errorf("failed to complete agent %s: %w", agentID, err)
	}
	return nil
}

// Fail marks an agent failed with an error message.
func (r *Registry) Fail(agentID, errMsg string) error {
	err := r.terminalTransition(agentID,
		`state = ?, completed_at = ?, error = ?`,
		types.StateFailed, r.now().UTC().Format(storage.TimeFormat), errMsg)
	if err != nil {
		return fmt.Errorf("failed to fail agent %s: %w", agentID, err)
	}
	return nil
}

// Timeout marks an agent timed out.
func (r *Registry) Timeout(agentID string) error {
	err := r.terminalTransition(agentID,
		`state = ?, completed_at = ?, error = ?`,
		types.StateTimeout, r.now().UTC().Format(storage.TimeFormat), "Agent timed out")
	if err != nil {
		return fmt.Errorf("failed to time out agent %s: %w", agentID, err)
	}
	return nil
}

// Cancel marks an agent cancelled. Cancelling an already-terminal
// agent is a no-op, which keeps cancellation idempotent.
func (r *Registry) Cancel(agentID string) error {
	err := r.terminalTransition(agentID,
		`state = ?, completed_at = ?`,
		types.StateCancelled, r.now().UTC().Format(storage.TimeFormat))
	if err != nil {
		return fmt.Errorf("failed to cancel agent %s: %w", agentID, err)
	}
	return nil
}

// Get returns one agent record, or nil when unknown.
func (r *Registry) Get(agentID string) (*types.AgentRecord, error) {
	records, err := r.query(`WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// TaskAgents returns every agent spawned for a coordination task.
func (r *Registry) TaskAgents(taskID string) ([]types.AgentRecord, error) {
	return r.query(`WHERE task_id = ?`, taskID)
}

// Active returns agents that are pending or running.
func (r *Registry) Active() ([]types.AgentRecord, error) {
	return r.query(`WHERE state IN (?, ?)`, types.StatePending, types.StateRunning)
}

// Stale returns running agents whose last heartbeat is older than
// HeartbeatTimeout.
func (r *Registry) Stale() ([]types.AgentRecord, error) {
	running, err := r.query(`WHERE state = ?`, types.StateRunning)
	if err != nil {
		return nil, err
	}
	now := r.now()
	var stale []types.AgentRecord
	for _, rec := range running {
		if rec.LastHeartbeat != nil && now.Sub(*rec.LastHeartbeat) > HeartbeatTimeout {
			stale = append(stale, rec)
		}
	}
	return stale, nil
}

// CleanupCompleted removes terminal agents whose completion is older
// than olderThan (StaleCleanup when zero) and reports how many rows
// were removed.
func (r *Registry) CleanupCompleted(olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = StaleCleanup
	}
	cutoff := r.now().Add(-olderThan).UTC().Format(storage.TimeFormat)
	res, err := r.db.Conn().Exec(
		`DELETE FROM agent_registry
		 WHERE state IN (?, ?, ?, ?)
		   AND completed_at IS NOT NULL
		   AND completed_at < ?`,
		types.StateCompleted, types.StateFailed, types.StateTimeout, types.StateCancelled,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep terminal agents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Stats summarizes the registry.
type Stats struct {
	TotalAgents       int            `json:"total_agents"`
	ByState           map[string]int `json:"by_state"`
	ByModel           map[string]int `json:"by_model"`
	TotalCostEstimate float64        `json:"total_cost_estimate"`
	ActiveCount       int            `json:"active_count"`
	StaleCount        int            `json:"stale_count"`
}

// GetStats computes registry statistics.
func (r *Registry) GetStats() (Stats, error) {
	all, err := r.query(``)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByState: make(map[string]int),
		ByModel: make(map[string]int),
	}
	for _, rec := range all {
		stats.TotalAgents++
		stats.ByState[rec.State]++
		stats.ByModel[rec.Model]++
		stats.TotalCostEstimate += rec.CostEstimate
	}

	active, err := r.Active()
	if err != nil {
		return Stats{}, err
	}
	stale, err := r.Stale()
	if err != nil {
		return Stats{}, err
	}
	stats.ActiveCount = len(active)
	stats.StaleCount = len(stale)
	return stats, nil
}

// mirrorOutcome copies a terminal record into the agents history table.
// Best-effort: a mirror failure never fails the transition.
func (r *Registry) mirrorOutcome(agentID string) {
	rec, err := r.Get(agentID)
	if err != nil || rec == nil {
		return
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = r.db.Conn().Exec(
		`INSERT INTO agents (agent_id, session_id, model, role, status, started_at, completed_at, output)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		     status = excluded.status,
		     completed_at = excluded.completed_at,
		     output = excluded.output`,
		rec.AgentID, rec.TaskID, rec.Model, rec.AgentType, rec.State,
		storage.NullTime(rec.StartedAt), storage.NullTime(rec.CompletedAt), string(payload))
	if err != nil {
		log.Printf("[REGISTRY] failed to mirror outcome for %s: %v", agentID, err)
	}
}

func (r *Registry) query(where string, args ...interface{}) ([]types.AgentRecord, error) {
	rows, err := r.db.Conn().Query(
		`SELECT agent_id, task_id, subtask, agent_type, model, state,
		        created_at, started_at, completed_at, files_locked,
		        progress, last_heartbeat, result, error, dq_score, cost_estimate
		 FROM agent_registry `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	defer rows.Close()

	var records []types.AgentRecord
	for rows.Next() {
		var rec types.AgentRecord
		var created string
		var started, completed, heartbeat, files, result, errMsg sql.NullString
		if err := rows.Scan(
			&rec.AgentID, &rec.TaskID, &rec.Subtask, &rec.AgentType, &rec.Model,
			&rec.State, &created, &started, &completed, &files,
			&rec.Progress, &heartbeat, &result, &errMsg,
			&rec.DQScore, &rec.CostEstimate); err != nil {
			return nil, fmt.Errorf("failed to scan registry row: %w", err)
		}
		if t := storage.ParseTime(sql.NullString{String: created, Valid: true}); t != nil {
			rec.CreatedAt = *t
		}
		rec.StartedAt = storage.ParseTime(started)
		rec.CompletedAt = storage.ParseTime(completed)
		rec.LastHeartbeat = storage.ParseTime(heartbeat)
		if files.Valid && files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &rec.FilesLocked); err != nil {
				rec.FilesLocked = nil
			}
		}
		if result.Valid && result.String != "" {
			if err := json.Unmarshal([]byte(result.String), &rec.Result); err != nil {
				rec.Result = nil
			}
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
