package types

import "time"

// Model tiers exposed to callers. Each maps to a vendor model identifier
// in the executor's lookup table.
const (
	TierHaiku  = "haiku"
	TierSonnet = "sonnet"
	TierOpus   = "opus"
)

// Thinking effort sub-tiers within opus.
const (
	ThinkingLow    = "low"
	ThinkingMedium = "medium"
	ThinkingHigh   = "high"
	ThinkingMax    = "max"
)

// Verification methods for subtasks.
const (
	VerifyAutomatedTest      = "automated_test"
	VerifySemanticSimilarity = "semantic_similarity"
	VerifyHumanReview        = "human_review"
	VerifyGroundTruth        = "ground_truth"
)

// Agent lifecycle states. Terminal states are absorbing.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateTimeout   = "timeout"
	StateCancelled = "cancelled"
)

// IsTerminalState reports whether a lifecycle state is terminal.
func IsTerminalState(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// Lock types for the file conflict manager.
const (
	LockRead  = "read"
	LockWrite = "write"
)

// DirectExecution is the reserved agent id used when delegation is bypassed.
const DirectExecution = "DIRECT_EXECUTION"

// TaskProfile is the 11-dimensional characterization of a task. Every
// dimension is in [0,1]. Profiles are immutable after creation.
type TaskProfile struct {
	Complexity           float64 `json:"complexity"`
	Criticality          float64 `json:"criticality"`
	Uncertainty          float64 `json:"uncertainty"`
	Duration             float64 `json:"duration"`
	Cost                 float64 `json:"cost"`
	ResourceRequirements float64 `json:"resource_requirements"`
	Constraints          float64 `json:"constraints"`
	Verifiability        float64 `json:"verifiability"`
	Reversibility        float64 `json:"reversibility"`
	Contextuality        float64 `json:"contextuality"`
	Subjectivity         float64 `json:"subjectivity"`
}

// Dimensions returns the profile dimensions as a name-keyed map.
func (p TaskProfile) Dimensions() map[string]float64 {
	return map[string]float64{
		"complexity":            p.Complexity,
		"criticality":           p.Criticality,
		"uncertainty":           p.Uncertainty,
		"duration":              p.Duration,
		"cost":                  p.Cost,
		"resource_requirements": p.ResourceRequirements,
		"constraints":           p.Constraints,
		"verifiability":         p.Verifiability,
		"reversibility":         p.Reversibility,
		"contextuality":         p.Contextuality,
		"subjectivity":          p.Subjectivity,
	}
}

// Valid reports whether every dimension lies in [0,1].
func (p TaskProfile) Valid() bool {
	for _, v := range p.Dimensions() {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// SubTask is a unit of decomposed work. Dependencies reference other
// subtask ids; the parent/dependency relation forms a DAG.
type SubTask struct {
	ID                 string            `json:"id"`
	Description        string            `json:"description"`
	VerificationMethod string            `json:"verification_method"`
	EstimatedCost      float64           `json:"estimated_cost"`
	EstimatedDuration  float64           `json:"estimated_duration"`
	ParallelSafe       bool              `json:"parallel_safe"`
	ParentID           string            `json:"parent_id,omitempty"`
	Dependencies       []string          `json:"dependencies"`
	Profile            TaskProfile       `json:"profile"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// AgentCapability describes what an agent can do, for routing.
type AgentCapability struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Keywords      []string `json:"keywords"`
	EstimatedCost float64  `json:"estimated_cost"`
}

// Assignment is the result of routing one subtask to one agent.
type Assignment struct {
	SubtaskID       string            `json:"subtask_id"`
	AgentID         string            `json:"agent_id"`
	TrustScore      float64           `json:"trust_score"`
	CapabilityMatch float64           `json:"capability_match"`
	Timestamp       time.Time         `json:"timestamp"`
	Reasoning       string            `json:"reasoning"`
	FallbackAgents  []string          `json:"fallback_agents,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// AgentRecord is the registry's view of one agent lifecycle.
type AgentRecord struct {
	AgentID       string            `json:"agent_id"`
	TaskID        string            `json:"task_id"`
	Subtask       string            `json:"subtask"`
	AgentType     string            `json:"agent_type"`
	Model         string            `json:"model"`
	State         string            `json:"state"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	FilesLocked   []string          `json:"files_locked,omitempty"`
	Progress      float64           `json:"progress"`
	LastHeartbeat *time.Time        `json:"last_heartbeat,omitempty"`
	Result        map[string]string `json:"result,omitempty"`
	Error         string            `json:"error,omitempty"`
	DQScore       float64           `json:"dq_score"`
	CostEstimate  float64           `json:"cost_estimate"`
}

// FileLock is one row of the lock table. Paths are canonicalized before
// comparison.
type FileLock struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	AgentID    string    `json:"agent_id"`
	LockType   string    `json:"lock_type"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TrustEntry is the Bayesian Beta trust state for one (agent, task type).
type TrustEntry struct {
	AgentID      string    `json:"agent_id"`
	TaskType     string    `json:"task_type"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	AvgQuality   float64   `json:"avg_quality"`
	AvgDuration  float64   `json:"avg_duration"`
	TrustScore   float64   `json:"trust_score"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Outcome is the analyzed result of one coordination session. Quality is
// in [0,5]; every other score is in [0,1].
type Outcome struct {
	SessionID       string    `json:"session_id"`
	Outcome         string    `json:"outcome"`
	Quality         float64   `json:"quality"`
	Complexity      float64   `json:"complexity"`
	ModelEfficiency float64   `json:"model_efficiency"`
	DQScore         float64   `json:"dq_score"`
	Confidence      float64   `json:"confidence"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Baseline is one immutable version of the tunable parameter set.
type Baseline struct {
	ID            int64              `json:"id"`
	Version       string             `json:"version"`
	Parameters    map[string]float64 `json:"parameters"`
	EvidenceCount int                `json:"evidence_count"`
	Confidence    float64            `json:"confidence"`
	Lineage       string             `json:"lineage"`
	AppliedAt     time.Time          `json:"applied_at"`
}

// EvolutionOutcome is one delegation outcome fed to the evolution engine.
type EvolutionOutcome struct {
	DelegationID   string    `json:"delegation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	QualityScore   float64   `json:"quality_score"`
	ActualCost     float64   `json:"actual_cost"`
	ActualDuration float64   `json:"actual_duration"`
	Complexity     float64   `json:"complexity"`
	SubtaskCount   int       `json:"subtask_count"`
	AgentIDs       []string  `json:"agent_ids"`
	Feedback       string    `json:"feedback"`
}

// AgentResult is the executor's terminal view of one agent.
type AgentResult struct {
	AgentID         string  `json:"agent_id"`
	Success         bool    `json:"success"`
	Output          string  `json:"output"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CoordinationResult is the orchestrator's synthesized session result.
type CoordinationResult struct {
	TaskID          string                 `json:"task_id"`
	Task            string                 `json:"task"`
	Strategy        string                 `json:"strategy"`
	Status          string                 `json:"status"`
	AgentResults    map[string]AgentResult `json:"agent_results"`
	CombinedOutput  string                 `json:"combined_output"`
	Errors          []string               `json:"errors,omitempty"`
	TotalCost       float64                `json:"total_cost"`
	DurationSeconds float64                `json:"duration_seconds"`
}
