// Package orchestrator coordinates multi-agent sessions: decompose,
// assign models, check file conflicts, execute a strategy, and
// synthesize the results.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/COORDINATOR/internal/events"
	"github.com/COORDINATOR/internal/executor"
	"github.com/COORDINATOR/internal/locks"
	"github.com/COORDINATOR/internal/registry"
	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// CostConfirmThreshold is the estimated cost above which coordination
// asks for confirmation before spawning agents.
const CostConfirmThreshold = 1.0

// Strategy names.
const (
	StrategyAuto        = "auto"
	StrategyResearch    = "research"
	StrategyImplement   = "implement"
	StrategyReviewBuild = "review-build"
	StrategyFull        = "full"
	StrategyTeam        = "team"
	StrategyCouncil     = "council"
)

// ConfirmFunc decides whether a coordination whose estimate crossed
// the threshold may proceed. The CLI wires an interactive prompt here;
// servers auto-approve or auto-decline.
type ConfirmFunc func(summary CostSummary) bool

// Orchestrator is the engine behind every coordination strategy.
type Orchestrator struct {
	db          *storage.DB
	registry    *registry.Registry
	locks       *locks.Manager
	distributor *Distributor
	executor    *executor.Executor
	sink        events.Sink
	confirm     ConfirmFunc
}

// Options configures orchestrator construction.
type Options struct {
	DB       *storage.DB
	Registry *registry.Registry
	Locks    *locks.Manager
	Executor *executor.Executor
	Sink     events.Sink
	Confirm  ConfirmFunc
}

// New builds an orchestrator. Registry, lock manager, and sink default
// sensibly; DB and Executor are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator requires an open store")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("orchestrator requires an executor")
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(opts.DB)
	}
	if opts.Locks == nil {
		opts.Locks = locks.NewManager(opts.DB)
	}
	if opts.Sink == nil {
		opts.Sink = events.NopSink{}
	}
	return &Orchestrator{
		db:          opts.DB,
		registry:    opts.Registry,
		locks:       opts.Locks,
		distributor: NewDistributor(opts.DB.BaselinesPath()),
		executor:    opts.Executor,
		sink:        opts.Sink,
		confirm:     opts.Confirm,
	}, nil
}

// Coordinate runs one session end to end and returns its synthesized
// result.
func (o *Orchestrator) Coordinate(ctx context.Context, task, strategy string) (types.CoordinationResult, error) {
	taskID := "coord-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	start := time.Now()

	if strategy == "" {
		strategy = StrategyAuto
	}

	subtasks := o.decompose(task, strategy)
	assignments := o.distributor.Assign(subtasks)

	requests := make([]locks.Request, len(assignments))
	for i, a := range assignments {
		requests[i] = locks.Request{Files: a.Files, LockType: a.LockType}
	}
	analysis := locks.DetectPotentialConflicts(requests)

	summary := o.distributor.EstimateTotalCost(assignments)
	if summary.Total > CostConfirmThreshold && o.confirm != nil && !o.confirm(summary) {
		result := types.CoordinationResult{
			TaskID:   taskID,
			Task:     task,
			Strategy: strategy,
			Status:   "cancelled",
			Errors:   []string{"cost confirmation declined"},
		}
		o.logSession(result, 0)
		return result, nil
	}

	if strategy == StrategyAuto {
		strategy = o.detectStrategy(task, assignments, analysis)
	}

	log.Printf("[ORCHESTRATOR] %s: strategy=%s subtasks=%d parallelizable=%v",
		taskID, strategy, len(assignments), analysis.CanParallelize)

	o.sink.Log(sessionEvent(taskID, strategy, "started"))

	agentResults := o.executeStrategy(ctx, strategy, taskID, assignments, analysis)

	result := o.synthesize(taskID, task, strategy, agentResults)
	for _, a := range assignments {
		result.TotalCost += a.CostEstimate
	}
	duration := time.Since(start).Seconds()
	result.DurationSeconds = float64(int(duration*100)) / 100

	o.logSession(result, len(agentResults))
	o.sink.Log(sessionEvent(taskID, strategy, result.Status))
	return result, nil
}

func sessionEvent(taskID, strategy, status string) events.Event {
	e := events.NewEvent(events.EventSession, "all", map[string]interface{}{
		"strategy": strategy,
		"status":   status,
	})
	e.TaskID = taskID
	return e
}

func (o *Orchestrator) decompose(task, strategy string) []SubtaskSpec {
	intp := func(v int) *int { return &v }

	switch strategy {
	case StrategyCouncil:
		// Council agents all receive the same question.
		return []SubtaskSpec{{
			Subtask:   task,
			AgentType: "general-purpose",
			LockType:  types.LockRead,
			Priority:  intp(0),
		}}
	case StrategyResearch:
		angles := []string{
			"Explore the overall architecture and structure for",
			"Find similar patterns and implementations for",
			"Analyze dependencies and connections for",
		}
		specs := make([]SubtaskSpec, len(angles))
		for i, angle := range angles {
			specs[i] = SubtaskSpec{
				Subtask:   angle + ": " + task,
				AgentType: "Explore",
				LockType:  types.LockRead,
				Priority:  intp(0),
			}
		}
		return specs
	case StrategyImplement:
		return []SubtaskSpec{{
			Subtask:   "Implement: " + task,
			AgentType: "general-purpose",
			LockType:  types.LockWrite,
			Priority:  intp(0),
		}}
	case StrategyReviewBuild:
		return []SubtaskSpec{
			{
				Subtask:   "Build: " + task,
				AgentType: "general-purpose",
				LockType:  types.LockWrite,
				Priority:  intp(0),
			},
			{
				Subtask:   "Review implementation for: " + task,
				AgentType: "Explore",
				LockType:  types.LockRead,
				Priority:  intp(0),
			},
		}
	default:
		return DecomposeTask(task)
	}
}

var councilKeywords = []string{
	"should we", "should i", "perspectives", "opinions", "council",
	"review from", "what do you think", "pros and cons", "trade-offs",
	"tradeoffs", "advise", "recommend", "evaluate this",
	"is this the right", "compare approaches",
}

var researchStrategyKeywords = []string{
	"understand", "explore", "find", "analyze", "investigate", "how does",
}

var teamKeywords = []string{
	"team", "parallel", "coordinate", "multi-part", "comprehensive",
}

var implementKeywords = []string{"implement", "add", "create", "build"}

func (o *Orchestrator) detectStrategy(task string, assignments []TaskAssignment, analysis locks.Analysis) string {
	lower := strings.ToLower(task)

	if containsAnyKeyword(lower, councilKeywords...) {
		return StrategyCouncil
	}
	if containsAnyKeyword(lower, researchStrategyKeywords...) {
		return StrategyResearch
	}
	if containsAnyKeyword(lower, teamKeywords...) {
		return StrategyTeam
	}
	if containsAnyKeyword(lower, implementKeywords...) {
		if len(assignments) > 1 && !analysis.HasConflicts {
			return StrategyFull
		}
		return StrategyReviewBuild
	}
	return StrategyFull
}

func (o *Orchestrator) executeStrategy(
	ctx context.Context,
	strategy, taskID string,
	assignments []TaskAssignment,
	analysis locks.Analysis,
) map[string]types.AgentResult {
	switch strategy {
	case StrategyResearch, StrategyCouncil, StrategyReviewBuild, "review", StrategyTeam:
		// Read-heavy strategies run fully parallel; the review-build
		// reviewer is read-only so the pair never conflicts.
		return o.executeParallel(ctx, taskID, assignments)
	case StrategyImplement:
		if analysis.CanParallelize {
			return o.executeParallel(ctx, taskID, assignments)
		}
		return o.executeSequential(ctx, taskID, assignments)
	case StrategyFull:
		return o.executePhased(ctx, taskID, assignments, analysis)
	default:
		return o.executeSequential(ctx, taskID, assignments)
	}
}

func (o *Orchestrator) assignmentConfig(a TaskAssignment) executor.AgentConfig {
	return executor.AgentConfig{
		Subtask:      a.Subtask,
		Prompt:       a.Subtask,
		AgentType:    a.AgentType,
		Model:        a.Model,
		FilesToLock:  a.Files,
		LockType:     a.LockType,
		DQScore:      a.DQScore,
		CostEstimate: a.CostEstimate,
	}
}

func (o *Orchestrator) collectResults(agentIDs []string) map[string]types.AgentResult {
	results := make(map[string]types.AgentResult, len(agentIDs))
	for _, agentID := range agentIDs {
		rec, err := o.registry.Get(agentID)
		if err != nil || rec == nil {
			results[agentID] = types.AgentResult{
				AgentID: agentID, Success: false, Error: "Agent not found",
			}
			continue
		}
		var output string
		if rec.Result != nil {
			output = rec.Result["output"]
		}
		results[agentID] = types.AgentResult{
			AgentID: agentID,
			Success: rec.State == types.StateCompleted,
			Output:  output,
			Error:   rec.Error,
		}
	}
	return results
}

func (o *Orchestrator) executeParallel(ctx context.Context, taskID string, assignments []TaskAssignment) map[string]types.AgentResult {
	configs := make([]executor.AgentConfig, len(assignments))
	for i, a := range assignments {
		configs[i] = o.assignmentConfig(a)
	}
	agentIDs := o.executor.SpawnParallel(ctx, configs, taskID)
	return o.collectResults(agentIDs)
}

func (o *Orchestrator) executeSequential(ctx context.Context, taskID string, assignments []TaskAssignment) map[string]types.AgentResult {
	var agentIDs []string
	for _, a := range assignments {
		agentID, err := o.executor.Spawn(ctx, o.assignmentConfig(a), taskID)
		if err != nil {
			log.Printf("[ORCHESTRATOR] spawn failed for %q: %v", a.Subtask, err)
		}
		if agentID != "" {
			agentIDs = append(agentIDs, agentID)
		}
	}
	return o.collectResults(agentIDs)
}

// executePhased runs read-only assignments first, then writers; writers
// fall back to sequential when the conflict analysis forbids overlap.
func (o *Orchestrator) executePhased(ctx context.Context, taskID string, assignments []TaskAssignment, analysis locks.Analysis) map[string]types.AgentResult {
	results := make(map[string]types.AgentResult)

	var reads, writes []TaskAssignment
	for _, a := range assignments {
		if a.LockType == types.LockWrite {
			writes = append(writes, a)
		} else {
			reads = append(reads, a)
		}
	}

	if len(reads) > 0 {
		for id, res := range o.executeParallel(ctx, taskID, reads) {
			results[id] = res
		}
	}
	if len(writes) > 0 {
		var phase map[string]types.AgentResult
		if analysis.CanParallelize {
			phase = o.executeParallel(ctx, taskID, writes)
		} else {
			phase = o.executeSequential(ctx, taskID, writes)
		}
		for id, res := range phase {
			results[id] = res
		}
	}
	return results
}

func (o *Orchestrator) synthesize(taskID, task, strategy string, agentResults map[string]types.AgentResult) types.CoordinationResult {
	ids := make([]string, 0, len(agentResults))
	for id := range agentResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	successful := 0
	var sections, errors []string
	for _, id := range ids {
		res := agentResults[id]
		if res.Success {
			successful++
			sections = append(sections, fmt.Sprintf("## Agent %s\n%s", id, res.Output))
		}
		if res.Error != "" {
			errors = append(errors, res.Error)
		}
	}

	status := "failed"
	switch {
	case len(agentResults) > 0 && successful == len(agentResults):
		status = "success"
	case successful > 0:
		status = "partial"
	}

	return types.CoordinationResult{
		TaskID:         taskID,
		Task:           task,
		Strategy:       strategy,
		Status:         status,
		AgentResults:   agentResults,
		CombinedOutput: strings.Join(sections, "\n\n"),
		Errors:         errors,
	}
}

func (o *Orchestrator) logSession(result types.CoordinationResult, agentCount int) {
	metadata, err := json.Marshal(map[string]interface{}{
		"duration_seconds": result.DurationSeconds,
		"total_cost":       result.TotalCost,
		"agent_count":      agentCount,
	})
	if err != nil {
		metadata = []byte("{}")
	}

	task := result.Task
	if len(task) > 100 {
		task = task[:100]
	}
	_, err = o.db.Conn().Exec(
		`INSERT INTO sessions (session_id, strategy, task, status, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		     status = excluded.status,
		     metadata = excluded.metadata`,
		result.TaskID, result.Strategy, task, result.Status, string(metadata))
	if err != nil {
		log.Printf("[ORCHESTRATOR] failed to log session %s: %v", result.TaskID, err)
	}
}

// TaskStatus reports one coordination task's agents and registry stats.
type TaskStatus struct {
	TaskID string              `json:"task_id"`
	Agents []types.AgentRecord `json:"agents"`
	Stats  registry.Stats      `json:"stats"`
}

// Status returns the state of one coordination task.
func (o *Orchestrator) Status(taskID string) (TaskStatus, error) {
	agents, err := o.registry.TaskAgents(taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	stats, err := o.registry.GetStats()
	if err != nil {
		return TaskStatus{}, err
	}
	return TaskStatus{TaskID: taskID, Agents: agents, Stats: stats}, nil
}

// GlobalStatus reports registry and lock statistics.
type GlobalStatus struct {
	Registry registry.Stats `json:"registry"`
	Locks    locks.Stats    `json:"locks"`
}

// StatusAll returns coordinator-wide statistics.
func (o *Orchestrator) StatusAll() (GlobalStatus, error) {
	reg, err := o.registry.GetStats()
	if err != nil {
		return GlobalStatus{}, err
	}
	lockStats, err := o.locks.GetStats()
	if err != nil {
		return GlobalStatus{}, err
	}
	return GlobalStatus{Registry: reg, Locks: lockStats}, nil
}

// Cancel stops every agent of a coordination task.
func (o *Orchestrator) Cancel(taskID string) error {
	return o.executor.CancelTask(taskID)
}
