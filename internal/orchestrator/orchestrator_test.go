package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/COORDINATOR/internal/events"
	"github.com/COORDINATOR/internal/executor"
	"github.com/COORDINATOR/internal/locks"
	"github.com/COORDINATOR/internal/registry"
	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

type scriptedInvoker struct {
	mu     sync.Mutex
	models []string
	fail   bool
}

func (s *scriptedInvoker) Invoke(ctx context.Context, model, prompt string) (executor.InvokeResult, error) {
	s.mu.Lock()
	s.models = append(s.models, model)
	s.mu.Unlock()
	if s.fail {
		return executor.InvokeResult{Stderr: "scripted failure", ExitCode: 1}, nil
	}
	return executor.InvokeResult{Stdout: "agent output", ExitCode: 0}, nil
}

func newTestOrchestrator(t *testing.T, invoker executor.Invoker, confirm ConfirmFunc) (*Orchestrator, *storage.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db)
	lockMgr := locks.NewManager(db)
	exec := executor.New(reg, lockMgr, invoker, 0)

	o, err := New(Options{
		DB:       db,
		Registry: reg,
		Locks:    lockMgr,
		Executor: exec,
		Confirm:  confirm,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o, db
}

func TestCoordinateResearchStrategy(t *testing.T) {
	invoker := &scriptedInvoker{}
	o, db := newTestOrchestrator(t, invoker, nil)

	result, err := o.Coordinate(context.Background(), "investigate the cache layer", StrategyResearch)
	if err != nil {
		t.Fatalf("Coordinate failed: %v", err)
	}

	if !strings.HasPrefix(result.TaskID, "coord-") {
		t.Errorf("task id = %s", result.TaskID)
	}
	if result.Status != "success" {
		t.Errorf("status = %s, want success (errors: %v)", result.Status, result.Errors)
	}
	if len(result.AgentResults) != 3 {
		t.Errorf("research should spawn 3 agents, got %d", len(result.AgentResults))
	}
	if !strings.Contains(result.CombinedOutput, "agent output") {
		t.Errorf("combined output missing agent text: %q", result.CombinedOutput)
	}

	// Session row is persisted.
	var status string
	err = db.Conn().QueryRow(
		`SELECT status FROM sessions WHERE session_id = ?`, result.TaskID).Scan(&status)
	if err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	if status != "success" {
		t.Errorf("session status = %s", status)
	}
}

func TestCoordinatePartialFailure(t *testing.T) {
	invoker := &scriptedInvoker{fail: true}
	o, _ := newTestOrchestrator(t, invoker, nil)

	result, err := o.Coordinate(context.Background(), "investigate the cache layer", StrategyResearch)
	if err != nil {
		t.Fatalf("Coordinate failed: %v", err)
	}
	if result.Status != "failed" {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if len(result.Errors) == 0 {
		t.Error("failed coordination should surface errors")
	}
}

func TestDetectStrategy(t *testing.T) {
	invoker := &scriptedInvoker{}
	o, _ := newTestOrchestrator(t, invoker, nil)

	tests := []struct {
		task string
		want string
	}{
		{"should we adopt GraphQL? pros and cons", StrategyCouncil},
		{"understand how the scheduler works", StrategyResearch},
		{"coordinate a comprehensive multi-part migration", StrategyTeam},
		{"tidy whitespace", StrategyFull},
	}
	for _, tt := range tests {
		got := o.detectStrategy(tt.task, nil, locks.Analysis{})
		if got != tt.want {
			t.Errorf("detectStrategy(%q) = %s, want %s", tt.task, got, tt.want)
		}
	}

	// Implementation with several conflict-free subtasks upgrades to full.
	many := []TaskAssignment{{Subtask: "a"}, {Subtask: "b"}}
	if got := o.detectStrategy("implement the widget", many, locks.Analysis{}); got != StrategyFull {
		t.Errorf("multi-subtask implement = %s, want full", got)
	}
	if got := o.detectStrategy("implement the widget", many, locks.Analysis{HasConflicts: true}); got != StrategyReviewBuild {
		t.Errorf("conflicting implement = %s, want review-build", got)
	}
}

func TestCoordinateCostConfirmationDeclined(t *testing.T) {
	invoker := &scriptedInvoker{}
	declined := false
	o, _ := newTestOrchestrator(t, invoker, func(summary CostSummary) bool {
		declined = true
		return false
	})

	// A long council question prices each agent cheaply, so force the
	// threshold down by coordinating a huge task description.
	big := strings.Repeat("design a distributed scalable system architecture framework ", 400)
	result, err := o.Coordinate(context.Background(), big, StrategyResearch)
	if err != nil {
		t.Fatalf("Coordinate failed: %v", err)
	}
	if !declined {
		t.Skip("estimate stayed under the confirmation threshold")
	}
	if result.Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", result.Status)
	}
	if len(invoker.models) != 0 {
		t.Error("no agents may spawn after a declined confirmation")
	}
}

func TestCoordinateReviewBuildUsesWriteAndRead(t *testing.T) {
	invoker := &scriptedInvoker{}
	o, _ := newTestOrchestrator(t, invoker, nil)

	result, err := o.Coordinate(context.Background(), "the widget", StrategyReviewBuild)
	if err != nil {
		t.Fatalf("Coordinate failed: %v", err)
	}
	if len(result.AgentResults) != 2 {
		t.Fatalf("review-build should spawn 2 agents, got %d", len(result.AgentResults))
	}
	if result.Strategy != StrategyReviewBuild {
		t.Errorf("strategy = %s", result.Strategy)
	}
}

func TestSessionEventsPublished(t *testing.T) {
	invoker := &scriptedInvoker{}
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db)
	lockMgr := locks.NewManager(db)
	exec := executor.New(reg, lockMgr, invoker, 0)

	bus := events.NewBus()
	ch := bus.Subscribe("all")

	o, err := New(Options{DB: db, Registry: reg, Locks: lockMgr, Executor: exec, Sink: bus})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Coordinate(context.Background(), "the widget", StrategyImplement); err != nil {
		t.Fatal(err)
	}

	var got []events.Event
	for len(ch) > 0 {
		got = append(got, <-ch)
	}
	if len(got) < 2 {
		t.Fatalf("expected started + terminal session events, got %d", len(got))
	}
	if got[0].Details["status"] != "started" {
		t.Errorf("first event status = %v", got[0].Details["status"])
	}
}

func TestStatusAll(t *testing.T) {
	invoker := &scriptedInvoker{}
	o, _ := newTestOrchestrator(t, invoker, nil)

	if _, err := o.Coordinate(context.Background(), "the widget", StrategyImplement); err != nil {
		t.Fatal(err)
	}

	global, err := o.StatusAll()
	if err != nil {
		t.Fatalf("StatusAll failed: %v", err)
	}
	if global.Registry.TotalAgents != 1 {
		t.Errorf("registry total = %d, want 1", global.Registry.TotalAgents)
	}
	if global.Locks.TotalLocks != 0 {
		t.Errorf("locks should be released after coordination, got %d", global.Locks.TotalLocks)
	}
}

func TestStatusForTask(t *testing.T) {
	invoker := &scriptedInvoker{}
	o, _ := newTestOrchestrator(t, invoker, nil)

	result, err := o.Coordinate(context.Background(), "the widget", StrategyImplement)
	if err != nil {
		t.Fatal(err)
	}

	status, err := o.Status(result.TaskID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.Agents) != 1 || status.Agents[0].State != types.StateCompleted {
		t.Errorf("task agents = %+v", status.Agents)
	}
}
