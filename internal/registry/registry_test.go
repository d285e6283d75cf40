package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func register(t *testing.T, r *Registry, taskID string) string {
	t.Helper()
	id, err := r.Register(RegisterParams{
		TaskID:    taskID,
		Subtask:   "implement the parser",
		AgentType: "general-purpose",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return id
}

func TestRegisterDefaults(t *testing.T) {
	r, _ := newTestRegistry(t)

	id := register(t, r, "coord-1")
	if !strings.HasPrefix(id, "agent-") || len(id) != len("agent-")+8 {
		t.Errorf("agent id format: %s", id)
	}

	rec, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("registered agent not found")
	}
	if rec.State != types.StatePending {
		t.Errorf("state = %s, want pending", rec.State)
	}
	if rec.Model != types.TierSonnet {
		t.Errorf("default model = %s, want sonnet", rec.Model)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := register(t, r, "coord-1")

	if err := r.Start(id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec, _ := r.Get(id)
	if rec.State != types.StateRunning || rec.StartedAt == nil || rec.LastHeartbeat == nil {
		t.Errorf("after Start: %+v", rec)
	}

	if err := r.Complete(id, map[string]string{"summary": "done"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	rec, _ = r.Get(id)
	if rec.State != types.StateCompleted || rec.Progress != 1.0 || rec.CompletedAt == nil {
		t.Errorf("after Complete: %+v", rec)
	}
	if rec.Result["summary"] != "done" {
		t.Errorf("result = %v", rec.Result)
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	r, db := newTestRegistry(t)
	id := register(t, r, "coord-1")

	if err := r.Start(id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Complete(id, map[string]string{"summary": "done"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// A late cancel or timeout racing a normal completion must not
	// rewrite the terminal record.
	if err := r.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := r.Timeout(id); err != nil {
		t.Fatalf("Timeout failed: %v", err)
	}
	if err := r.Fail(id, "too late"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	rec, _ := r.Get(id)
	if rec.State != types.StateCompleted {
		t.Errorf("terminal state overwritten: %s", rec.State)
	}
	if rec.Error != "" {
		t.Errorf("error set on completed agent: %q", rec.Error)
	}

	// The mirror must not have been re-fired with the later state.
	var status string
	if err := db.Conn().QueryRow(
		`SELECT status FROM agents WHERE agent_id = ?`, id).Scan(&status); err != nil {
		t.Fatalf("mirror row missing: %v", err)
	}
	if status != types.StateCompleted {
		t.Errorf("mirrored status = %s, want %s", status, types.StateCompleted)
	}
}

func TestCancelPendingAgent(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := register(t, r, "coord-1")

	if err := r.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	rec, _ := r.Get(id)
	if rec.State != types.StateCancelled {
		t.Errorf("pending agent not cancellable: %s", rec.State)
	}
}

func TestFailAndTimeout(t *testing.T) {
	r, _ := newTestRegistry(t)

	failed := register(t, r, "coord-1")
	if err := r.Fail(failed, "exploded"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	rec, _ := r.Get(failed)
	if rec.State != types.StateFailed || rec.Error != "exploded" {
		t.Errorf("after Fail: %+v", rec)
	}

	timedOut := register(t, r, "coord-1")
	if err := r.Timeout(timedOut); err != nil {
		t.Fatalf("Timeout failed: %v", err)
	}
	rec, _ = r.Get(timedOut)
	if rec.State != types.StateTimeout || rec.Error != "Agent timed out" {
		t.Errorf("after Timeout: %+v", rec)
	}
}

func TestHeartbeatClampsProgress(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := register(t, r, "coord-1")
	if err := r.Start(id); err != nil {
		t.Fatal(err)
	}

	over := 1.7
	if err := r.Heartbeat(id, &over); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	rec, _ := r.Get(id)
	if rec.Progress != 1.0 {
		t.Errorf("progress = %v, want clamped 1.0", rec.Progress)
	}

	under := -0.5
	if err := r.Heartbeat(id, &under); err != nil {
		t.Fatal(err)
	}
	rec, _ = r.Get(id)
	if rec.Progress != 0.0 {
		t.Errorf("progress = %v, want clamped 0.0", rec.Progress)
	}
}

func TestActiveAndTaskAgents(t *testing.T) {
	r, _ := newTestRegistry(t)

	a := register(t, r, "coord-1")
	b := register(t, r, "coord-1")
	c := register(t, r, "coord-2")
	if err := r.Start(b); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(c, nil); err != nil {
		t.Fatal(err)
	}

	active, err := r.Active()
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active = %d agents, want 2 (pending %s + running %s)", len(active), a, b)
	}

	forTask, err := r.TaskAgents("coord-1")
	if err != nil {
		t.Fatalf("TaskAgents failed: %v", err)
	}
	if len(forTask) != 2 {
		t.Errorf("coord-1 agents = %d, want 2", len(forTask))
	}
}

func TestStaleDetection(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := register(t, r, "coord-1")
	if err := r.Start(id); err != nil {
		t.Fatal(err)
	}

	stale, err := r.Stale()
	if err != nil {
		t.Fatalf("Stale failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("fresh agent reported stale: %v", stale)
	}

	r.now = func() time.Time { return time.Now().Add(HeartbeatTimeout + 5*time.Second) }
	stale, err = r.Stale()
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].AgentID != id {
		t.Errorf("stale = %v, want [%s]", stale, id)
	}
}

func TestCleanupCompleted(t *testing.T) {
	r, _ := newTestRegistry(t)

	done := register(t, r, "coord-1")
	if err := r.Complete(done, nil); err != nil {
		t.Fatal(err)
	}
	running := register(t, r, "coord-1")
	if err := r.Start(running); err != nil {
		t.Fatal(err)
	}

	// Nothing is old enough yet.
	n, err := r.CleanupCompleted(0)
	if err != nil {
		t.Fatalf("CleanupCompleted failed: %v", err)
	}
	if n != 0 {
		t.Errorf("swept %d agents early, want 0", n)
	}

	r.now = func() time.Time { return time.Now().Add(StaleCleanup + time.Minute) }
	n, err = r.CleanupCompleted(0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d agents, want 1", n)
	}
	if rec, _ := r.Get(running); rec == nil {
		t.Error("running agent must survive the sweep")
	}
}

func TestTerminalMirrorsToHistory(t *testing.T) {
	r, db := newTestRegistry(t)
	id := register(t, r, "coord-1")
	if err := r.Complete(id, map[string]string{"summary": "done"}); err != nil {
		t.Fatal(err)
	}

	var status string
	err := db.Conn().QueryRow(
		`SELECT status FROM agents WHERE agent_id = ?`, id).Scan(&status)
	if err != nil {
		t.Fatalf("history row missing: %v", err)
	}
	if status != types.StateCompleted {
		t.Errorf("history status = %s, want completed", status)
	}
}

func TestGetStats(t *testing.T) {
	r, _ := newTestRegistry(t)

	a := register(t, r, "coord-1")
	register(t, r, "coord-1")
	if err := r.Fail(a, "boom"); err != nil {
		t.Fatal(err)
	}

	stats, err := r.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalAgents != 2 {
		t.Errorf("total = %d, want 2", stats.TotalAgents)
	}
	if stats.ByState[types.StateFailed] != 1 || stats.ByState[types.StatePending] != 1 {
		t.Errorf("by state = %v", stats.ByState)
	}
	if stats.ActiveCount != 1 {
		t.Errorf("active = %d, want 1", stats.ActiveCount)
	}
}
