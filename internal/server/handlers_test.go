package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

type fakeCoordinator struct {
	calls chan string
}

func (f *fakeCoordinator) Coordinate(ctx context.Context, task, strategy string) (types.CoordinationResult, error) {
	f.calls <- task + "/" + strategy
	return types.CoordinationResult{Status: "success"}, nil
}

func newTestServer(t *testing.T, coordinator Coordinator) (*Server, *storage.DB) {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewServer(Options{DB: db, Coordinator: coordinator, Version: "1.0.0-test"})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return s, db
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, body := doJSON(t, s, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "ok" || body["version"] != "1.0.0-test" {
		t.Errorf("health = %v", body)
	}
	if _, ok := body["uptime_seconds"].(float64); !ok {
		t.Errorf("uptime_seconds missing: %v", body)
	}
}

func TestCoordinateRequiresTask(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, body := doJSON(t, s, "POST", "/api/coordinate", `{"strategy":"research"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if body["error"] != "task is required" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCoordinateStartsSession(t *testing.T) {
	coordinator := &fakeCoordinator{calls: make(chan string, 1)}
	s, _ := newTestServer(t, coordinator)

	w, body := doJSON(t, s, "POST", "/api/coordinate", `{"task":"fix the bug"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "started" || body["strategy"] != "auto" || body["task"] != "fix the bug" {
		t.Errorf("response = %v", body)
	}
	if id, _ := body["session_id"].(string); !strings.HasPrefix(id, "coord-") {
		t.Errorf("session_id = %v", body["session_id"])
	}

	select {
	case call := <-coordinator.calls:
		if call != "fix the bug/auto" {
			t.Errorf("coordinator called with %q", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator was never invoked")
	}
}

func TestStatusListsActiveAgents(t *testing.T) {
	s, db := newTestServer(t, nil)

	insert := `INSERT INTO agent_registry (agent_id, task_id, subtask, agent_type, model, state)
		VALUES (?, ?, 'build it', ?, ?, ?)`
	if _, err := db.Conn().Exec(insert, "agent-1", "sess-1", "builder", "sonnet", "running"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Conn().Exec(insert, "agent-2", "sess-1", "reviewer", "haiku", "completed"); err != nil {
		t.Fatal(err)
	}

	_, body := doJSON(t, s, "GET", "/api/status", "")
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
	agents := body["active_agents"].([]interface{})
	agent := agents[0].(map[string]interface{})
	if agent["agent_id"] != "agent-1" || agent["model"] != "sonnet" {
		t.Errorf("agent = %v", agent)
	}
}

func TestHistoryPagination(t *testing.T) {
	s, db := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		_, err := db.Conn().Exec(`
			INSERT INTO outcomes (session_id, outcome, quality, dq_score, analyzed_at)
			VALUES (?, 'success', 4.0, 0.8, datetime('now', ?))`,
			fmt.Sprintf("sess-%d", i), fmt.Sprintf("-%d minutes", i))
		if err != nil {
			t.Fatal(err)
		}
	}

	_, body := doJSON(t, s, "GET", "/api/history?limit=2", "")
	if body["count"] != float64(2) || body["limit"] != float64(2) {
		t.Errorf("history page = %v", body)
	}
	outcomes := body["outcomes"].([]interface{})
	first := outcomes[0].(map[string]interface{})
	if first["session_id"] != "sess-0" {
		t.Errorf("history not newest-first: %v", first)
	}

	_, body = doJSON(t, s, "GET", "/api/history?limit=2&offset=2", "")
	if body["count"] != float64(1) || body["offset"] != float64(2) {
		t.Errorf("offset page = %v", body)
	}
}

func TestMetrics(t *testing.T) {
	s, db := newTestServer(t, nil)

	_, body := doJSON(t, s, "GET", "/api/metrics", "")
	if body["avg_dq_score"] != float64(0) || body["total_scores"] != float64(0) {
		t.Errorf("empty metrics = %v", body)
	}
	if body["target_accuracy"] != 0.75 || body["target_cost_reduction"] != 0.20 {
		t.Errorf("targets = %v", body)
	}

	for i, score := range []float64{0.6, 0.8} {
		_, err := db.Conn().Exec(`
			INSERT INTO dq_scores (query_hash, query_preview, complexity, model, dq_score)
			VALUES (?, 'preview', 0.5, 'sonnet', ?)`, fmt.Sprintf("h%d", i), score)
		if err != nil {
			t.Fatal(err)
		}
	}

	_, body = doJSON(t, s, "GET", "/api/metrics", "")
	if body["avg_dq_score"] != 0.7 || body["total_scores"] != float64(2) {
		t.Errorf("metrics = %v", body)
	}
}

func TestStreamEmitsFrames(t *testing.T) {
	s, db := newTestServer(t, nil)
	_, err := db.Conn().Exec(`
		INSERT INTO agent_registry (agent_id, task_id, subtask, agent_type, model, state)
		VALUES ('agent-1', 'sess-1', 'build it', 'builder', 'sonnet', 'running')`)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %s", got)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read stream frame: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("frame = %q", line)
	}

	var frame map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if frame["agents"] != float64(1) {
		t.Errorf("frame agents = %v, want 1", frame["agents"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, _ := doJSON(t, s, "GET", "/api/health", "")
	if got := w.Header().Get("Server"); got != "coordinator" {
		t.Errorf("Server header = %q", got)
	}
}
