package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()
	s.respondJSON(w, map[string]interface{}{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": math.Round(uptime*10) / 10,
	})
}

type coordinateRequest struct {
	Task     string `json:"task"`
	Strategy string `json:"strategy"`
}

// handleCoordinate starts a coordination session in the background and
// acknowledges immediately.
func (s *Server) handleCoordinate(w http.ResponseWriter, r *http.Request) {
	var req coordinateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Task == "" {
		s.respondError(w, http.StatusBadRequest, "task is required")
		return
	}
	if req.Strategy == "" {
		req.Strategy = "auto"
	}

	if s.coordinator != nil {
		task, strategy := req.Task, req.Strategy
		go func() {
			if _, err := s.coordinator.Coordinate(context.Background(), task, strategy); err != nil {
				log.Printf("[SERVER] Coordination failed: %v", err)
			}
		}()
	}

	s.respondJSON(w, map[string]interface{}{
		"session_id": fmt.Sprintf("coord-%d", time.Now().Unix()),
		"strategy":   req.Strategy,
		"task":       req.Task,
		"status":     "started",
	})
}

// handleStatus lists currently active agents.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	agents := s.activeAgents()
	s.respondJSON(w, map[string]interface{}{
		"active_agents": agents,
		"count":         len(agents),
	})
}

// activeAgents lists non-terminal agents from the live registry; the
// agents history table only sees terminal mirrors.
func (s *Server) activeAgents() []map[string]interface{} {
	agents := []map[string]interface{}{}

	rows, err := s.db.Conn().Query(`
		SELECT agent_id, task_id, model, agent_type, state
		FROM agent_registry WHERE state IN ('pending', 'running')`)
	if err != nil {
		log.Printf("[SERVER] Failed to query active agents: %v", err)
		return agents
	}
	defer rows.Close()

	for rows.Next() {
		var agentID, taskID, model, role, state string
		if err := rows.Scan(&agentID, &taskID, &model, &role, &state); err != nil {
			continue
		}
		agents = append(agents, map[string]interface{}{
			"agent_id":   agentID,
			"session_id": taskID,
			"model":      model,
			"role":       role,
			"status":     state,
		})
	}
	return agents
}

// handleHistory returns analyzed session outcomes, most recent first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	outcomes := []map[string]interface{}{}
	rows, err := s.db.Conn().Query(`
		SELECT session_id, outcome, quality, complexity, model_efficiency,
		       dq_score, confidence, analyzed_at
		FROM outcomes
		ORDER BY analyzed_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var sessionID, outcome, analyzedAt string
			var quality, complexity, efficiency, dq, confidence float64
			if err := rows.Scan(&sessionID, &outcome, &quality, &complexity,
				&efficiency, &dq, &confidence, &analyzedAt); err != nil {
				continue
			}
			outcomes = append(outcomes, map[string]interface{}{
				"session_id":       sessionID,
				"outcome":          outcome,
				"quality":          quality,
				"complexity":       complexity,
				"model_efficiency": efficiency,
				"dq_score":         dq,
				"confidence":       confidence,
				"analyzed_at":      analyzedAt,
			})
		}
	} else {
		log.Printf("[SERVER] Failed to query outcomes: %v", err)
	}

	s.respondJSON(w, map[string]interface{}{
		"outcomes": outcomes,
		"count":    len(outcomes),
		"limit":    limit,
		"offset":   offset,
	})
}

// handleMetrics reports routing accuracy against targets.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var avg sql.NullFloat64
	var total int
	err := s.db.Conn().QueryRow(`
		SELECT AVG(dq_score), COUNT(*) FROM dq_scores`).Scan(&avg, &total)
	if err != nil {
		log.Printf("[SERVER] Failed to query dq_scores: %v", err)
	}
	avgDQ := avg.Float64

	s.respondJSON(w, map[string]interface{}{
		"avg_dq_score":          math.Round(avgDQ*1000) / 1000,
		"total_scores":          total,
		"target_accuracy":       0.75,
		"target_cost_reduction": 0.20,
	})
}

// streamInterval is how often the SSE stream emits a progress frame.
var streamInterval = 3 * time.Second

// handleStream emits agent counts as server-sent events until the
// client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	emit := func() bool {
		frame := map[string]interface{}{
			"agents":    len(s.activeAgents()),
			"timestamp": time.Now().Unix(),
		}
		data, err := json.Marshal(frame)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !emit() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
