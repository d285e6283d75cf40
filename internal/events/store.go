package events

import (
	"encoding/json"
	"log"

	"github.com/COORDINATOR/internal/storage"
)

// StoreSink persists gate-audit events into delegation_events. Writes
// are best-effort; failures are logged and swallowed.
type StoreSink struct {
	db *storage.DB
}

// NewStoreSink builds a sink over an open store.
func NewStoreSink(db *storage.DB) *StoreSink {
	return &StoreSink{db: db}
}

// Log writes the event row. Non-audit events pass through untouched.
func (s *StoreSink) Log(event Event) {
	if event.Type != EventGateAudit {
		return
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		details = []byte("{}")
	}

	_, err = s.db.Conn().Exec(
		`INSERT OR IGNORE INTO delegation_events
		   (event_id, delegation_id, agent, task_id, gate_type, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.DelegationID, event.Agent, event.TaskID,
		event.GateType, string(details), event.CreatedAt.UTC().Format(storage.TimeFormat),
	)
	if err != nil {
		log.Printf("[EVENTS] failed to persist audit event %s: %v", event.ID, err)
	}
}
