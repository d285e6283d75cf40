package events

import (
	"log"

	"github.com/COORDINATOR/internal/nats"
)

// NATSSink republishes events onto coordinator.events.<type> subjects
// for out-of-process consumers. Best-effort: publish failures are
// logged and swallowed.
type NATSSink struct {
	client *nats.Client
}

// NewNATSSink builds a sink over a connected client.
func NewNATSSink(client *nats.Client) *NATSSink {
	return &NATSSink{client: client}
}

// Log publishes the event.
func (n *NATSSink) Log(event Event) {
	subject := nats.EventSubject(string(event.Type))
	if err := n.client.PublishJSON(subject, event); err != nil {
		log.Printf("[EVENTS] failed to publish %s to NATS: %v", event.ID, err)
	}
}
