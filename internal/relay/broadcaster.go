package relay

import (
	"encoding/json"
	"log"
)

// Broadcaster delivers frames to the members of a session.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
}

// NewBroadcaster returns a Broadcaster over registry. metrics may be nil.
func NewBroadcaster(registry *Registry, metrics *Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: metrics}
}

// Send delivers frame to every open member of sessionID except exclude,
// which may be nil. Closed or saturated connections are skipped without
// retry. It returns the number of connections the frame was queued on.
func (b *Broadcaster) Send(sessionID string, frame Frame, exclude *Conn) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[relay] marshal %s frame failed: %v", frame.Type, err)
		return 0
	}

	delivered := 0
	for _, member := range b.registry.Members(sessionID) {
		if member == exclude {
			continue
		}
		if member.enqueue(payload) {
			delivered++
			continue
		}
		b.metrics.dropped(frame.Type)
	}
	b.metrics.broadcast(frame.Type, delivered)
	return delivered
}

// Reply sends frame to c alone.
func (b *Broadcaster) Reply(c *Conn, frame Frame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[relay] marshal %s frame failed: %v", frame.Type, err)
		return false
	}
	if !c.enqueue(payload) {
		b.metrics.dropped(frame.Type)
		return false
	}
	b.metrics.sent(frame.Type)
	return true
}
