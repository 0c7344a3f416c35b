package mqtt

import (
	"encoding/json"
	"errors"
	"time"
)

// EventPublisher is the slice of Client the mirror needs.
type EventPublisher interface {
	PublishEvent(event string, payload []byte) error
}

// Broadcaster matches the notification hub's broadcast surface.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// eventEnvelope is the JSON shape of mirrored events.
type eventEnvelope struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Mirror forwards notification events to a downstream broadcaster and
// additionally publishes them on the integration bus. It satisfies the
// same Broadcast interface as the hub, so it slots in front of it
// transparently.
//
// Publishing is best-effort: a disconnected broker never blocks or
// fails the in-process notification path.
type Mirror struct {
	next   Broadcaster
	pub    EventPublisher
	logger Logger
}

// NewMirror wraps next so every broadcast is also published via pub.
func NewMirror(next Broadcaster, pub EventPublisher, logger Logger) *Mirror {
	return &Mirror{next: next, pub: pub, logger: logger}
}

// Broadcast delivers the event in-process first, then mirrors it to
// the bus.
func (m *Mirror) Broadcast(event string, payload any) {
	if m.next != nil {
		m.next.Broadcast(event, payload)
	}

	env := eventEnvelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to serialise mirrored event", "event", event, "error", err)
		}
		return
	}

	if err := m.pub.PublishEvent(event, data); err != nil {
		// A broker outage is routine; reconnection is automatic.
		if errors.Is(err, ErrNotConnected) {
			return
		}
		if m.logger != nil {
			m.logger.Warn("failed to mirror event to MQTT", "event", event, "error", err)
		}
	}
}
