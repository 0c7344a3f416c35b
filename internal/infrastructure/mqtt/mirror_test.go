package mqtt

import (
	"encoding/json"
	"testing"
)

type capturedEvent struct {
	event   string
	payload []byte
}

type fakePublisher struct {
	events []capturedEvent
	err    error
}

func (f *fakePublisher) PublishEvent(event string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, capturedEvent{event, payload})
	return nil
}

type fakeBroadcaster struct {
	events []string
}

func (f *fakeBroadcaster) Broadcast(event string, _ any) {
	f.events = append(f.events, event)
}

func TestMirrorForwardsAndPublishes(t *testing.T) {
	next := &fakeBroadcaster{}
	pub := &fakePublisher{}
	m := NewMirror(next, pub, nil)

	m.Broadcast("alert:new", map[string]string{"id": "a-1"})

	if len(next.events) != 1 || next.events[0] != "alert:new" {
		t.Fatalf("downstream events %v, want [alert:new]", next.events)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}

	var env struct {
		Event     string            `json:"event"`
		Timestamp string            `json:"timestamp"`
		Payload   map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(pub.events[0].payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != "alert:new" || env.Payload["id"] != "a-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Timestamp == "" {
		t.Fatal("envelope missing timestamp")
	}
}

func TestMirrorToleratesDisconnectedBroker(t *testing.T) {
	next := &fakeBroadcaster{}
	m := NewMirror(next, &fakePublisher{err: ErrNotConnected}, nil)

	m.Broadcast("alert:count", map[string]int{"count": 2})

	// In-process delivery must not depend on the broker.
	if len(next.events) != 1 {
		t.Fatalf("downstream events %v, want 1 event", next.events)
	}
}

func TestTopicsEventMapping(t *testing.T) {
	tests := []struct {
		prefix string
		event  string
		want   string
	}{
		{"", "alert:new", "bacore/event/alert/new"},
		{"site-7", "alert:count", "site-7/event/alert/count"},
		{"/site-7/", "device:status", "site-7/event/device/status"},
		{"site-7", "device:status:batch", "site-7/event/device/status/batch"},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.prefix).Event(tt.event); got != tt.want {
			t.Errorf("NewTopics(%q).Event(%q) = %q, want %q", tt.prefix, tt.event, got, tt.want)
		}
	}
}

func TestTopicsSystemStatus(t *testing.T) {
	if got := NewTopics("").SystemStatus(); got != "bacore/system/status" {
		t.Fatalf("SystemStatus() = %q", got)
	}
}
