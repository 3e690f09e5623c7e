package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "capture unreserved", got: CaptureTopic("", "R1"), want: "fingerprints/_/R1"},
		{name: "capture reserved", got: CaptureTopic("sess-1", "R1"), want: "fingerprints/sess-1/R1"},
		{name: "reader name with slash", got: CaptureTopic("", "usb/1"), want: "fingerprints/_/usb%2F1"},
		{name: "reader name with wildcards", got: AttendanceTopic("a+b#c"), want: "attendance/a%2Bb%23c"},
		{name: "reader name with braces", got: AttendanceTopic("{A1-B2}"), want: "attendance/%7BA1-B2%7D"},
		{name: "status", got: ReaderStatusTopic("R1"), want: "readers/R1/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFanoutAndMemory(t *testing.T) {
	a := NewMemory(0)
	b := NewMemory(2)
	f := Fanout{a, nil, b}

	f.Publish("t1", 1)
	f.Publish("t2", 2)
	f.Publish("t1", 3)

	if a.Len() != 3 {
		t.Errorf("a.Len() = %d, want 3", a.Len())
	}
	if b.Len() != 2 {
		t.Errorf("b.Len() = %d, want 2 (limited)", b.Len())
	}
	if got := a.ByTopic("t1"); len(got) != 2 || got[1].Payload != 3 {
		t.Errorf("ByTopic(t1) = %v, want two events ending with 3", got)
	}
}

type mockMQTT struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	err      error
	calls    int
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.calls++
	m.topic, m.payload, m.qos, m.retained = topic, payload, qos, retained
	return m.err
}

func (m *mockMQTT) PublishRetained(topic string, payload []byte) error {
	return m.Publish(topic, payload, 1, true)
}

func TestMQTTPublisher(t *testing.T) {
	client := &mockMQTT{}
	p := NewMQTTPublisher(client, "fpcore/")

	p.Publish(AttendanceTopic("R1"), AttendanceEvent{Reader: "R1", Name: Unidentified})

	if client.topic != "fpcore/attendance/R1" {
		t.Errorf("topic = %q, want fpcore/attendance/R1", client.topic)
	}
	if client.qos != 0 {
		t.Errorf("qos = %d, want 0", client.qos)
	}
	var ev AttendanceEvent
	if err := json.Unmarshal(client.payload, &ev); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if ev.Identified || ev.Name != Unidentified {
		t.Errorf("event = %+v, want unidentified", ev)
	}
}

func TestMQTTPublisher_RetainsReaderStatus(t *testing.T) {
	client := &mockMQTT{}
	p := NewMQTTPublisher(client, "fpcore/")

	p.Publish(ReaderStatusTopic("R1"), ReaderStatusEvent{Reader: "R1", State: "stopped", Reason: "device_fault"})
	if client.topic != "fpcore/readers/R1/status" || !client.retained {
		t.Errorf("status published to %q retained=%v, want fpcore/readers/R1/status retained", client.topic, client.retained)
	}

	p.Publish(CaptureTopic("", "R1"), CaptureEvent{Reader: "R1"})
	if client.retained {
		t.Error("capture events must not be retained")
	}
}

func TestMQTTPublisher_SwallowsErrors(t *testing.T) {
	client := &mockMQTT{err: errors.New("not connected")}
	p := NewMQTTPublisher(client, "")

	p.Publish("t", map[string]any{"ok": true})
	p.Publish("t", func() {}) // not encodable, never reaches the client

	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
}
