// Package events carries capture and identification events to subscribers.
//
// Publishing is fire-and-forget with at-most-once delivery: a Publisher
// never reports failure to the caller. Topics are transport neutral; the
// MQTT publisher prefixes them and the WebSocket hub uses them as channel
// names.
package events

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// Publisher fans an event out to subscribers.
type Publisher interface {
	Publish(topic string, payload any)
}

// Logger defines the logging interface used by publishers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoReservation stands in for the reservation segment of a capture topic
// when the reader is not reserved.
const NoReservation = "_"

// Unidentified is the name carried by attendance events without a match.
const Unidentified = "unidentified"

// CaptureTopic returns the topic for capture events of a reader.
func CaptureTopic(reservation, reader string) string {
	if reservation == "" {
		reservation = NoReservation
	}
	return "fingerprints/" + segment(reservation) + "/" + segment(reader)
}

// AttendanceTopic returns the topic for identification events of a reader.
func AttendanceTopic(reader string) string {
	return "attendance/" + segment(reader)
}

// ReaderStatusTopic returns the topic for loop status changes of a reader.
func ReaderStatusTopic(reader string) string {
	return "readers/" + segment(reader) + "/status"
}

// segment escapes a value for use as one topic level. MQTT wildcards are
// escaped as well as path separators.
func segment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
}

// CaptureEvent is published for every good capture of a continuous loop.
type CaptureEvent struct {
	Reader        string    `json:"reader"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Image         string    `json:"image"` // base64 (std encoding)
	Score         int       `json:"score,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
}

// AttendanceEvent is published for every good capture in attendance mode.
type AttendanceEvent struct {
	Reader      string    `json:"reader"`
	Identified  bool      `json:"identified"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Name        string    `json:"name"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Score       int       `json:"score"`
	At          time.Time `json:"at"`
}

// ReaderStatusEvent is published when a reader's loop stops on its own.
type ReaderStatusEvent struct {
	Reader            string    `json:"reader"`
	State             string    `json:"state"`
	Reason            string    `json:"reason"`
	Error             string    `json:"error,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	At                time.Time `json:"at"`
}

// Fanout publishes every event to all of its publishers in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(topic string, payload any) {
	for _, p := range f {
		if p != nil {
			p.Publish(topic, payload)
		}
	}
}

// Event is one recorded publication.
type Event struct {
	Topic   string
	Payload any
}

// Memory records events in process. It backs the last-events view and
// test assertions.
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemory creates a recorder keeping at most limit events (0 = unbounded).
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

// Publish implements Publisher.
func (m *Memory) Publish(topic string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Topic: topic, Payload: payload})
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
}

// Events returns a copy of all recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByTopic returns the recorded events published to topic.
func (m *Memory) ByTopic(topic string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
