package mqtt

import (
	"fmt"
	"net/url"
	"strings"
)

// TopicPrefix is the root of every fpcore topic.
const TopicPrefix = "fpcore/"

// Topics builds the fpcore topics owned by this package. Event topics
// (captures, attendance, reader status) are built by the events package
// and prefixed with TopicPrefix by its MQTT publisher.
type Topics struct{}

// SystemStatus returns the retained service status topic.
//
// Example: fpcore/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "system/status"
}

// SessionDisconnected returns the topic a gateway publishes to when a
// client session goes away.
//
// Example: fpcore/session/kiosk-7/disconnected
func (Topics) SessionDisconnected(session string) string {
	return fmt.Sprintf("%ssession/%s/disconnected", TopicPrefix, url.PathEscape(session))
}

// AllSessionDisconnects matches every session disconnect.
//
// Pattern: fpcore/session/+/disconnected
func (Topics) AllSessionDisconnects() string {
	return TopicPrefix + "session/+/disconnected"
}

// AllEvents matches everything below the fpcore root.
//
// Pattern: fpcore/#
func (Topics) AllEvents() string {
	return TopicPrefix + "#"
}

// ParseSessionDisconnected extracts the session from a disconnect topic.
func ParseSessionDisconnected(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"session/")
	if !ok {
		return "", fmt.Errorf("%w: %q is not a session topic", ErrInvalidTopic, topic)
	}
	escaped, ok := strings.CutSuffix(rest, "/disconnected")
	if !ok || escaped == "" || strings.Contains(escaped, "/") {
		return "", fmt.Errorf("%w: %q is not a session topic", ErrInvalidTopic, topic)
	}
	session, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	return session, nil
}
