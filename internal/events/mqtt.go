package events

import "encoding/json"

// MQTTClient is the subset of the MQTT client used for publishing.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// atMostOnce is MQTT QoS 0.
const atMostOnce byte = 0

// MQTTPublisher publishes JSON-encoded events over MQTT. Capture and
// attendance events go out with QoS 0. Reader status events are retained
// so a subscriber that connects later still learns why a loop stopped.
type MQTTPublisher struct {
	client MQTTClient
	prefix string
	logger Logger
}

// NewMQTTPublisher creates a publisher that sends to prefix+topic.
func NewMQTTPublisher(client MQTTClient, prefix string) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		prefix: prefix,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the publisher.
func (p *MQTTPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Publish implements Publisher. Failures are logged and dropped.
func (p *MQTTPublisher) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("encoding event failed", "topic", topic, "error", err)
		return
	}
	if _, ok := payload.(ReaderStatusEvent); ok {
		err = p.client.PublishRetained(p.prefix+topic, data)
	} else {
		err = p.client.Publish(p.prefix+topic, data, atMostOnce, false)
	}
	if err != nil {
		p.logger.Warn("publishing event failed", "topic", p.prefix+topic, "error", err)
	}
}
