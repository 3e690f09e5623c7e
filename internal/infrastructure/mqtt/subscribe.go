package mqtt

import (
	"fmt"
	"maps"
	"slices"
)

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The subscription is restored after every reconnect until
// Unsubscribe or Close.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.paho.Subscribe(topic, qos, c.deliver(handler)), ErrSubscribeFailed); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

// Unsubscribe stops tracking topic and, when connected, drops it on the
// broker. While offline there is nothing to drop: sessions are clean.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return await(c.paho.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// topics returns the tracked topics in order.
func (c *Client) topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.subs))
}

// resubscribe replays every tracked subscription on a fresh connection.
func (c *Client) resubscribe() {
	c.mu.RLock()
	subs := maps.Clone(c.subs)
	c.mu.RUnlock()

	for topic, s := range subs {
		if err := await(c.paho.Subscribe(topic, s.qos, c.deliver(s.handler)), ErrSubscribeFailed); err != nil {
			c.log().Warn("restoring mqtt subscription failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) unsubscribeAll() {
	for _, topic := range c.topics() {
		if err := c.Unsubscribe(topic); err != nil {
			c.log().Warn("dropping mqtt subscription failed", "topic", topic, "error", err)
		}
	}
}
