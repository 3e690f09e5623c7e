package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fingerprint-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one received message. Returned errors are logged.
// Paho invokes handlers from its own goroutines.
type MessageHandler func(topic string, payload []byte) error

// Client is a broker connection for fpcore. It is safe for concurrent use.
//
// Every time the broker accepts the connection the tracked subscriptions
// are restored and the retained online status is republished.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	online atomic.Bool

	mu           sync.RWMutex
	subs         map[string]subscription
	connects     int
	onConnect    func(reconnect bool)
	onDisconnect func(err error)
	logger       Logger
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker described by cfg and waits for the first
// connection. The will message marks fpcore offline on fpcore/system/status
// if the process dies without calling Close.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("mqtt reconnecting", "client_id", cfg.Broker.ClientID)
	})

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously.
	c.online.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:    cfg,
		subs:   make(map[string]subscription),
		logger: noopLogger{},
	}
}

// connected runs from paho on every successful (re)connect.
func (c *Client) connected() {
	c.online.Store(true)

	c.mu.Lock()
	c.connects++
	reconnect := c.connects > 1
	hook := c.onConnect
	c.mu.Unlock()

	c.resubscribe()
	c.announce("online", "")

	if hook != nil {
		hook(reconnect)
	}
}

// lost runs from paho when the connection drops.
func (c *Client) lost(err error) {
	c.online.Store(false)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// announce publishes the retained system status without waiting.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	return c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, statusPayload(c.cfg.Broker.ClientID, status, reason))
}

// Close drops the tracked subscriptions, publishes the graceful offline
// status and disconnects. Closing a client that never connected is a
// no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.unsubscribeAll()
		c.announce("offline", "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.online.Load() && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect sets a hook run after every connect. reconnect is false
// for the first one.
func (c *Client) SetOnConnect(hook func(reconnect bool)) {
	c.mu.Lock()
	c.onConnect = hook
	c.mu.Unlock()
}

// SetOnDisconnect sets a hook run when the connection is lost.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.mu.Lock()
	c.onDisconnect = hook
	c.mu.Unlock()
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// deliver adapts h to paho, recovering from panics and logging errors.
func (c *Client) deliver(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
