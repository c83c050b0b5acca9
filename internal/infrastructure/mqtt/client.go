package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/config"
)

// Client is Conduit's handle on the site broker. The bridge publishes
// pool events and device state through it and receives UI commands on
// the conduit/command/+ topics.
//
// All methods are safe for concurrent use. Paho handles the reconnect
// loop; the client re-subscribes every tracked topic when the link
// comes back.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// Tracked subscriptions, replayed on reconnect.
	subMu sync.RWMutex
	subs  map[string]subscription

	connMu    sync.RWMutex
	connected bool

	cbMu         sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logMu  sync.RWMutex
	logger Logger
}

// Logger is the slice of logging.Logger the client needs for handler
// failures. Kept narrow so tests can pass anything with these methods.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. Paho invokes handlers on
// its own goroutines; a handler that blocks stalls message dispatch for
// its subscription. A returned error is logged and the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and blocks until the first
// connection succeeds or times out. The returned client announces
// itself on conduit/system/status (retained), with a last-will message
// on the same topic so subscribers learn about crashes too.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	setWill(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously and may not have fired
	// yet; mark connected here so IsConnected holds after Connect
	// returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	// Replay subscriptions lost with the old session.
	c.subMu.RLock()
	for _, sub := range c.subs {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload(c.cfg.Broker.ClientID, "online", ""))

	c.cbMu.RLock()
	cb := c.onConnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.cbMu.RLock()
	cb := c.onDisconnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// Close publishes a graceful offline status, distinct from the
// last-will payload the broker sends on a crash, then disconnects
// after a short quiesce for in-flight tokens.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(publishTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMs)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// HealthCheck reports broker connectivity for the /health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on the initial connection
// and on every reconnect.
func (c *Client) SetOnConnect(cb func()) {
	c.cbMu.Lock()
	c.onConnect = cb
	c.cbMu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the link drops,
// with the cause.
func (c *Client) SetOnDisconnect(cb func(err error)) {
	c.cbMu.Lock()
	c.onDisconnect = cb
	c.cbMu.Unlock()
}

// SetLogger routes handler errors and recovered panics somewhere
// visible. Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler for paho, containing panics so a
// bad handler cannot take down the dispatch goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panic recovered",
						"topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt handler error",
					"topic", msg.Topic(), "error", err)
			}
		}
	}
}
