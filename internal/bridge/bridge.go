package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
	"github.com/nerrad567/gray-logic-conduit/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-conduit/internal/pool"
)

// commandTimeout bounds acquiring the connection and writing the command.
const commandTimeout = 5 * time.Second

// MQTTClient is the broker surface the bridge needs.
// Satisfied by *mqtt.Client; narrowed for mocking in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// ConnectionPool is the pool surface the bridge needs.
// Satisfied by *pool.Manager.
type ConnectionPool interface {
	// Acquire returns the connected driver for address, connecting if needed.
	Acquire(ctx context.Context, address string) (driver.Driver, error)
}

// Logger is the optional structured logger interface.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Pool is the device connection pool. Required.
	Pool ConnectionPool

	// Logger is optional; events are silently unlogged without it.
	Logger Logger
}

// Bridge fans pool events out to MQTT and routes inbound commands to
// pooled device connections.
//
// Thread Safety: all methods are safe for concurrent use. HandleEvent
// is designed to be called from the pool's event sink goroutine.
type Bridge struct {
	mqtt   MQTTClient
	pool   ConnectionPool
	topics mqtt.Topics

	// Shutdown coordination
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to subscribe to command topics.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: MQTT client is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("bridge: connection pool is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		mqtt:      opts.MQTT,
		pool:      opts.Pool,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}, nil
}

// Start subscribes to the command topic pattern. Commands received
// before Start are never seen; commands after Stop are ignored.
func (b *Bridge) Start() error {
	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, 1, b.handleCommandMessage); err != nil {
		return fmt.Errorf("bridge: subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)
	return nil
}

// Stop cancels in-flight command handling and waits for it to finish.
// The MQTT subscription itself is torn down with the client.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// HandleEvent publishes a pool event to its MQTT topic. State changes
// go retained to the per-address state topic; lifecycle events go to
// the per-type event topic.
func (b *Bridge) HandleEvent(ev pool.Event) {
	if !b.mqtt.IsConnected() {
		return
	}

	if ev.Type == pool.EventStateChanged {
		b.publishState(ev)
		return
	}
	b.publishEvent(ev)
}

func (b *Bridge) publishState(ev pool.Event) {
	msg := StateMessage{
		Address:     ev.Address,
		State:       ev.State,
		ChangedPath: ev.ChangedPath,
		Timestamp:   ev.Time.UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshal state message", err, "address", ev.Address)
		return
	}

	topic := b.topics.State(ev.Address)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("publish state", err, "topic", topic)
	}
}

func (b *Bridge) publishEvent(ev pool.Event) {
	msg := EventMessage{
		Address:   ev.Address,
		Type:      string(ev.Type),
		Attempt:   ev.Attempt,
		Timestamp: ev.Time.UTC(),
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshal event message", err, "address", ev.Address)
		return
	}

	topic := b.topics.Event(string(ev.Type))
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("publish event", err, "topic", topic)
	}
}

// handleCommandMessage routes one inbound command. The paho library
// invokes handlers on its own goroutines; the waitgroup lets Stop
// drain in-flight commands.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	address, ok := addressFromCommandTopic(topic)
	if !ok {
		b.logWarn("ignoring command on malformed topic", "topic", topic)
		return nil
	}

	select {
	case <-b.ctx.Done():
		return nil
	default:
	}

	b.wg.Add(1)
	defer b.wg.Done()

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishResult(address, "", ResultFailed, ErrCodeInvalidPayload,
			fmt.Sprintf("parse command: %v", err))
		return nil
	}
	if cmd.Command == "" {
		b.publishResult(address, cmd.ID, ResultFailed, ErrCodeInvalidPayload,
			"empty command")
		return nil
	}

	b.logInfo("received command",
		"address", address,
		"command_id", cmd.ID,
		"source", cmd.Source)

	if err := b.sendCommand(address, cmd.Command); err != nil {
		code := ErrCodeSendFailed
		switch {
		case isNotCommandable(err):
			code = ErrCodeNotCommandable
		case isNotConnected(err):
			code = ErrCodeNotConnected
		}
		b.publishResult(address, cmd.ID, ResultFailed, code, err.Error())
		return nil
	}

	b.publishResult(address, cmd.ID, ResultOK, "", "")
	return nil
}

// sendCommand acquires the device connection and writes the command.
func (b *Bridge) sendCommand(address, command string) error {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	drv, err := b.pool.Acquire(ctx, address)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", address, err)
	}

	commander, ok := drv.(driver.Commander)
	if !ok {
		return errNotCommandable
	}

	if err := commander.Send(ctx, command); err != nil {
		return fmt.Errorf("send to %s: %w", address, err)
	}
	return nil
}

func (b *Bridge) publishResult(address, commandID string, status ResultStatus, code, errMsg string) {
	msg := ResultMessage{
		CommandID: commandID,
		Address:   address,
		Status:    status,
		Code:      code,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshal result message", err, "address", address)
		return
	}

	topic := b.topics.Result(address)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("publish result", err, "topic", topic)
	}
}

// addressFromCommandTopic extracts the endpoint address from
// conduit/command/{address}. Addresses are host:port pairs and contain
// no '/' so the remainder of the topic is the address.
func addressFromCommandTopic(topic string) (string, bool) {
	prefix := mqtt.TopicPrefix + "/command/"
	address, ok := strings.CutPrefix(topic, prefix)
	if !ok || address == "" || strings.Contains(address, "/") {
		return "", false
	}
	return address, true
}

// SetLogger replaces the bridge logger. Safe to call concurrently.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, args...)...)
	}
}
