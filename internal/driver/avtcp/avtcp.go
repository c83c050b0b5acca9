// Package avtcp implements a line-oriented TCP driver for LAN AV and
// control endpoints. The device pushes state as `KEY VALUE` lines;
// commands are written as single lines.
//
// The client performs NO reconnection of its own. When the stream drops
// it reports disconnected through the event callback and goes idle;
// connection resilience is owned by the pool that manages it.
package avtcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// maxLineSize caps a single state line. Anything larger means the
	// peer is not speaking the protocol.
	maxLineSize = 8192
)

// Domain errors.
var (
	// ErrNotConnected is returned by Send when no stream is open.
	ErrNotConnected = errors.New("avtcp: not connected")

	// ErrAlreadyConnected is returned by Connect when a stream is open.
	ErrAlreadyConnected = errors.New("avtcp: already connected")
)

// Config holds client configuration. Zero values take defaults.
type Config struct {
	// DialTimeout bounds the TCP dial.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// WriteTimeout bounds each command write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Logger defines the logging interface used by the client.
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

// Stats holds operational counters for the client.
type Stats struct {
	LinesRx     uint64 `json:"lines_rx"`
	CommandsTx  uint64 `json:"commands_tx"`
	ErrorsTotal uint64 `json:"errors_total"`
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Client is a single-endpoint AV TCP client. One Client serves one
// device address and is reused across reconnect cycles: Connect may be
// called again after the stream drops or Disconnect is called.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	cfg     Config
	address string

	mu    sync.Mutex
	conn  net.Conn
	done  *closeOnce // per-session, recreated by Connect
	state driver.Snapshot
	wg    sync.WaitGroup

	cbMu    sync.RWMutex
	onEvent func(driver.Event)

	logger   Logger
	loggerMu sync.RWMutex

	linesRx     atomic.Uint64
	commandsTx  atomic.Uint64
	errorsTotal atomic.Uint64
}

var _ driver.Driver = (*Client)(nil)
var _ driver.Commander = (*Client)(nil)

// New creates an unconnected client.
func New(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Client{
		cfg:    cfg,
		state:  driver.Snapshot{},
		logger: noopLogger{},
	}
}

// Factory returns a driver factory building one Client per address.
func Factory(cfg Config, logger Logger) driver.Factory {
	return func(address string) (driver.Driver, error) {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("avtcp: invalid address %q: %w", address, err)
		}
		c := New(cfg)
		if logger != nil {
			c.SetLogger(logger)
		}
		return c, nil
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetOnEvent registers the event callback. Events are delivered from the
// receive goroutine; the callback must not block.
func (c *Client) SetOnEvent(fn func(driver.Event)) {
	c.cbMu.Lock()
	c.onEvent = fn
	c.cbMu.Unlock()
}

// Connect dials the endpoint and starts the receive loop. The previous
// session's state snapshot is discarded; the device re-announces current
// state on connect.
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("avtcp: dial %s: %w", address, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		// Lost the race against a concurrent Connect.
		c.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.address = address
	c.state = driver.Snapshot{}
	done := newCloseOnce()
	c.done = done
	c.wg.Add(1)
	c.mu.Unlock()

	go c.receiveLoop(conn, done)

	c.logInfo("connected", "address", address)
	c.fire(driver.Event{Type: driver.EventConnected})
	return nil
}

// Disconnect closes the stream and waits for the receive loop to exit.
// No disconnected event is emitted for a local disconnect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	done.Close()
	err := conn.Close()
	c.wg.Wait()

	c.logInfo("disconnected", "address", c.address)
	if err != nil {
		return fmt.Errorf("avtcp: close: %w", err)
	}
	return nil
}

// Send writes one command line to the device. The trailing newline is
// appended; the command itself must not contain one.
func (c *Client) Send(ctx context.Context, command string) error {
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("avtcp: command must be a single line")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("avtcp: set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("avtcp: write: %w", err)
	}

	c.commandsTx.Add(1)
	c.logDebug("command sent", "command", command)
	return nil
}

// State returns a copy of the last known device state.
func (c *Client) State() driver.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Copy()
}

// Stats returns current operational counters.
func (c *Client) Stats() Stats {
	return Stats{
		LinesRx:     c.linesRx.Load(),
		CommandsTx:  c.commandsTx.Load(),
		ErrorsTotal: c.errorsTotal.Load(),
	}
}

// receiveLoop reads state lines until the stream drops or the session is
// closed locally.
func (c *Client) receiveLoop(conn net.Conn, done *closeOnce) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-done.Done():
			return
		default:
		}
		c.handleLine(scanner.Text())
	}

	// Scanner stopped: locally closed sessions exit silently, anything
	// else is an unsolicited drop.
	select {
	case <-done.Done():
		return
	default:
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	if err := scanner.Err(); err != nil {
		c.errorsTotal.Add(1)
		c.logError("stream error", err)
		c.fire(driver.Event{Type: driver.EventError, Err: fmt.Errorf("avtcp: read: %w", err)})
	}
	c.logWarn("stream dropped", "address", c.address)
	c.fire(driver.Event{Type: driver.EventDisconnected})
}

// handleLine parses one `KEY VALUE` line into the state snapshot.
// Blank lines are ignored; a line without a value sets the key to "".
func (c *Client) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	c.linesRx.Add(1)

	key, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)

	c.mu.Lock()
	c.state[key] = value
	snapshot := c.state.Copy()
	c.mu.Unlock()

	c.fire(driver.Event{
		Type:        driver.EventStateChanged,
		State:       snapshot,
		ChangedPath: key,
	})
}

// fire delivers one event to the registered callback.
func (c *Client) fire(ev driver.Event) {
	c.cbMu.RLock()
	fn := c.onEvent
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, args ...any) {
	c.getLogger().Debug(msg, args...)
}

func (c *Client) logInfo(msg string, args ...any) {
	c.getLogger().Info(msg, args...)
}

func (c *Client) logWarn(msg string, args ...any) {
	c.getLogger().Warn(msg, args...)
}

func (c *Client) logError(msg string, err error) {
	c.getLogger().Error(msg, "error", err)
}
