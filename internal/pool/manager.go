package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// Default timing for connection attempts.
const (
	// defaultMaxRetries is the per-attempt retry budget.
	defaultMaxRetries = 10

	// defaultRetryDelay is the fixed wait between retries. Endpoints are
	// LAN-local hardware, not rate-limited services: a bounded total wait
	// beats unbounded backoff growth, so the delay is deliberately fixed.
	defaultRetryDelay = 5 * time.Second

	// defaultConnectTimeout bounds a single connect iteration. The
	// underlying driver connect is not forcibly aborted; a late success
	// is reconciled through the driver's connected event.
	defaultConnectTimeout = 10 * time.Second

	// defaultEventQueueSize is the buffer size of the event dispatch queue.
	defaultEventQueueSize = 256
)

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

// Config holds pool timing configuration. Zero values take the defaults
// above.
type Config struct {
	// MaxRetries is the number of connect iterations per attempt.
	MaxRetries int

	// RetryDelay is the fixed wait between failed iterations.
	RetryDelay time.Duration

	// ConnectTimeout bounds each connect iteration.
	ConnectTimeout time.Duration

	// EventQueueSize is the event dispatch buffer size.
	EventQueueSize int

	// Clock supplies time for retry pacing and timeout races. Nil uses
	// the wall clock; tests inject clock.NewMock to drive retry delays
	// and the reconnect cooldown deterministically.
	Clock clock.Clock
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats holds operational counters for the pool.
type Stats struct {
	Connections     int    `json:"connections"`
	Connected       int    `json:"connected"`
	AttemptsTotal   uint64 `json:"attempts_total"`
	ConnectsTotal   uint64 `json:"connects_total"`
	ReconnectsTotal uint64 `json:"reconnects_total"`
	EventsDropped   uint64 `json:"events_dropped"`
}

// Manager owns the endpoint address → managed connection map.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - For a given address at most one connection attempt is in flight;
//     concurrent Acquire calls share it.
type Manager struct {
	cfg     Config
	factory driver.Factory
	clock   clock.Clock

	mu    sync.Mutex
	conns map[string]*conn

	// Observer registry, keyed by address then observer identity.
	obsMu     sync.RWMutex
	observers map[string]map[string]ObserverFunc

	// Pool-level event sink (optional).
	sinkMu  sync.RWMutex
	onEvent func(Event)

	events chan Event
	done   *closeOnce
	wg     sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for lock-free reads)
	attemptsTotal   atomic.Uint64
	connectsTotal   atomic.Uint64
	reconnectsTotal atomic.Uint64
	eventsDropped   atomic.Uint64
}

// NewManager creates a connection pool manager using factory to build one
// driver per endpoint address. The factory must be cheap: it constructs
// the driver object only, it does not connect.
//
// The manager starts its event dispatch goroutine immediately; call
// Close to stop it.
func NewManager(cfg Config, factory driver.Factory) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	m := &Manager{
		cfg:       cfg,
		factory:   factory,
		clock:     cfg.Clock,
		conns:     make(map[string]*conn),
		observers: make(map[string]map[string]ObserverFunc),
		events:    make(chan Event, cfg.EventQueueSize),
		done:      newCloseOnce(),
		logger:    noopLogger{},
	}

	m.wg.Add(1)
	go m.dispatchLoop()

	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// SetOnEvent sets the pool-level event sink. Events are delivered in
// emission order on a single dispatch goroutine; a panicking sink is
// recovered and logged.
func (m *Manager) SetOnEvent(fn func(Event)) {
	m.sinkMu.Lock()
	m.onEvent = fn
	m.sinkMu.Unlock()
}

// Acquire returns a ready driver for the endpoint at address.
//
// Fast path: an existing Connected entry returns its driver immediately.
// If an attempt is already in flight the call suspends until it resolves;
// a resolved failure falls through to a fresh attempt. Otherwise a new
// attempt is started and the call suspends until it resolves.
//
// ctx cancellation abandons the wait but does not abort the in-flight
// attempt; other callers may still be served by it.
//
// Returns a *ConnectionFailedError once an attempt started by this call
// exhausts its retry budget.
func (m *Manager) Acquire(ctx context.Context, address string) (driver.Driver, error) {
	if address == "" {
		return nil, ErrInvalidAddress
	}

	for {
		if m.isClosed() {
			return nil, ErrClosed
		}

		c, err := m.getOrCreate(address)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		switch {
		case c.status == StatusConnected:
			d := c.driver
			c.mu.Unlock()
			return d, nil

		case c.pending != nil:
			// Join the in-flight attempt.
			att := c.pending
			c.mu.Unlock()
			if err := m.waitAttempt(ctx, att); err != nil {
				return nil, fmt.Errorf("acquire %s: %w", address, err)
			}
			// Success loops back to the fast path; failure falls
			// through to a fresh attempt next iteration.
			continue

		default:
			att := c.beginAttemptLocked()
			c.mu.Unlock()

			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				att.finish(m.connectWithRetry(c, att))
			}()

			if err := m.waitAttempt(ctx, att); err != nil {
				return nil, fmt.Errorf("acquire %s: %w", address, err)
			}
			if att.err == nil {
				c.mu.Lock()
				d := c.driver
				c.mu.Unlock()
				return d, nil
			}
			if errors.Is(att.err, errOrphaned) {
				continue // released mid-attempt; start over on a fresh entry
			}
			return nil, att.err
		}
	}
}

// waitAttempt blocks until the attempt resolves, the caller's context is
// cancelled, or the manager closes. A resolved attempt returns nil; its
// outcome is read from att.err by the caller.
func (m *Manager) waitAttempt(ctx context.Context, att *attempt) error {
	select {
	case <-att.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done.Done():
		return ErrClosed
	}
}

// getOrCreate returns the managed connection for address, creating the
// entry and its driver on first use.
func (m *Manager) getOrCreate(address string) (*conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[address]; ok {
		return c, nil
	}

	drv, err := m.factory(address)
	if err != nil {
		return nil, fmt.Errorf("pool: creating driver for %s: %w", address, err)
	}

	c := &conn{
		address: address,
		driver:  drv,
		status:  StatusDisconnected,
	}
	drv.SetOnEvent(func(ev driver.Event) {
		m.handleDriverEvent(c, ev)
	})
	m.conns[address] = c

	m.logDebug("connection entry created", "address", address)
	return c, nil
}

// connectWithRetry runs the bounded connect loop for one attempt.
//
// Each iteration races the driver connect against the connect timeout.
// Failures emit a retry event and wait the fixed retry delay; exhausting
// the budget emits connection_failed and returns a *ConnectionFailedError.
func (m *Manager) connectWithRetry(c *conn, att *attempt) error {
	for {
		if m.isClosed() {
			m.clearPending(c, att)
			return ErrClosed
		}

		c.mu.Lock()
		if c.generation != att.gen {
			c.mu.Unlock()
			return errOrphaned
		}
		c.status = StatusConnecting
		c.lastAttempt = m.clock.Now()
		c.mu.Unlock()
		m.attemptsTotal.Add(1)

		err := m.connectOnce(c)

		if err == nil {
			// The generation re-check and the state change happen under
			// one critical section: a Release interleaving after the
			// connect result must not see its dead record revived.
			c.mu.Lock()
			if c.generation != att.gen {
				drv := c.driver
				c.mu.Unlock()
				// Release skipped Disconnect because the entry was still
				// Connecting; close the session this attempt just opened.
				_ = drv.Disconnect()
				return errOrphaned
			}
			already := c.status == StatusConnected
			c.status = StatusConnected
			c.retryCount = 0
			c.lastAttempt = m.clock.Now()
			c.pending = nil
			c.mu.Unlock()

			m.connectsTotal.Add(1)
			if !already {
				m.emit(Event{Type: EventConnected, Address: c.address})
			}
			return nil
		}

		c.mu.Lock()
		if c.generation != att.gen {
			// Released while connecting: the failure belongs to a dead
			// generation and must not advance its retry counter.
			c.mu.Unlock()
			return errOrphaned
		}
		c.retryCount++
		n := c.retryCount
		c.lastAttempt = m.clock.Now()
		exhausted := n >= m.cfg.MaxRetries
		if exhausted {
			c.status = StatusDisconnected
			c.pending = nil
		}
		c.mu.Unlock()

		m.logWarn("connect failed", "address", c.address, "attempt", n, "error", err)
		m.emit(Event{Type: EventRetry, Address: c.address, Attempt: n, Err: err})

		if exhausted {
			failure := &ConnectionFailedError{Address: c.address, Attempts: n, Err: err}
			m.emit(Event{Type: EventConnectionFailed, Address: c.address, Err: failure})
			return failure
		}

		select {
		case <-m.clock.After(m.cfg.RetryDelay):
		case <-m.done.Done():
			m.clearPending(c, att)
			return ErrClosed
		}
	}
}

// connectOnce races a single driver connect against the connect timeout.
//
// The driver's context is cancelled when the race is decided, but a
// driver that ignores cancellation may still complete later; that late
// success arrives as a connected driver event and is reconciled there.
func (m *Manager) connectOnce(c *conn) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- c.driver.Connect(ctx, c.address)
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("connect %s: %w", c.address, err)
		}
		return nil
	case <-m.clock.After(m.cfg.ConnectTimeout):
		return fmt.Errorf("%w: %s after %v", ErrConnectTimeout, c.address, m.cfg.ConnectTimeout)
	case <-m.done.Done():
		return ErrClosed
	}
}

// clearPending removes the attempt from its connection if still installed.
func (m *Manager) clearPending(c *conn, att *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == att {
		c.pending = nil
		if c.status == StatusConnecting {
			c.status = StatusDisconnected
		}
	}
}

// handleDriverEvent applies a driver event to the connection's state and
// fans it out. Events for entries that have been released are ignored.
func (m *Manager) handleDriverEvent(c *conn, ev driver.Event) {
	if m.isClosed() {
		return
	}

	// Ignore events from a driver whose entry was released; a later
	// Acquire builds fresh state.
	m.mu.Lock()
	current := m.conns[c.address] == c
	m.mu.Unlock()
	if !current {
		return
	}

	switch ev.Type {
	case driver.EventConnected:
		// Also reconciles a late success after a declared timeout
		// failure: the driver is connected, so the pool follows.
		c.mu.Lock()
		already := c.status == StatusConnected
		c.status = StatusConnected
		c.retryCount = 0
		c.mu.Unlock()
		if !already {
			m.emit(Event{Type: EventConnected, Address: c.address})
		}

	case driver.EventDisconnected:
		c.mu.Lock()
		wasConnected := c.status == StatusConnected
		c.status = StatusDisconnected
		c.mu.Unlock()
		if wasConnected {
			m.emit(Event{Type: EventDisconnected, Address: c.address})
		}
		m.attemptReconnect(c)

	case driver.EventError:
		m.emit(Event{Type: EventError, Address: c.address, Err: ev.Err})
		c.mu.Lock()
		c.status = StatusDisconnected
		c.mu.Unlock()
		m.attemptReconnect(c)

	case driver.EventStateChanged:
		m.emit(Event{
			Type:        EventStateChanged,
			Address:     c.address,
			State:       ev.State,
			ChangedPath: ev.ChangedPath,
		})
		m.notifyObservers(c.address, ev.State, ev.ChangedPath)
	}
}

// attemptReconnect starts a reconnection cycle for the connection.
//
// No-op while an attempt is already in flight: disconnect and error
// handlers may fire in overlapping fashion and must not spawn duplicate
// retry loops. After an exhausted prior cycle an extra cooldown of twice
// the retry delay is applied before the counter resets, to avoid
// hot-looping against a persistently unreachable endpoint.
func (m *Manager) attemptReconnect(c *conn) {
	if m.isClosed() {
		return
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return
	}
	cooldown := c.retryCount >= m.cfg.MaxRetries
	att := c.beginAttemptLocked()
	c.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if cooldown {
			select {
			case <-m.clock.After(2 * m.cfg.RetryDelay):
				c.mu.Lock()
				c.retryCount = 0
				c.mu.Unlock()
			case <-m.done.Done():
				m.clearPending(c, att)
				att.finish(ErrClosed)
				return
			}
		}

		err := m.connectWithRetry(c, att)
		att.finish(err)

		switch {
		case err == nil:
			m.reconnectsTotal.Add(1)
		case errors.Is(err, ErrClosed), errors.Is(err, errOrphaned):
			// Shutdown or release; nothing to report.
		default:
			// No caller awaits an automatic reconnect: swallow the
			// failure and surface it as an event only.
			m.emit(Event{Type: EventReconnectFailed, Address: c.address, Err: err})
		}
	}()
}

// Release tears down the managed connection for address and removes its
// entry. Any in-flight attempt is orphaned silently; observers for the
// address are NOT removed (callers unregister separately).
//
// Releasing an unknown address is a no-op.
func (m *Manager) Release(address string) error {
	m.mu.Lock()
	c := m.conns[address]
	delete(m.conns, address)
	m.mu.Unlock()

	if c == nil {
		return nil
	}

	c.mu.Lock()
	c.generation++ // orphan any in-flight attempt
	c.pending = nil
	wasConnected := c.status == StatusConnected
	c.status = StatusDisconnected
	c.mu.Unlock()

	m.logInfo("connection released", "address", address)

	if wasConnected {
		if err := c.driver.Disconnect(); err != nil {
			return fmt.Errorf("release %s: %w", address, err)
		}
	}
	return nil
}

// ReleaseAll releases every known address concurrently and waits for all
// to finish. Individual errors are joined.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	addresses := make([]string, 0, len(m.conns))
	for addr := range m.conns {
		addresses = append(addresses, addr)
	}
	m.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, addr := range addresses {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Release(addr); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close stops the manager's background goroutines and wakes all waiters.
// It does not tear down connections; call ReleaseAll first for a clean
// shutdown. Safe to call multiple times.
func (m *Manager) Close() error {
	m.done.Close()
	m.wg.Wait()
	m.logInfo("pool manager closed")
	return nil
}

// IsConnected reports whether the endpoint at address is connected.
func (m *Manager) IsConnected(address string) bool {
	return m.Status(address) == StatusConnected
}

// Status returns the connection status for address.
// Unknown addresses report StatusDisconnected.
func (m *Manager) Status(address string) Status {
	m.mu.Lock()
	c := m.conns[address]
	m.mu.Unlock()
	if c == nil {
		return StatusDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConnectedAddresses returns the sorted list of connected endpoints.
func (m *Manager) ConnectedAddresses() []string {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	addresses := make([]string, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		connected := c.status == StatusConnected
		c.mu.Unlock()
		if connected {
			addresses = append(addresses, c.address)
		}
	}
	sort.Strings(addresses)
	return addresses
}

// Connections returns a read-only view of every managed connection,
// sorted by address.
func (m *Manager) Connections() []ConnectionInfo {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.snapshotInfo())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// DeviceState returns the last known state snapshot for address.
// Returns an empty snapshot when the endpoint is not connected, so UI
// callers get synchronous feedback without awaiting the driver.
func (m *Manager) DeviceState(address string) driver.Snapshot {
	m.mu.Lock()
	c := m.conns[address]
	m.mu.Unlock()
	if c == nil {
		return driver.Snapshot{}
	}

	c.mu.Lock()
	connected := c.status == StatusConnected
	drv := c.driver
	c.mu.Unlock()

	if !connected {
		return driver.Snapshot{}
	}
	return drv.State().Copy()
}

// Stats returns current operational counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	total := len(m.conns)
	m.mu.Unlock()

	return Stats{
		Connections:     total,
		Connected:       len(m.ConnectedAddresses()),
		AttemptsTotal:   m.attemptsTotal.Load(),
		ConnectsTotal:   m.connectsTotal.Load(),
		ReconnectsTotal: m.reconnectsTotal.Load(),
		EventsDropped:   m.eventsDropped.Load(),
	}
}

// emit queues a pool event for ordered delivery. Non-blocking: when the
// queue is full the event is dropped and counted rather than stalling
// driver event processing.
func (m *Manager) emit(ev Event) {
	ev.Time = m.clock.Now()
	select {
	case m.events <- ev:
	default:
		m.eventsDropped.Add(1)
		m.logError("event queue full, dropping event", nil, "type", string(ev.Type), "address", ev.Address)
	}
}

// dispatchLoop delivers queued events to the sink in order.
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done.Done():
			// Drain remaining events best-effort before exiting.
			for {
				select {
				case ev := <-m.events:
					m.deliver(ev)
				default:
					return
				}
			}
		case ev := <-m.events:
			m.deliver(ev)
		}
	}
}

// deliver invokes the sink for one event with panic recovery.
func (m *Manager) deliver(ev Event) {
	m.sinkMu.RLock()
	fn := m.onEvent
	m.sinkMu.RUnlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logError("event sink panic", fmt.Errorf("%v", r), "type", string(ev.Type))
		}
	}()
	fn(ev)
}

// isClosed returns true once Close has been called.
func (m *Manager) isClosed() bool {
	select {
	case <-m.done.Done():
		return true
	default:
		return false
	}
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logDebug(msg string, args ...any) {
	m.getLogger().Debug(msg, args...)
}

func (m *Manager) logInfo(msg string, args ...any) {
	m.getLogger().Info(msg, args...)
}

func (m *Manager) logWarn(msg string, args ...any) {
	m.getLogger().Warn(msg, args...)
}

func (m *Manager) logError(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
	}
	m.getLogger().Error(msg, args...)
}
