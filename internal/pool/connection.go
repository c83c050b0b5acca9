package pool

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// Status is the lifecycle state of a managed connection.
type Status int

// Connection states.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// conn is the bookkeeping record for one endpoint address.
//
// The driver is created once and reused across reconnect cycles so its
// event callback registration survives drops. All fields below mu are
// guarded by it.
type conn struct {
	address string
	driver  driver.Driver

	mu          sync.Mutex
	status      Status
	pending     *attempt // at most one in-flight attempt per address
	retryCount  int      // consecutive failures since last success
	lastAttempt time.Time

	// generation is bumped by Release. Attempts carry the generation they
	// were started under; a mismatch means the attempt was orphaned and
	// its result must not be applied.
	generation uint64
}

// beginAttemptLocked creates and installs a new pending attempt.
// Caller must hold c.mu and have verified c.pending == nil.
func (c *conn) beginAttemptLocked() *attempt {
	att := &attempt{
		done: make(chan struct{}),
		gen:  c.generation,
	}
	c.pending = att
	c.status = StatusConnecting
	return att
}

// attempt is one connect/reconnect operation. Concurrent Acquire calls
// for the same address all wait on the same attempt.
type attempt struct {
	done chan struct{}
	err  error // valid after done is closed
	gen  uint64
	once sync.Once
}

// finish resolves the attempt exactly once and wakes all waiters.
func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// ConnectionInfo is a read-only view of one managed connection.
type ConnectionInfo struct {
	Address     string    `json:"address"`
	Status      string    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
}

// snapshotInfo returns the connection's current info under its lock.
func (c *conn) snapshotInfo() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		Address:     c.address,
		Status:      c.status.String(),
		RetryCount:  c.retryCount,
		LastAttempt: c.lastAttempt,
	}
}
