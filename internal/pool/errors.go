package pool

import (
	"errors"
	"fmt"
)

// Domain errors for the connection pool.
var (
	// ErrClosed is returned for operations on a closed Manager.
	ErrClosed = errors.New("pool: manager closed")

	// ErrConnectTimeout marks a single connect iteration that exceeded
	// the configured connect timeout.
	ErrConnectTimeout = errors.New("pool: connect timed out")

	// ErrInvalidAddress is returned when an empty address is given.
	ErrInvalidAddress = errors.New("pool: address cannot be empty")

	// ErrNotConnected is returned by operations that require an
	// established connection.
	ErrNotConnected = errors.New("pool: not connected")
)

// errOrphaned marks an attempt whose connection entry was released while
// the attempt was in flight. Never surfaced to callers: Acquire retries
// against a fresh entry, reconnect runners drop it silently.
var errOrphaned = errors.New("pool: attempt orphaned by release")

// ConnectionFailedError is returned by Acquire when a connection attempt
// exhausts its retry budget. It carries the last underlying error.
type ConnectionFailedError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("pool: connection to %s failed after %d attempts: %v",
		e.Address, e.Attempts, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}
