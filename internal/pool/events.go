package pool

import (
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// EventType identifies a pool-level event.
type EventType string

// Pool event types.
const (
	// EventConnected is emitted when a connection is established,
	// whether by Acquire or by automatic reconnection.
	EventConnected EventType = "connected"

	// EventDisconnected is emitted when an established connection drops.
	EventDisconnected EventType = "disconnected"

	// EventError is emitted when the driver reports a transport or
	// protocol error.
	EventError EventType = "error"

	// EventRetry is emitted after each failed connect iteration.
	// Informational: the attempt is still running.
	EventRetry EventType = "retry"

	// EventConnectionFailed is emitted once when an attempt exhausts
	// its retry budget.
	EventConnectionFailed EventType = "connection_failed"

	// EventReconnectFailed is emitted when an automatic reconnection
	// cycle gives up. No caller is awaiting the reconnect, so the
	// failure is surfaced only here.
	EventReconnectFailed EventType = "reconnect_failed"

	// EventStateChanged is emitted when the device pushes a state update.
	EventStateChanged EventType = "state_changed"
)

// Event is a pool-level notification delivered to the sink set with
// SetOnEvent. Events are delivered in emission order.
type Event struct {
	Type    EventType
	Address string
	Time    time.Time

	// Attempt is the failed iteration number, for EventRetry.
	Attempt int

	// Err carries the underlying error for error-class events.
	Err error

	// State and ChangedPath carry the snapshot for EventStateChanged.
	State       driver.Snapshot
	ChangedPath string
}
