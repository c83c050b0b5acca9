package driver

import "context"

// EventType identifies a driver lifecycle or state event.
type EventType string

// Driver event types.
const (
	// EventConnected is emitted when the driver establishes a session.
	EventConnected EventType = "connected"

	// EventDisconnected is emitted when the session drops, whether by
	// explicit Disconnect or connection loss.
	EventDisconnected EventType = "disconnected"

	// EventError is emitted on a protocol or transport error. The session
	// is considered dead after an error event.
	EventError EventType = "error"

	// EventStateChanged is emitted when the device pushes a state update.
	EventStateChanged EventType = "state_changed"
)

// Snapshot is the device's last known state as reported by the driver.
// Keys are device-specific facet names (e.g. "power", "volume"); the pool
// passes snapshots through without interpreting them.
type Snapshot map[string]any

// Copy returns a shallow copy of the snapshot.
// Returns an empty (non-nil) snapshot for a nil receiver.
func (s Snapshot) Copy() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Event is a single notification from a driver to its owner.
type Event struct {
	Type EventType

	// Err carries the underlying error for EventError. Nil otherwise.
	Err error

	// State is the full snapshot after the change, for EventStateChanged.
	State Snapshot

	// ChangedPath hints which facet changed, for EventStateChanged.
	// May be empty when the driver cannot narrow the change down.
	ChangedPath string
}

// Driver is the per-endpoint protocol client consumed by the pool.
//
// Implementations must be safe for concurrent use and must tolerate
// Connect being called again after a session ends. Drivers never
// reconnect on their own.
type Driver interface {
	// Connect establishes a session with the device at address.
	// It blocks until the session is up or fails. The driver may honour
	// ctx cancellation, but callers must not rely on it: the pool bounds
	// slow connects with its own timeout race.
	Connect(ctx context.Context, address string) error

	// Disconnect tears down the current session. No-op when idle.
	Disconnect() error

	// SetOnEvent registers the event callback. Must be set before the
	// first Connect; events are delivered in emission order.
	SetOnEvent(fn func(Event))

	// State returns the last known device state snapshot.
	// Returns an empty snapshot when nothing has been reported yet.
	State() Snapshot
}

// Commander is the optional command surface of a driver. Callers that need
// to push device commands (the API server, the MQTT bridge) assert to this
// interface on the handle returned by the pool.
type Commander interface {
	// Send transmits a single raw command to the device.
	Send(ctx context.Context, command string) error
}

// Factory creates the driver for an endpoint address. The pool calls it
// once per address and reuses the returned driver across reconnects.
type Factory func(address string) (Driver, error)
