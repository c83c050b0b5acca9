package bridge

import (
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// MQTT message types for the Conduit command/state surface.

// CommandMessage is received on conduit/command/{address} to send a raw
// command to a device.
type CommandMessage struct {
	// ID correlates this command with its result message. Optional;
	// results for commands without an ID carry an empty command_id.
	ID string `json:"id,omitempty"`

	// Command is the raw protocol command line (e.g. "SET VOLUME 10").
	Command string `json:"command"`

	// Source indicates where the command originated (e.g. "panel", "automation").
	Source string `json:"source,omitempty"`
}

// ResultStatus is the outcome of a command.
type ResultStatus string

const (
	// ResultOK indicates the command was written to the device.
	ResultOK ResultStatus = "ok"

	// ResultFailed indicates the command could not be executed.
	ResultFailed ResultStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeSendFailed     = "SEND_FAILED"
	ErrCodeNotCommandable = "NOT_COMMANDABLE"
)

// ResultMessage is published to conduit/result/{address} after a command
// has been handled.
type ResultMessage struct {
	// CommandID is the ID from the original command, if any.
	CommandID string `json:"command_id,omitempty"`

	// Address is the endpoint the command targeted.
	Address string `json:"address"`

	// Status is "ok" or "failed".
	Status ResultStatus `json:"status"`

	// Code is the machine-readable failure code when Status is "failed".
	Code string `json:"code,omitempty"`

	// Error is a human-readable failure description.
	Error string `json:"error,omitempty"`

	// Timestamp is when the result was produced (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is published retained to conduit/state/{address} whenever
// a device pushes a state update.
type StateMessage struct {
	// Address is the endpoint the state belongs to.
	Address string `json:"address"`

	// State is the full snapshot after the change.
	State driver.Snapshot `json:"state"`

	// ChangedPath hints which facet changed. May be empty.
	ChangedPath string `json:"changed_path,omitempty"`

	// Timestamp is when the update was observed (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`
}

// EventMessage is published to conduit/event/{type} for connection
// lifecycle events.
type EventMessage struct {
	// Address is the endpoint the event belongs to.
	Address string `json:"address"`

	// Type is the pool event type (connected, disconnected, retry, ...).
	Type string `json:"type"`

	// Attempt is the failed iteration number, for retry events.
	Attempt int `json:"attempt,omitempty"`

	// Error carries the failure detail for error-class events.
	Error string `json:"error,omitempty"`

	// Timestamp is when the event occurred (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`
}
