package journal

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/pool"
)

// recordTimeout bounds a single journal insert so a slow disk cannot
// stall pool event dispatch indefinitely.
const recordTimeout = 5 * time.Second

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder persists pool lifecycle events through a Repository.
//
// State change events are deliberately not journalled: they are
// high-frequency telemetry, which belongs in the history writer,
// not the durable event log.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record journals one pool event. Intended to be called from a pool
// event sink; insert failures are logged and swallowed so journalling
// problems never disturb connection management.
func (r *Recorder) Record(ev pool.Event) {
	if ev.Type == pool.EventStateChanged {
		return
	}

	entry := &Entry{
		Address:   ev.Address,
		EventType: string(ev.Type),
		Attempt:   ev.Attempt,
		CreatedAt: ev.Time,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil && r.logger != nil {
		r.logger.Warn("journal write failed", "address", ev.Address, "type", string(ev.Type), "error", err)
	}
}
