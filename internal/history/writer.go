// Package history records device state and connection availability as
// time-series telemetry.
//
// The journal keeps the durable event log; history keeps the
// high-frequency, queryable side: every state value a device pushes and
// every availability transition, written to InfluxDB through batched
// non-blocking writes.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-conduit/internal/pool"
)

// Sink abstracts the telemetry store. *influxdb.Client satisfies it.
type Sink interface {
	WriteStateValue(address string, key string, value string)
	WriteConnectionStatus(address string, status string, connected bool)
	WritePoolStats(connections, connected int, attemptsTotal, reconnectsTotal uint64)
}

// StatsSource provides pool counters for the periodic stats loop.
type StatsSource interface {
	Stats() pool.Stats
}

// Writer converts pool events into telemetry points.
type Writer struct {
	sink Sink
}

// NewWriter creates a history writer targeting sink.
func NewWriter(sink Sink) *Writer {
	return &Writer{sink: sink}
}

// Record writes the telemetry for one pool event. Intended to be called
// from a pool event sink; writes are non-blocking.
func (w *Writer) Record(ev pool.Event) {
	switch ev.Type {
	case pool.EventStateChanged:
		// Only the changed key is written; the full snapshot would
		// produce one point per key on every update.
		if ev.ChangedPath == "" {
			return
		}
		value, ok := ev.State[ev.ChangedPath]
		if !ok {
			return
		}
		w.sink.WriteStateValue(ev.Address, ev.ChangedPath, fmt.Sprint(value))

	case pool.EventConnected:
		w.sink.WriteConnectionStatus(ev.Address, string(ev.Type), true)

	case pool.EventDisconnected, pool.EventConnectionFailed, pool.EventReconnectFailed:
		w.sink.WriteConnectionStatus(ev.Address, string(ev.Type), false)
	}
}

// RunStatsLoop writes pool counters to the sink every interval until
// ctx is cancelled. Blocks; run it in its own goroutine.
func (w *Writer) RunStatsLoop(ctx context.Context, src StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := src.Stats()
			w.sink.WritePoolStats(stats.Connections, stats.Connected,
				stats.AttemptsTotal, stats.ReconnectsTotal)
		}
	}
}
