// Package pool multiplexes callers onto persistent device connections,
// one per endpoint address, and masks connection instability behind
// automatic retry and reconnection.
//
// The Manager owns the address → connection map. Callers ask for a ready
// driver with Acquire; the Manager returns an existing healthy connection,
// joins an in-flight attempt, or starts a new one. Connection attempts
// retry with a fixed delay up to a bounded budget; unsolicited drops
// trigger automatic reconnection. Device state changes fan out to
// registered observers and to a pool-level event sink.
//
// Concurrency model:
//   - All mutation of a connection's bookkeeping happens under its own
//     lock; at most one connection attempt is in flight per address.
//   - Pool events are delivered in emission order through a single
//     dispatch goroutine.
//   - Observer callbacks run synchronously on the driver's event
//     goroutine, each isolated with panic recovery.
//
// The Manager is an explicitly constructed, dependency-injected instance;
// there is no package-level pool.
package pool
