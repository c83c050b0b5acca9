// Package driver defines the contract between the connection pool and
// protocol drivers.
//
// A driver is an opaque per-endpoint client for one physical device. It
// knows how to speak the device's wire protocol; it knows nothing about
// retries, reconnection, or pooling. Resilience is the pool's job
// (internal/pool), so drivers MUST NOT reconnect on their own — on
// connection loss they emit a disconnected or error event and stop.
//
// Lifecycle:
//
//	d, _ := factory(address)
//	d.SetOnEvent(handler)          // before Connect
//	d.Connect(ctx, address)        // may be called again after a drop
//	...
//	d.Disconnect()
//
// A single driver instance is created once per endpoint address and reused
// across reconnect cycles, so Connect must be safe to call again after a
// failed session.
package driver
