// Package bridge connects the connection pool to the MQTT bus.
//
// It fans pool events out to MQTT topics and routes inbound command
// messages to the owning device connection:
//   - State updates are published retained to conduit/state/{address},
//     so new subscribers immediately see the last known device state.
//   - Lifecycle events (connected, disconnected, retry, failures) are
//     published to conduit/event/{type}.
//   - Commands arriving on conduit/command/{address} are sent to the
//     device through the pool, with the outcome published to
//     conduit/result/{address}.
//
// The bridge is optional: when MQTT is disabled, Conduit runs without
// it and the HTTP API remains the only command surface.
package bridge
