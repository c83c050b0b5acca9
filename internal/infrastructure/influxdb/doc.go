// Package influxdb stores Conduit's time-series telemetry in an
// InfluxDB v2 bucket via the official influxdb-client-go library.
//
// Three measurements are written:
//
//   - device_state: values devices push (VOLUME, POWER, ...), tagged by
//     endpoint address and state key
//   - connection_status: availability transitions per endpoint, with a
//     0/1 gauge for uptime queries
//   - pool_stats: pool-level counters sampled periodically
//
// All writes go through the client library's non-blocking batched API.
// A write call never blocks the pool's event path; batch failures are
// delivered asynchronously through SetOnError and logged there.
//
// The integration is optional. With influxdb.enabled=false in
// config.yaml, Connect returns ErrDisabled and the history writer is
// simply not started; everything else runs as normal.
package influxdb
