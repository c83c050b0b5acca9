package influxdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed covers synchronous write rejections; batch-level
	// failures arrive via the SetOnError callback instead.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled means the integration is off in config.yaml, which is
	// a supported mode, not a fault.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
