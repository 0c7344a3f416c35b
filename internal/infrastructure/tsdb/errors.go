package tsdb

import "errors"

// Domain-specific errors for telemetry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned when telemetry is disabled in config.
	ErrDisabled = errors.New("tsdb: telemetry disabled in config")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("tsdb: client not connected")
)
