package influxdb

import "errors"

// Sentinel errors returned by Connect and HealthCheck. Write failures are
// asynchronous and reach the SetOnError callback instead.
var (
	// ErrDisabled is returned by Connect when telemetry is turned off.
	// Callers treat it as "no telemetry", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping error seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close, or on a nil Client.
	ErrNotConnected = errors.New("influxdb: not connected")
)
