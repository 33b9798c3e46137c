package process

import "errors"

// Sentinel errors for subprocess handling.
var (
	// ErrStartFailed indicates the binary could not be launched.
	ErrStartFailed = errors.New("process: start failed")

	// ErrStreamTerminated indicates a streaming process ended without being
	// asked to. A monitor is expected to run for the life of the bridge.
	ErrStreamTerminated = errors.New("process: stream terminated")
)
