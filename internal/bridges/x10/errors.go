package x10

import "errors"

// Domain errors for the X10 bridge package.
var (
	// ErrInvalidCommand is returned when a command payload is not ON or OFF.
	ErrInvalidCommand = errors.New("x10: invalid command")

	// ErrInvalidHouseCode is returned when a housecode does not match the
	// letter-plus-unit grammar (A1, p16).
	ErrInvalidHouseCode = errors.New("x10: invalid housecode")

	// ErrInvalidMode is returned for an unknown hardware mode.
	ErrInvalidMode = errors.New("x10: invalid hardware mode")

	// ErrQueueFull is returned when the command queue cannot accept more work.
	ErrQueueFull = errors.New("x10: command queue full")

	// ErrPoolStopped is returned when submitting to a stopped worker pool.
	ErrPoolStopped = errors.New("x10: worker pool stopped")
)
