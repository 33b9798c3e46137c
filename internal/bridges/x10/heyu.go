package x10

import (
	"context"

	"github.com/nerrad567/x10-bridge/internal/process"
)

// monitorName labels the monitor subprocess in logs.
const monitorName = "heyu-monitor"

// Heyu drives the heyu controller binary.
//
// heyu serialises access to the CM11A/CM17A interface itself, so concurrent
// Run calls are safe.
type Heyu struct {
	binary string
	logger Logger
}

// NewHeyu returns a controller for the given heyu binary.
func NewHeyu(binary string, logger Logger) *Heyu {
	if binary == "" {
		binary = "heyu"
	}
	return &Heyu{binary: binary, logger: logger}
}

// Binary returns the configured binary path.
func (h *Heyu) Binary() string {
	return h.binary
}

// Run executes "heyu <action> <housecode-lower>" and waits for it.
func (h *Heyu) Run(ctx context.Context, action string, hc HouseCode) (process.Result, error) {
	return process.Run(ctx, h.binary, action, hc.Lower())
}

// Monitor starts "heyu monitor". The returned stream ends only on failure or
// when ctx is cancelled.
func (h *Heyu) Monitor(ctx context.Context) (*process.Stream, error) {
	cfg := process.StreamConfig{
		Name:   monitorName,
		Binary: h.binary,
		Args:   []string{"monitor"},
	}
	if h.logger != nil {
		cfg.Logger = h.logger
	}
	return process.StartStream(ctx, cfg)
}
