package x10

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/x10-bridge/internal/process"
)

// actions maps hardware mode and command to the heyu action verb.
// The CM17A firecracker is transmit-only and uses the "f" prefixed verbs.
var actions = map[string]map[Command]string{
	config.ModeCM11: {CommandOn: "on", CommandOff: "off"},
	config.ModeCM17: {CommandOn: "fon", CommandOff: "foff"},
}

// Controller runs one-shot heyu commands. Satisfied by *Heyu.
type Controller interface {
	Run(ctx context.Context, action string, hc HouseCode) (process.Result, error)
}

// StatePublisher publishes retained state. Satisfied by *mqtt.Client.
type StatePublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// ExecutorConfig holds configuration for an Executor.
type ExecutorConfig struct {
	// Mode is config.ModeCM11 or config.ModeCM17.
	Mode string

	// StateTopic is the prefix state is published under.
	StateTopic string

	Controller Controller
	Publisher  StatePublisher
	Logger     Logger

	// OnPublished is called after every state publish. Optional.
	OnPublished func(StateEvent)
}

// Executor runs validated commands through heyu and publishes the result.
type Executor struct {
	actions     map[Command]string
	mode        string
	stateTopic  string
	controller  Controller
	publisher   StatePublisher
	logger      Logger
	onPublished func(StateEvent)
}

// NewExecutor creates an executor for the configured hardware mode.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	mode := strings.ToLower(cfg.Mode)
	if mode == "" {
		mode = config.ModeCM11
	}
	table, ok := actions[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	return &Executor{
		actions:     table,
		mode:        mode,
		stateTopic:  cfg.StateTopic,
		controller:  cfg.Controller,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		onPublished: cfg.OnPublished,
	}, nil
}

// Action returns the heyu verb for cmd in the executor's mode.
func (e *Executor) Action(cmd Command) string {
	return e.actions[cmd]
}

// Mode returns the hardware mode.
func (e *Executor) Mode() string {
	return e.mode
}

// Execute sends cmd to hc through heyu and publishes the commanded state.
//
// The state is published retained to <state-topic>/<hc-lower> whatever heyu
// returned. X10 has no acknowledgement, so the bridge reports the command it
// sent rather than a confirmed outcome, and consumers rely on this for
// responsive UIs. A non-zero exit is logged at error level and returned as
// the exit code; it is not an error. The error reports a failure to launch
// heyu or to publish.
func (e *Executor) Execute(ctx context.Context, hc HouseCode, cmd Command) (int, error) {
	action := e.Action(cmd)
	if action == "" {
		return -1, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}

	e.logInfo("sending X10 command", "housecode", hc.String(), "command", string(cmd), "action", action)

	res, runErr := e.controller.Run(ctx, action, hc)
	exitCode := res.ExitCode
	switch {
	case runErr != nil:
		e.logError("heyu invocation failed",
			"housecode", hc.String(),
			"action", action,
			"error", runErr,
		)
	case exitCode != 0:
		e.logError("heyu returned non-zero exit code",
			"housecode", hc.String(),
			"action", action,
			"exit_code", exitCode,
			"output", strings.TrimSpace(string(res.Output)),
		)
	}

	topic := mqtt.JoinTopic(e.stateTopic, hc.Lower())
	if err := e.publisher.PublishRetained(topic, cmd.Payload()); err != nil {
		if runErr != nil {
			return exitCode, fmt.Errorf("running heyu: %w; publishing state: %w", runErr, err)
		}
		return exitCode, fmt.Errorf("publishing state to %s: %w", topic, err)
	}

	if e.onPublished != nil {
		e.onPublished(StateEvent{HouseCode: hc, Command: cmd, Source: SourceCommand})
	}

	if runErr != nil {
		return exitCode, fmt.Errorf("running heyu: %w", runErr)
	}
	return exitCode, nil
}

func (e *Executor) logInfo(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *Executor) logError(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}
