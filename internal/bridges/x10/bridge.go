package x10

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
)

// defaultDrainTimeout bounds how long Stop waits for queued commands.
const defaultDrainTimeout = 10 * time.Second

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client; mocked in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
	QoS() byte
}

// LineSource is a stream of monitor output lines. Satisfied by *process.Stream.
type LineSource interface {
	Lines() <-chan string
	Wait() error
}

// ActivityStore records state events. Satisfied by *ActivityRecorder.
type ActivityStore interface {
	RecordEvent(ev StateEvent)
}

// TelemetrySink receives switch state points and periodic counter
// snapshots. Satisfied by *influxdb.Client.
type TelemetrySink interface {
	WriteSwitchState(housecode string, on bool, source string)
	WriteBridgeStats(gatewayID string, counters map[string]int64)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the X10 section of the loaded configuration.
	Config config.X10Config

	// MQTTClient is the shared MQTT client.
	MQTTClient MQTTClient

	// Controller runs heyu commands.
	Controller Controller

	// Version is reported in health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger

	// Recorder is an optional activity recorder.
	Recorder ActivityStore

	// Telemetry is an optional time-series sink.
	Telemetry TelemetrySink
}

// BridgeStats are the bridge counters, reported in health and metrics.
type BridgeStats struct {
	CommandsExecuted uint64 `json:"commands_executed"`
	CommandsFailed   uint64 `json:"commands_failed"`
	CommandsRejected uint64 `json:"commands_rejected"`
	CommandsDropped  uint64 `json:"commands_dropped"`
	QueueDepth       int    `json:"queue_depth"`

	ParserStats
}

// Counters returns the stats as a flat name to value map.
func (s BridgeStats) Counters() map[string]int64 {
	return map[string]int64{
		"commands_executed":     int64(s.CommandsExecuted),
		"commands_failed":       int64(s.CommandsFailed),
		"commands_rejected":     int64(s.CommandsRejected),
		"commands_dropped":      int64(s.CommandsDropped),
		"queue_depth":           int64(s.QueueDepth),
		"events":                int64(s.Events),
		"dropped_functions":     int64(s.DroppedFunctions),
		"overwritten_addresses": int64(s.OverwrittenAddresses),
	}
}

// Bridge connects the heyu controller to MQTT. It handles:
//   - Subscribing to commands and announcing discovery on every (re)connect
//   - Validating commands and running them on a bounded worker pool
//   - Reconstructing bus events from the monitor stream and publishing state
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use, except that
// RunMonitor must only be running once at a time.
type Bridge struct {
	cfg       config.X10Config
	mqtt      MQTTClient
	executor  *Executor
	announcer *Announcer
	pool      *WorkerPool
	health    *HealthReporter
	parser    *EventParser
	recorder  ActivityStore
	telemetry TelemetrySink

	commandTopic string

	commandsExecuted atomic.Uint64
	commandsFailed   atomic.Uint64
	commandsRejected atomic.Uint64
	commandsDropped  atomic.Uint64

	monitorPID      atomic.Int64
	monitorAttached atomic.Bool

	// Last published state per housecode, for the status API only.
	lastState   map[HouseCode]Command
	lastStateMu sync.RWMutex

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	cfg := opts.Config
	b := &Bridge{
		cfg:          cfg,
		mqtt:         opts.MQTTClient,
		parser:       NewEventParser(),
		recorder:     opts.Recorder,
		telemetry:    opts.Telemetry,
		commandTopic: mqtt.JoinTopic(cfg.CommandTopic, "+"),
		lastState:    make(map[HouseCode]Command),
		logger:       opts.Logger,
	}

	executor, err := NewExecutor(ExecutorConfig{
		Mode:        cfg.Mode,
		StateTopic:  cfg.StateTopic,
		Controller:  opts.Controller,
		Publisher:   opts.MQTTClient,
		Logger:      opts.Logger,
		OnPublished: b.observe,
	})
	if err != nil {
		return nil, err
	}
	b.executor = executor

	b.announcer = NewAnnouncer(AnnouncerConfigFrom(cfg), opts.MQTTClient, opts.Logger)
	b.pool = NewWorkerPool(cfg.Workers, cfg.QueueSize, b.runJob)

	hcfg := HealthReporterConfig{
		GatewayID: b.announcer.cfg.GatewayID,
		Version:   opts.Version,
		Topic:     HealthTopic(cfg.StateTopic),
		Interval:  cfg.HealthInterval,
		QoS:       opts.MQTTClient.QoS(),
		Publisher: opts.MQTTClient,
		Source:    b,
	}
	if b.telemetry != nil {
		hcfg.OnReport = func(msg HealthMessage) {
			b.telemetry.WriteBridgeStats(msg.Bridge, msg.Stats.Counters())
		}
	}
	b.health = NewHealthReporter(hcfg)
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// AnnouncerConfigFrom derives the discovery layout from the X10 config.
func AnnouncerConfigFrom(cfg config.X10Config) AnnouncerConfig {
	return AnnouncerConfig{
		DiscoveryPrefix: cfg.DiscoveryTopic,
		CommandPrefix:   cfg.CommandTopic,
		StatePrefix:     cfg.StateTopic,
		GatewayID:       cfg.GatewayID,
		Letters:         cfg.HouseLetters(),
	}
}

// Start begins bridge operation: it starts the workers, subscribes to
// commands, announces discovery and starts health reporting. The same
// subscribe-then-announce sequence runs again after every reconnect.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", "error", err)
	}

	b.pool.Start()

	b.mqtt.SetOnConnect(b.handleConnect)
	if err := b.setup(); err != nil {
		return err
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"command_topic", b.commandTopic,
		"mode", b.executor.Mode(),
		"housecodes", b.cfg.HouseLetters(),
	)
	return nil
}

// handleConnect runs on every reconnect.
func (b *Bridge) handleConnect() {
	b.logInfo("connected to MQTT broker")
	if err := b.setup(); err != nil {
		b.logError("post-connect setup failed", "error", err)
	}
}

// setup subscribes to the command topic, then announces discovery.
func (b *Bridge) setup() error {
	if err := b.mqtt.Subscribe(b.commandTopic, b.mqtt.QoS(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", b.commandTopic)

	n, err := b.announcer.Announce()
	if n > 0 {
		b.logInfo("discovery announced", "descriptors", n)
	}
	if err != nil {
		b.logError("discovery announce incomplete", "error", err)
	}
	return nil
}

// Stop drains the command queue and stops health reporting.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultDrainTimeout)
		defer cancel()

		if err := b.pool.Stop(ctx); err != nil {
			b.logWarn("command queue not drained", "error", err)
		}
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// handleCommand is the MQTT handler for <command-topic>/+. It runs on the
// paho callback goroutine and must not block, so it only validates and
// enqueues.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	hc, cmd, err := ValidateCommand(topic, payload)
	if err != nil {
		b.commandsRejected.Add(1)
		b.logWarn("invalid command or housecode",
			"topic", topic,
			"payload", string(payload),
			"error", err,
		)
		return nil
	}

	b.logDebug("received command", "topic", topic, "housecode", hc.String(), "command", string(cmd))

	if err := b.pool.Submit(Job{HouseCode: hc, Command: cmd, Received: time.Now()}); err != nil {
		b.commandsDropped.Add(1)
		b.logError("command not queued",
			"housecode", hc.String(),
			"command", string(cmd),
			"error", err,
		)
	}
	return nil
}

// runJob executes one queued command on a worker.
func (b *Bridge) runJob(ctx context.Context, job Job) {
	exitCode, err := b.executor.Execute(ctx, job.HouseCode, job.Command)
	if err != nil || exitCode != 0 {
		b.commandsFailed.Add(1)
		if err != nil {
			b.logError("command execution failed",
				"housecode", job.HouseCode.String(),
				"command", string(job.Command),
				"error", err,
			)
		}
		return
	}
	b.commandsExecuted.Add(1)
	b.logDebug("command executed",
		"housecode", job.HouseCode.String(),
		"command", string(job.Command),
		"latency", time.Since(job.Received),
	)
}

// RunMonitor consumes the monitor stream until it ends, publishing a state
// update for every reconstructed event. It returns the stream's termination
// error, which is fatal to the bridge; nil means the stream was stopped on
// purpose.
func (b *Bridge) RunMonitor(ctx context.Context, src LineSource) error {
	if p, ok := src.(interface{ PID() int }); ok {
		b.monitorPID.Store(int64(p.PID()))
	}
	b.monitorAttached.Store(true)
	defer b.monitorPID.Store(0)

	b.logInfo("monitoring bus for remote changes")

	for line := range src.Lines() {
		b.logDebug("monitor line", "line", line)

		ev := b.parser.Feed(line)
		if ev == nil {
			continue
		}
		if err := b.publishState(*ev); err != nil {
			b.logError("failed to publish bus state", "error", err)
		}
	}

	err := src.Wait()
	if err != nil {
		return fmt.Errorf("heyu monitor: %w", err)
	}
	if ctx.Err() == nil {
		return errors.New("heyu monitor: stream closed")
	}
	return nil
}

// publishState publishes a bus-originated state change retained.
func (b *Bridge) publishState(ev StateEvent) error {
	topic := mqtt.JoinTopic(b.cfg.StateTopic, ev.HouseCode.Lower())
	b.logInfo("remote status change",
		"topic", topic,
		"state", string(ev.Command),
	)
	if err := b.mqtt.PublishRetained(topic, ev.Command.Payload()); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	b.observe(ev)
	return nil
}

// observe fans a published state event out to the optional sinks.
func (b *Bridge) observe(ev StateEvent) {
	b.lastStateMu.Lock()
	b.lastState[ev.HouseCode] = ev.Command
	b.lastStateMu.Unlock()

	if b.recorder != nil {
		b.recorder.RecordEvent(ev)
	}
	if b.telemetry != nil {
		b.telemetry.WriteSwitchState(ev.HouseCode.String(), ev.Command.IsOn(), string(ev.Source))
	}
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		CommandsExecuted: b.commandsExecuted.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		CommandsRejected: b.commandsRejected.Load(),
		CommandsDropped:  b.commandsDropped.Load(),
		QueueDepth:       b.pool.QueueDepth(),
		ParserStats:      b.parser.Stats(),
	}
}

// MonitorPID returns the pid of the running monitor, or 0.
func (b *Bridge) MonitorPID() int {
	return int(b.monitorPID.Load())
}

// MonitorAttached reports whether RunMonitor has been entered at least once.
func (b *Bridge) MonitorAttached() bool {
	return b.monitorAttached.Load()
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Snapshot()
}

// Descriptors returns the discovery descriptors this bridge announces.
func (b *Bridge) Descriptors() []DiscoveryDescriptor {
	return b.announcer.Descriptors()
}

// UnitState is the last state published for one housecode.
type UnitState struct {
	HouseCode string `json:"housecode"`
	State     string `json:"state"`
}

// LastStates returns the last published state of every housecode seen
// since startup, sorted by housecode.
func (b *Bridge) LastStates() []UnitState {
	b.lastStateMu.RLock()
	out := make([]UnitState, 0, len(b.lastState))
	for hc, cmd := range b.lastState {
		out = append(out, UnitState{HouseCode: hc.String(), State: string(cmd)})
	}
	b.lastStateMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].HouseCode < out[j].HouseCode })
	return out
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
