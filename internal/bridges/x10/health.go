package x10

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with a problem.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained JSON document on <state-topic>/bridge/health.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version"`
	Timestamp     time.Time    `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	MQTTConnected bool         `json:"mqtt_connected"`
	MonitorPID    int          `json:"monitor_pid,omitempty"`
	Stats         BridgeStats  `json:"stats"`
}

// HealthSource supplies the live values a health message is built from.
// Satisfied by *Bridge.
type HealthSource interface {
	Stats() BridgeStats
	MonitorPID() int
	// MonitorAttached is false until the monitor stream is first consumed.
	MonitorAttached() bool
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// GatewayID identifies this bridge in the message.
	GatewayID string

	// Version is the bridge software version.
	Version string

	// Topic is the health topic, normally <state-topic>/bridge/health.
	Topic string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// QoS for health publishes, normally the configured mqtt.qos.
	QoS byte

	Publisher HealthPublisher
	Source    HealthSource

	// OnReport, if set, receives every periodic message after it is published.
	OnReport func(HealthMessage)
}

// HealthReporter publishes bridge health to MQTT at regular intervals.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthTopic returns the health topic under the given state prefix.
func HealthTopic(statePrefix string) string {
	return mqtt.JoinTopic(statePrefix, "bridge", "health")
}

// StatusTopic returns the availability (online/offline) topic under the
// given state prefix. It doubles as the MQTT Last Will topic.
func StatusTopic(statePrefix string) string {
	return mqtt.JoinTopic(statePrefix, "bridge", "status")
}

// NewHealthReporter creates a new health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// Snapshot builds the current health message without publishing it.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.build(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.report(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.report(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// report publishes the current status and hands it to OnReport.
func (h *HealthReporter) report() error {
	status, reason := h.determineStatus()
	msg := h.build(status, reason)
	err := h.send(msg)
	if h.cfg.OnReport != nil {
		h.cfg.OnReport(msg)
	}
	return err
}

// determineStatus evaluates the current bridge status. A monitor that has
// not attached yet is still starting; one that has gone away is degraded.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Source != nil {
		if !h.cfg.Source.MonitorAttached() {
			return HealthStarting, "waiting for heyu monitor"
		}
		if h.cfg.Source.MonitorPID() == 0 {
			return HealthDegraded, "heyu monitor not running"
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) build(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.cfg.GatewayID,
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.cfg.Publisher != nil {
		msg.MQTTConnected = h.cfg.Publisher.IsConnected()
	}
	if h.cfg.Source != nil {
		msg.Stats = h.cfg.Source.Stats()
		msg.MonitorPID = h.cfg.Source.MonitorPID()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	return h.send(h.build(status, reason))
}

func (h *HealthReporter) send(msg HealthMessage) error {
	if h.cfg.Publisher == nil || h.cfg.Topic == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, h.cfg.QoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
