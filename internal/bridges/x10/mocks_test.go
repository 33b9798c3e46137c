package x10

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/x10-bridge/internal/process"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	events        []string // subscribe/publish order
	connected     bool
	handlers      map[string]mqtt.MessageHandler
	onConnect     func()
	publishErr    error
	qos           byte
}

type mockPublish struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
		qos:       1,
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  string(payload),
		QoS:      qos,
		Retained: retained,
	})
	m.events = append(m.events, "publish "+topic)
	return nil
}

func (m *MockMQTTClient) PublishRetained(topic string, payload []byte) error {
	return m.Publish(topic, payload, 1, true)
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.events = append(m.events, "subscribe "+topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetOnConnect(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = callback
}

func (m *MockMQTTClient) QoS() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qos
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns publishes whose topic has the given prefix.
func (m *MockMQTTClient) PublishedTo(prefix string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if strings.HasPrefix(p.Topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) GetEvents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
	m.events = nil
}

// SimulateMessage delivers a message to the handler whose filter matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload string) {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.handlers {
		if mqtt.MatchTopic(filter, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		_ = handler(topic, []byte(payload))
	}
}

// SimulateReconnect invokes the registered on-connect callback.
func (m *MockMQTTClient) SimulateReconnect() {
	m.mu.Lock()
	cb := m.onConnect
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockController implements Controller for testing.
type mockController struct {
	mu       sync.Mutex
	calls    []string
	exitCode int
	runErr   error
	block    chan struct{}
	// blockAction limits block to one heyu action; empty blocks every call.
	blockAction string
}

func (c *mockController) Run(ctx context.Context, action string, hc HouseCode) (process.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, action+" "+hc.Lower())
	exitCode, runErr, block := c.exitCode, c.runErr, c.block
	if c.blockAction != "" && c.blockAction != action {
		block = nil
	}
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return process.Result{ExitCode: -1}, ctx.Err()
		}
	}
	if runErr != nil {
		return process.Result{ExitCode: -1}, runErr
	}
	return process.Result{ExitCode: exitCode, Output: []byte(fmt.Sprintf("exit %d", exitCode))}, nil
}

func (c *mockController) getCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// recordingLogger captures log entries by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *recordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.log("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("error", msg, args) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

// testX10Config returns the default topic layout used across tests.
func testX10Config() config.X10Config {
	return config.X10Config{
		HeyuBinary:          "heyu",
		CommandTopic:        "x10/cmd",
		StateTopic:          "x10/stat",
		DiscoveryTopic:      "homeassistant",
		GatewayID:           "x10mqtt",
		DiscoveryHouseCodes: "AB",
		Mode:                config.ModeCM11,
		Workers:             1,
		QueueSize:           4,
	}
}
