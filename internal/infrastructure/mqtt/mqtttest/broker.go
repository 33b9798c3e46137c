// Package mqtttest runs an in-process MQTT broker for tests, so the client
// and bridge can be exercised end to end without an external Mosquitto.
package mqtttest

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/config"
)

// Message is a publish observed by the broker's inline client.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Broker is a running in-process broker that records every publish.
type Broker struct {
	server *mochi.Server
	Host   string
	Port   int

	mu       sync.Mutex
	messages []Message
}

// Start launches a broker on a random localhost port and registers cleanup
// with t. Every published message is recorded and available via Messages.
func Start(t *testing.T) *Broker {
	t.Helper()

	server := mochi.New(&mochi.Options{
		InlineClient: true,
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "test", Address: "127.0.0.1:0"})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("adding listener: %v", err)
	}

	go func() {
		_ = server.Serve()
	}()

	host, portStr, err := net.SplitHostPort(tcp.Address())
	if err != nil {
		t.Fatalf("parsing listener address %q: %v", tcp.Address(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing listener port %q: %v", portStr, err)
	}

	b := &Broker{server: server, Host: host, Port: port}

	if err := server.Subscribe("#", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		b.mu.Lock()
		b.messages = append(b.messages, Message{
			Topic:    pk.TopicName,
			Payload:  string(pk.Payload),
			Retained: pk.FixedHeader.Retain,
		})
		b.mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribing recorder: %v", err)
	}

	t.Cleanup(func() {
		_ = server.Close()
	})

	return b
}

// Config returns an MQTT configuration pointing at the broker.
func (b *Broker) Config(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     b.Host,
			Port:     b.Port,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     2,
		},
	}
}

// Publish injects a message as if another client had sent it.
func (b *Broker) Publish(topic, payload string, retain bool) error {
	return b.server.Publish(topic, []byte(payload), retain, 0)
}

// Messages returns a copy of all recorded publishes.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Retained returns the payload the broker currently retains for topic.
func (b *Broker) Retained(topic string) (string, bool) {
	for _, pk := range b.server.Topics.Messages(topic) {
		if pk.TopicName == topic {
			return string(pk.Payload), true
		}
	}
	return "", false
}

// RetainedUnder returns all retained payloads whose topic matches filter.
func (b *Broker) RetainedUnder(filter string) map[string]string {
	out := make(map[string]string)
	for _, pk := range b.server.Topics.Messages(filter) {
		out[pk.TopicName] = string(pk.Payload)
	}
	return out
}

// WaitForRetained polls until topic has a retained payload equal to want.
func (b *Broker) WaitForRetained(topic, want string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if got, ok := b.Retained(topic); ok && got == want {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// WaitFor polls until a message on topic has been recorded or the timeout
// elapses. It returns the latest matching message.
func (b *Broker) WaitFor(topic string, timeout time.Duration) (Message, bool) {
	deadline := time.Now().Add(timeout)
	for {
		msgs := b.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Topic == topic {
				return msgs[i], true
			}
		}
		if time.Now().After(deadline) {
			return Message{}, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
