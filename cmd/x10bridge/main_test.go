package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/x10-bridge/internal/infrastructure/mqtt/mqtttest"
)

// clearEnv removes environment overrides that would leak into config loading.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"X10BRIDGE_CONFIG", "X10BRIDGE_MQTT_HOST", "MQTT_HOST", "X10BRIDGE_MQTT_PORT", "MQTT_PORT",
		"X10BRIDGE_COMMAND_TOPIC", "CMD_TOPIC", "X10BRIDGE_STATE_TOPIC", "STAT_TOPIC",
		"X10BRIDGE_DISCOVERY_TOPIC", "DISCOVERY_TOPIC", "X10BRIDGE_DISCOVERY_HOUSECODES",
		"DISCOVERY_HOUSECODES", "X10BRIDGE_MODE", "USE_CM17", "X10BRIDGE_HEYU_BINARY",
	} {
		t.Setenv(name, "")
	}
}

// writeFakeHeyu writes a shell script standing in for heyu. "heyu monitor"
// prints monitorOutput and then either keeps running or exits; any other
// invocation is appended to the returned log file.
func writeFakeHeyu(t *testing.T, dir, monitorOutput string, monitorExits bool) (binary, callLog string) {
	t.Helper()
	binary = filepath.Join(dir, "heyu")
	callLog = filepath.Join(dir, "calls.log")

	tail := "exec sleep 60"
	if monitorExits {
		tail = "exit 0"
	}
	script := fmt.Sprintf(`#!/bin/sh
case "$1" in
monitor)
  cat <<'LINES'
%s
LINES
  %s
  ;;
*)
  echo "$1 $2" >> %q
  ;;
esac
`, monitorOutput, tail, callLog)

	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil { //nolint:gosec // test executable
		t.Fatalf("writing fake heyu: %v", err)
	}
	return binary, callLog
}

func writeConfig(t *testing.T, dir string, broker *mqtttest.Broker, heyu string, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
mqtt:
  broker:
    host: %q
    port: %d
    client_id: "x10bridge-main-test"
  qos: 1
x10:
  heyu_binary: %q
  command_topic: "x10/cmd"
  state_topic: "x10/stat"
  discovery_topic: "homeassistant"
  discovery_housecodes: "A"
  workers: 1
  queue_size: 4
  health_interval: 1h
logging:
  level: error
  format: text
  output: stderr
%s
`, broker.Host, broker.Port, heyu, extra)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// waitRetainedCount polls until filter matches want retained topics and
// returns the last count seen.
func waitRetainedCount(broker *mqtttest.Broker, filter string, want int, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for {
		n := len(broker.RetainedUnder(filter))
		if n == want || time.Now().After(deadline) {
			return n
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name         string
		flag         string
		env          string
		wantPath     string
		wantOptional bool
	}{
		{"default", "", "", defaultConfigPath, true},
		{"env", "", "/etc/x10/env.yaml", "/etc/x10/env.yaml", false},
		{"flag wins", "/etc/x10/flag.yaml", "/etc/x10/env.yaml", "/etc/x10/flag.yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("X10BRIDGE_CONFIG", tt.env)
			path, optional := getConfigPath(tt.flag)
			if path != tt.wantPath || optional != tt.wantOptional {
				t.Errorf("getConfigPath(%q) = (%q, %v), want (%q, %v)",
					tt.flag, path, optional, tt.wantPath, tt.wantOptional)
			}
		})
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with an explicit missing config file")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("x10:\n  mode: cm99\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), path)
	if err == nil {
		t.Fatal("run() should fail validation")
	}
	if !strings.Contains(err.Error(), "x10.mode") {
		t.Errorf("error = %v, want mention of x10.mode", err)
	}
}

func TestRun_BrokerUnreachable(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "mqtt:\n  broker:\n    host: \"127.0.0.1\"\n    port: 1\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, path); err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	clearEnv(t)
	broker := mqtttest.Start(t)
	dir := t.TempDir()

	monitor := "01/02 10:14:01  rcvi addr unit       1 : hu A1  (Hall_light)\n" +
		"01/02 10:14:01  rcvi func          On : hc A"
	heyu, callLog := writeFakeHeyu(t, dir, monitor, false)
	dbPath := filepath.Join(dir, "data", "x10.db")
	path := writeConfig(t, dir, broker, heyu, fmt.Sprintf("database:\n  enabled: true\n  path: %q\n", dbPath))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	if !broker.WaitForRetained("x10/stat/bridge/status", "online", 5*time.Second) {
		cancel()
		t.Fatalf("bridge did not come online (run: %v)", <-done)
	}

	// Bus event from the monitor.
	if !broker.WaitForRetained("x10/stat/a1", "ON", 5*time.Second) {
		t.Error("monitor event not published as retained x10/stat/a1=ON")
	}

	// Discovery for house A.
	if got := waitRetainedCount(broker, "homeassistant/#", 16, 5*time.Second); got != 16 {
		t.Errorf("discovery descriptors retained = %d, want 16", got)
	}

	// Command round trip.
	if err := broker.Publish("x10/cmd/b2", " off ", false); err != nil {
		t.Fatalf("publishing command: %v", err)
	}
	if !broker.WaitForRetained("x10/stat/b2", "OFF", 5*time.Second) {
		t.Error("command state not published as retained x10/stat/b2=OFF")
	}

	// Invalid command is dropped without a state publish.
	if err := broker.Publish("x10/cmd/z9", "on", false); err != nil {
		t.Fatalf("publishing command: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() after cancel = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	calls, err := os.ReadFile(callLog)
	if err != nil {
		t.Fatalf("reading heyu call log: %v", err)
	}
	if got := strings.TrimSpace(string(calls)); got != "off b2" {
		t.Errorf("heyu calls = %q, want %q", got, "off b2")
	}
	if _, ok := broker.Retained("x10/stat/z9"); ok {
		t.Error("invalid housecode produced a state publish")
	}
	if !broker.WaitForRetained("x10/stat/bridge/status", "offline", 2*time.Second) {
		t.Error("bridge did not publish offline on shutdown")
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("activity database not created: %v", err)
	}
}

func TestRun_MonitorExitIsFatal(t *testing.T) {
	clearEnv(t)
	broker := mqtttest.Start(t)
	dir := t.TempDir()

	heyu, _ := writeFakeHeyu(t, dir, "starting monitor", true)
	path := writeConfig(t, dir, broker, heyu, "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() should fail when heyu monitor exits")
	}
	if ctx.Err() != nil {
		t.Fatalf("run() only returned after timeout: %v", err)
	}
	if !strings.Contains(err.Error(), "heyu monitor") {
		t.Errorf("error = %v, want heyu monitor termination", err)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "x10bridge "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestAnnounceCommand(t *testing.T) {
	clearEnv(t)
	broker := mqtttest.Start(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, broker, "/bin/false", "")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"announce", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("announce command error = %v", err)
	}

	if got := waitRetainedCount(broker, "homeassistant/#", 16, 5*time.Second); got != 16 {
		t.Errorf("retained descriptors = %d, want 16", got)
	}
	if _, ok := broker.Retained("x10/stat/bridge/status"); ok {
		t.Error("announce must not publish bridge availability")
	}
}
