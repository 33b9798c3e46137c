package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardware modes select the heyu command vocabulary used for ON/OFF.
const (
	// ModeCM11 drives a CM11A interface with plain "on"/"off".
	ModeCM11 = "cm11"

	// ModeCM17 drives a CM17A "Firecracker" with "fon"/"foff".
	ModeCM17 = "cm17"
)

// validLetters are the X10 house letters accepted for discovery.
const validLetters = "ABCDEFGHIJKLMNOP"

// Config is the root configuration structure for the X10 bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	X10      X10Config      `yaml:"x10"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// X10Config contains the heyu controller and topic layout settings.
type X10Config struct {
	// HeyuBinary is the path (or name on $PATH) of the heyu executable.
	HeyuBinary string `yaml:"heyu_binary"`

	// CommandTopic is the prefix commands arrive on: <prefix>/<housecode>.
	CommandTopic string `yaml:"command_topic"`

	// StateTopic is the prefix state updates are published on.
	StateTopic string `yaml:"state_topic"`

	// DiscoveryTopic is the Home Assistant discovery prefix.
	DiscoveryTopic string `yaml:"discovery_topic"`

	// GatewayID is the node id used in discovery topics and unique ids.
	GatewayID string `yaml:"gateway_id"`

	// DiscoveryHouseCodes lists the house letters to announce, e.g. "AB".
	DiscoveryHouseCodes string `yaml:"discovery_housecodes"`

	// Mode is the hardware mode: "cm11" (default) or "cm17".
	Mode string `yaml:"mode"`

	// Workers is the number of concurrent heyu command executions.
	Workers int `yaml:"workers"`

	// QueueSize bounds the number of commands waiting for a worker.
	QueueSize int `yaml:"queue_size"`

	// HealthInterval is how often bridge health is published.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains settings for the optional SQLite activity recorder.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains settings for the optional HTTP status server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// When optional is true a missing file is not an error, so the bridge can be
// configured from the environment alone.
//
// Parameters:
//   - path: Path to the YAML configuration file
//   - optional: Whether a missing file is acceptable
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
		// Environment-only configuration
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	// The mode is case-insensitive from every source.
	cfg.X10.Mode = strings.ToLower(strings.TrimSpace(cfg.X10.Mode))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// The broker host is deliberately empty: it must be configured.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		X10: X10Config{
			HeyuBinary:     "heyu",
			CommandTopic:   "x10/cmd",
			StateTopic:     "x10/stat",
			DiscoveryTopic: "homeassistant",
			GatewayID:      "x10mqtt",
			Mode:           ModeCM11,
			Workers:        2,
			QueueSize:      32,
			HealthInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:        "./data/x10bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Both X10BRIDGE_* names and the variable names of the legacy x10mqtt
// container image are honoured; X10BRIDGE_* wins when both are set.
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := lookupEnv("X10BRIDGE_MQTT_HOST", "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := lookupEnv("X10BRIDGE_MQTT_PORT", "MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT port %q: %w", v, err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := lookupEnv("X10BRIDGE_MQTT_USERNAME", "MQTT_USER"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := lookupEnv("X10BRIDGE_MQTT_PASSWORD", "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := lookupEnv("X10BRIDGE_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}

	// Topics
	if v := lookupEnv("X10BRIDGE_COMMAND_TOPIC", "CMD_TOPIC"); v != "" {
		cfg.X10.CommandTopic = v
	}
	if v := lookupEnv("X10BRIDGE_STATE_TOPIC", "STAT_TOPIC"); v != "" {
		cfg.X10.StateTopic = v
	}
	if v := lookupEnv("X10BRIDGE_DISCOVERY_TOPIC", "DISCOVERY_TOPIC"); v != "" {
		cfg.X10.DiscoveryTopic = v
	}
	if v := lookupEnv("X10BRIDGE_DISCOVERY_HOUSECODES", "DISCOVERY_HOUSECODES"); v != "" {
		cfg.X10.DiscoveryHouseCodes = v
	}

	// Controller
	if v := lookupEnv("X10BRIDGE_HEYU_BINARY"); v != "" {
		cfg.X10.HeyuBinary = v
	}
	if v := lookupEnv("X10BRIDGE_MODE"); v != "" {
		cfg.X10.Mode = strings.ToLower(v)
	} else if os.Getenv("USE_CM17") == "true" {
		cfg.X10.Mode = ModeCM17
	}

	// Optional integrations
	if v := lookupEnv("X10BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := lookupEnv("X10BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := lookupEnv("X10BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// lookupEnv returns the first non-empty value among the named variables.
func lookupEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set MQTT_HOST)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// X10 validation
	if c.X10.HeyuBinary == "" {
		errs = append(errs, "x10.heyu_binary is required")
	}
	for name, prefix := range map[string]string{
		"x10.command_topic":   c.X10.CommandTopic,
		"x10.state_topic":     c.X10.StateTopic,
		"x10.discovery_topic": c.X10.DiscoveryTopic,
	} {
		if prefix == "" || strings.ContainsAny(prefix, "+#") {
			errs = append(errs, name+" must be non-empty and contain no wildcards")
		}
	}
	if c.X10.GatewayID == "" || strings.ContainsAny(c.X10.GatewayID, "/+#") {
		errs = append(errs, "x10.gateway_id must be non-empty and contain no '/', '+' or '#'")
	}
	if c.X10.Mode != ModeCM11 && c.X10.Mode != ModeCM17 {
		errs = append(errs, fmt.Sprintf("x10.mode must be %q or %q", ModeCM11, ModeCM17))
	}
	if c.X10.Workers < 1 {
		errs = append(errs, "x10.workers must be at least 1")
	}
	if c.X10.QueueSize < 1 {
		errs = append(errs, "x10.queue_size must be at least 1")
	}

	// Optional integrations
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HouseLetters returns the configured discovery letters upper-cased, in
// configuration order, with duplicates and anything outside A-P removed.
func (c *X10Config) HouseLetters() []string {
	var letters []string
	seen := make(map[rune]bool)
	for _, r := range strings.ToUpper(c.DiscoveryHouseCodes) {
		if !strings.ContainsRune(validLetters, r) || seen[r] {
			continue
		}
		seen[r] = true
		letters = append(letters, string(r))
	}
	return letters
}

// BrokerAddress returns host:port for logging.
func (c *MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}
