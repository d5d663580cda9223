package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the heater/cooler bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Platform PlatformConfig `yaml:"platform"`
	Echonet  EchonetConfig  `yaml:"echonet"`
	HomeKit  HomeKitConfig  `yaml:"homekit"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PlatformConfig contains the appliance platform settings.
//
// These are checked by Check rather than Validate: a bad platform section
// leaves the process running with no appliances instead of refusing to start.
type PlatformConfig struct {
	Name string `yaml:"name"`

	// RefreshInterval is the state poll period in minutes.
	RefreshInterval int `yaml:"refresh_interval"`

	// RequestTimeout is the per-request timeout in seconds, kept as text
	// so a non-numeric value can be reported rather than rejected by the parser.
	RequestTimeout string `yaml:"request_timeout"`

	// Devices lists static appliance addresses probed alongside multicast discovery.
	Devices   []string        `yaml:"devices"`
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Swing is "auto" (detect from the property map), "on", or "off".
	Swing string `yaml:"swing"`

	// AutoTemperature is "midpoint" or "omit".
	AutoTemperature string `yaml:"auto_temperature"`

	ReadAttempts  int `yaml:"read_attempts"`
	WriteAttempts int `yaml:"write_attempts"`
	WriteDebounce int `yaml:"write_debounce"` // milliseconds
	RetryUnit     int `yaml:"retry_unit"`     // milliseconds
}

// DiscoveryConfig controls the multicast discovery window.
type DiscoveryConfig struct {
	Enabled  bool `yaml:"enabled"`
	Duration int  `yaml:"duration"` // seconds
}

// EchonetConfig contains the UDP endpoint settings.
type EchonetConfig struct {
	ListenAddress    string `yaml:"listen_address"`
	MulticastAddress string `yaml:"multicast_address"`
	Interface        string `yaml:"interface"`
}

// HomeKitConfig contains the HAP bridge settings.
type HomeKitConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Pin           string `yaml:"pin"`
	StoragePath   string `yaml:"storage_path"`
	BridgeName    string `yaml:"bridge_name"`
	ListenAddress string `yaml:"listen_address"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long state history rows are kept, in days.
	HistoryRetention int `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB time-series database settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Host     string         `yaml:"host"`
	Port     int            `yaml:"port"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig contains HTTP timeout settings in seconds.
type TimeoutsConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// Environment variables follow the pattern: HEATERCOOLER_SECTION_KEY
// For example: HEATERCOOLER_DATABASE_PATH, HEATERCOOLER_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validated
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values.
func defaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Name:            "ECHONET Lite",
			RefreshInterval: 1,
			RequestTimeout:  "60",
			Discovery: DiscoveryConfig{
				Enabled:  true,
				Duration: 60,
			},
			Swing:           "auto",
			AutoTemperature: "midpoint",
			ReadAttempts:    10,
			WriteAttempts:   5,
			WriteDebounce:   100,
			RetryUnit:       1000,
		},
		Echonet: EchonetConfig{
			ListenAddress:    "0.0.0.0",
			MulticastAddress: "224.0.23.0",
		},
		HomeKit: HomeKitConfig{
			Enabled:     true,
			Pin:         "00102003",
			StoragePath: "./data/homekit",
			BridgeName:  "ECHONET Bridge",
		},
		Database: DatabaseConfig{
			Path:             "./data/heatercooler.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				TLS:      false,
				ClientID: "echonet-heatercooler",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "heatercooler",
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Org:           "home",
			Bucket:        "hvac",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: TimeoutsConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
// Environment variables follow the pattern: HEATERCOOLER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Platform
	if v := os.Getenv("HEATERCOOLER_PLATFORM_DEVICES"); v != "" {
		cfg.Platform.Devices = splitList(v)
	}

	// ECHONET
	if v := os.Getenv("HEATERCOOLER_ECHONET_INTERFACE"); v != "" {
		cfg.Echonet.Interface = v
	}

	// HomeKit
	if v := os.Getenv("HEATERCOOLER_HOMEKIT_PIN"); v != "" {
		cfg.HomeKit.Pin = v
	}

	// Database
	if v := os.Getenv("HEATERCOOLER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HEATERCOOLER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEATERCOOLER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEATERCOOLER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HEATERCOOLER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HEATERCOOLER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("HEATERCOOLER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the infrastructure sections for required fields and valid values.
// The platform section is checked separately by PlatformConfig.Check.
//
// Returns:
//   - error: Describes all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.HomeKit.Enabled {
		if !validPin(c.HomeKit.Pin) {
			errs = append(errs, "homekit.pin must be 8 digits")
		}
		if c.HomeKit.StoragePath == "" {
			errs = append(errs, "homekit.storage_path is required when homekit is enabled")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPin(pin string) bool {
	if len(pin) != 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Check validates the platform section.
//
// Returns:
//   - error: Describes all platform problems, or nil if the platform can run
func (p PlatformConfig) Check() error {
	var errs []string

	if p.RefreshInterval < 1 {
		errs = append(errs, "platform.refresh_interval must be at least 1 minute")
	}
	if _, err := p.RequestTimeoutDuration(); err != nil {
		errs = append(errs, err.Error())
	}

	switch p.Swing {
	case "", "auto", "on", "off":
	default:
		errs = append(errs, fmt.Sprintf("platform.swing %q must be auto, on, or off", p.Swing))
	}

	switch p.AutoTemperature {
	case "", "midpoint", "omit":
	default:
		errs = append(errs, fmt.Sprintf("platform.auto_temperature %q must be midpoint or omit", p.AutoTemperature))
	}

	if len(errs) > 0 {
		return fmt.Errorf("platform configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RequestTimeoutDuration parses RequestTimeout as a whole number of seconds.
func (p PlatformConfig) RequestTimeoutDuration() (time.Duration, error) {
	secs, err := strconv.Atoi(strings.TrimSpace(p.RequestTimeout))
	if err != nil {
		return 0, fmt.Errorf("platform.request_timeout %q is not a number", p.RequestTimeout)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("platform.request_timeout must be positive, got %d", secs)
	}
	return time.Duration(secs) * time.Second, nil
}

// RefreshPeriod returns the poll period.
func (p PlatformConfig) RefreshPeriod() time.Duration {
	return time.Duration(p.RefreshInterval) * time.Minute
}

// DiscoveryWindow returns how long multicast discovery collects responses.
func (p PlatformConfig) DiscoveryWindow() time.Duration {
	return time.Duration(p.Discovery.Duration) * time.Second
}

// WriteDebounceDuration returns the write coalescing window.
func (p PlatformConfig) WriteDebounceDuration() time.Duration {
	return time.Duration(p.WriteDebounce) * time.Millisecond
}

// RetryUnitDuration returns the retry backoff step.
func (p PlatformConfig) RetryUnitDuration() time.Duration {
	return time.Duration(p.RetryUnit) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
