package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ParkFlow Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Fieldbus  FieldbusConfig  `yaml:"fieldbus"`
	Flow      FlowConfig      `yaml:"flow"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Park      ParkConfig      `yaml:"park"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains console stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// FieldbusConfig contains Modbus TCP gateway settings and the device list
// whose points are mirrored into the point cache.
type FieldbusConfig struct {
	DefaultPort  int            `yaml:"default_port"`
	Timeout      time.Duration  `yaml:"timeout"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	Devices      []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one fieldbus I/O module.
type DeviceConfig struct {
	ID          string `yaml:"id"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	SlaveID     int    `yaml:"slave_id"`
	Function    string `yaml:"function"`
	InputStart  int    `yaml:"input_start"`
	OutputStart int    `yaml:"output_start"`
	NumInputs   int    `yaml:"num_inputs"`
	NumOutputs  int    `yaml:"num_outputs"`
}

// FlowConfig contains automation runner settings.
type FlowConfig struct {
	DefaultID       string        `yaml:"default_id"`
	TriggerInterval time.Duration `yaml:"trigger_interval"`
	AutoStart       bool          `yaml:"auto_start"`
}

// DispatchConfig contains external dispatch service settings.
type DispatchConfig struct {
	BaseURL      string        `yaml:"base_url"`
	OrdersPath   string        `yaml:"orders_path"`
	FleetPath    string        `yaml:"fleet_path"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	IdlePoll     time.Duration `yaml:"idle_poll"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	SystemID     string        `yaml:"system_id"`
	OrderType    string        `yaml:"order_type"`
	RequiredAGVs []string      `yaml:"required_agvs"`
	Priority     int           `yaml:"priority"`
	Cargo        string        `yaml:"cargo"`
}

// ParkConfig contains the location states a move selects on.
type ParkConfig struct {
	SourceState      int `yaml:"source_state"`
	DestinationState int `yaml:"destination_state"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file next to the config file, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: PARKFLOW_SECTION_KEY
// For example: PARKFLOW_DATABASE_PATH, PARKFLOW_DISPATCH_BASE_URL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv populates the process environment from a .env file.
// Variables already set in the environment win. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "park-001",
			Name: "ParkFlow",
		},
		Database: DatabaseConfig{
			Path:        "./data/parkflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "parkflow-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Fieldbus: FieldbusConfig{
			DefaultPort:  502,
			Timeout:      5 * time.Second,
			PollInterval: time.Second,
		},
		Flow: FlowConfig{
			DefaultID:       "default",
			TriggerInterval: 2 * time.Second,
		},
		Dispatch: DispatchConfig{
			OrdersPath:   "/orders",
			FleetPath:    "/api/agvs/check-orderid",
			HTTPTimeout:  10 * time.Second,
			MaxAttempts:  100,
			RetryDelay:   2 * time.Second,
			IdlePoll:     time.Second,
			SystemID:     "RCS",
			OrderType:    "LoadingAndUnloading",
			RequiredAGVs: []string{"0001"},
			Priority:     1,
			Cargo:        "goods",
		},
		Park: ParkConfig{
			SourceState:      3,
			DestinationState: 1,
		},
	}
}

// applyDeviceDefaults fills per-device fields left empty in YAML.
func (c *Config) applyDeviceDefaults() {
	for i := range c.Fieldbus.Devices {
		d := &c.Fieldbus.Devices[i]
		if d.ID == "" {
			d.ID = d.Address
		}
		if d.Port == 0 {
			d.Port = c.Fieldbus.DefaultPort
		}
		if d.SlaveID == 0 {
			d.SlaveID = 1
		}
		if d.Function == "" {
			d.Function = "readCoils"
		}
		if d.NumInputs == 0 && d.NumOutputs == 0 {
			d.NumInputs, d.NumOutputs = 8, 8
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PARKFLOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PARKFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PARKFLOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PARKFLOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PARKFLOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PARKFLOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PARKFLOW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("PARKFLOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Dispatch
	if v := os.Getenv("PARKFLOW_DISPATCH_BASE_URL"); v != "" {
		cfg.Dispatch.BaseURL = v
	}
	if v := os.Getenv("PARKFLOW_DISPATCH_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.IdleTimeout = d
		}
	}
}

// validFunctions are the fieldbus read functions a device may use for its inputs.
var validFunctions = map[string]bool{
	"readCoils":            true,
	"readDiscreteInputs":   true,
	"readHoldingRegisters": true,
	"readInputRegisters":   true,
}

// maxPoints is the number of input (and output) columns in a point cache row.
const maxPoints = 8

// maxLocationState is the highest valid location state.
const maxLocationState = 3

// Validate checks the configuration for errors.
// Every problem found is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Fieldbus.PollInterval <= 0 {
		errs = append(errs, "fieldbus.poll_interval must be positive")
	}
	seen := make(map[string]bool, len(c.Fieldbus.Devices))
	for i, d := range c.Fieldbus.Devices {
		prefix := fmt.Sprintf("fieldbus.devices[%d]", i)
		if d.Address == "" {
			errs = append(errs, prefix+".address is required")
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, d.ID))
		}
		seen[d.ID] = true
		if !validFunctions[d.Function] {
			errs = append(errs, fmt.Sprintf("%s.function %q is not supported", prefix, d.Function))
		}
		if d.NumInputs < 0 || d.NumInputs > maxPoints || d.NumOutputs < 0 || d.NumOutputs > maxPoints {
			errs = append(errs, prefix+" point counts must be between 0 and 8")
		}
	}

	if c.Flow.DefaultID == "" {
		errs = append(errs, "flow.default_id is required")
	}
	if c.Flow.TriggerInterval <= 0 {
		errs = append(errs, "flow.trigger_interval must be positive")
	}

	if c.Dispatch.BaseURL == "" {
		errs = append(errs, "dispatch.base_url is required (set PARKFLOW_DISPATCH_BASE_URL)")
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, "dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.RetryDelay < 0 || c.Dispatch.IdleTimeout < 0 {
		errs = append(errs, "dispatch delays must not be negative")
	}
	if c.Dispatch.IdlePoll <= 0 {
		errs = append(errs, "dispatch.idle_poll must be positive")
	}

	if c.Park.SourceState < 0 || c.Park.SourceState > maxLocationState ||
		c.Park.DestinationState < 0 || c.Park.DestinationState > maxLocationState {
		errs = append(errs, "park states must be between 0 and 3")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
