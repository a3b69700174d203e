package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RTR Telemetry.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// One file serves every process (broker, scheduler, store); each process
// reads only the sections it needs.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Transport TransportConfig `yaml:"transport"`
	Bus       BusConfig       `yaml:"bus"`
	Layout    LayoutConfig    `yaml:"layout"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies this installation.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
//
// ClientID is a prefix; each process appends its role ("-broker",
// "-scheduler", "-store") so the three processes never collide.
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

// TransportConfig names the channel endpoints.
type TransportConfig struct {
	// TopicPrefix is the root of every channel topic.
	// Default: "rtrtelemetry"
	TopicPrefix string `yaml:"topic_prefix"`

	// QueueSize bounds the inbound message queue of each consumer.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`
}

// BusConfig selects and configures the bus collaborator.
type BusConfig struct {
	// Source is "simulated" or "socketcan".
	Source string `yaml:"source"`

	// Interface is the CAN network interface (e.g. "can0").
	Interface string `yaml:"interface"`

	// Bitrate is the configured bus bitrate. Link setup is done by the
	// operating system; the value is reported in logs and health output.
	Bitrate int `yaml:"bitrate"`

	// Simulation tunes the simulated bus.
	Simulation SimulationConfig `yaml:"simulation"`
}

// SimulationConfig tunes the simulated bus.
type SimulationConfig struct {
	// ResponseDelayMS is the latency between a request and its response.
	ResponseDelayMS int `yaml:"response_delay_ms"`

	// DropRate is the fraction (0..1) of requests that never get a response.
	DropRate float64 `yaml:"drop_rate"`

	// Seed seeds the value generator. 0 means time-seeded.
	Seed int64 `yaml:"seed"`
}

// LayoutConfig points at the declarative device layout document.
type LayoutConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig contains backend store settings.
type StoreConfig struct {
	// BufferCapacity is the default ring buffer capacity per field.
	// Default: 6000 (20 Hz over a five minute window)
	BufferCapacity int `yaml:"buffer_capacity"`

	// Log configures the durable sample log.
	Log SampleLogConfig `yaml:"log"`
}

// SampleLogConfig configures the durable sample log.
type SampleLogConfig struct {
	// Format is "csv" or "sqlite".
	Format string `yaml:"format"`

	// Path is the CSV file path (csv format only). The sqlite format
	// writes to database.path.
	Path string `yaml:"path"`

	// Truncate starts a fresh CSV file with a header on startup instead
	// of appending.
	Truncate bool `yaml:"truncate"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	// Listen is the address of the standalone /metrics listener used by
	// the broker and scheduler processes. Empty disables it. The store
	// always serves /metrics on its API port.
	Listen string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Bus sources.
const (
	BusSourceSimulated = "simulated"
	BusSourceSocketCAN = "socketcan"
)

// Sample log formats.
const (
	LogFormatCSV    = "csv"
	LogFormatSQLite = "sqlite"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RTRTELEMETRY_SECTION_KEY
// For example: RTRTELEMETRY_MQTT_HOST, RTRTELEMETRY_BUS_SOURCE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "rtr-node-01",
			Name: "RTR Telemetry",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rtrtelemetry",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Transport: TransportConfig{
			TopicPrefix: "rtrtelemetry",
			QueueSize:   1024,
		},
		Bus: BusConfig{
			Source:    BusSourceSimulated,
			Interface: "can0",
			Bitrate:   500000,
			Simulation: SimulationConfig{
				ResponseDelayMS: 2,
			},
		},
		Layout: LayoutConfig{
			Path: "configs/devices.yaml",
		},
		Store: StoreConfig{
			BufferCapacity: 6000,
			Log: SampleLogConfig{
				Format: LogFormatCSV,
				Path:   "./data/can_data_log.csv",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/rtrtelemetry.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RTRTELEMETRY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("RTRTELEMETRY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RTRTELEMETRY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("RTRTELEMETRY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RTRTELEMETRY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Bus
	if v := os.Getenv("RTRTELEMETRY_BUS_SOURCE"); v != "" {
		cfg.Bus.Source = v
	}
	if v := os.Getenv("RTRTELEMETRY_BUS_INTERFACE"); v != "" {
		cfg.Bus.Interface = v
	}

	// Layout
	if v := os.Getenv("RTRTELEMETRY_LAYOUT_PATH"); v != "" {
		cfg.Layout.Path = v
	}

	// Store
	if v := os.Getenv("RTRTELEMETRY_STORE_LOG_PATH"); v != "" {
		cfg.Store.Log.Path = v
	}
	if v := os.Getenv("RTRTELEMETRY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("RTRTELEMETRY_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("RTRTELEMETRY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Transport.TopicPrefix == "" {
		errs = append(errs, "transport.topic_prefix is required")
	} else if strings.ContainsAny(c.Transport.TopicPrefix, "+#") {
		errs = append(errs, "transport.topic_prefix must not contain MQTT wildcards")
	}

	switch c.Bus.Source {
	case BusSourceSimulated:
	case BusSourceSocketCAN:
		if c.Bus.Interface == "" {
			errs = append(errs, "bus.interface is required for socketcan")
		}
	default:
		errs = append(errs, fmt.Sprintf("bus.source %q must be %q or %q", c.Bus.Source, BusSourceSimulated, BusSourceSocketCAN))
	}
	if c.Bus.Simulation.DropRate < 0 || c.Bus.Simulation.DropRate > 1 {
		errs = append(errs, "bus.simulation.drop_rate must be between 0 and 1")
	}

	if c.Layout.Path == "" {
		errs = append(errs, "layout.path is required")
	}

	if c.Store.BufferCapacity < 1 {
		errs = append(errs, "store.buffer_capacity must be at least 1")
	}
	switch c.Store.Log.Format {
	case LogFormatCSV:
		if c.Store.Log.Path == "" {
			errs = append(errs, "store.log.path is required for csv")
		}
	case LogFormatSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.log.format %q must be %q or %q", c.Store.Log.Format, LogFormatCSV, LogFormatSQLite))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientID returns the MQTT client ID for a process role.
func (c *Config) ClientID(role string) string {
	return c.MQTT.Broker.ClientID + "-" + role
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

// GetResponseDelay returns the simulated bus response latency.
func (c *Config) GetResponseDelay() time.Duration {
	return time.Duration(c.Bus.Simulation.ResponseDelayMS) * time.Millisecond
}
