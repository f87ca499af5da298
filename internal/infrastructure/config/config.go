package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the vbus daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bus        BusConfig         `yaml:"bus"`
	Components []ComponentConfig `yaml:"components"`
	Database   DatabaseConfig    `yaml:"database"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	API        APIConfig         `yaml:"api"`
	WebSocket  WebSocketConfig   `yaml:"websocket"`
	InfluxDB   InfluxDBConfig    `yaml:"influxdb"`
	Logging    LoggingConfig     `yaml:"logging"`
	Security   SecurityConfig    `yaml:"security"`
}

// BusConfig describes the bus instance hosted by the daemon.
type BusConfig struct {
	// Name identifies the bus, e.g. "ldd".
	Name string `yaml:"name"`

	// RootName names the bus root device. Default: Name + "0".
	RootName string `yaml:"root_name"`

	// Version is served by the bus "version" attribute.
	Version string `yaml:"version"`

	// Matcher selects the binding rule: "prefix" or "exact".
	Matcher string `yaml:"matcher"`

	// Autoprobe enables matching at device registration.
	Autoprobe bool `yaml:"autoprobe"`

	// BufferSize is the notification payload capacity in bytes.
	BufferSize int `yaml:"buffer_size"`

	// QueueSize bounds each notification sink's backlog.
	QueueSize int `yaml:"queue_size"`
}

// ComponentConfig declares one component module: a driver plus the
// devices it brings along.
type ComponentConfig struct {
	Name    string       `yaml:"name"`
	Driver  DriverConfig `yaml:"driver"`
	Devices []string     `yaml:"devices"`
}

// DriverConfig names a component's driver.
type DriverConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DatabaseConfig contains SQLite database settings for the event journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
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

	// PayloadFormat encodes published events: "json" or "cbor".
	PayloadFormat string `yaml:"payload_format"`

	// Hotplug subscribes to hotplug requests for the bus.
	Hotplug bool `yaml:"hotplug"`
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

// APIConfig contains HTTP inspection API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

	// StatsInterval is the period, in seconds, of bus membership snapshots.
	StatsInterval int `yaml:"stats_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains settings for the bearer tokens that guard mutating
// API calls.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VBUS_SECTION_KEY
// For example: VBUS_BUS_NAME, VBUS_API_PORT
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
// applied. It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Name:       "ldd",
			Matcher:    "prefix",
			Autoprobe:  true,
			BufferSize: 2048,
			QueueSize:  256,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/vbus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vbusd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			PayloadFormat: "json",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "vbusd",
			},
		},
	}
}

// envOverride binds one VBUS_* variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(cfg *Config, v string) { *field(cfg) = v }
}

// Unparsable values leave the field unchanged.
func setBool(field func(*Config) *bool) func(*Config, string) {
	return func(cfg *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*field(cfg) = b
		}
	}
}

func setInt(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(cfg) = n
		}
	}
}

var envOverrides = []envOverride{
	{"VBUS_BUS_NAME", setString(func(c *Config) *string { return &c.Bus.Name })},
	{"VBUS_BUS_MATCHER", setString(func(c *Config) *string { return &c.Bus.Matcher })},
	{"VBUS_BUS_AUTOPROBE", setBool(func(c *Config) *bool { return &c.Bus.Autoprobe })},
	{"VBUS_DATABASE_ENABLED", setBool(func(c *Config) *bool { return &c.Database.Enabled })},
	{"VBUS_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"VBUS_MQTT_ENABLED", setBool(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"VBUS_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"VBUS_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"VBUS_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"VBUS_API_ENABLED", setBool(func(c *Config) *bool { return &c.API.Enabled })},
	{"VBUS_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"VBUS_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"VBUS_INFLUXDB_ENABLED", setBool(func(c *Config) *bool { return &c.InfluxDB.Enabled })},
	{"VBUS_INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"VBUS_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"VBUS_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"VBUS_JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides applies every non-empty VBUS_* variable in envOverrides.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Bus validation
	if c.Bus.Name == "" {
		errs = append(errs, "bus.name is required")
	}
	switch c.Bus.Matcher {
	case "", "prefix", "exact":
	default:
		errs = append(errs, fmt.Sprintf("bus.matcher %q must be prefix or exact", c.Bus.Matcher))
	}
	if c.Bus.BufferSize < 0 {
		errs = append(errs, "bus.buffer_size must not be negative")
	}

	// Component validation
	seen := make(map[string]bool, len(c.Components))
	for i, comp := range c.Components {
		if comp.Name == "" {
			errs = append(errs, fmt.Sprintf("components[%d].name is required", i))
		} else if seen[comp.Name] {
			errs = append(errs, fmt.Sprintf("components[%d].name %q is duplicated", i, comp.Name))
		}
		seen[comp.Name] = true
		if comp.Driver.Name == "" && len(comp.Devices) == 0 {
			errs = append(errs, fmt.Sprintf("components[%d] declares neither a driver nor devices", i))
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	switch strings.ToLower(c.MQTT.PayloadFormat) {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Sprintf("mqtt.payload_format %q must be json or cbor", c.MQTT.PayloadFormat))
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Mutating endpoints are guarded by bearer tokens signed with this secret.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set VBUS_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.StatsInterval < 1 {
		errs = append(errs, "influxdb.stats_interval must be at least 1 second")
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

// GetStatsInterval returns the bus stats reporting period as a Duration.
func (c *Config) GetStatsInterval() time.Duration {
	return time.Duration(c.InfluxDB.StatsInterval) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
