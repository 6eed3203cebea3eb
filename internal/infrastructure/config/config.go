package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Bridges.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Presence PresenceConfig `yaml:"presence"`
	Xiaomi   XiaomiConfig   `yaml:"xiaomi"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains the read-only HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// PresenceConfig contains the OpenWrt/ubus presence bridge settings.
type PresenceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Router is the ubus endpoint of the OpenWrt router.
	Router RouterConfig `yaml:"router"`

	// LeaseFile optionally pins the dnsmasq lease file path. When empty,
	// lease file paths are discovered from the router's dnsmasq UCI config.
	LeaseFile string `yaml:"lease_file"`

	// LocalLeaseFile reads and watches LeaseFile on the local filesystem
	// instead of fetching it through ubus. Only useful when the bridge
	// runs on the router itself.
	LocalLeaseFile bool `yaml:"local_lease_file"`

	// ScanInterval is how often to scan for connected clients (seconds).
	ScanInterval int `yaml:"scan_interval"`

	// AwayTimeout is how long a client may be missing from scans before
	// it is reported as away (seconds).
	AwayTimeout int `yaml:"away_timeout"`

	// HealthInterval is how often to publish bridge health (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// RouterConfig contains ubus endpoint credentials.
type RouterConfig struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Timeout  int    `yaml:"timeout"`
}

// XiaomiConfig contains the Xiaomi miio bridge settings.
type XiaomiConfig struct {
	Enabled bool `yaml:"enabled"`

	// PollInterval is the default device poll interval (seconds).
	PollInterval int `yaml:"poll_interval"`

	// PollTimeout is the per-poll deadline (seconds).
	PollTimeout int `yaml:"poll_timeout"`

	// CommandTimeout is the deadline for executing a device command
	// (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// HealthInterval is how often to publish bridge health (seconds).
	HealthInterval int `yaml:"health_interval"`

	Devices []XiaomiDeviceConfig `yaml:"devices"`
}

// XiaomiDeviceConfig describes a single miio device.
type XiaomiDeviceConfig struct {
	// ID is the Gray Logic device identifier used in MQTT topics.
	ID string `yaml:"id"`

	Name string `yaml:"name"`
	Host string `yaml:"host"`

	// Token is the 16-byte device token, hex encoded (32 characters).
	Token string `yaml:"token"`

	// Kind selects the entity adapter: "switch", "vacuum" or "sensor".
	Kind string `yaml:"kind"`

	// Model is the vendor model string (e.g. "roborock.vacuum.s5").
	// Used to select fan speed presets for vacuums.
	Model string `yaml:"model"`

	// PollInterval overrides the bridge-wide poll interval (seconds).
	PollInterval int `yaml:"poll_interval,omitempty"`

	// Properties lists the polled readings for kind "sensor".
	Properties []XiaomiPropertyConfig `yaml:"properties,omitempty"`
}

// XiaomiPropertyConfig describes one polled sensor property.
type XiaomiPropertyConfig struct {
	// Name is the key in the published state payload.
	Name string `yaml:"name"`

	// Property is the get_prop key on the device. Defaults to Name.
	Property string `yaml:"property,omitempty"`

	// Invert flips boolean readings that report the negative condition.
	Invert bool `yaml:"invert,omitempty"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYBRIDGE_SECTION_KEY
// For example: GRAYBRIDGE_ROUTER_PASSWORD, GRAYBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/graybridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-bridges",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8093,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Presence: PresenceConfig{
			Router: RouterConfig{
				Timeout: 10,
			},
			ScanInterval:   30,
			AwayTimeout:    180,
			HealthInterval: 30,
		},
		Xiaomi: XiaomiConfig{
			PollInterval:   15,
			PollTimeout:    10,
			CommandTimeout: 10,
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies GRAYBRIDGE_* environment variables.
// Only secrets and deployment-specific endpoints are overridable; structured
// sections (device lists) come from the file.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Router credentials
	if v := os.Getenv("GRAYBRIDGE_ROUTER_HOST"); v != "" {
		cfg.Presence.Router.Host = v
	}
	if v := os.Getenv("GRAYBRIDGE_ROUTER_USERNAME"); v != "" {
		cfg.Presence.Router.Username = v
	}
	if v := os.Getenv("GRAYBRIDGE_ROUTER_PASSWORD"); v != "" {
		cfg.Presence.Router.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Presence validation
	if c.Presence.Enabled {
		if c.Presence.Router.Host == "" {
			errs = append(errs, "presence.router.host is required when presence is enabled")
		}
		if c.Presence.Router.Username == "" || c.Presence.Router.Password == "" {
			errs = append(errs, "presence.router credentials are required when presence is enabled (set GRAYBRIDGE_ROUTER_USERNAME/PASSWORD)")
		}
		if c.Presence.ScanInterval < 1 {
			errs = append(errs, "presence.scan_interval must be at least 1 second")
		}
		if c.Presence.AwayTimeout < c.Presence.ScanInterval {
			errs = append(errs, "presence.away_timeout must be at least presence.scan_interval")
		}
		if c.Presence.LocalLeaseFile && c.Presence.LeaseFile == "" {
			errs = append(errs, "presence.lease_file is required when local_lease_file is enabled")
		}
	}

	// Xiaomi validation
	if c.Xiaomi.Enabled {
		if c.Xiaomi.PollInterval < 1 {
			errs = append(errs, "xiaomi.poll_interval must be at least 1 second")
		}
		if c.Xiaomi.CommandTimeout < 1 {
			errs = append(errs, "xiaomi.command_timeout must be at least 1 second")
		}
		seen := make(map[string]bool, len(c.Xiaomi.Devices))
		for i, dev := range c.Xiaomi.Devices {
			if dev.ID == "" {
				errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].id is required", i))
			} else if seen[dev.ID] {
				errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].id %q is duplicated", i, dev.ID))
			} else {
				seen[dev.ID] = true
			}
			if dev.Host == "" {
				errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].host is required", i))
			}
			if err := validateToken(dev.Token); err != nil {
				errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].token: %v", i, err))
			}
			switch dev.Kind {
			case "switch", "vacuum":
			case "sensor":
				if len(dev.Properties) == 0 {
					errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].properties is required for kind \"sensor\"", i))
				}
				for j, prop := range dev.Properties {
					if prop.Name == "" {
						errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].properties[%d].name is required", i, j))
					}
				}
			default:
				errs = append(errs, fmt.Sprintf("xiaomi.devices[%d].kind must be \"switch\", \"vacuum\" or \"sensor\"", i))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// tokenHexLength is the expected length of a hex-encoded 16-byte miio token.
const tokenHexLength = 32

// validateToken checks that a miio device token is 32 hex characters.
func validateToken(token string) error {
	if len(token) != tokenHexLength {
		return fmt.Errorf("must be %d hex characters, got %d", tokenHexLength, len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		return fmt.Errorf("invalid hex: %w", err)
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

// GetScanInterval returns the presence scan interval as a Duration.
func (c *PresenceConfig) GetScanInterval() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

// GetAwayTimeout returns the presence away timeout as a Duration.
func (c *PresenceConfig) GetAwayTimeout() time.Duration {
	return time.Duration(c.AwayTimeout) * time.Second
}

// GetHealthInterval returns the presence health publish interval as a Duration.
func (c *PresenceConfig) GetHealthInterval() time.Duration {
	return time.Duration(c.HealthInterval) * time.Second
}

// GetTimeout returns the ubus HTTP timeout as a Duration.
func (c *RouterConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetPollInterval returns the effective poll interval for a device,
// falling back to the bridge-wide default.
func (c *XiaomiConfig) GetPollInterval(dev XiaomiDeviceConfig) time.Duration {
	if dev.PollInterval > 0 {
		return time.Duration(dev.PollInterval) * time.Second
	}
	return time.Duration(c.PollInterval) * time.Second
}

// GetPollTimeout returns the per-poll deadline as a Duration.
func (c *XiaomiConfig) GetPollTimeout() time.Duration {
	return time.Duration(c.PollTimeout) * time.Second
}

// GetHealthInterval returns the xiaomi health publish interval as a Duration.
func (c *XiaomiConfig) GetHealthInterval() time.Duration {
	return time.Duration(c.HealthInterval) * time.Second
}
