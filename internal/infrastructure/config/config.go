package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override variable.
const EnvPrefix = "DOORGATE_"

// Config is the root configuration structure for doorgate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	MQTT     MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	Security SecurityConfig `yaml:"security" envPrefix:"SECURITY_"`
	Device   DeviceConfig   `yaml:"device" envPrefix:"DEVICE_"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled" env:"ENABLED"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos" env:"QOS"`
	TopicPrefix string           `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host       string           `yaml:"host" env:"HOST"`
	Port       int              `yaml:"port" env:"PORT"`
	TLS        TLSConfig        `yaml:"tls" envPrefix:"TLS_"`
	Timeouts   APITimeoutConfig `yaml:"timeouts"`
	CORS       CORSConfig       `yaml:"cors"`
	TrustProxy bool             `yaml:"trust_proxy" env:"TRUST_PROXY"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
	StatsInterval int    `yaml:"stats_interval" env:"STATS_INTERVAL"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// SecurityConfig contains authentication and abuse-protection settings.
type SecurityConfig struct {
	Credentials CredentialsConfig `yaml:"credentials" envPrefix:"CREDENTIALS_"`
	Lockout     LockoutConfig     `yaml:"lockout" envPrefix:"LOCKOUT_"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap" envPrefix:"BOOTSTRAP_"`
}

// CredentialsConfig controls password hashing and shape checks.
type CredentialsConfig struct {
	SaltLengthBytes   int `yaml:"salt_length_bytes" env:"SALT_LENGTH_BYTES"`
	MinPasswordLength int `yaml:"min_password_length" env:"MIN_PASSWORD_LENGTH"`
}

// LockoutConfig controls the per-IP brute-force lockout.
type LockoutConfig struct {
	MaxAttempts     int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	DurationSeconds int `yaml:"duration_seconds" env:"DURATION_SECONDS"`
	// MaxTrackedIPs bounds the tracker map. 0 means unbounded.
	MaxTrackedIPs int `yaml:"max_tracked_ips" env:"MAX_TRACKED_IPS"`
}

// RateLimitConfig contains request rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"ENABLED"`
	RequestsPerMinute int  `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	Burst             int  `yaml:"burst" env:"BURST"`
}

// BootstrapConfig controls first-boot admin creation.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username" env:"ADMIN_USERNAME"`
}

// DeviceConfig locates the door controller on the local network.
type DeviceConfig struct {
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	TimeoutMS int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DOORGATE_SECTION_KEY
// For example: DOORGATE_DATABASE_PATH, DOORGATE_DEVICE_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/doorgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "doorgate",
			},
			QoS:         1,
			TopicPrefix: "doorgate",
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
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Credentials: CredentialsConfig{
				SaltLengthBytes:   16,
				MinPasswordLength: 6,
			},
			Lockout: LockoutConfig{
				MaxAttempts:     5,
				DurationSeconds: 3600,
				MaxTrackedIPs:   10000,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
			Bootstrap: BootstrapConfig{
				AdminUsername: "admin",
			},
		},
		Device: DeviceConfig{
			Host:      "192.168.1.50",
			Port:      80,
			TimeoutMS: 5000,
		},
	}
}

// applyEnvOverrides maps DOORGATE_* variables onto cfg. Unset variables keep
// the value already loaded from defaults or YAML.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when tls is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Security.Credentials.SaltLengthBytes < 8 || c.Security.Credentials.SaltLengthBytes > 64 {
		errs = append(errs, "security.credentials.salt_length_bytes must be between 8 and 64")
	}
	if c.Security.Credentials.MinPasswordLength < 1 {
		errs = append(errs, "security.credentials.min_password_length must be at least 1")
	}
	if c.Security.Lockout.MaxAttempts < 1 {
		errs = append(errs, "security.lockout.max_attempts must be at least 1")
	}
	if c.Security.Lockout.DurationSeconds < 1 {
		errs = append(errs, "security.lockout.duration_seconds must be at least 1")
	}
	if c.Security.Lockout.MaxTrackedIPs < 0 {
		errs = append(errs, "security.lockout.max_tracked_ips must not be negative")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be at least 1 when enabled")
	}

	if c.Device.Host == "" {
		errs = append(errs, "device.host is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.TimeoutMS < 1 {
		errs = append(errs, "device.timeout_ms must be positive")
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

// LockoutDuration returns the lockout window as a Duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.Security.Lockout.DurationSeconds) * time.Second
}

// DeviceTimeout returns the door controller request timeout as a Duration.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Device.TimeoutMS) * time.Millisecond
}

// StatsInterval returns how often lockout statistics are written to InfluxDB.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.InfluxDB.StatsInterval) * time.Second
}
