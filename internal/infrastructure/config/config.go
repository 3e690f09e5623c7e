package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for fpcore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Readers    ReadersConfig    `yaml:"readers"`
	Capture    CaptureConfig    `yaml:"capture"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Matching   MatchingConfig   `yaml:"matching"`
	Security   SecurityConfig   `yaml:"security"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
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

// APITimeoutConfig contains HTTP timeout settings in seconds. Write must
// exceed the capture timeout since enrollment steps block on the reader.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
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

// ReadersConfig controls reader discovery.
type ReadersConfig struct {
	// Driver selects the reader backend. Only "sim" ships with fpcore.
	Driver string `yaml:"driver"`

	// RescanInterval is how often the registry re-enumerates readers.
	RescanInterval time.Duration `yaml:"rescan_interval"`

	// AllowedVendors are matched case-insensitively as substrings.
	AllowedVendors []string `yaml:"allowed_vendors"`

	// AllowedTechnologies lists accepted sensing technologies.
	AllowedTechnologies []string `yaml:"allowed_technologies"`

	// Sim configures the simulated driver.
	Sim SimConfig `yaml:"sim"`
}

// SimConfig describes the simulated readers.
type SimConfig struct {
	Readers []SimReaderConfig `yaml:"readers"`
	// TouchInterval presents a synthetic finger to every reader this often.
	// Zero disables automatic touches.
	TouchInterval time.Duration `yaml:"touch_interval"`
	// Fingers is the number of distinct synthetic fingers cycled through.
	Fingers int `yaml:"fingers"`
}

// SimReaderConfig is one simulated reader.
type SimReaderConfig struct {
	Name       string `yaml:"name"`
	Vendor     string `yaml:"vendor"`
	Product    string `yaml:"product"`
	Serial     string `yaml:"serial"`
	Technology string `yaml:"technology"`
}

// CaptureConfig holds the single-shot capture settings.
type CaptureConfig struct {
	Format             string        `yaml:"format"`
	Processing         string        `yaml:"processing"`
	Resolution         int           `yaml:"resolution"`
	Timeout            time.Duration `yaml:"timeout"`
	BusyDelay          time.Duration `yaml:"busy_delay"`
	BusyEscalatedDelay time.Duration `yaml:"busy_escalated_delay"`
	EscalateEvery      int           `yaml:"escalate_every"`
	CancelGrace        time.Duration `yaml:"cancel_grace"`
}

// SchedulerConfig holds the continuous capture loop settings.
type SchedulerConfig struct {
	PoolSize             int           `yaml:"pool_size"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	ErrorDelay           time.Duration `yaml:"error_delay"`
	IdleDelay            time.Duration `yaml:"idle_delay"`
	StopGrace            time.Duration `yaml:"stop_grace"`
	// StartOnBoot starts plain capture on every available reader at startup.
	StartOnBoot bool `yaml:"start_on_boot"`
}

// EnrollmentConfig holds the enrollment settings.
type EnrollmentConfig struct {
	// MinScore rejects good captures scored lower by the reader.
	MinScore int `yaml:"min_score"`
}

// MatchingConfig holds the identification settings.
type MatchingConfig struct {
	Engine     string `yaml:"engine"`
	Threshold  int    `yaml:"threshold"`
	MaxResults int    `yaml:"max_results"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT          JWTConfig `yaml:"jwt"`
	TemplateKey  string    `yaml:"template_key"`
	TemplateSalt string    `yaml:"template_salt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FPCORE_SECTION_KEY
// For example: FPCORE_DATABASE_PATH, FPCORE_JWT_SECRET
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "fpcore-001",
			Name: "Fingerprint Core",
		},
		Database: DatabaseConfig{
			Path:        "./data/fpcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fpcore",
			},
			QoS: 0,
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
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "fpcore",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Readers: ReadersConfig{
			Driver:              "sim",
			RescanInterval:      30 * time.Second,
			AllowedVendors:      []string{"digitalpersona", "hid global"},
			AllowedTechnologies: []string{"optical", "capacitive"},
			Sim: SimConfig{
				Fingers: 3,
			},
		},
		Capture: CaptureConfig{
			Format:             "ansi_381_2004",
			Processing:         "default",
			Resolution:         500,
			Timeout:            8 * time.Second,
			BusyDelay:          100 * time.Millisecond,
			BusyEscalatedDelay: 500 * time.Millisecond,
			EscalateEvery:      10,
			CancelGrace:        time.Second,
		},
		Scheduler: SchedulerConfig{
			PoolSize:             10,
			MaxConsecutiveErrors: 5,
			ErrorDelay:           500 * time.Millisecond,
			IdleDelay:            100 * time.Millisecond,
			StopGrace:            5 * time.Second,
		},
		Matching: MatchingConfig{
			Engine:     "reference",
			Threshold:  2147,
			MaxResults: 1,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			TemplateSalt: "fpcore-templates",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FPCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FPCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FPCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FPCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FPCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FPCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FPCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Secrets: always set these from the environment in production
	if v := os.Getenv("FPCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("FPCORE_TEMPLATE_KEY"); v != "" {
		cfg.Security.TemplateKey = v
	}
}

// Minimum secret lengths.
const (
	minJWTSecretLength   = 32
	minTemplateKeyLength = 16
)

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
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

	if c.Readers.Driver != "sim" {
		errs = append(errs, fmt.Sprintf("readers.driver %q is not supported (use \"sim\")", c.Readers.Driver))
	}
	if c.Scheduler.PoolSize < 1 {
		errs = append(errs, "scheduler.pool_size must be at least 1")
	}
	if c.Scheduler.MaxConsecutiveErrors < 1 {
		errs = append(errs, "scheduler.max_consecutive_errors must be at least 1")
	}
	if c.Matching.Engine != "reference" {
		errs = append(errs, fmt.Sprintf("matching.engine %q is not supported (use \"reference\")", c.Matching.Engine))
	}

	// Tokens signed with a weak secret can be forged, and whoever holds
	// the template key can read every stored fingerprint.
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set FPCORE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.TemplateKey == "" {
		errs = append(errs, "security.template_key is required (set FPCORE_TEMPLATE_KEY environment variable)")
	} else if len(c.Security.TemplateKey) < minTemplateKeyLength {
		errs = append(errs, "security.template_key must be at least 16 characters")
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
