package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for parley.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Presence      PresenceConfig      `yaml:"presence"`
	Calls         CallsConfig         `yaml:"calls"`
	Assets        AssetsConfig        `yaml:"assets"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// MaxPayloadBytes bounds a single inbound websocket frame.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`

	// SendQueue is the per-connection outbound buffer, in frames.
	SendQueue int `yaml:"send_queue"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

type DatabaseConfig struct {
	// Driver is one of "memory", "postgres" or "sqlite".
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// PresenceConfig selects the shared store behind the presence registry.
type PresenceConfig struct {
	// Backend is one of "memory", "redis" or "nats".
	Backend      string        `yaml:"backend"`
	KeyPrefix    string        `yaml:"key_prefix"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	Redis        RedisConfig   `yaml:"redis"`
	NATS         NATSConfig    `yaml:"nats"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL    string        `yaml:"url"`
	Bucket string        `yaml:"bucket"`
	TTL    time.Duration `yaml:"ttl"`
}

type CallsConfig struct {
	// OfferTimeout is how long an unanswered offer stays pending before it
	// becomes a missed call.
	OfferTimeout time.Duration `yaml:"offer_timeout"`
}

// AssetsConfig configures attachment staging and upload.
type AssetsConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`

	// SpoolDir holds raw attachment payloads until the upload finishes.
	SpoolDir string `yaml:"spool_dir"`

	// LocalPath and PublicBaseURL are used by the local backend.
	LocalPath     string `yaml:"local_path"`
	PublicBaseURL string `yaml:"public_base_url"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// SweepSchedule is a cron spec for removing abandoned spool files.
	SweepSchedule string        `yaml:"sweep_schedule"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`

	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3UsePathStyle    bool   `yaml:"s3_use_path_style"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads, merges, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.MaxPayloadBytes == 0 {
		cfg.Server.MaxPayloadBytes = 10 << 20
	}
	if cfg.Server.SendQueue == 0 {
		cfg.Server.SendQueue = 64
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Presence.Backend == "" {
		cfg.Presence.Backend = "memory"
	}
	if cfg.Presence.KeyPrefix == "" {
		cfg.Presence.KeyPrefix = "active:"
	}
	if cfg.Presence.StoreTimeout == 0 {
		cfg.Presence.StoreTimeout = 500 * time.Millisecond
	}
	if cfg.Presence.Redis.Addr == "" {
		cfg.Presence.Redis.Addr = "localhost:6379"
	}
	if cfg.Presence.NATS.URL == "" {
		cfg.Presence.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Presence.NATS.Bucket == "" {
		cfg.Presence.NATS.Bucket = "PARLEY_PRESENCE"
	}

	if cfg.Calls.OfferTimeout == 0 {
		cfg.Calls.OfferTimeout = 30 * time.Second
	}

	if cfg.Assets.Backend == "" {
		cfg.Assets.Backend = "local"
	}
	if cfg.Assets.SpoolDir == "" {
		cfg.Assets.SpoolDir = "public/uploads"
	}
	if cfg.Assets.LocalPath == "" {
		cfg.Assets.LocalPath = "data/files"
	}
	if cfg.Assets.Workers == 0 {
		cfg.Assets.Workers = 4
	}
	if cfg.Assets.QueueSize == 0 {
		cfg.Assets.QueueSize = 256
	}
	if cfg.Assets.SweepSchedule == "" {
		cfg.Assets.SweepSchedule = "@every 15m"
	}
	if cfg.Assets.SweepMaxAge == 0 {
		cfg.Assets.SweepMaxAge = time.Hour
	}
	if cfg.Assets.S3Region == "" {
		cfg.Assets.S3Region = "us-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "parley"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// ValidationError collects every configuration issue found by Validate.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	var issues []string

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 0 and 65535")
	}
	if c.Server.MaxPayloadBytes < 0 {
		issues = append(issues, "server.max_payload_bytes must be positive")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Database.URL) == "" {
			issues = append(issues, "database.url is required for driver "+c.Database.Driver)
		}
	default:
		issues = append(issues, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}

	switch c.Presence.Backend {
	case "memory", "redis", "nats":
	default:
		issues = append(issues, fmt.Sprintf("presence.backend %q is not supported", c.Presence.Backend))
	}
	if c.Presence.StoreTimeout < 0 {
		issues = append(issues, "presence.store_timeout must be positive")
	}

	if c.Calls.OfferTimeout < time.Second {
		issues = append(issues, "calls.offer_timeout must be at least 1s")
	}

	switch c.Assets.Backend {
	case "local":
	case "s3":
		if strings.TrimSpace(c.Assets.S3Bucket) == "" {
			issues = append(issues, "assets.s3_bucket is required for the s3 backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("assets.backend %q is not supported", c.Assets.Backend))
	}
	if c.Assets.Workers < 0 || c.Assets.QueueSize < 0 {
		issues = append(issues, "assets.workers and assets.queue_size must be positive")
	}

	if c.Observability.Tracing.Enabled && strings.TrimSpace(c.Observability.Tracing.Endpoint) == "" {
		issues = append(issues, "observability.tracing.endpoint is required when tracing is enabled")
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be within [0,1]")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
