// ABOUTME: Configuration loading and parsing for loom-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete loom-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Memory    MemoryConfig    `yaml:"memory"`
	Streaming StreamingConfig `yaml:"streaming"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds SQLite conversation store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the optional Redis conversation store configuration.
// When enabled, Redis replaces SQLite as the conversation store backend.
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// LLMConfig holds model backend configuration
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "scripted"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// SessionsConfig holds session lifecycle limits
type SessionsConfig struct {
	MaxAge        time.Duration `yaml:"-"`
	MaxInactivity time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MaxAgeRaw        string `yaml:"max_age"`
	MaxInactivityRaw string `yaml:"max_inactivity"`
}

// MemoryConfig holds memory optimizer limits and schedules
type MemoryConfig struct {
	MaxMessagesPerConversation int     `yaml:"max_messages_per_conversation"`
	MaxMemoryBytes             int64   `yaml:"max_memory_bytes"`
	PressureThreshold          float64 `yaml:"pressure_threshold"`

	SweepInterval    time.Duration `yaml:"-"`
	PressureInterval time.Duration `yaml:"-"`

	SweepIntervalRaw    string `yaml:"sweep_interval"`
	PressureIntervalRaw string `yaml:"pressure_interval"`
}

// StreamingConfig holds backpressure pipeline tuning
type StreamingConfig struct {
	DefaultBufferSize int           `yaml:"default_buffer_size"`
	MaxBufferSize     int           `yaml:"max_buffer_size"`
	PendingCapacity   int           `yaml:"pending_capacity"`
	FlushTimeout      time.Duration `yaml:"-"`

	FlushTimeoutRaw string `yaml:"flush_timeout"`
}

// TelemetryConfig holds telemetry sink configuration
type TelemetryConfig struct {
	// Sink selects the backend: "log" (default) or "nats"
	Sink    string `yaml:"sink"`
	NATSURL string `yaml:"nats_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Session and memory defaults: sessions expire after 2h absolute age or 30m
// inactivity, conversations retain at most 100 messages, and the memory
// budget is 50 MiB with escalation at 80% utilization.
const (
	DefaultMaxAge            = 2 * time.Hour
	DefaultMaxInactivity     = 30 * time.Minute
	DefaultMaxMessages       = 100
	DefaultMaxMemoryBytes    = 50 * 1024 * 1024
	DefaultPressureThreshold = 0.8
	DefaultSweepInterval     = 15 * time.Minute
	DefaultPressureInterval  = 5 * time.Minute
	DefaultFlushTimeout      = 100 * time.Millisecond
	DefaultBufferSize        = 10
	DefaultMaxBufferSize     = 512
	DefaultPendingCapacity   = 1000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in zero-valued limits with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Sessions.MaxAge == 0 {
		c.Sessions.MaxAge = DefaultMaxAge
	}
	if c.Sessions.MaxInactivity == 0 {
		c.Sessions.MaxInactivity = DefaultMaxInactivity
	}
	if c.Memory.MaxMessagesPerConversation == 0 {
		c.Memory.MaxMessagesPerConversation = DefaultMaxMessages
	}
	if c.Memory.MaxMemoryBytes == 0 {
		c.Memory.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if c.Memory.PressureThreshold == 0 {
		c.Memory.PressureThreshold = DefaultPressureThreshold
	}
	if c.Memory.SweepInterval == 0 {
		c.Memory.SweepInterval = DefaultSweepInterval
	}
	if c.Memory.PressureInterval == 0 {
		c.Memory.PressureInterval = DefaultPressureInterval
	}
	if c.Streaming.DefaultBufferSize == 0 {
		c.Streaming.DefaultBufferSize = DefaultBufferSize
	}
	if c.Streaming.MaxBufferSize == 0 {
		c.Streaming.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.Streaming.PendingCapacity == 0 {
		c.Streaming.PendingCapacity = DefaultPendingCapacity
	}
	if c.Streaming.FlushTimeout == 0 {
		c.Streaming.FlushTimeout = DefaultFlushTimeout
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "scripted"
	}
	if c.Telemetry.Sink == "" {
		c.Telemetry.Sink = "log"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Redis.Enabled {
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when redis is enabled")
		}
	} else if c.Database.Path == "" {
		return fmt.Errorf("database.path is required (or enable redis)")
	}

	if c.Memory.PressureThreshold < 0 || c.Memory.PressureThreshold > 1 {
		return fmt.Errorf("memory.pressure_threshold must be between 0 and 1, got %v", c.Memory.PressureThreshold)
	}

	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for the openai provider")
	}

	if c.Telemetry.Sink == "nats" && c.Telemetry.NATSURL == "" {
		return fmt.Errorf("telemetry.nats_url is required for the nats sink")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Sessions.MaxAgeRaw, "sessions.max_age", &cfg.Sessions.MaxAge},
		{cfg.Sessions.MaxInactivityRaw, "sessions.max_inactivity", &cfg.Sessions.MaxInactivity},
		{cfg.Memory.SweepIntervalRaw, "memory.sweep_interval", &cfg.Memory.SweepInterval},
		{cfg.Memory.PressureIntervalRaw, "memory.pressure_interval", &cfg.Memory.PressureInterval},
		{cfg.Streaming.FlushTimeoutRaw, "streaming.flush_timeout", &cfg.Streaming.FlushTimeout},
		{cfg.Redis.TTLRaw, "redis.ttl", &cfg.Redis.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
