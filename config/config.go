package config

import (
	"fmt"
	"time"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Session   SessionConfig   `yaml:"session" env:"SESSION"`
	Dispatch  DispatchConfig  `yaml:"dispatch" env:"DISPATCH"`
	Tools     ToolsConfig     `yaml:"tools" env:"TOOLS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimit caps requests per second per client; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Secret   string        `yaml:"secret" env:"SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	Issuer   string        `yaml:"issuer" env:"ISSUER"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	DefaultDeny   bool          `yaml:"default_deny" env:"DEFAULT_DENY"`
}

// DispatchConfig holds dispatcher settings.
type DispatchConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	IncludeMetadata bool          `yaml:"include_metadata" env:"INCLUDE_METADATA"`
	EventBuffer     int           `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// ToolsConfig holds builtin tool settings.
type ToolsConfig struct {
	WeatherAPIKey  string        `yaml:"weather_api_key" env:"WEATHER_API_KEY"`
	WeatherTimeout time.Duration `yaml:"weather_timeout" env:"WEATHER_TIMEOUT"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
}

// DatabaseConfig holds call-log database settings.
type DatabaseConfig struct {
	// Driver is sqlite; Path is the database file, ":memory:" for tests.
	Driver       string `yaml:"driver" env:"DRIVER"`
	Path         string `yaml:"path" env:"PATH"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	LogQueries   bool   `yaml:"log_queries" env:"LOG_QUERIES"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth is enabled")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	return nil
}
