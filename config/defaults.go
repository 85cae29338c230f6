package config

import "time"

// DefaultConfig returns the complete default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      DefaultAuthConfig(),
		Cache:     DefaultCacheConfig(),
		Session:   DefaultSessionConfig(),
		Dispatch:  DefaultDispatchConfig(),
		Tools:     DefaultToolsConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimit:       0,
		RateBurst:       20,
	}
}

// DefaultAuthConfig returns auth defaults. Auth is off until a secret is
// configured.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:  false,
		TokenTTL: 24 * time.Hour,
		Issuer:   "toolflow",
	}
}

// DefaultCacheConfig returns result cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 1000,
		DefaultTTL: 5 * time.Minute,
	}
}

// DefaultSessionConfig returns session store defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:   time.Hour,
		SweepInterval: 5 * time.Minute,
		DefaultDeny:   false,
	}
}

// DefaultDispatchConfig returns dispatcher defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		MaxConcurrency: 8,
		EventBuffer:    16,
	}
}

// DefaultToolsConfig returns builtin tool defaults.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		WeatherTimeout: 10 * time.Second,
		HTTPTimeout:    10 * time.Second,
	}
}

// DefaultDatabaseConfig returns call-log database defaults.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:       "sqlite",
		Path:         "toolflow.db",
		MaxOpenConns: 10,
	}
}

// DefaultLogConfig returns logger defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns telemetry defaults.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "toolflow",
		SampleRate:  1.0,
	}
}
