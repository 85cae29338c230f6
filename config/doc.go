// Package config defines the engine configuration and its loader.
//
// Configuration is resolved in three layers: compiled-in defaults, an
// optional YAML file, and environment variable overrides (highest
// priority). Environment keys follow the struct layout, joined with
// underscores under the TOOLFLOW prefix, e.g. TOOLFLOW_SERVER_HTTP_PORT.
package config
