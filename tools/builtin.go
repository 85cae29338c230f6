package tools

import "go.uber.org/zap"

// BuiltinConfig configures the bundled tool set.
type BuiltinConfig struct {
	Weather     WeatherConfig     `yaml:"weather" json:"weather"`
	HTTPRequest HTTPRequestConfig `yaml:"-" json:"-"`
}

// RegisterBuiltins registers the bundled tools (echo, weather, http_request)
// on the registry.
func RegisterBuiltins(registry Registry, config BuiltinConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	echoFn, echoMeta := NewEchoTool()
	if err := registry.Register("echo", echoFn, echoMeta); err != nil {
		return err
	}

	weatherFn, weatherMeta := NewWeatherTool(config.Weather)
	if err := registry.Register("weather", weatherFn, weatherMeta); err != nil {
		return err
	}

	httpFn, httpMeta := NewHTTPRequestTool(config.HTTPRequest)
	if err := registry.Register("http_request", httpFn, httpMeta); err != nil {
		return err
	}

	logger.Info("builtin tools registered", zap.Int("count", 3))
	return nil
}
