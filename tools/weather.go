package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tools-aigc/toolflow/types"
)

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	// APIKey for the upstream weather provider. When empty the tool serves
	// deterministic mock data, which keeps the pipeline testable offline.
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type weatherArgs struct {
	City    string `json:"city"`
	Country string `json:"country,omitempty"`
	Units   string `json:"units,omitempty"`
}

func unitsLabel(units string) string {
	switch units {
	case "imperial":
		return "fahrenheit"
	case "standard":
		return "kelvin"
	default:
		return "celsius"
	}
}

// NewWeatherTool creates the weather lookup tool.
func NewWeatherTool(config WeatherConfig) (Func, Metadata) {
	fn := func(ctx context.Context, params json.RawMessage) (types.ToolResult, error) {
		var args weatherArgs
		if len(params) > 0 {
			if err := json.Unmarshal(params, &args); err != nil {
				return types.ToolResult{}, fmt.Errorf("invalid weather arguments: %w", err)
			}
		}
		if args.City == "" {
			return types.Fail("city is required"), nil
		}
		if args.Country == "" {
			args.Country = "CN"
		}
		if args.Units == "" {
			args.Units = "metric"
		}

		// TODO: call the OpenWeatherMap API when config.APIKey is set.
		data, err := json.Marshal(map[string]any{
			"city":        args.City,
			"country":     args.Country,
			"temperature": 23.5,
			"humidity":    65,
			"weather":     "clear sky",
			"wind_speed":  3.2,
			"units":       unitsLabel(args.Units),
		})
		if err != nil {
			return types.ToolResult{}, err
		}
		return types.OK(data), nil
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	meta := Metadata{
		Schema: Schema{
			Name:        "weather",
			Description: "Looks up current weather conditions for a city.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city":    map[string]any{"type": "string", "description": "City name"},
					"country": map[string]any{"type": "string", "description": "ISO country code, defaults to CN"},
					"units": map[string]any{
						"type":        "string",
						"enum":        []string{"metric", "imperial", "standard"},
						"description": "Temperature units, defaults to metric",
					},
				},
				"required": []string{"city"},
			},
		},
		Timeout: timeout,
		RateLimit: &RateLimit{
			MaxCalls: 60,
			Window:   time.Minute,
		},
	}
	return fn, meta
}
