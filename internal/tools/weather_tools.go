package tools

import (
	"context"
	"fmt"

	"github.com/valetlabs/valet/internal/budget"
)

// registerWeatherTools wires get_weather, budget-gated against the
// daily weather allowance.
func registerWeatherTools(r *Registry, d Deps) {
	if d.Weather == nil || d.Ledger == nil || d.Profiles == nil {
		return
	}

	r.Register(&Tool{
		Name:        "get_weather",
		Description: "Get current weather conditions for a location. Defaults to the user's configured location.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City or place name. Omit to use the user's configured location.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			user := exec.ResolveUser(args)

			location, _ := args["location"].(string)
			if location == "" {
				rec, err := d.Profiles.Get(ctx, user)
				if err != nil {
					return "", fmt.Errorf("load profile: %w", err)
				}
				location = rec.WeatherLocation
			}
			if location == "" {
				return "No location given and none configured. Say a city name or set one with update_settings.", nil
			}

			decision, err := d.Ledger.CheckAndConsume(ctx, user, budget.KindWeather)
			if err != nil {
				return "", fmt.Errorf("budget check: %w", err)
			}
			if !decision.Allowed {
				return decision.Reason, nil
			}

			cond, err := d.Weather.Current(ctx, location)
			if err != nil {
				return "", fmt.Errorf("weather: %w", err)
			}
			return cond.Line(), nil
		},
	})
}
