package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/valetlabs/valet/internal/profile"
)

// registerSettingsTools wires update_settings: conversational edits to
// the user's profile through the store's pointer-field patch.
func registerSettingsTools(r *Registry, d Deps) {
	if d.Profiles == nil {
		return
	}

	r.Register(&Tool{
		Name:        "update_settings",
		Description: "Update the user's settings: timezone, quiet hours, digest topics, news cadence, weather location, idea niche, digest on/off switches, or budget ceiling overrides. Only the fields given are changed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name, e.g. Europe/Berlin",
				},
				"quiet_start": map[string]any{
					"type":        "integer",
					"description": "Quiet hours start, local hour 0-23",
				},
				"quiet_end": map[string]any{
					"type":        "integer",
					"description": "Quiet hours end, local hour 0-23. Equal to start means no quiet hours.",
				},
				"quiet_all_day": map[string]any{
					"type":        "boolean",
					"description": "Suppress all digests regardless of hour",
				},
				"topics": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Digest topics, replacing the current list",
				},
				"news_cadence_hours": map[string]any{
					"type":        "integer",
					"description": "Minimum hours between news digests; 0 turns news off",
				},
				"weather_location": map[string]any{
					"type":        "string",
					"description": "Default weather location",
				},
				"idea_niche": map[string]any{
					"type":        "string",
					"description": "Niche for the weekly idea digest",
				},
				"brief_enabled": map[string]any{
					"type":        "boolean",
					"description": "Daily brief on/off",
				},
				"news_enabled": map[string]any{
					"type":        "boolean",
					"description": "News pulse on/off",
				},
				"ideas_enabled": map[string]any{
					"type":        "boolean",
					"description": "Idea spark on/off",
				},
				"ceilings": map[string]any{
					"type":        "object",
					"description": "Budget ceiling overrides by kind (search, social, ideas, weather). An empty string removes an override.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			user := exec.ResolveUser(args)

			patch, changed := patchFromArgs(args)
			if len(changed) == 0 {
				return "Nothing to change.", nil
			}

			rec, err := d.Profiles.Update(ctx, user, patch)
			if err != nil {
				return "", fmt.Errorf("update settings: %w", err)
			}

			return fmt.Sprintf("Updated %s. Timezone %s, quiet %02d:00-%02d:00, %d topic(s).",
				strings.Join(changed, ", "),
				rec.Timezone, rec.QuietStart, rec.QuietEnd, len(rec.Topics)), nil
		},
	})
}

// patchFromArgs converts loosely-typed tool arguments into a profile
// patch, reporting which fields were touched.
func patchFromArgs(args map[string]any) (profile.Patch, []string) {
	var p profile.Patch
	var changed []string

	if v, ok := args["timezone"].(string); ok {
		p.Timezone = &v
		changed = append(changed, "timezone")
	}
	if v, ok := args["quiet_start"].(float64); ok {
		n := int(v)
		p.QuietStart = &n
		changed = append(changed, "quiet_start")
	}
	if v, ok := args["quiet_end"].(float64); ok {
		n := int(v)
		p.QuietEnd = &n
		changed = append(changed, "quiet_end")
	}
	if v, ok := args["quiet_all_day"].(bool); ok {
		p.QuietAllDay = &v
		changed = append(changed, "quiet_all_day")
	}
	if raw, ok := args["topics"].([]any); ok {
		topics := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok && s != "" {
				topics = append(topics, s)
			}
		}
		p.Topics = &topics
		changed = append(changed, "topics")
	}
	if v, ok := args["news_cadence_hours"].(float64); ok {
		n := int(v)
		p.NewsCadenceHours = &n
		changed = append(changed, "news_cadence_hours")
	}
	if v, ok := args["weather_location"].(string); ok {
		p.WeatherLocation = &v
		changed = append(changed, "weather_location")
	}
	if v, ok := args["idea_niche"].(string); ok {
		p.IdeaNiche = &v
		changed = append(changed, "idea_niche")
	}
	if v, ok := args["brief_enabled"].(bool); ok {
		p.BriefEnabled = &v
		changed = append(changed, "brief_enabled")
	}
	if v, ok := args["news_enabled"].(bool); ok {
		p.NewsEnabled = &v
		changed = append(changed, "news_enabled")
	}
	if v, ok := args["ideas_enabled"].(bool); ok {
		p.IdeasEnabled = &v
		changed = append(changed, "ideas_enabled")
	}
	if raw, ok := args["ceilings"].(map[string]any); ok {
		ceilings := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				ceilings[k] = val
			case float64:
				ceilings[k] = fmt.Sprintf("%g", val)
			}
		}
		p.Ceilings = ceilings
		changed = append(changed, "ceilings")
	}

	return p, changed
}
