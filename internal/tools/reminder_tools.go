package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valetlabs/valet/internal/reminder"
)

// registerReminderTools wires set / list / cancel. Reminders are free:
// they cost nothing external, so no budget kind applies.
func registerReminderTools(r *Registry, d Deps) {
	if d.Reminders == nil || d.Profiles == nil {
		return
	}

	r.Register(&Tool{
		Name:        "set_reminder",
		Description: "Set a reminder. Accepts a duration from now ('45m', '2h30m'), a time today/tomorrow ('15:04'), or an RFC3339 timestamp. Optionally repeats.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "What to remind about",
				},
				"when": map[string]any{
					"type":        "string",
					"description": "When to fire: duration ('30m'), local time ('07:30'), or RFC3339 timestamp",
				},
				"repeat": map[string]any{
					"type":        "string",
					"description": "Optional repeat interval ('24h', 'daily', 'weekly')",
				},
			},
			"required": []string{"text", "when"},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			text, _ := args["text"].(string)
			when, _ := args["when"].(string)
			if text == "" || when == "" {
				return "", fmt.Errorf("text and when are required")
			}

			user := exec.ResolveUser(args)
			rec, err := d.Profiles.Get(ctx, user)
			if err != nil {
				return "", fmt.Errorf("load profile: %w", err)
			}
			loc := rec.Location()

			at, err := parseWhen(when, time.Now(), loc)
			if err != nil {
				return "", err
			}

			rem := &reminder.Reminder{UserID: user, Text: text, At: at}
			if repeat, _ := args["repeat"].(string); repeat != "" {
				every, err := parseRepeat(repeat)
				if err != nil {
					return "", err
				}
				rem.Every = &reminder.Duration{Duration: every}
			}

			if err := d.Reminders.Set(ctx, rem); err != nil {
				return "", fmt.Errorf("set reminder: %w", err)
			}

			msg := fmt.Sprintf("Reminder set for %s: %s", at.In(loc).Format("Mon 15:04"), text)
			if rem.Every != nil {
				msg += fmt.Sprintf(" (repeats every %s)", rem.Every)
			}
			return msg, nil
		},
	})

	r.Register(&Tool{
		Name:        "list_reminders",
		Description: "List the user's reminders with their IDs and next delivery times.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			user := exec.ResolveUser(args)
			rec, err := d.Profiles.Get(ctx, user)
			if err != nil {
				return "", fmt.Errorf("load profile: %w", err)
			}
			loc := rec.Location()

			reminders, err := d.Reminders.List(ctx, user)
			if err != nil {
				return "", fmt.Errorf("list reminders: %w", err)
			}
			if len(reminders) == 0 {
				return "No reminders set.", nil
			}

			now := time.Now()
			var b strings.Builder
			fmt.Fprintf(&b, "%d reminder(s):\n", len(reminders))
			for _, rem := range reminders {
				next, ok := rem.NextRun(now)
				status := "done"
				if ok {
					status = next.In(loc).Format("Mon Jan 2 15:04")
				}
				fmt.Fprintf(&b, "- %s (%s): %s\n", rem.Text, rem.ID[:8], status)
			}
			return b.String(), nil
		},
	})

	r.Register(&Tool{
		Name:        "cancel_reminder",
		Description: "Cancel one of the user's reminders by ID (a prefix is enough).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reminder_id": map[string]any{
					"type":        "string",
					"description": "The reminder ID (or unique prefix) to cancel",
				},
			},
			"required": []string{"reminder_id"},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			id, _ := args["reminder_id"].(string)
			if id == "" {
				return "", fmt.Errorf("reminder_id is required")
			}

			user := exec.ResolveUser(args)

			// Resolve a prefix against the user's own reminders.
			reminders, err := d.Reminders.List(ctx, user)
			if err != nil {
				return "", fmt.Errorf("list reminders: %w", err)
			}
			full := ""
			for _, rem := range reminders {
				if rem.ID == id || strings.HasPrefix(rem.ID, id) {
					full = rem.ID
					break
				}
			}
			if full == "" {
				return "", fmt.Errorf("reminder not found: %s", id)
			}

			ok, err := d.Reminders.Cancel(ctx, user, full)
			if err != nil {
				return "", fmt.Errorf("cancel reminder: %w", err)
			}
			if !ok {
				return "", fmt.Errorf("reminder not found: %s", id)
			}
			return "Reminder cancelled.", nil
		},
	})
}

// parseWhen converts a time specification to an absolute instant in
// the user's timezone.
func parseWhen(when string, now time.Time, loc *time.Location) (time.Time, error) {
	// Duration from now (e.g., "30m", "2h").
	if dur, err := time.ParseDuration(when); err == nil {
		if dur <= 0 {
			return time.Time{}, fmt.Errorf("duration must be positive: %s", when)
		}
		return now.Add(dur), nil
	}

	// RFC3339 timestamp.
	if t, err := time.Parse(time.RFC3339, when); err == nil {
		return t, nil
	}

	// Local clock time; today, or tomorrow when already passed.
	if t, err := time.ParseInLocation("15:04", when, loc); err == nil {
		local := now.In(loc)
		at := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}

	return time.Time{}, fmt.Errorf("could not parse time: %s", when)
}

// parseRepeat converts a repeat specification to a duration.
func parseRepeat(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return 24 * time.Hour, nil
	case "hourly":
		return time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid repeat interval: %s", s)
	}
	return dur, nil
}
