package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valetlabs/valet/internal/budget"
)

// registerUsageTools wires get_usage: a per-kind view of what is left
// in the current budget windows.
func registerUsageTools(r *Registry, d Deps) {
	if d.Ledger == nil {
		return
	}

	r.Register(&Tool{
		Name:        "get_usage",
		Description: "Show the user's remaining budget for each resource kind in its current window.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			user := exec.ResolveUser(args)

			var b strings.Builder
			b.WriteString("Budget remaining:\n")
			for _, k := range budget.Kinds() {
				left, err := d.Ledger.Remaining(ctx, user, k.Name)
				if err != nil {
					return "", fmt.Errorf("remaining for %s: %w", k.Name, err)
				}
				fmt.Fprintf(&b, "- %s: %d left (window %s)\n", k.Name, left, windowLabel(k.Window))
			}
			return b.String(), nil
		},
	})
}

func windowLabel(w time.Duration) string {
	switch {
	case w%(24*time.Hour) == 0:
		days := int(w / (24 * time.Hour))
		if days == 1 {
			return "24h"
		}
		return fmt.Sprintf("%dd", days)
	case w%time.Hour == 0:
		return fmt.Sprintf("%dh", int(w/time.Hour))
	default:
		return w.String()
	}
}
