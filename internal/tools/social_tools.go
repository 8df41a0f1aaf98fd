package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/valetlabs/valet/internal/budget"
)

// registerSocialTools wires the GitHub mention feed and posting. Both
// draw from the hourly social budget.
func registerSocialTools(r *Registry, d Deps) {
	if d.Social == nil || d.Ledger == nil {
		return
	}

	r.Register(&Tool{
		Name:        "social_mentions",
		Description: "List recent GitHub notifications addressed at the user: mentions, review requests, assignments.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum mentions to return (default 10)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			user := exec.ResolveUser(args)
			decision, err := d.Ledger.CheckAndConsume(ctx, user, budget.KindSocial)
			if err != nil {
				return "", fmt.Errorf("budget check: %w", err)
			}
			if !decision.Allowed {
				return decision.Reason, nil
			}

			limit := 10
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}

			mentions, err := d.Social.Mentions(ctx, limit)
			if err != nil {
				return "", fmt.Errorf("mentions: %w", err)
			}
			if len(mentions) == 0 {
				return "No unread mentions.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%d mention(s):\n", len(mentions))
			for i := range mentions {
				b.WriteString("- ")
				b.WriteString(mentions[i].Line())
				b.WriteString("\n")
			}
			return b.String(), nil
		},
	})

	r.Register(&Tool{
		Name:        "social_post",
		Description: "Post to GitHub: open an issue (target \"owner/repo\", first line of body becomes the title) or comment on one (target \"owner/repo#N\").",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{
					"type":        "string",
					"description": "owner/repo to open an issue, owner/repo#N to comment on issue N",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "The text to post",
				},
			},
			"required": []string{"target", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
			target, _ := args["target"].(string)
			body, _ := args["body"].(string)
			if target == "" || body == "" {
				return "", fmt.Errorf("target and body are required")
			}

			user := exec.ResolveUser(args)
			decision, err := d.Ledger.CheckAndConsume(ctx, user, budget.KindSocial)
			if err != nil {
				return "", fmt.Errorf("budget check: %w", err)
			}
			if !decision.Allowed {
				return decision.Reason, nil
			}

			url, err := d.Social.Post(ctx, target, body)
			if err != nil {
				return "", fmt.Errorf("post: %w", err)
			}
			return "Posted: " + url, nil
		},
	})
}
