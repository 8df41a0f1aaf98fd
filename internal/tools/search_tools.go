package tools

import (
	"context"
	"fmt"

	"github.com/valetlabs/valet/internal/budget"
	"github.com/valetlabs/valet/internal/search"
)

// registerSearchTools wires web_search (budget-gated) and read_page.
func registerSearchTools(r *Registry, d Deps) {
	if d.Search != nil && d.Ledger != nil {
		r.Register(&Tool{
			Name:        "web_search",
			Description: "Search the web. Returns titles, URLs, and snippets. Each call consumes one unit of the user's daily search budget.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
					"count": map[string]any{
						"type":        "integer",
						"description": "Maximum results to return (default 5)",
					},
				},
				"required": []string{"query"},
			},
			Handler: searchHandler(d),
		})
	}

	if d.Reader != nil {
		r.Register(&Tool{
			Name:        "read_page",
			Description: "Fetch a URL and return its readable text. Use after web_search to read a promising result.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "URL of the page to read",
					},
					"max_chars": map[string]any{
						"type":        "integer",
						"description": "Maximum characters of page text to return (default 50000)",
					},
				},
				"required": []string{"url"},
			},
			Handler: readPageHandler(d),
		})
	}
}

func readPageHandler(d Deps) Handler {
	return func(ctx context.Context, args map[string]any, _ Exec) (string, error) {
		url, _ := args["url"].(string)
		if url == "" {
			return "", fmt.Errorf("url is required")
		}
		maxChars := 0
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		page, err := d.Reader.Read(ctx, url)
		if err != nil {
			return "", err
		}
		return page.Render(maxChars), nil
	}
}

func searchHandler(d Deps) Handler {
	return func(ctx context.Context, args map[string]any, exec Exec) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query is required")
		}

		user := exec.ResolveUser(args)
		decision, err := d.Ledger.CheckAndConsume(ctx, user, budget.KindSearch)
		if err != nil {
			return "", fmt.Errorf("budget check: %w", err)
		}
		if !decision.Allowed {
			// Denial is an answer, not an error.
			return decision.Reason, nil
		}

		count := 5
		if c, ok := args["count"].(float64); ok && c > 0 {
			count = int(c)
		}

		results, err := d.Search.Search(ctx, query, search.Options{Count: count})
		if err != nil {
			return "", fmt.Errorf("search: %w", err)
		}
		return search.FormatResults(results, count), nil
	}
}
