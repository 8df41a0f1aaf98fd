// Package planner runs the conversational loop: it hands the model the
// capability catalog, executes the calls it makes, and iterates until
// the model produces plain text for the user.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valetlabs/valet/internal/llm"
	"github.com/valetlabs/valet/internal/tools"
)

const (
	defaultMaxIter = 8
	defaultModel   = "qwen3"
)

// Planner drives one conversation turn at a time. It holds no
// per-conversation state; history lives with the caller.
type Planner struct {
	logger   *slog.Logger
	llm      llm.Client
	registry *tools.Registry
	model    string
	maxIter  int
	timezone string
}

// Option configures a Planner.
type Option func(*Planner)

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(p *Planner) {
		if model != "" {
			p.model = model
		}
	}
}

// WithMaxIterations bounds the tool loop. Values below one are ignored.
func WithMaxIterations(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxIter = n
		}
	}
}

// WithTimezone sets the timezone named in the system prompt.
func WithTimezone(tz string) Option {
	return func(p *Planner) {
		p.timezone = tz
	}
}

// New creates a planner over a model client and a frozen tool registry.
func New(logger *slog.Logger, client llm.Client, registry *tools.Registry, opts ...Option) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Planner{
		logger:   logger,
		llm:      client,
		registry: registry,
		model:    defaultModel,
		maxIter:  defaultMaxIter,
		timezone: "UTC",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Turn runs one user message through the tool loop and returns the
// model's final text. Tool failures never surface as errors here; the
// dispatch boundary renders them as result strings the model can react
// to. An error return means the model itself was unreachable.
func (p *Planner) Turn(ctx context.Context, userID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty message")
	}

	exec := tools.Exec{UserID: userID}
	catalog := p.registry.Catalog()
	messages := []llm.Message{
		{Role: "system", Content: p.systemPrompt()},
		{Role: "user", Content: text},
	}

	start := time.Now()
	for i := 0; i < p.maxIter; i++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("turn cancelled: %w", err)
		}

		p.logger.Debug("planner llm call",
			"user_id", userID,
			"iter", i,
			"model", p.model,
			"msgs", len(messages),
		)

		resp, err := p.llm.Chat(ctx, p.model, messages, catalog)
		if err != nil {
			return "", fmt.Errorf("llm call failed (iter %d): %w", i, err)
		}

		// No tool calls means the model is talking to the user.
		if len(resp.Message.ToolCalls) == 0 {
			p.logger.Info("planner turn completed",
				"user_id", userID,
				"iterations", i+1,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return resp.Message.Content, nil
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			p.logger.Info("planner tool exec",
				"user_id", userID,
				"iter", i,
				"tool", tc.Function.Name,
			)
			result := p.registry.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments, exec)
			messages = append(messages, llm.Message{
				Role:    "tool",
				Content: result,
			})
		}
	}

	// Iterations exhausted: one last call with no tools so the model
	// has to answer with what it gathered.
	p.logger.Warn("planner max iterations reached",
		"user_id", userID,
		"max_iter", p.maxIter,
	)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: "Answer the user now with the information you already have. Do not call any more tools.",
	})
	resp, err := p.llm.Chat(ctx, p.model, messages, nil)
	if err != nil {
		return "I gathered some information but could not finish putting an answer together.", nil
	}
	return resp.Message.Content, nil
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are Valet, a personal assistant reachable over messaging. ")
	b.WriteString("Be concise; answers are read on a phone. ")
	b.WriteString("Use the available tools to look things up rather than guessing. ")
	b.WriteString("When a tool reports a budget limit, relay that plainly and offer what you have.\n\n")

	loc, err := time.LoadLocation(p.timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	fmt.Fprintf(&b, "Current time: %s (%s)", now.Format("Monday, January 2, 2006 15:04"), p.timezone)
	return b.String()
}
