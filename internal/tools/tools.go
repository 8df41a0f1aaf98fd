// Package tools defines the capabilities available to the agent and
// the dispatch boundary through which every capability call passes.
//
// Dispatch never returns an error and never lets a panic escape: the
// model (and through it the user) only ever sees a result string. An
// unknown name, a handler error, and a handler panic all come back as
// literal text so one bad call can never take down a conversation or a
// watcher tick.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Exec carries per-call execution context into handlers.
type Exec struct {
	// UserID is the authenticated caller, when known.
	UserID string

	// DefaultUserID is the single-tenant fallback identity.
	DefaultUserID string
}

// ResolveUser picks the effective user for a call. Precedence: an
// explicit user_id argument, then Exec.UserID, then Exec.DefaultUserID,
// then "default". This is the only place that ordering is decided.
func (e Exec) ResolveUser(args map[string]any) string {
	if id, _ := args["user_id"].(string); id != "" {
		return id
	}
	if e.UserID != "" {
		return e.UserID
	}
	if e.DefaultUserID != "" {
		return e.DefaultUserID
	}
	return "default"
}

// Handler executes a capability call. Errors are turned into result
// strings at the dispatch boundary.
type Handler func(ctx context.Context, args map[string]any, exec Exec) (string, error)

// Tool represents a callable capability.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools. Registration happens once at
// startup (RegisterAll); after Freeze the set is immutable.
type Registry struct {
	logger *slog.Logger
	tools  map[string]*Tool
	frozen bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]*Tool),
	}
}

// Register adds a tool. Last registration wins. Registration after
// Freeze is refused.
func (r *Registry) Register(t *Tool) {
	if r.frozen {
		r.logger.Warn("tool registration after freeze ignored", "tool", t.Name)
		return
	}
	r.tools[t.Name] = t
}

// Freeze makes the registry immutable. Called once startup wiring is
// complete.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog renders the tool list in the shape the model expects.
func (r *Registry) Catalog() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Dispatch runs a tool by name. The returned string is always safe to
// hand to the model: unknown tools, handler errors, and panics become
// literal text. No timeout is imposed here; callers pass a deadline
// context when they want one.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, exec Exec) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked",
				"tool", name,
				"panic", rec,
			)
			result = fmt.Sprintf("Tool %q failed: %v", name, rec)
		}
	}()

	tool := r.tools[name]
	if tool == nil {
		return fmt.Sprintf("Tool %q is not available.", name)
	}

	out, err := tool.Handler(ctx, args, exec)
	if err != nil {
		r.logger.Warn("tool returned error",
			"tool", name,
			"error", err,
		)
		return fmt.Sprintf("Tool %q failed: %v", name, err)
	}
	return out
}
