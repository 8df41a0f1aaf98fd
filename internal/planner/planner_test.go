package planner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/valetlabs/valet/internal/llm"
	"github.com/valetlabs/valet/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM returns canned responses in order and records the
// message history it was handed on each call.
type scriptedLLM struct {
	responses []*llm.ChatResponse
	calls     [][]llm.Message
	toolDefs  [][]map[string]any
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolList []map[string]any) (*llm.ChatResponse, error) {
	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	s.toolDefs = append(s.toolDefs, toolList)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return nil }

func toolCall(name string, args map[string]any) llm.ToolCall {
	var tc llm.ToolCall
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}, Done: true}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", ToolCalls: calls}, Done: true}
}

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(quietLogger())
	r.Register(&tools.Tool{
		Name:        "echo",
		Description: "echoes its input",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any, exec tools.Exec) (string, error) {
			v, _ := args["v"].(string)
			return "echo[" + v + "] for " + exec.ResolveUser(args), nil
		},
	})
	r.Freeze()
	return r
}

func TestTurn_PlainAnswer(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{textResponse("Hello there.")}}
	p := New(quietLogger(), client, echoRegistry(t))

	got, err := p.Turn(context.Background(), "mara", "hi")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "Hello there." {
		t.Errorf("Turn = %q", got)
	}
	if len(client.calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(client.calls))
	}
	// Catalog goes along on every loop call.
	if len(client.toolDefs[0]) != 1 {
		t.Errorf("tool defs = %d, want 1", len(client.toolDefs[0]))
	}
}

func TestTurn_ToolResultFedBack(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(toolCall("echo", map[string]any{"v": "ping"})),
		textResponse("Done."),
	}}
	p := New(quietLogger(), client, echoRegistry(t))

	got, err := p.Turn(context.Background(), "mara", "run echo")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "Done." {
		t.Errorf("Turn = %q", got)
	}

	// The second call must carry the assistant's tool call and a tool
	// role message with the dispatch result.
	if len(client.calls) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(client.calls))
	}
	second := client.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" {
		t.Fatalf("last message role = %q, want tool", last.Role)
	}
	if last.Content != "echo[ping] for mara" {
		t.Errorf("tool result = %q", last.Content)
	}
	if second[len(second)-2].ToolCalls == nil {
		t.Error("assistant tool-call message missing from history")
	}
}

func TestTurn_UnknownToolStillAnswers(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(toolCall("no_such_tool", nil)),
		textResponse("That capability is not available."),
	}}
	p := New(quietLogger(), client, echoRegistry(t))

	got, err := p.Turn(context.Background(), "mara", "do the thing")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got == "" {
		t.Error("expected an answer")
	}

	second := client.calls[1]
	last := second[len(second)-1]
	if want := `Tool "no_such_tool" is not available.`; last.Content != want {
		t.Errorf("tool result = %q, want %q", last.Content, want)
	}
}

func TestTurn_IterationBudget(t *testing.T) {
	// The model calls tools forever; the planner forces a final
	// text-only call after two iterations.
	client := &scriptedLLM{responses: []*llm.ChatResponse{
		toolResponse(toolCall("echo", map[string]any{"v": "1"})),
		toolResponse(toolCall("echo", map[string]any{"v": "2"})),
		textResponse("Best effort answer."),
	}}
	p := New(quietLogger(), client, echoRegistry(t), WithMaxIterations(2))

	got, err := p.Turn(context.Background(), "mara", "loop")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if got != "Best effort answer." {
		t.Errorf("Turn = %q", got)
	}

	if len(client.calls) != 3 {
		t.Fatalf("llm calls = %d, want 3", len(client.calls))
	}
	// The forced call carries no tool definitions and a closing
	// instruction.
	if client.toolDefs[2] != nil {
		t.Error("final call should not offer tools")
	}
	final := client.calls[2]
	last := final[len(final)-1]
	if last.Role != "system" || !strings.Contains(last.Content, "Do not call any more tools") {
		t.Errorf("final nudge = %+v", last)
	}
}

func TestTurn_EmptyMessage(t *testing.T) {
	p := New(quietLogger(), &scriptedLLM{}, echoRegistry(t))
	if _, err := p.Turn(context.Background(), "mara", "   "); err == nil {
		t.Error("expected error for empty message")
	}
}
