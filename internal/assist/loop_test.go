package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/tools"
)

// scriptedGateway replays a fixed sequence of responses and records every
// request it receives.
type scriptedGateway struct {
	responses []*llm.ConverseResponse
	requests  []*llm.ConverseRequest
	err       error
}

func (g *scriptedGateway) Converse(_ context.Context, req *llm.ConverseRequest) (*llm.ConverseResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.responses) == 0 {
		return nil, fmt.Errorf("scripted gateway exhausted after %d calls", len(g.requests))
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

type toolCall struct {
	name  string
	input string
}

// fakeExecutor answers tool calls through a handler and records them.
type fakeExecutor struct {
	catalog []tools.Tool
	calls   []toolCall
	handler func(name string, input json.RawMessage) (*tools.Result, error)
	closed  bool
}

func (e *fakeExecutor) ListTools(context.Context) ([]tools.Tool, error) {
	return e.catalog, nil
}

func (e *fakeExecutor) CallTool(_ context.Context, name string, input json.RawMessage) (*tools.Result, error) {
	e.calls = append(e.calls, toolCall{name: name, input: string(input)})
	if e.handler != nil {
		return e.handler(name, input)
	}
	return tools.TextResult("ok"), nil
}

func (e *fakeExecutor) Close() error {
	e.closed = true
	return nil
}

func queryCatalog() []tools.Tool {
	return []tools.Tool{tools.NewTool("query", "Run a read-only SQL query.", tools.JSONSchema{
		Type: "object",
		Properties: map[string]*tools.JSONSchema{
			"sql": {Type: "string"},
		},
		Required: []string{"sql"},
	})}
}

func assistantText(text string) *llm.ConverseResponse {
	return &llm.ConverseResponse{
		StopReason: llm.StopEndTurn,
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: []llm.ContentBlock{llm.TextBlock{Text: text}},
		},
	}
}

func assistantToolUse(uses ...llm.ToolUseBlock) *llm.ConverseResponse {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, use := range uses {
		msg.Content = append(msg.Content, use)
	}
	return &llm.ConverseResponse{StopReason: llm.StopToolUse, Message: msg}
}

func TestLoopDirectAnswer(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{assistantText("the answer")}}
	exec := &fakeExecutor{}

	loop := &Loop{Gateway: gw, Executor: exec, Model: "claude-test"}
	outcome, err := loop.Run(context.Background(), "system text", "user text", queryCatalog())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.FinalText != "the answer" {
		t.Errorf("final text = %q, want %q", outcome.FinalText, "the answer")
	}
	if outcome.StopCause != StopCauseEndTurn {
		t.Errorf("stop cause = %q, want %q", outcome.StopCause, StopCauseEndTurn)
	}
	if len(outcome.Steps) != 0 {
		t.Errorf("expected no tool steps, got %d", len(outcome.Steps))
	}
	if len(exec.calls) != 0 {
		t.Errorf("executor was called %d times, want 0", len(exec.calls))
	}
	if got := len(gw.requests); got != 1 {
		t.Fatalf("gateway called %d times, want 1", got)
	}
	req := gw.requests[0]
	if req.System != "system text" {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Text() != "user text" {
		t.Errorf("unexpected initial transcript: %+v", req.Messages)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "query" {
		t.Errorf("tool catalog not forwarded: %+v", req.Tools)
	}
}

func TestLoopSingleToolRound(t *testing.T) {
	input := json.RawMessage(`{"sql":"SELECT count(*) FROM employees"}`)
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{
		assistantToolUse(llm.ToolUseBlock{ID: "tu_1", Name: "query", Input: input}),
		assistantText("There are 3 employees."),
	}}
	exec := &fakeExecutor{handler: func(string, json.RawMessage) (*tools.Result, error) {
		return tools.TextResult(`[{"count":3}]`), nil
	}}

	var observed []Step
	loop := &Loop{
		Gateway:  gw,
		Executor: exec,
		Model:    "claude-test",
		Observer: func(step Step) { observed = append(observed, step) },
	}
	outcome, err := loop.Run(context.Background(), "sys", "how many employees?", queryCatalog())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.FinalText != "There are 3 employees." {
		t.Errorf("final text = %q", outcome.FinalText)
	}
	if len(outcome.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(outcome.Steps))
	}
	if outcome.Steps[0].Tool != "query" || outcome.Steps[0].Result != `[{"count":3}]` {
		t.Errorf("unexpected step: %+v", outcome.Steps[0])
	}
	if len(observed) != 1 {
		t.Fatalf("observer invoked %d times, want 1", len(observed))
	}
	if observed[0].Result != `[{"count":3}]` {
		t.Errorf("observer saw result %q", observed[0].Result)
	}

	// The second gateway call must carry the tool result in a single user
	// message referencing the originating tool-use id.
	if len(gw.requests) != 2 {
		t.Fatalf("gateway called %d times, want 2", len(gw.requests))
	}
	transcript := gw.requests[1].Messages
	if len(transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3", len(transcript))
	}
	last := transcript[2]
	if last.Role != llm.RoleUser {
		t.Errorf("result message role = %q, want user", last.Role)
	}
	if len(last.Content) != 1 {
		t.Fatalf("result message blocks = %d, want 1", len(last.Content))
	}
	result, ok := last.Content[0].(llm.ToolResultBlock)
	if !ok {
		t.Fatalf("block is %T, want ToolResultBlock", last.Content[0])
	}
	if result.ToolUseID != "tu_1" {
		t.Errorf("toolUseId = %q, want tu_1", result.ToolUseID)
	}
	if result.Text() != `[{"count":3}]` {
		t.Errorf("result text = %q", result.Text())
	}
}

func TestLoopBundlesParallelToolUses(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{
		assistantToolUse(
			llm.ToolUseBlock{ID: "tu_a", Name: "query", Input: json.RawMessage(`{"sql":"SELECT 1"}`)},
			llm.ToolUseBlock{ID: "tu_b", Name: "query", Input: json.RawMessage(`{"sql":"SELECT 2"}`)},
		),
		assistantText("done"),
	}}
	exec := &fakeExecutor{handler: func(_ string, input json.RawMessage) (*tools.Result, error) {
		return tools.TextResult("result of " + string(input)), nil
	}}

	loop := &Loop{Gateway: gw, Executor: exec, Model: "claude-test"}
	outcome, err := loop.Run(context.Background(), "sys", "req", queryCatalog())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(exec.calls) != 2 {
		t.Fatalf("executor calls = %d, want 2", len(exec.calls))
	}
	if exec.calls[0].input != `{"sql":"SELECT 1"}` || exec.calls[1].input != `{"sql":"SELECT 2"}` {
		t.Errorf("calls out of order: %+v", exec.calls)
	}

	last := gw.requests[1].Messages[2]
	if len(last.Content) != 2 {
		t.Fatalf("bundled result blocks = %d, want 2", len(last.Content))
	}
	first := last.Content[0].(llm.ToolResultBlock)
	second := last.Content[1].(llm.ToolResultBlock)
	if first.ToolUseID != "tu_a" || second.ToolUseID != "tu_b" {
		t.Errorf("result order wrong: %q then %q", first.ToolUseID, second.ToolUseID)
	}
	if len(outcome.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(outcome.Steps))
	}
}

func TestLoopGatewayError(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("upstream unavailable")}
	loop := &Loop{Gateway: gw, Executor: &fakeExecutor{}, Model: "claude-test"}

	_, err := loop.Run(context.Background(), "sys", "req", queryCatalog())
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error = %v, want *GatewayError", err)
	}
	if gwErr.Model != "claude-test" {
		t.Errorf("model = %q", gwErr.Model)
	}
}

func TestLoopExecutorErrorPropagates(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{
		assistantToolUse(llm.ToolUseBlock{ID: "tu_1", Name: "query", Input: json.RawMessage(`{"sql":"DROP TABLE x"}`)}),
	}}
	exec := &fakeExecutor{handler: func(string, json.RawMessage) (*tools.Result, error) {
		return nil, errors.New("only read-only statements are allowed")
	}}

	loop := &Loop{Gateway: gw, Executor: exec, Model: "claude-test"}
	_, err := loop.Run(context.Background(), "sys", "req", queryCatalog())
	var execErr *ExecutorError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutorError", err)
	}
	if execErr.Tool != "query" {
		t.Errorf("tool = %q", execErr.Tool)
	}
	// No retry: the gateway must not be consulted again.
	if len(gw.requests) != 1 {
		t.Errorf("gateway called %d times after executor failure, want 1", len(gw.requests))
	}
}

func TestLoopToolUseStopWithoutToolBlocks(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{
		{
			StopReason: llm.StopToolUse,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: []llm.ContentBlock{llm.TextBlock{Text: "thinking"}},
			},
		},
	}}

	loop := &Loop{Gateway: gw, Executor: &fakeExecutor{}, Model: "claude-test"}
	_, err := loop.Run(context.Background(), "sys", "req", queryCatalog())
	if err == nil {
		t.Fatal("expected an error for a tool_use stop with no tool blocks")
	}
}

func TestLoopMaxTurns(t *testing.T) {
	// Every turn requests another tool; the loop must stop at the cap with
	// a recoverable outcome, not an error.
	var responses []*llm.ConverseResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, assistantToolUse(llm.ToolUseBlock{
			ID:    fmt.Sprintf("tu_%d", i),
			Name:  "query",
			Input: json.RawMessage(`{"sql":"SELECT 1"}`),
		}))
	}
	gw := &scriptedGateway{responses: responses}
	exec := &fakeExecutor{}

	loop := &Loop{Gateway: gw, Executor: exec, Model: "claude-test", MaxTurns: 3}
	outcome, err := loop.Run(context.Background(), "sys", "req", queryCatalog())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.StopCause != StopCauseMaxTurns {
		t.Errorf("stop cause = %q, want %q", outcome.StopCause, StopCauseMaxTurns)
	}
	if len(gw.requests) != 3 {
		t.Errorf("gateway called %d times, want 3", len(gw.requests))
	}
	if len(exec.calls) != 3 {
		t.Errorf("executor called %d times, want 3", len(exec.calls))
	}
}

func TestLoopAccumulatesUsage(t *testing.T) {
	first := assistantToolUse(llm.ToolUseBlock{ID: "tu_1", Name: "query", Input: json.RawMessage(`{"sql":"SELECT 1"}`)})
	first.Usage = api.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	second := assistantText("done")
	second.Usage = api.Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27}

	gw := &scriptedGateway{responses: []*llm.ConverseResponse{first, second}}
	loop := &Loop{Gateway: gw, Executor: &fakeExecutor{}, Model: "claude-test"}

	outcome, err := loop.Run(context.Background(), "sys", "req", queryCatalog())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Usage.TotalTokens != 42 || outcome.Usage.PromptTokens != 30 {
		t.Errorf("usage = %+v", outcome.Usage)
	}
}
