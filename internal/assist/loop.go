// Package assist implements the assistant's core: the tool-use conversation
// loop, its two specializations (schema resolver and query conductor),
// result shaping, and the run controller that ties them to the HTTP layer.
package assist

import (
	"context"
	"fmt"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/tools"
)

// DefaultMaxTurns bounds the number of gateway round-trips in one loop. A
// misbehaving model could otherwise request tools forever.
const DefaultMaxTurns = 10

// StopCause records how a loop terminated.
type StopCause string

const (
	// StopCauseEndTurn means the model produced a final, non-tool answer.
	StopCauseEndTurn StopCause = "end_turn"

	// StopCauseMaxTurns means the turn cap was hit before the model
	// finished. This is a recoverable termination: the outcome carries
	// whatever the model said last as a best-effort partial answer.
	StopCauseMaxTurns StopCause = "max_turns"
)

// Step is one executed tool invocation: what the model asked for and what
// came back.
type Step struct {
	Tool   string
	Input  []byte
	Result string
}

// Outcome is the terminal value of one loop execution.
type Outcome struct {
	// FinalText is the concatenated text of the terminal assistant
	// message (best effort when StopCause is max_turns).
	FinalText string
	// Transcript is the full message history of the loop.
	Transcript []llm.Message
	// Steps lists every tool invocation in execution order.
	Steps []Step
	// StopCause reports how the loop ended.
	StopCause StopCause
	// Usage accumulates token usage across every gateway call.
	Usage api.Usage
}

// LastStep returns the most recent tool step, or nil if no tool was ever
// invoked.
func (o *Outcome) LastStep() *Step {
	if len(o.Steps) == 0 {
		return nil
	}
	return &o.Steps[len(o.Steps)-1]
}

// Loop drives a multi-turn exchange between a reasoning service and a tool
// executor until the service produces a final answer or the turn cap hits.
//
// The loop is strictly sequential: one gateway call, then every requested
// tool in order, then the next gateway call. When a single assistant turn
// requests multiple tools, all of them run before the next round-trip and
// their results travel together in one user message, in request order.
type Loop struct {
	Gateway  llm.Gateway
	Executor tools.Executor
	Model    string

	// MaxTurns caps gateway round-trips; zero applies DefaultMaxTurns.
	MaxTurns int

	// Observer, when set, is called once per executed tool invocation,
	// after the invocation completes and before the loop continues. It
	// must return promptly; the loop blocks on it.
	Observer func(Step)
}

// Run executes the loop. The transcript starts with a single user message
// carrying userText. Gateway failures return a *GatewayError and executor
// failures a *ExecutorError; both abort the loop with no retry.
func (l *Loop) Run(ctx context.Context, system, userText string, catalog []tools.Tool) (*Outcome, error) {
	maxTurns := l.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	outcome := &Outcome{
		Transcript: []llm.Message{llm.UserText(userText)},
	}

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := l.Gateway.Converse(ctx, &llm.ConverseRequest{
			Model:    l.Model,
			System:   system,
			Messages: outcome.Transcript,
			Tools:    catalog,
		})
		observability.ObserveGatewayRequest(l.Model, err)
		if err != nil {
			return nil, &GatewayError{Model: l.Model, Err: err}
		}

		outcome.Transcript = append(outcome.Transcript, resp.Message)
		outcome.Usage.Add(resp.Usage)
		outcome.FinalText = resp.Message.Text()

		if resp.StopReason != llm.StopToolUse {
			outcome.StopCause = StopCauseEndTurn
			return outcome, nil
		}

		results, err := l.executeTurn(ctx, resp.Message, outcome)
		if err != nil {
			return nil, err
		}
		outcome.Transcript = append(outcome.Transcript, results)
	}

	outcome.StopCause = StopCauseMaxTurns
	return outcome, nil
}

// executeTurn runs every tool-use block of one assistant message in order
// and bundles the results into a single user message.
func (l *Loop) executeTurn(ctx context.Context, assistant llm.Message, outcome *Outcome) (llm.Message, error) {
	uses := assistant.ToolUses()
	if len(uses) == 0 {
		// The gateway reported tool_use but sent no tool blocks; treat
		// it as a malformed response rather than looping on it.
		return llm.Message{}, &GatewayError{
			Model: l.Model,
			Err:   fmt.Errorf("stop reason was tool_use but the message carries no tool-use blocks"),
		}
	}

	results := llm.Message{Role: llm.RoleUser}
	for _, use := range uses {
		result, err := l.Executor.CallTool(ctx, use.Name, use.Input)
		observability.ObserveToolExecution(use.Name, err)
		if err != nil {
			return llm.Message{}, &ExecutorError{Tool: use.Name, Input: use.Input, Err: err}
		}

		results.Content = append(results.Content, llm.ToolResultBlock{
			ToolUseID: use.ID,
			Content:   result.Content,
		})

		step := Step{Tool: use.Name, Input: use.Input, Result: result.Text()}
		outcome.Steps = append(outcome.Steps, step)
		if l.Observer != nil {
			l.Observer(step)
		}
	}
	return results, nil
}
