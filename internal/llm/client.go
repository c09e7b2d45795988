// Package llm contains the reasoning-service side of the assistant: the
// transcript message model and the Gateway interface, with one
// implementation per supported provider (Anthropic, OpenAI, Gemini).
package llm

import (
	"context"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/tools"
)

// StopReason reports why the model stopped generating.
type StopReason string

const (
	// StopToolUse means the assistant message contains tool-use blocks
	// that must be executed before the conversation can continue.
	StopToolUse StopReason = "tool_use"

	// StopEndTurn means the assistant produced a final answer.
	StopEndTurn StopReason = "end_turn"
)

// ConverseRequest is one stateless round-trip to the reasoning service.
type ConverseRequest struct {
	// Model is the provider-specific model identifier.
	Model string
	// System is the system directive for this exchange.
	System string
	// Messages is the running transcript; it must begin with a user
	// message and every tool-use block in it must already be answered.
	Messages []Message
	// Tools is the catalog advertised for this exchange; static for the
	// lifetime of one loop.
	Tools []tools.Tool
}

// ConverseResponse is the gateway's reply: the assistant's message and the
// reason generation stopped.
type ConverseResponse struct {
	StopReason StopReason
	Message    Message
	Usage      api.Usage
}

// Gateway is the universal interface every provider client implements. It
// is deliberately unary: the assistant streams progress to the browser
// through run events, not through token deltas.
type Gateway interface {
	Converse(ctx context.Context, req *ConverseRequest) (*ConverseResponse, error)
}
