package assist

import (
	"encoding/json"
	"fmt"
)

// GatewayError wraps a failed or unparseable reasoning-service call. It is
// fatal to the current run; the loop does not retry beyond what the
// provider client already does internally.
type GatewayError struct {
	Model string
	Err   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("llm gateway (%s): %v", e.Model, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ExecutorError wraps a failed tool invocation, carrying the tool name and
// input so the failure can be diagnosed from the surfaced error alone.
type ExecutorError struct {
	Tool  string
	Input json.RawMessage
	Err   error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("tool %q failed (input %s): %v", e.Tool, compactInput(e.Input), e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

func compactInput(input json.RawMessage) string {
	const maxLen = 200
	s := string(input)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
