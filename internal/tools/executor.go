package tools

import (
	"context"
	"encoding/json"
)

// Executor is the contract between the conversation loop and whatever
// actually runs the tools. Implementations are expected to fail loudly:
// when the underlying operation errors, CallTool returns that error rather
// than a well-formed-looking empty result.
//
// An Executor may hold stateful resources (a database handle, a subprocess
// session). Its lifetime is scoped to one run: acquired before schema
// resolution starts and released with Close when the run ends, on every
// path including cancellation and error.
type Executor interface {
	// ListTools enumerates the catalog this executor advertises. The loop
	// passes the catalog to the model verbatim.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool runs the named tool with the given structured input and
	// returns its textual result payload.
	CallTool(ctx context.Context, name string, input json.RawMessage) (*Result, error)

	// Close releases any resources held by the executor.
	Close() error
}
