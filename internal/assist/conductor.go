package assist

import (
	"context"
	"encoding/json"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/tools"
)

// QueryStep is one surfaced unit of the conductor's work: the SQL the model
// proposed and the shaped interpretation of its result.
type QueryStep struct {
	SQL    string
	Result Shaped
}

// Conductor runs the tool-use loop to generate and execute the final query,
// surfacing every proposed statement and its result to the observer before
// the loop continues, so a UI can show work-in-progress.
type Conductor struct {
	Gateway  llm.Gateway
	Model    string
	MaxTurns int

	// Observer receives one QueryStep per tool invocation. Optional.
	Observer func(QueryStep)
}

// Run executes the query conversation against the resolved schema.
func (c *Conductor) Run(ctx context.Context, executor tools.Executor, catalog []tools.Tool, request, schemaInfo string) (*Outcome, error) {
	loop := &Loop{
		Gateway:  c.Gateway,
		Executor: executor,
		Model:    c.Model,
		MaxTurns: c.MaxTurns,
		Observer: func(step Step) {
			if c.Observer == nil {
				return
			}
			c.Observer(QueryStep{
				SQL:    sqlFromInput(step.Input),
				Result: Shape(step.Result),
			})
		},
	}
	return loop.Run(ctx, conductorSystemDirective(schemaInfo), request, catalog)
}

// sqlFromInput pulls the sql field out of a query tool input, falling back
// to the raw input text when the field is absent or malformed.
func sqlFromInput(input []byte) string {
	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(input, &args); err == nil && args.SQL != "" {
		return args.SQL
	}
	return string(input)
}
