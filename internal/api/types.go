// Package api defines the public data contracts of the QueryPilot service:
// the request/response bodies of the HTTP endpoints, the events streamed to
// the browser while a run is in progress, and shared value types (token
// usage, tabular results) that cross package boundaries.
package api

import "time"

// Usage holds token accounting for one or more LLM calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one. The tool-use loop
// calls this once per gateway round-trip so a run reports its total cost.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Table is the tabular view of a query result: an ordered column set and
// the rows keyed by column name. Column order follows the order in which
// the keys first appeared in the underlying JSON payload.
type Table struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// StartRunRequest is the body of POST /api/v1/runs.
type StartRunRequest struct {
	// Request is the user's natural-language description of the query,
	// e.g. "show monitor requests per department".
	Request string `json:"request" binding:"required"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunStatusResponse is the body of GET /api/v1/runs/:id.
type RunStatusResponse struct {
	RunID     string     `json:"run_id"`
	Status    string     `json:"status"`
	Request   string     `json:"request"`
	Answer    string     `json:"answer,omitempty"`
	Error     string     `json:"error,omitempty"`
	Usage     Usage      `json:"usage"`
	LatencyMS int64      `json:"latency_ms"`
	Events    []RunEvent `json:"events,omitempty"`
}

// Event types emitted while a run progresses. The browser renders these
// incrementally instead of waiting for the final answer.
const (
	EventRunStarted     = "run_started"
	EventSchemaResolved = "schema_resolved"
	EventSQLProposed    = "sql_proposed"
	EventQueryResult    = "query_result"
	EventAssistantText  = "assistant_text"
	EventRunFinished    = "run_finished"
	EventRunCancelled   = "run_cancelled"
	EventRunFailed      = "run_failed"
)

// RunEvent is one item on a run's event stream. Exactly which optional
// fields are set depends on Type: SQL for sql_proposed, Table or Text for
// query_result, Text for schema_resolved / assistant_text / run_failed.
type RunEvent struct {
	Type  string    `json:"type"`
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	Text  string    `json:"text,omitempty"`
	SQL   string    `json:"sql,omitempty"`
	Table *Table    `json:"table,omitempty"`
}

// RunSummary is the compact record kept in the run history store and
// returned by GET /api/v1/runs.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Request    string    `json:"request"`
	Status     string    `json:"status"`
	Model      string    `json:"model"`
	LatencyMS  int64     `json:"latency_ms"`
	FinishedAt time.Time `json:"finished_at"`
}
