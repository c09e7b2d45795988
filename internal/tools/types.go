// Package tools defines the tool catalog and execution contract of the
// assistant. A tool is an operation the model can request by name with a
// structured input; the catalog describes the available tools to the model,
// and an Executor carries the requests out against the real backend.
package tools

import "encoding/json"

// Tool declares one callable operation: its name, a description the model
// uses to decide when to call it, and a JSON Schema for its input.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema JSONSchema `json:"input_schema"`
}

// JSONSchema is a structured, type-safe representation of the JSON Schema
// fragment used for tool inputs. Using this struct instead of a bare
// map[string]interface{} keeps tool definitions readable and catches shape
// mistakes at compile time.
type JSONSchema struct {
	// Type is the data type of a schema node ("object", "string", ...).
	// The top-level input schema is always "object".
	Type string `json:"type"`
	// Description explains what a node or parameter is for.
	Description string `json:"description,omitempty"`
	// Properties maps parameter names to their schemas.
	Properties map[string]*JSONSchema `json:"properties,omitempty"`
	// Required lists the mandatory parameter names.
	Required []string `json:"required,omitempty"`
}

// TextContent is one textual fragment of a tool result.
type TextContent struct {
	Text string `json:"text"`
}

// Result is the payload an Executor returns for one tool invocation: an
// ordered sequence of textual content fragments.
type Result struct {
	Content []TextContent `json:"content"`
}

// Text concatenates the result's content fragments. Most callers only care
// about the combined payload.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	switch len(r.Content) {
	case 0:
		return ""
	case 1:
		return r.Content[0].Text
	}
	var out []byte
	for _, c := range r.Content {
		out = append(out, c.Text...)
	}
	return string(out)
}

// TextResult wraps a single string as a Result.
func TextResult(text string) *Result {
	return &Result{Content: []TextContent{{Text: text}}}
}

// NewTool builds a catalog entry.
func NewTool(name, description string, schema JSONSchema) Tool {
	return Tool{Name: name, Description: description, InputSchema: schema}
}

// MarshalInput is a convenience for tests and scripted executors: it encodes
// a value as the raw JSON input of a tool call and panics on failure, which
// can only happen for non-serializable test fixtures.
func MarshalInput(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
