package assist

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/tools"
)

func TestConductorSurfacesSQLAndShapedResult(t *testing.T) {
	rows := `[{"name":"alice","salary":70000}]`
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{
		assistantToolUse(llm.ToolUseBlock{
			ID:    "tu_1",
			Name:  "query",
			Input: json.RawMessage(`{"sql":"SELECT name, salary FROM employees"}`),
		}),
		assistantText("Alice earns 70000."),
	}}
	exec := &fakeExecutor{handler: func(string, json.RawMessage) (*tools.Result, error) {
		return tools.TextResult(rows), nil
	}}

	var steps []QueryStep
	conductor := &Conductor{
		Gateway:  gw,
		Model:    "claude-test",
		Observer: func(step QueryStep) { steps = append(steps, step) },
	}
	outcome, err := conductor.Run(context.Background(), exec, queryCatalog(), "who earns what?", "employees(name, salary)")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.FinalText != "Alice earns 70000." {
		t.Errorf("final text = %q", outcome.FinalText)
	}
	if len(steps) != 1 {
		t.Fatalf("observer invoked %d times, want 1", len(steps))
	}
	if steps[0].SQL != "SELECT name, salary FROM employees" {
		t.Errorf("observed SQL = %q", steps[0].SQL)
	}
	if steps[0].Result.Table == nil {
		t.Fatal("result was not shaped into a table")
	}
	if steps[0].Result.Table.Columns[0] != "name" {
		t.Errorf("columns = %v", steps[0].Result.Table.Columns)
	}
}

func TestConductorEmbedsSchemaInDirective(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ConverseResponse{assistantText("ok")}}
	conductor := &Conductor{Gateway: gw, Model: "claude-test"}

	schemaInfo := `[{"table_name":"equipment_requests"}]`
	if _, err := conductor.Run(context.Background(), &fakeExecutor{}, queryCatalog(), "req", schemaInfo); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	system := gw.requests[0].System
	if !strings.Contains(system, "equipment_requests") {
		t.Errorf("directive missing schema info: %q", system)
	}
	if !strings.Contains(system, "SELECT statements only") {
		t.Errorf("directive missing the read-only constraint: %q", system)
	}
}

func TestSQLFromInput(t *testing.T) {
	if got := sqlFromInput([]byte(`{"sql":"SELECT 1"}`)); got != "SELECT 1" {
		t.Errorf("got %q", got)
	}
	if got := sqlFromInput([]byte(`{"other":"x"}`)); got != `{"other":"x"}` {
		t.Errorf("fallback got %q", got)
	}
	if got := sqlFromInput([]byte(`not json`)); got != "not json" {
		t.Errorf("malformed fallback got %q", got)
	}
}
