package assist

import (
	"reflect"
	"testing"
)

func TestShapeParsesRecordArray(t *testing.T) {
	payload := `[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]`
	shaped := Shape(payload)
	if shaped.Table == nil {
		t.Fatal("expected a table")
	}
	if !reflect.DeepEqual(shaped.Table.Columns, []string{"id", "name"}) {
		t.Errorf("columns = %v", shaped.Table.Columns)
	}
	if len(shaped.Table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(shaped.Table.Rows))
	}
	if shaped.Table.Rows[1]["name"] != "bob" {
		t.Errorf("row[1] = %v", shaped.Table.Rows[1])
	}
	if shaped.Raw != payload {
		t.Errorf("raw text not preserved: %q", shaped.Raw)
	}
}

func TestShapeColumnOrderFollowsFirstAppearance(t *testing.T) {
	shaped := Shape(`[{"zulu":1,"alpha":2},{"alpha":3,"mike":4}]`)
	if shaped.Table == nil {
		t.Fatal("expected a table")
	}
	want := []string{"zulu", "alpha", "mike"}
	if !reflect.DeepEqual(shaped.Table.Columns, want) {
		t.Errorf("columns = %v, want %v", shaped.Table.Columns, want)
	}
}

func TestShapeFallsBackToRaw(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"plain text", "no matching rows were found"},
		{"empty string", ""},
		{"json object", `{"id":1}`},
		{"empty array", `[]`},
		{"array of scalars", `[1,2,3]`},
		{"mixed array", `[{"id":1},"oops"]`},
		{"truncated json", `[{"id":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shaped := Shape(tc.text)
			if shaped.Table != nil {
				t.Errorf("expected raw fallback, got table %+v", shaped.Table)
			}
			if shaped.Raw != tc.text {
				t.Errorf("raw = %q, want %q", shaped.Raw, tc.text)
			}
		})
	}
}

func TestShapeHandlesNullAndNestedValues(t *testing.T) {
	shaped := Shape(`[{"id":1,"meta":{"k":"v"},"note":null}]`)
	if shaped.Table == nil {
		t.Fatal("expected a table")
	}
	if !reflect.DeepEqual(shaped.Table.Columns, []string{"id", "meta", "note"}) {
		t.Errorf("columns = %v", shaped.Table.Columns)
	}
	if shaped.Table.Rows[0]["note"] != nil {
		t.Errorf("note = %v, want nil", shaped.Table.Rows[0]["note"])
	}
}

func TestEncodeTableRoundTrip(t *testing.T) {
	payload := `[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]`
	shaped := Shape(payload)
	if shaped.Table == nil {
		t.Fatal("expected a table")
	}
	encoded, err := EncodeTable(shaped.Table)
	if err != nil {
		t.Fatalf("EncodeTable failed: %v", err)
	}
	reparsed := Shape(encoded)
	if reparsed.Table == nil {
		t.Fatal("re-encoded payload did not parse as a table")
	}
	if !reflect.DeepEqual(reparsed.Table.Columns, shaped.Table.Columns) {
		t.Errorf("columns changed: %v vs %v", reparsed.Table.Columns, shaped.Table.Columns)
	}
	if !reflect.DeepEqual(reparsed.Table.Rows, shaped.Table.Rows) {
		t.Errorf("rows changed: %v vs %v", reparsed.Table.Rows, shaped.Table.Rows)
	}
}

func TestEncodeTableOmitsMissingColumns(t *testing.T) {
	shaped := Shape(`[{"a":1,"b":2},{"a":3}]`)
	if shaped.Table == nil {
		t.Fatal("expected a table")
	}
	encoded, err := EncodeTable(shaped.Table)
	if err != nil {
		t.Fatalf("EncodeTable failed: %v", err)
	}
	want := `[{"a":1,"b":2},{"a":3}]`
	if encoded != want {
		t.Errorf("encoded = %s, want %s", encoded, want)
	}
}
