package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newSQLMock(t *testing.T) (*PostgresExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresExecutor(db, PostgresConfig{MaxRows: 10}), mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestListToolsAdvertisesQuery(t *testing.T) {
	exec, _ := newSQLMock(t)
	catalog, err := exec.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(catalog) != 1 {
		t.Fatalf("tool count = %d, want 1", len(catalog))
	}
	if catalog[0].Name != QueryToolName {
		t.Fatalf("tool name = %q", catalog[0].Name)
	}
	if catalog[0].InputSchema.Properties["sql"] == nil {
		t.Fatalf("query tool is missing the sql input property")
	}
}

func TestCallToolRendersRowsAsJSONArray(t *testing.T) {
	exec, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT department, count(*) AS total FROM requests GROUP BY department")).
		WillReturnRows(sqlmock.NewRows([]string{"department", "total"}).
			AddRow([]byte("engineering"), int64(7)).
			AddRow([]byte("sales"), int64(3)))

	input := MarshalInput(map[string]string{
		"sql": "SELECT department, count(*) AS total FROM requests GROUP BY department",
	})
	result, err := exec.CallTool(context.Background(), QueryToolName, input)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}

	want := `[{"department":"engineering","total":7},{"department":"sales","total":3}]`
	if got := result.Text(); got != want {
		t.Fatalf("result payload = %s, want %s", got, want)
	}
	assertSQLMock(t, mock)
}

func TestCallToolPreservesColumnOrder(t *testing.T) {
	exec, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT zeta, alpha FROM t")).
		WillReturnRows(sqlmock.NewRows([]string{"zeta", "alpha"}).AddRow(int64(1), int64(2)))

	result, err := exec.CallTool(context.Background(), QueryToolName,
		MarshalInput(map[string]string{"sql": "SELECT zeta, alpha FROM t"}))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := result.Text(); got != `[{"zeta":1,"alpha":2}]` {
		t.Fatalf("payload = %s", got)
	}
	assertSQLMock(t, mock)
}

func TestCallToolFormatsTimestamps(t *testing.T) {
	exec, mock := newSQLMock(t)
	at := time.Date(2024, 3, 21, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT created_at FROM requests")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(at))

	result, err := exec.CallTool(context.Background(), QueryToolName,
		MarshalInput(map[string]string{"sql": "SELECT created_at FROM requests"}))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := result.Text(); got != `[{"created_at":"2024-03-21T09:30:00Z"}]` {
		t.Fatalf("payload = %s", got)
	}
	assertSQLMock(t, mock)
}

func TestCallToolCapsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	exec := NewPostgresExecutor(db, PostgresConfig{MaxRows: 2})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT n FROM series")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))

	result, err := exec.CallTool(context.Background(), QueryToolName,
		MarshalInput(map[string]string{"sql": "SELECT n FROM series"}))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := result.Text(); got != `[{"n":1},{"n":2}]` {
		t.Fatalf("payload = %s", got)
	}
}

func TestCallToolRejectsUnknownTool(t *testing.T) {
	exec, _ := newSQLMock(t)
	_, err := exec.CallTool(context.Background(), "shell", json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected unknown-tool error, got %v", err)
	}
}

func TestCallToolRejectsWriteStatements(t *testing.T) {
	exec, _ := newSQLMock(t)
	for _, stmt := range []string{
		"INSERT INTO requests VALUES (1)",
		"UPDATE requests SET state = 'done'",
		"DELETE FROM requests",
		"DROP TABLE requests",
		"CREATE TABLE t (id int)",
		"SELECT 1; DROP TABLE requests",
		"",
		"-- only a comment",
	} {
		_, err := exec.CallTool(context.Background(), QueryToolName,
			MarshalInput(map[string]string{"sql": stmt}))
		if err == nil {
			t.Fatalf("statement %q was not rejected", stmt)
		}
	}
}

func TestCallToolAllowsReadOnlyVariants(t *testing.T) {
	for _, stmt := range []string{
		"SELECT 1",
		"select * from requests;",
		"WITH x AS (SELECT 1 AS n) SELECT n FROM x",
		"-- fetch everything\nSELECT 1",
		"/* note */ SELECT 1",
		"SELECT * FROM notes WHERE note = 'a;b'",
		"SELECT 'it''s; quoted' AS label",
		`SELECT ";" FROM odd_columns`,
	} {
		if err := checkReadOnly(stmt); err != nil {
			t.Fatalf("statement %q rejected: %v", stmt, err)
		}
	}
}

func TestStatementSeparatorSkipsQuotedRegions(t *testing.T) {
	cases := []struct {
		query string
		want  int
	}{
		{"SELECT 1", -1},
		{"SELECT 1; DROP TABLE x", 8},
		{"SELECT 'a;b'", -1},
		{"SELECT 'a;b'; DROP TABLE x", 12},
		{"SELECT 'it''s;'", -1},
		{`SELECT ";" FROM t`, -1},
	}
	for _, tc := range cases {
		if got := statementSeparator(tc.query); got != tc.want {
			t.Errorf("statementSeparator(%q) = %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestCallToolPropagatesQueryErrors(t *testing.T) {
	exec, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT missing FROM nowhere")).
		WillReturnError(errTest)

	_, err := exec.CallTool(context.Background(), QueryToolName,
		MarshalInput(map[string]string{"sql": "SELECT missing FROM nowhere"}))
	if err == nil || !strings.Contains(err.Error(), "execute query") {
		t.Fatalf("expected execute error, got %v", err)
	}
	assertSQLMock(t, mock)
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "relation does not exist" }
