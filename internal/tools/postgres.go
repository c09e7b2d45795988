package tools

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// QueryToolName is the single tool the Postgres executor advertises.
const QueryToolName = "query"

const defaultMaxRows = 500

// PostgresConfig configures the Postgres-backed executor.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// QueryTimeout bounds a single tool invocation. Zero means no
	// per-call deadline beyond the caller's context.
	QueryTimeout time.Duration

	// MaxRows caps the number of rows rendered into a result payload so a
	// careless SELECT cannot blow up the transcript. Zero uses a default.
	MaxRows int
}

// PostgresExecutor runs read-only SQL against a PostgreSQL database and
// renders the rows as a JSON array of objects, which is the textual payload
// the conversation loop feeds back to the model.
type PostgresExecutor struct {
	db  *sql.DB
	cfg PostgresConfig
}

var _ Executor = (*PostgresExecutor)(nil)

// OpenPostgres dials the database described by cfg.DSN, applies the pool
// settings, and verifies connectivity with a bounded ping.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresExecutor, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresExecutor(db, cfg), nil
}

// NewPostgresExecutor wraps an existing database handle. Used directly by
// tests; production code goes through OpenPostgres.
func NewPostgresExecutor(db *sql.DB, cfg PostgresConfig) *PostgresExecutor {
	return &PostgresExecutor{db: db, cfg: cfg}
}

// ListTools advertises the single `query` tool.
func (e *PostgresExecutor) ListTools(_ context.Context) ([]Tool, error) {
	return []Tool{
		NewTool(
			QueryToolName,
			"Run a read-only SQL query against the PostgreSQL database and return the rows as a JSON array.",
			JSONSchema{
				Type: "object",
				Properties: map[string]*JSONSchema{
					"sql": {
						Type:        "string",
						Description: "A single read-only SQL statement (SELECT or WITH).",
					},
				},
				Required: []string{"sql"},
			},
		),
	}, nil
}

// CallTool executes one `query` invocation.
func (e *PostgresExecutor) CallTool(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	if name != QueryToolName {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input for %q: %w", name, err)
	}
	if err := checkReadOnly(args.SQL); err != nil {
		return nil, err
	}

	queryCtx := ctx
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(queryCtx, args.SQL)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	maxRows := e.cfg.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	payload, err := renderRowsJSON(rows, maxRows)
	if err != nil {
		return nil, err
	}
	return TextResult(payload), nil
}

// Close releases the underlying database handle.
func (e *PostgresExecutor) Close() error {
	return e.db.Close()
}

// checkReadOnly enforces the executor's statement policy: exactly one
// statement, starting with SELECT or WITH. Comments ahead of the statement
// are tolerated.
func checkReadOnly(query string) error {
	stripped := stripLeadingComments(strings.TrimSpace(query))
	if stripped == "" {
		return fmt.Errorf("empty sql statement")
	}
	if i := statementSeparator(stripped); i >= 0 && strings.TrimSpace(stripped[i+1:]) != "" {
		return fmt.Errorf("multiple sql statements are not allowed")
	}

	keyword := stripped
	if i := strings.IndexFunc(keyword, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	}); i >= 0 {
		keyword = keyword[:i]
	}
	switch strings.ToUpper(keyword) {
	case "SELECT", "WITH":
		return nil
	}
	return fmt.Errorf("only read-only statements are allowed, got %q", strings.ToUpper(keyword))
}

// statementSeparator returns the index of the first semicolon outside
// quoted regions, or -1. Semicolons inside string literals (with
// doubled-quote escaping) and quoted identifiers do not separate
// statements.
func statementSeparator(query string) int {
	var inSingle, inDouble bool
	for i := 0; i < len(query); i++ {
		switch c := query[i]; {
		case inSingle:
			if c == '\'' {
				if i+1 < len(query) && query[i+1] == '\'' {
					i++
				} else {
					inSingle = false
				}
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == ';':
			return i
		}
	}
	return -1
}

func stripLeadingComments(query string) string {
	for {
		query = strings.TrimLeft(query, " \t\r\n")
		switch {
		case strings.HasPrefix(query, "--"):
			if i := strings.IndexByte(query, '\n'); i >= 0 {
				query = query[i+1:]
				continue
			}
			return ""
		case strings.HasPrefix(query, "/*"):
			if i := strings.Index(query, "*/"); i >= 0 {
				query = query[i+2:]
				continue
			}
			return ""
		}
		return query
	}
}

// renderRowsJSON streams the result set into a JSON array of objects. The
// object keys are written in column order so the downstream table shaper
// reconstructs the same column layout the database returned.
func renderRowsJSON(rows *sql.Rows, maxRows int) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("read result columns: %w", err)
	}

	colNames := make([][]byte, len(cols))
	for i, col := range cols {
		encoded, err := json.Marshal(col)
		if err != nil {
			return "", fmt.Errorf("encode column name %q: %w", col, err)
		}
		colNames[i] = encoded
	}

	var buf bytes.Buffer
	buf.WriteByte('[')

	values := make([]any, len(cols))
	scanTargets := make([]any, len(cols))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if count >= maxRows {
			break
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return "", fmt.Errorf("scan result row: %w", err)
		}
		if count > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i := range cols {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(colNames[i])
			buf.WriteByte(':')
			encoded, err := json.Marshal(normalizeValue(values[i]))
			if err != nil {
				return "", fmt.Errorf("encode value for column %q: %w", cols[i], err)
			}
			buf.Write(encoded)
		}
		buf.WriteByte('}')
		count++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate result rows: %w", err)
	}

	buf.WriteByte(']')
	return buf.String(), nil
}

// normalizeValue maps driver-level values onto JSON-friendly ones. Byte
// slices come back for text-ish Postgres types and would otherwise encode
// as base64.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return v
	}
}
