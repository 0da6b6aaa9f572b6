package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
	"github.com/kzinmr/tanstack-ai-demo/internal/db"
	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
)

// forbiddenStatements are rejected wherever they appear in a query, not just
// as the leading keyword, so CTE and subquery smuggling is caught too.
var forbiddenStatements = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`(?i)\bUPDATE\b`), "UPDATE"},
	{regexp.MustCompile(`(?i)\bDELETE\b`), "DELETE"},
	{regexp.MustCompile(`(?i)\bDROP\b`), "DROP"},
	{regexp.MustCompile(`(?i)\bINSERT\b`), "INSERT"},
	{regexp.MustCompile(`(?i)\bALTER\b`), "ALTER"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\b`), "TRUNCATE"},
	{regexp.MustCompile(`(?i)\bCREATE\b`), "CREATE"},
	{regexp.MustCompile(`(?i)\bGRANT\b`), "GRANT"},
	{regexp.MustCompile(`(?i)\bREVOKE\b`), "REVOKE"},
	{regexp.MustCompile(`(?i)\bEXECUTE\b`), "EXECUTE"},
	{regexp.MustCompile(`(?i)\bCALL\b`), "CALL"},
}

var (
	limitKeywordRe = regexp.MustCompile(`(?i)\bLIMIT\b`)
	limitClauseRe  = regexp.MustCompile(`(?i)LIMIT\s+(\d+)`)
)

var errNoDatabase = errors.New("no database configured")

// ValidateSQLSafety returns a model-readable error for statements that could
// mutate data, or "" when the query is acceptable.
func ValidateSQLSafety(query string) string {
	for _, stmt := range forbiddenStatements {
		if stmt.pattern.MatchString(query) {
			return fmt.Sprintf("Error: %s statements are not allowed for safety reasons.", stmt.name)
		}
	}
	return ""
}

// EnforceLimit appends a LIMIT when the query has none and clamps an
// existing numeric LIMIT down to maxLimit. A query that carries the LIMIT
// keyword in a non-numeric form (LIMIT ALL, a placeholder) passes through
// untouched; only the first numeric clause is clamped so subquery limits
// stay as written.
func EnforceLimit(query string, maxLimit int) string {
	if !limitKeywordRe.MatchString(query) {
		return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), maxLimit)
	}
	match := limitClauseRe.FindStringSubmatch(query)
	if match == nil {
		return query
	}
	existing, err := strconv.Atoi(match[1])
	if err == nil && existing > maxLimit {
		loc := limitClauseRe.FindStringIndex(query)
		return query[:loc[0]] + fmt.Sprintf("LIMIT %d", maxLimit) + query[loc[1]:]
	}
	return query
}

// PreviewSchemaTool returns the records table DDL so the model can ground
// its queries before writing SQL.
type PreviewSchemaTool struct{}

func (t *PreviewSchemaTool) Name() string { return "preview_schema" }

func (t *PreviewSchemaTool) Description() string {
	return "Show the database schema for the records table. Use this to understand the structure before writing SQL queries."
}

func (t *PreviewSchemaTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *PreviewSchemaTool) RequiresApproval() bool { return false }
func (t *PreviewSchemaTool) ClientSide() bool       { return false }

func (t *PreviewSchemaTool) Execute(_ context.Context, _ *Deps, _ json.RawMessage) Outcome {
	return Completed("Database Schema:\n" + db.Schema)
}

// ExecuteSQLTool runs a SELECT against the records table after approval and
// stores the result set as an artifact.
type ExecuteSQLTool struct{}

type executeSQLArgs struct {
	SQL string `json:"sql"`
}

func (t *ExecuteSQLTool) Name() string { return "execute_sql" }

func (t *ExecuteSQLTool) Description() string {
	return "Execute a SQL query on the database after user approval. Only SELECT queries are allowed. Always include LIMIT to prevent large result sets."
}

func (t *ExecuteSQLTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"sql": {
				"type": "string",
				"description": "The SQL query to execute. Only SELECT queries are allowed. Always include LIMIT."
			}
		},
		"required": ["sql"]
	}`)
}

func (t *ExecuteSQLTool) RequiresApproval() bool { return true }
func (t *ExecuteSQLTool) ClientSide() bool       { return false }

func (t *ExecuteSQLTool) Execute(ctx context.Context, deps *Deps, args json.RawMessage) Outcome {
	var parsed executeSQLArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return RetryRequested("Error: invalid arguments for execute_sql: %v", err)
	}

	if msg := ValidateSQLSafety(parsed.SQL); msg != "" {
		return Completed(msg)
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(parsed.SQL)), "SELECT") {
		return Completed("Error: Only SELECT queries are allowed for safety.")
	}

	query := EnforceLimit(parsed.SQL, deps.MaxSQLLimit)

	table, err := queryTable(ctx, deps.DB, query)
	if err != nil {
		return Completed(fmt.Sprintf("SQLの実行に失敗しました: %v", err))
	}

	ref, err := deps.Artifacts.StoreTable(ctx, deps.RunID, table)
	if err != nil {
		return Completed(fmt.Sprintf("SQLの実行に失敗しました: %v", err))
	}

	previewRows := min(5, table.RowCount())
	message := fmt.Sprintf(
		"クエリを実行しました（%d行）。\n\nプレビュー（先頭 %d 行）:\n%s",
		table.RowCount(), previewRows, renderPreview(table, previewRows),
	)
	envelope := protocol.NewResultEnvelope(message,
		protocol.ArtifactSummary{ID: ref.ID, Type: ref.Type, RowCount: table.RowCount()})
	return Completed(envelope.Encode())
}

// queryTable materializes a query result. Driver bytes become strings and
// times format as RFC 3339 so every cell is JSON friendly.
func queryTable(ctx context.Context, database *sql.DB, query string) (*artifacts.Table, error) {
	if database == nil {
		return nil, errNoDatabase
	}
	rows, err := database.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &artifacts.Table{Columns: columns}
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case int64:
		return float64(val)
	default:
		return val
	}
}
