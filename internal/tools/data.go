package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
)

const maxDisplayRows = 20

// DisplayTool shows the first rows of a stored artifact.
type DisplayTool struct{}

type displayArgs struct {
	ArtifactID string `json:"artifact_id"`
	Rows       int    `json:"rows"`
}

func (t *DisplayTool) Name() string { return "display" }

func (t *DisplayTool) Description() string {
	return "Display the first N rows of a stored artifact. Use this to show query results to the user."
}

func (t *DisplayTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"artifact_id": {"type": "string", "description": "Artifact ID to display"},
			"rows": {"type": "integer", "description": "Number of rows to display (default: 5, max: 20)"}
		},
		"required": ["artifact_id"]
	}`)
}

func (t *DisplayTool) RequiresApproval() bool { return false }
func (t *DisplayTool) ClientSide() bool       { return false }

func (t *DisplayTool) Execute(ctx context.Context, deps *Deps, args json.RawMessage) Outcome {
	var parsed displayArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return RetryRequested("Error: invalid arguments for display: %v", err)
	}
	rows := parsed.Rows
	if rows <= 0 {
		rows = 5
	}
	if rows > maxDisplayRows {
		rows = maxDisplayRows
	}

	table, err := deps.Artifacts.GetTable(ctx, deps.RunID, parsed.ArtifactID)
	if err != nil {
		return Completed(fmt.Sprintf("Error loading artifact: %v", err))
	}
	if table == nil {
		return RetryRequested("Error: %s is not a valid artifact reference.", parsed.ArtifactID)
	}
	return Completed(fmt.Sprintf("Contents (first %d rows):\n%s", min(rows, table.RowCount()), renderPreview(table, rows)))
}

// AnalyzeDataTool runs an aggregation over a stored artifact and stores the
// result as a new artifact.
type AnalyzeDataTool struct{}

type analyzeDataArgs struct {
	ArtifactID string `json:"artifact_id"`
	Operation  string `json:"operation"`
	Column     string `json:"column"`
	GroupBy    string `json:"group_by"`
}

func (t *AnalyzeDataTool) Name() string { return "analyze_data" }

func (t *AnalyzeDataTool) Description() string {
	return "Run an aggregation (count, sum, avg, min, max) over a stored artifact, optionally grouped by a column. The result is stored as a new artifact."
}

func (t *AnalyzeDataTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"artifact_id": {"type": "string", "description": "Artifact ID to analyze"},
			"operation": {"type": "string", "enum": ["count", "sum", "avg", "min", "max"]},
			"column": {"type": "string", "description": "Column to aggregate. Not required for count."},
			"group_by": {"type": "string", "description": "Optional column to group by."}
		},
		"required": ["artifact_id", "operation"]
	}`)
}

func (t *AnalyzeDataTool) RequiresApproval() bool { return false }
func (t *AnalyzeDataTool) ClientSide() bool       { return false }

func (t *AnalyzeDataTool) Execute(ctx context.Context, deps *Deps, args json.RawMessage) Outcome {
	var parsed analyzeDataArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return RetryRequested("Error: invalid arguments for analyze_data: %v", err)
	}

	source, err := deps.Artifacts.GetTable(ctx, deps.RunID, parsed.ArtifactID)
	if err != nil {
		return Completed(fmt.Sprintf("Error loading artifact: %v", err))
	}
	if source == nil {
		return RetryRequested("Error: %s is not a valid artifact reference.", parsed.ArtifactID)
	}

	result, err := aggregate(source, parsed.Operation, parsed.Column, parsed.GroupBy)
	if err != nil {
		return RetryRequested("Error: %v", err)
	}

	ref, err := deps.Artifacts.StoreTable(ctx, deps.RunID, result)
	if err != nil {
		return Completed(fmt.Sprintf("Error storing analysis result: %v", err))
	}

	previewRows := min(5, result.RowCount())
	message := fmt.Sprintf(
		"Analysis executed (%d rows).\n\nPreview (first %d rows):\n%s",
		result.RowCount(), previewRows, renderPreview(result, previewRows),
	)
	envelope := protocol.NewResultEnvelope(message,
		protocol.ArtifactSummary{ID: ref.ID, Type: ref.Type, RowCount: result.RowCount()})
	return Completed(envelope.Encode())
}

func aggregate(table *artifacts.Table, operation, column, groupBy string) (*artifacts.Table, error) {
	switch operation {
	case "count", "sum", "avg", "min", "max":
	default:
		return nil, fmt.Errorf("unsupported operation %q; use count, sum, avg, min or max", operation)
	}
	if operation != "count" && column == "" {
		return nil, fmt.Errorf("operation %q requires a column", operation)
	}
	if column != "" && !hasColumn(table, column) {
		return nil, fmt.Errorf("column %q does not exist in the artifact", column)
	}
	if groupBy != "" && !hasColumn(table, groupBy) {
		return nil, fmt.Errorf("group_by column %q does not exist in the artifact", groupBy)
	}

	resultCol := operation
	if column != "" {
		resultCol = operation + "_" + column
	}

	if groupBy == "" {
		value, err := aggregateRows(table.Rows, operation, column)
		if err != nil {
			return nil, err
		}
		return &artifacts.Table{
			Columns: []string{resultCol},
			Rows:    []map[string]any{{resultCol: value}},
		}, nil
	}

	groups := make(map[string][]map[string]any)
	var order []string
	for _, row := range table.Rows {
		key := cellString(row[groupBy])
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	sort.Strings(order)

	out := &artifacts.Table{Columns: []string{groupBy, resultCol}}
	for _, key := range order {
		value, err := aggregateRows(groups[key], operation, column)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, map[string]any{groupBy: key, resultCol: value})
	}
	return out, nil
}

func aggregateRows(rows []map[string]any, operation, column string) (any, error) {
	if operation == "count" {
		return float64(len(rows)), nil
	}

	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		v, ok := toFloat(row[column])
		if !ok {
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", column)
	}

	switch operation {
	case "sum", "avg":
		var sum float64
		for _, v := range values {
			sum += v
		}
		if operation == "avg" {
			return sum / float64(len(values)), nil
		}
		return sum, nil
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	default:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	}
}

func hasColumn(table *artifacts.Table, name string) bool {
	for _, col := range table.Columns {
		if col == name {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
