// Package artifacts stores tabular tool results outside the conversation so
// chunks can carry lightweight references instead of full result sets.
package artifacts

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
)

// Table is a materialized query result. Rows are keyed by column name so the
// column order lives in Columns alone.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// Ref is the lightweight handle embedded in tool result envelopes.
type Ref struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	RowCount int    `json:"row_count"`
}

// Preview is a bounded slice of an artifact suitable for rendering inline.
type Preview struct {
	Rows             []map[string]any `json:"rows"`
	Columns          []string         `json:"columns"`
	OriginalRowCount int              `json:"original_row_count"`
	ExportedRowCount int              `json:"exported_row_count"`
}

// Download describes how a client fetches the full artifact. A nil Download
// from a store means the caller should serve the bytes itself.
type Download struct {
	URL              string            `json:"url"`
	ExpiresInSeconds int               `json:"expires_in_seconds,omitempty"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// Store persists table artifacts scoped by run. Lookups return nil (not an
// error) when the artifact is absent or expired.
type Store interface {
	// StoreTable persists a table under the run and returns its reference.
	StoreTable(ctx context.Context, runID string, table *Table) (*Ref, error)

	// GetMetadata returns the artifact's reference.
	GetMetadata(ctx context.Context, runID, artifactID string) (*Ref, error)

	// GetPreview returns a bounded view of the artifact's rows.
	GetPreview(ctx context.Context, runID, artifactID string) (*Preview, error)

	// GetDownload returns instructions for fetching the full artifact, or
	// nil when the store cannot hand out URLs and the caller must stream
	// the table itself.
	GetDownload(ctx context.Context, runID, artifactID string) (*Download, error)

	// GetTable returns the full table for server-side consumption.
	GetTable(ctx context.Context, runID, artifactID string) (*Table, error)
}

// EncodeCSV renders a table as UTF-8 CSV with a header row. Missing cells
// encode as empty strings.
func EncodeCSV(table *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(table.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, col := range table.Columns {
			record[i] = formatCell(row[col])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; keep integral values short.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func runPrefix(runID string) string {
	if runID == "" {
		return "unknown"
	}
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

func previewOf(table *Table, limit int) *Preview {
	if limit < 1 {
		limit = 1
	}
	rows := table.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		clone := make(map[string]any, len(row))
		for k, v := range row {
			clone[k] = v
		}
		out[i] = clone
	}
	return &Preview{
		Rows:             out,
		Columns:          append([]string(nil), table.Columns...),
		OriginalRowCount: len(table.Rows),
		ExportedRowCount: len(out),
	}
}
