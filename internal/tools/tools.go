// Package tools implements the agent's tool surface: schema inspection, SQL
// execution against the records table, artifact display and analysis, and
// client-side CSV export.
package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
)

// Deps carries the per-request dependencies a tool may touch.
type Deps struct {
	DB          *sql.DB
	RunID       string
	Artifacts   artifacts.Store
	MaxSQLLimit int
}

// OutcomeKind tags how a tool call resolved.
type OutcomeKind int

const (
	// OutcomeCompleted means the tool ran and Content is the tool return.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeDeferred means execution moves to the client; the run suspends
	// until the client reports a result.
	OutcomeDeferred
	// OutcomeRetryRequested means the call was malformed in a way the model
	// can fix; RetryMessage is fed back as the tool return.
	OutcomeRetryRequested
)

// Outcome is the tagged result of a tool execution. Tools never panic or
// return Go errors to the loop; failures become model-visible text.
type Outcome struct {
	Kind         OutcomeKind
	Content      string
	RetryMessage string
}

// Completed wraps a successful tool return.
func Completed(content string) Outcome {
	return Outcome{Kind: OutcomeCompleted, Content: content}
}

// Deferred marks the call as continuing on the client.
func Deferred() Outcome {
	return Outcome{Kind: OutcomeDeferred}
}

// RetryRequested asks the model to correct the call and try again.
func RetryRequested(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeRetryRequested, RetryMessage: fmt.Sprintf(format, args...)}
}

// Tool is a single callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage

	// RequiresApproval gates execution behind an explicit human decision.
	RequiresApproval() bool

	// ClientSide marks tools whose effect happens in the browser; the
	// server only validates and defers.
	ClientSide() bool

	Execute(ctx context.Context, deps *Deps, args json.RawMessage) Outcome
}

// Registry holds the tool set in registration order.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools. Duplicate names keep
// the last registration.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if _, seen := r.tools[tool.Name()]; !seen {
			r.order = append(r.order, tool.Name())
		}
		r.tools[tool.Name()] = tool
	}
	return r
}

// DefaultRegistry returns the full tool set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&PreviewSchemaTool{},
		&ExecuteSQLTool{},
		&DisplayTool{},
		&AnalyzeDataTool{},
		&ExportCSVTool{},
	)
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// renderPreview formats the first n rows of a table as plain text for the
// model to read back.
func renderPreview(table *artifacts.Table, n int) string {
	if n > len(table.Rows) {
		n = len(table.Rows)
	}
	var b strings.Builder
	b.WriteString(strings.Join(table.Columns, " | "))
	cells := make([]string, len(table.Columns))
	for _, row := range table.Rows[:n] {
		b.WriteString("\n")
		for i, col := range table.Columns {
			cells[i] = cellString(row[col])
		}
		b.WriteString(strings.Join(cells, " | "))
	}
	return b.String()
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
