package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
)

func newDepsWithArtifact(t *testing.T) (*Deps, string) {
	t.Helper()
	store := artifacts.NewMemoryStore(30*time.Minute, 20)
	ref, err := store.StoreTable(context.Background(), "run-data", &artifacts.Table{
		Columns: []string{"service_name", "errors"},
		Rows: []map[string]any{
			{"service_name": "api-gateway", "errors": float64(4)},
			{"service_name": "api-gateway", "errors": float64(2)},
			{"service_name": "auth-service", "errors": float64(1)},
		},
	})
	if err != nil {
		t.Fatalf("StoreTable() error = %v", err)
	}
	return &Deps{RunID: "run-data", Artifacts: store, MaxSQLLimit: 1000}, ref.ID
}

func TestDisplayShowsRows(t *testing.T) {
	deps, artifactID := newDepsWithArtifact(t)
	tool := &DisplayTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"`+artifactID+`","rows":2}`))
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Execute() kind = %v, want completed", outcome.Kind)
	}
	if !strings.Contains(outcome.Content, "Contents (first 2 rows):") {
		t.Fatalf("content = %q, want first-rows header", outcome.Content)
	}
	if !strings.Contains(outcome.Content, "api-gateway | 4") {
		t.Fatalf("content = %q, want rendered row", outcome.Content)
	}
	if strings.Contains(outcome.Content, "auth-service") {
		t.Fatalf("content = %q, third row should be cut", outcome.Content)
	}
}

func TestDisplayCapsAtTwentyRows(t *testing.T) {
	deps, artifactID := newDepsWithArtifact(t)
	tool := &DisplayTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"`+artifactID+`","rows":500}`))
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Execute() kind = %v, want completed", outcome.Kind)
	}
	// Only 3 rows exist; the header reflects the actual count.
	if !strings.Contains(outcome.Content, "Contents (first 3 rows):") {
		t.Fatalf("content = %q", outcome.Content)
	}
}

func TestDisplayUnknownArtifactRequestsRetry(t *testing.T) {
	deps, _ := newDepsWithArtifact(t)
	tool := &DisplayTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"a_missing_9"}`))
	if outcome.Kind != OutcomeRetryRequested {
		t.Fatalf("Execute() kind = %v, want retry", outcome.Kind)
	}
	if !strings.Contains(outcome.RetryMessage, "a_missing_9 is not a valid artifact reference") {
		t.Fatalf("retry message = %q", outcome.RetryMessage)
	}
}

func TestAnalyzeDataGroupedSum(t *testing.T) {
	deps, artifactID := newDepsWithArtifact(t)
	tool := &AnalyzeDataTool{}

	outcome := tool.Execute(context.Background(), deps, json.RawMessage(
		`{"artifact_id":"`+artifactID+`","operation":"sum","column":"errors","group_by":"service_name"}`))
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Execute() = %+v, want completed", outcome)
	}

	envelope, err := protocol.ParseResultEnvelope(outcome.Content)
	if err != nil {
		t.Fatalf("ParseResultEnvelope() error = %v", err)
	}
	if len(envelope.Artifacts) != 1 || envelope.Artifacts[0].RowCount != 2 {
		t.Fatalf("artifacts = %+v, want one grouped result with 2 rows", envelope.Artifacts)
	}

	result, err := deps.Artifacts.GetTable(context.Background(), "run-data", envelope.Artifacts[0].ID)
	if err != nil || result == nil {
		t.Fatalf("GetTable() = %v, %v", result, err)
	}
	if got := result.Rows[0]["sum_errors"]; got != float64(6) {
		t.Fatalf("api-gateway sum = %v, want 6", got)
	}
	if got := result.Rows[1]["sum_errors"]; got != float64(1) {
		t.Fatalf("auth-service sum = %v, want 1", got)
	}
}

func TestAnalyzeDataCountNeedsNoColumn(t *testing.T) {
	deps, artifactID := newDepsWithArtifact(t)
	tool := &AnalyzeDataTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"`+artifactID+`","operation":"count"}`))
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Execute() = %+v, want completed", outcome)
	}
	envelope, err := protocol.ParseResultEnvelope(outcome.Content)
	if err != nil {
		t.Fatalf("ParseResultEnvelope() error = %v", err)
	}
	result, err := deps.Artifacts.GetTable(context.Background(), "run-data", envelope.Artifacts[0].ID)
	if err != nil || result == nil {
		t.Fatalf("GetTable() = %v, %v", result, err)
	}
	if got := result.Rows[0]["count"]; got != float64(3) {
		t.Fatalf("count = %v, want 3", got)
	}
}

func TestAnalyzeDataRejectsUnknownColumn(t *testing.T) {
	deps, artifactID := newDepsWithArtifact(t)
	tool := &AnalyzeDataTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"`+artifactID+`","operation":"avg","column":"latency"}`))
	if outcome.Kind != OutcomeRetryRequested {
		t.Fatalf("Execute() = %+v, want retry", outcome)
	}
	if !strings.Contains(outcome.RetryMessage, `column "latency" does not exist`) {
		t.Fatalf("retry message = %q", outcome.RetryMessage)
	}
}

func TestExportCSVDefersWhenArtifactExists(t *testing.T) {
	deps, artifactID := newDepsWithArtifact(t)
	tool := &ExportCSVTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"`+artifactID+`"}`))
	if outcome.Kind != OutcomeDeferred {
		t.Fatalf("Execute() = %+v, want deferred", outcome)
	}
}

func TestExportCSVMissingArtifactTellsModel(t *testing.T) {
	deps, _ := newDepsWithArtifact(t)
	tool := &ExportCSVTool{}

	outcome := tool.Execute(context.Background(), deps,
		json.RawMessage(`{"artifact_id":"a_missing_1"}`))
	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("Execute() = %+v, want completed guidance text", outcome)
	}
	if !strings.Contains(outcome.Content, "エクスポート対象のデータが見つかりませんでした") {
		t.Fatalf("content = %q", outcome.Content)
	}
}

func TestDefaultRegistryOrder(t *testing.T) {
	registry := DefaultRegistry()
	names := make([]string, 0, 5)
	for _, tool := range registry.All() {
		names = append(names, tool.Name())
	}
	want := []string{"preview_schema", "execute_sql", "display", "analyze_data", "export_csv"}
	if len(names) != len(want) {
		t.Fatalf("registry size = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("registry order = %v, want %v", names, want)
		}
	}
	if tool, ok := registry.Get("execute_sql"); !ok || !tool.RequiresApproval() {
		t.Fatal("execute_sql should exist and require approval")
	}
	if tool, ok := registry.Get("export_csv"); !ok || !tool.ClientSide() {
		t.Fatal("export_csv should exist and run client side")
	}
}
