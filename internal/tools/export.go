package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExportCSVTool hands a dataset to the browser for download. The server only
// checks the artifact exists; after approval the call defers to the client,
// which fetches the bytes from the data endpoint and reports back.
type ExportCSVTool struct{}

type exportCSVArgs struct {
	ArtifactID string `json:"artifact_id"`
}

func (t *ExportCSVTool) Name() string { return "export_csv" }

func (t *ExportCSVTool) Description() string {
	return "Export a dataset as a CSV file. Executed in the browser: the client receives the artifact reference and fetches the data itself."
}

func (t *ExportCSVTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"artifact_id": {"type": "string", "description": "Artifact ID to export"}
		},
		"required": ["artifact_id"]
	}`)
}

func (t *ExportCSVTool) RequiresApproval() bool { return true }
func (t *ExportCSVTool) ClientSide() bool       { return true }

func (t *ExportCSVTool) Execute(ctx context.Context, deps *Deps, args json.RawMessage) Outcome {
	var parsed exportCSVArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return RetryRequested("Error: invalid arguments for export_csv: %v", err)
	}

	meta, err := deps.Artifacts.GetMetadata(ctx, deps.RunID, parsed.ArtifactID)
	if err != nil {
		return Completed(fmt.Sprintf("Error loading artifact: %v", err))
	}
	if meta == nil {
		return Completed("エクスポート対象のデータが見つかりませんでした。直前にクエリを実行して結果を作成してから、もう一度CSV出力してください。")
	}

	return Deferred()
}
