package adapter

import (
	"github.com/kzinmr/tanstack-ai-demo/internal/agent"
	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
)

// TurnOutcome classifies what a transformed event means for the turn.
type TurnOutcome int

const (
	// TurnContinue means the turn is still streaming.
	TurnContinue TurnOutcome = iota
	// TurnFinished means the turn produced a final answer and a done chunk.
	TurnFinished
	// TurnSuspended means the turn stopped on pending tool calls. No done
	// chunk is emitted; the suspension chunks stand in for it until the run
	// truly finishes.
	TurnSuspended
	// TurnFailed means the turn errored; error and done chunks were emitted.
	TurnFailed
)

// Transformer maps one turn's runtime events onto protocol chunks, stamping
// each with the run id and model.
type Transformer struct {
	runID string
	model string
}

// NewTransformer creates a transformer for one run.
func NewTransformer(runID, model string) *Transformer {
	return &Transformer{runID: runID, model: model}
}

// Apply converts a single runtime event into zero or more chunks, in the
// order they must reach the client, plus the turn outcome it implies.
func (t *Transformer) Apply(ev agent.StreamEvent) ([]protocol.Chunk, TurnOutcome) {
	switch ev.Type {
	case agent.EventText:
		return []protocol.Chunk{protocol.NewContentChunk(t.runID, t.model, ev.Text)}, TurnContinue

	case agent.EventThinking:
		return []protocol.Chunk{protocol.NewThinkingChunk(t.runID, t.model, ev.Text)}, TurnContinue

	case agent.EventToolCall:
		return []protocol.Chunk{protocol.NewToolCallChunk(
			t.runID, t.model, ev.ToolCall.ID, ev.ToolCall.Name, ev.ToolCall.Arguments,
		)}, TurnContinue

	case agent.EventToolResult:
		return []protocol.Chunk{protocol.NewToolResultChunk(
			t.runID, t.model, ev.ToolResult.ToolCallID, ev.ToolResult.Content,
		)}, TurnContinue

	case agent.EventSuspended:
		chunks := make([]protocol.Chunk, 0, len(ev.Pending))
		for _, pc := range ev.Pending {
			if pc.RequiresApproval {
				approvalID := pc.ApprovalID
				if approvalID == "" {
					approvalID = pc.ToolCallID
				}
				chunks = append(chunks, protocol.NewApprovalRequestedChunk(
					t.runID, t.model, pc.ToolCallID, pc.ToolName, approvalID, pc.Arguments,
				))
			} else {
				chunks = append(chunks, protocol.NewToolInputAvailableChunk(
					t.runID, t.model, pc.ToolCallID, pc.ToolName, pc.Arguments,
				))
			}
		}
		return chunks, TurnSuspended

	case agent.EventFinish:
		return []protocol.Chunk{protocol.NewDoneChunk(
			t.runID, t.model, ev.FinishReason, normalizeUsage(ev.Usage),
		)}, TurnFinished

	case agent.EventError:
		message := "internal error"
		if ev.Err != nil {
			message = ev.Err.Error()
		}
		return []protocol.Chunk{
			protocol.NewErrorChunk(t.runID, t.model, message),
			protocol.NewDoneChunk(t.runID, t.model, "error", nil),
		}, TurnFailed
	}
	return nil, TurnContinue
}

// normalizeUsage drops empty usage rather than emitting zeroes the client
// would render as real counts.
func normalizeUsage(u *agent.Usage) *protocol.Usage {
	if u == nil || (u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0) {
		return nil
	}
	return &protocol.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
