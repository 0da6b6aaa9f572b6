package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
	"github.com/kzinmr/tanstack-ai-demo/internal/tools"
	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// deniedToolReturn is what the model sees when a human rejects a call.
const deniedToolReturn = "The tool call was denied."

// maxTurns bounds the tool loop so a misbehaving model cannot spin forever.
const maxTurns = 10

// Runner drives one conversational turn: model completions interleaved with
// tool executions until the model answers or a call needs human input.
type Runner struct {
	provider Provider
	registry *tools.Registry
	logger   *slog.Logger
}

// NewRunner creates a runner over the given provider and tool set.
func NewRunner(provider Provider, registry *tools.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{provider: provider, registry: registry, logger: logger}
}

// RunTurn executes one turn and streams its events. The channel is closed
// when the turn finishes, suspends, or fails; EventError is always the last
// event on failure.
//
// pending and resolution carry over a previous suspension: pending calls are
// resolved first (denials, client results, approved executions) before the
// model is consulted again. Calls left unresolved suspend the turn again
// immediately.
func (r *Runner) RunTurn(
	ctx context.Context,
	deps *tools.Deps,
	model string,
	history []models.Message,
	pending []models.PendingCall,
	resolution *Resolution,
) <-chan StreamEvent {
	events := make(chan StreamEvent, 32)
	go func() {
		defer close(events)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("turn panic", "panic", rec)
				events <- StreamEvent{Type: EventError, Err: fmt.Errorf("turn panic: %v", rec)}
			}
		}()
		r.run(ctx, deps, model, history, pending, resolution, events)
	}()
	return events
}

func (r *Runner) run(
	ctx context.Context,
	deps *tools.Deps,
	model string,
	history []models.Message,
	pending []models.PendingCall,
	resolution *Resolution,
	events chan<- StreamEvent,
) {
	msgs := toCompletionMessages(history)

	if len(pending) > 0 {
		var err error
		msgs, pending, err = r.resolvePending(ctx, deps, msgs, pending, resolution, events)
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
			return
		}
		if len(pending) > 0 {
			events <- StreamEvent{Type: EventSuspended, Pending: pending}
			return
		}
	}

	specs := r.toolSpecs()
	totalUsage := &Usage{}

	for turn := 0; turn < maxTurns; turn++ {
		chunks, err := r.provider.Complete(ctx, &CompletionRequest{
			Model:    model,
			System:   SystemPrompt(),
			Messages: msgs,
			Tools:    specs,
		})
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: fmt.Errorf("model completion: %w", err)}
			return
		}

		var assistantText string
		var toolCalls []models.ToolCall
		finishReason := ""

		for chunk := range chunks {
			if chunk.Err != nil {
				events <- StreamEvent{Type: EventError, Err: fmt.Errorf("model stream: %w", chunk.Err)}
				return
			}
			if chunk.Text != "" {
				assistantText += chunk.Text
				events <- StreamEvent{Type: EventText, Text: chunk.Text}
			}
			if chunk.Thinking != "" {
				events <- StreamEvent{Type: EventThinking, Text: chunk.Thinking}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				events <- StreamEvent{Type: EventToolCall, ToolCall: chunk.ToolCall}
			}
			totalUsage.Add(chunk.Usage)
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
		}

		msgs = append(msgs, CompletionMessage{
			Role:      "assistant",
			Content:   assistantText,
			ToolCalls: toolCalls,
		})

		if len(toolCalls) == 0 {
			if finishReason == "" {
				finishReason = "stop"
			}
			events <- StreamEvent{Type: EventFinish, FinishReason: finishReason, Usage: totalUsage}
			return
		}

		var deferred []models.PendingCall
		for _, call := range toolCalls {
			tool, ok := r.registry.Get(call.Name)
			if !ok {
				content := fmt.Sprintf("Error: unknown tool %q.", call.Name)
				msgs = r.appendToolReturn(msgs, call.ID, call.Name, content, events)
				continue
			}
			if tool.RequiresApproval() {
				deferred = append(deferred, models.PendingCall{
					ToolCallID:       call.ID,
					ToolName:         call.Name,
					Arguments:        call.Arguments,
					RequiresApproval: true,
					ClientSide:       tool.ClientSide(),
					ApprovalID:       call.ID,
				})
				continue
			}
			if tool.ClientSide() {
				deferred = append(deferred, models.PendingCall{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Arguments:  call.Arguments,
					ClientSide: true,
				})
				continue
			}

			outcome := tool.Execute(ctx, deps, call.Arguments)
			switch outcome.Kind {
			case tools.OutcomeDeferred:
				deferred = append(deferred, models.PendingCall{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Arguments:  call.Arguments,
					ClientSide: true,
				})
			case tools.OutcomeRetryRequested:
				msgs = r.appendToolReturn(msgs, call.ID, call.Name, outcome.RetryMessage, events)
			default:
				msgs = r.appendToolReturn(msgs, call.ID, call.Name, outcome.Content, events)
			}
		}

		if len(deferred) > 0 {
			events <- StreamEvent{Type: EventSuspended, Pending: deferred}
			return
		}
	}

	events <- StreamEvent{Type: EventError, Err: fmt.Errorf("turn exceeded %d tool iterations", maxTurns)}
}

// resolvePending applies human input to the calls a previous turn left
// behind. It returns the extended message list and whatever remains pending:
// unresolved calls plus approved client-side calls that now await their
// client execution result.
func (r *Runner) resolvePending(
	ctx context.Context,
	deps *tools.Deps,
	msgs []CompletionMessage,
	pending []models.PendingCall,
	resolution *Resolution,
	events chan<- StreamEvent,
) ([]CompletionMessage, []models.PendingCall, error) {
	if resolution == nil {
		resolution = &Resolution{}
	}

	var remaining []models.PendingCall
	for _, pc := range pending {
		if raw, ok := resolution.ToolResults[pc.ToolCallID]; ok {
			msgs = r.appendToolReturn(msgs, pc.ToolCallID, pc.ToolName, string(raw), events)
			continue
		}

		raw, ok := resolution.Approvals[pc.ToolCallID]
		if !ok {
			remaining = append(remaining, pc)
			continue
		}

		if !protocol.ApprovalGranted(raw) {
			msgs = r.appendToolReturn(msgs, pc.ToolCallID, pc.ToolName, deniedToolReturn, events)
			continue
		}

		tool, found := r.registry.Get(pc.ToolName)
		if !found {
			return msgs, nil, fmt.Errorf("pending call references unknown tool %q", pc.ToolName)
		}

		outcome := tool.Execute(ctx, deps, pc.Arguments)
		switch outcome.Kind {
		case tools.OutcomeDeferred:
			// Approved, but the execution itself happens on the client.
			remaining = append(remaining, models.PendingCall{
				ToolCallID: pc.ToolCallID,
				ToolName:   pc.ToolName,
				Arguments:  pc.Arguments,
				ClientSide: true,
			})
		case tools.OutcomeRetryRequested:
			msgs = r.appendToolReturn(msgs, pc.ToolCallID, pc.ToolName, outcome.RetryMessage, events)
		default:
			msgs = r.appendToolReturn(msgs, pc.ToolCallID, pc.ToolName, outcome.Content, events)
		}
	}
	return msgs, remaining, nil
}

func (r *Runner) appendToolReturn(
	msgs []CompletionMessage,
	toolCallID, toolName, content string,
	events chan<- StreamEvent,
) []CompletionMessage {
	events <- StreamEvent{Type: EventToolResult, ToolResult: &ToolResult{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Content:    content,
	}}
	return append(msgs, CompletionMessage{
		Role:       "tool",
		Content:    content,
		ToolCallID: toolCallID,
	})
}

func (r *Runner) toolSpecs() []ToolSpec {
	all := r.registry.All()
	specs := make([]ToolSpec, len(all))
	for i, tool := range all {
		specs[i] = ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		}
	}
	return specs
}
