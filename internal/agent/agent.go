// Package agent runs the model loop: it streams completions from a provider,
// executes tools, and suspends when a call needs human input.
package agent

import (
	"context"
	"encoding/json"

	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// CompletionMessage is one provider-facing conversation entry.
type CompletionMessage struct {
	// Role is "system", "user", "assistant" or "tool".
	Role       string
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
}

// ToolSpec is the provider-facing description of a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is a single model invocation.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []ToolSpec
	MaxTokens int
}

// Usage counts tokens for one model invocation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another invocation's usage.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionChunk is one streamed fragment from a provider. Tool calls are
// delivered whole, after the provider has accumulated their argument deltas.
type CompletionChunk struct {
	Text         string
	Thinking     string
	ToolCall     *models.ToolCall
	Usage        *Usage
	FinishReason string
	Err          error
	Done         bool
}

// Provider is a streaming LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// EventType tags the events a turn emits.
type EventType int

const (
	// EventText is a fragment of assistant output text.
	EventText EventType = iota
	// EventThinking is a fragment of model reasoning text.
	EventThinking
	// EventToolCall announces a complete tool invocation.
	EventToolCall
	// EventToolResult carries the return value of an executed tool.
	EventToolResult
	// EventSuspended means the turn stopped on calls that need human input.
	EventSuspended
	// EventFinish means the turn produced a final answer.
	EventFinish
	// EventError means the turn failed; no further events follow.
	EventError
)

// ToolResult pairs a tool return with the call it answers.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
}

// StreamEvent is one element of a turn's event stream. Which fields are set
// depends on Type.
type StreamEvent struct {
	Type         EventType
	Text         string
	ToolCall     *models.ToolCall
	ToolResult   *ToolResult
	Pending      []models.PendingCall
	Usage        *Usage
	FinishReason string
	Err          error
}

// Resolution is the human input that resumes a suspended turn. Both maps are
// keyed by tool call id; approval values stay raw because clients send either
// booleans or {"approved": bool} objects.
type Resolution struct {
	Approvals   map[string]json.RawMessage
	ToolResults map[string]json.RawMessage
}

// toCompletionMessages flattens stored run history into provider messages.
// Thinking parts are internal and never sent back to the model.
func toCompletionMessages(history []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Kind {
		case models.KindRequest:
			for _, part := range msg.Parts {
				switch part.Kind {
				case models.PartUserText:
					out = append(out, CompletionMessage{Role: "user", Content: part.Text})
				case models.PartToolReturn:
					out = append(out, CompletionMessage{
						Role:       "tool",
						Content:    part.Content,
						ToolCallID: part.ToolCallID,
					})
				}
			}
		case models.KindResponse:
			cm := CompletionMessage{Role: "assistant"}
			for _, part := range msg.Parts {
				switch part.Kind {
				case models.PartAssistantText:
					cm.Content += part.Text
				case models.PartToolCall:
					cm.ToolCalls = append(cm.ToolCalls, models.ToolCall{
						ID:        part.ToolCallID,
						Name:      part.ToolName,
						Arguments: part.Arguments,
					})
				}
			}
			if cm.Content != "" || len(cm.ToolCalls) > 0 {
				out = append(out, cm)
			}
		}
	}
	return out
}
