// Package protocol defines the wire chunk format streamed to browser
// clients and its SSE line framing.
package protocol

import (
	"encoding/json"
	"time"
)

// ChunkType tags a chunk variant.
type ChunkType string

const (
	ChunkContent            ChunkType = "content"
	ChunkThinking           ChunkType = "thinking"
	ChunkToolCall           ChunkType = "tool_call"
	ChunkToolInputAvailable ChunkType = "tool-input-available"
	ChunkApprovalRequested  ChunkType = "approval-requested"
	ChunkToolResult         ChunkType = "tool_result"
	ChunkError              ChunkType = "error"
	ChunkDone               ChunkType = "done"
)

// ToolCallFunction is the function half of a tool_call chunk payload.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallPayload mirrors the client-side tool call descriptor.
type ToolCallPayload struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ApprovalInfo carries the identifier the client must echo back when
// approving or denying a gated tool call.
type ApprovalInfo struct {
	ID string `json:"id"`
}

// ErrorPayload is the body of an error chunk.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Usage is aggregate token accounting for a turn. Provider field naming
// varies, so all fields are best effort and the whole struct is omitted
// when nothing was reported.
type Usage struct {
	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
	TotalTokens      int `json:"totalTokens,omitempty"`
}

// Chunk is one discrete, typed event in the output protocol. Chunks are
// write-once: built, serialized, and never revised.
//
// Every chunk carries the run id, the model name, and a millisecond
// timestamp. The remaining fields are populated per variant.
type Chunk struct {
	Type      ChunkType `json:"type"`
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Timestamp int64     `json:"timestamp"`

	// content / thinking text, and the tool_result envelope string.
	Content string `json:"content,omitempty"`

	ToolCall *ToolCallPayload `json:"toolCall,omitempty"`

	// Deferred / approval-gated tool fields.
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Approval   *ApprovalInfo   `json:"approval,omitempty"`

	Error *ErrorPayload `json:"error,omitempty"`

	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// nowMillis is injectable for tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

func newChunk(t ChunkType, runID, model string) Chunk {
	return Chunk{Type: t, ID: runID, Model: model, Timestamp: nowMillis()}
}

// NewContentChunk builds an incremental assistant text chunk.
func NewContentChunk(runID, model, text string) Chunk {
	c := newChunk(ChunkContent, runID, model)
	c.Content = text
	return c
}

// NewThinkingChunk builds a reasoning trace chunk.
func NewThinkingChunk(runID, model, text string) Chunk {
	c := newChunk(ChunkThinking, runID, model)
	c.Content = text
	return c
}

// NewToolCallChunk announces that a tool invocation has been decided.
func NewToolCallChunk(runID, model, toolCallID, toolName string, arguments json.RawMessage) Chunk {
	c := newChunk(ChunkToolCall, runID, model)
	c.ToolCall = &ToolCallPayload{
		ID: toolCallID,
		Function: ToolCallFunction{
			Name:      toolName,
			Arguments: string(arguments),
		},
	}
	return c
}

// NewToolInputAvailableChunk announces a client-executed tool's input.
func NewToolInputAvailableChunk(runID, model, toolCallID, toolName string, input json.RawMessage) Chunk {
	c := newChunk(ChunkToolInputAvailable, runID, model)
	c.ToolCallID = toolCallID
	c.ToolName = toolName
	c.Input = input
	return c
}

// NewApprovalRequestedChunk announces a tool call awaiting human sign-off.
func NewApprovalRequestedChunk(runID, model, toolCallID, toolName, approvalID string, input json.RawMessage) Chunk {
	c := newChunk(ChunkApprovalRequested, runID, model)
	c.ToolCallID = toolCallID
	c.ToolName = toolName
	c.Approval = &ApprovalInfo{ID: approvalID}
	c.Input = input
	return c
}

// NewToolResultChunk carries the outcome of a tool invocation. content is
// expected to be a serialized ResultEnvelope but free text is tolerated.
func NewToolResultChunk(runID, model, toolCallID, content string) Chunk {
	c := newChunk(ChunkToolResult, runID, model)
	c.ToolCallID = toolCallID
	c.Content = content
	return c
}

// NewErrorChunk surfaces a failure to the client.
func NewErrorChunk(runID, model, message string) Chunk {
	c := newChunk(ChunkError, runID, model)
	c.Error = &ErrorPayload{Message: message}
	return c
}

// NewDoneChunk marks the end of a turn.
func NewDoneChunk(runID, model, finishReason string, usage *Usage) Chunk {
	c := newChunk(ChunkDone, runID, model)
	c.FinishReason = finishReason
	c.Usage = usage
	return c
}
