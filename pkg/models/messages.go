// Package models defines the shared domain types exchanged between the run
// store, the agent runtime, and the streaming adapter.
package models

import (
	"encoding/json"
	"time"
)

// MessageKind distinguishes the two directions of model traffic.
type MessageKind string

const (
	// KindRequest is input sent to the model: user text and tool returns.
	KindRequest MessageKind = "request"
	// KindResponse is output produced by the model: text and tool calls.
	KindResponse MessageKind = "response"
)

// PartKind identifies the payload carried by a message part.
type PartKind string

const (
	PartUserText      PartKind = "user_text"
	PartAssistantText PartKind = "assistant_text"
	PartThinking      PartKind = "thinking"
	PartToolCall      PartKind = "tool_call"
	PartToolReturn    PartKind = "tool_return"
)

// Part is one ordered element of a message.
//
// Exactly one of Text / (ToolName, ToolCallID, Arguments) /
// (ToolName, ToolCallID, Content) is meaningful depending on Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text carries user, assistant, or thinking text.
	Text string `json:"text,omitempty"`

	// Tool call and tool return fields.
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Content    string          `json:"content,omitempty"`
}

// Message is one entry of a run's ordered history.
//
// The downstream runtime requires that every tool_call part is immediately
// followed, in the message sequence, by a request message carrying the
// matching tool_return. The reconciler in the adapter package repairs client
// input to satisfy this before the history is used.
type Message struct {
	Kind  MessageKind `json:"kind"`
	Parts []Part      `json:"parts"`
}

// NewUserMessage builds a request message holding a single user text part.
func NewUserMessage(text string) Message {
	return Message{Kind: KindRequest, Parts: []Part{{Kind: PartUserText, Text: text}}}
}

// NewToolReturnMessage builds a request message holding a single tool return.
func NewToolReturnMessage(toolName, toolCallID, content string) Message {
	return Message{Kind: KindRequest, Parts: []Part{{
		Kind:       PartToolReturn,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Content:    content,
	}}}
}

// NewAssistantMessage builds a response message holding assistant text.
func NewAssistantMessage(text string) Message {
	return Message{Kind: KindResponse, Parts: []Part{{Kind: PartAssistantText, Text: text}}}
}

// ToolCall describes a tool invocation decided by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// PendingCall is a deferred tool call awaiting human approval or a
// client-side execution result. A set of these is what a suspended turn
// leaves behind in the run store.
type PendingCall struct {
	ToolCallID       string          `json:"tool_call_id"`
	ToolName         string          `json:"tool_name"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	ClientSide       bool            `json:"client_side"`

	// ApprovalID is the identifier the client echoes back in the approvals
	// map. It is derived from the tool call id at suspension time.
	ApprovalID string `json:"approval_id,omitempty"`
}

// RunState is everything persisted for one run between requests.
type RunState struct {
	Messages    []Message     `json:"messages"`
	Pending     []PendingCall `json:"pending,omitempty"`
	Model       string        `json:"model,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Clone returns a deep copy so store internals never alias caller state.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	out := &RunState{
		Model:       s.Model,
		LastUpdated: s.LastUpdated,
	}
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			cp := Message{Kind: m.Kind, Parts: make([]Part, len(m.Parts))}
			copy(cp.Parts, m.Parts)
			out.Messages[i] = cp
		}
	}
	if s.Pending != nil {
		out.Pending = make([]PendingCall, len(s.Pending))
		copy(out.Pending, s.Pending)
	}
	return out
}

// PendingByID returns the pending call with the given tool call id, or nil.
func (s *RunState) PendingByID(toolCallID string) *PendingCall {
	for i := range s.Pending {
		if s.Pending[i].ToolCallID == toolCallID {
			return &s.Pending[i]
		}
	}
	return nil
}
