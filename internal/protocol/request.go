package protocol

import (
	"encoding/json"
	"fmt"
)

// UIToolCall is the tool call descriptor a client attaches to an assistant
// message in its flat message list.
type UIToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// UIMessage is one entry of the client's flat message list.
//
// Roles are user, assistant, and tool. An assistant entry may declare tool
// calls; a tool entry carries the matching toolCallId back-reference.
type UIMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content,omitempty"`
	ToolCalls  []UIToolCall `json:"toolCalls,omitempty"`
	ToolCallID string       `json:"toolCallId,omitempty"`
	Name       string       `json:"name,omitempty"`
}

// ChatRequest is the body of both the start-or-continue call and the
// continuation push. Approval values may be booleans or structured objects,
// so they are kept raw until resolution time.
type ChatRequest struct {
	Messages    []UIMessage                `json:"messages,omitempty"`
	RunID       string                     `json:"run_id,omitempty"`
	Model       string                     `json:"model,omitempty"`
	Approvals   map[string]json.RawMessage `json:"approvals,omitempty"`
	ToolResults map[string]json.RawMessage `json:"tool_results,omitempty"`
}

// ParseChatRequest decodes a request body.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse chat request: %w", err)
	}
	return &req, nil
}

// HasContinuationInput reports whether the request carries anything that can
// resolve a pending tool call.
func (r *ChatRequest) HasContinuationInput() bool {
	return len(r.Approvals) > 0 || len(r.ToolResults) > 0
}

// ApprovalGranted interprets a raw approval value. Booleans are taken as-is;
// structured values are approved when they carry "approved": true. Anything
// unparseable counts as a denial.
func ApprovalGranted(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag
	}
	var structured struct {
		Approved bool `json:"approved"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil {
		return structured.Approved
	}
	return false
}
