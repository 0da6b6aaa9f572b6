// Package adapter orchestrates a run: it reconciles client message lists,
// drives the agent runtime one turn at a time, and streams protocol chunks
// over SSE, suspending and resuming around human input.
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// Reconcile translates the client's flat message list (user/assistant/tool
// roles) into the ordered request/response history the runtime needs.
//
// Tool returns are re-homed to directly follow their tool call regardless of
// where the client placed them; assistant narrative around a call becomes
// its own response message. A tool call without a return, or a tool entry no
// call references, is a client input error.
func Reconcile(flat []protocol.UIMessage) ([]models.Message, error) {
	returns := make(map[string]string)
	for _, msg := range flat {
		if msg.Role != "tool" {
			continue
		}
		if msg.ToolCallID == "" {
			return nil, fmt.Errorf("tool message without toolCallId")
		}
		returns[msg.ToolCallID] = msg.Content
	}

	var history []models.Message
	consumed := make(map[string]bool)

	var userParts []models.Part
	flushUser := func() {
		if len(userParts) > 0 {
			history = append(history, models.Message{Kind: models.KindRequest, Parts: userParts})
			userParts = nil
		}
	}

	for _, msg := range flat {
		switch msg.Role {
		case "user":
			userParts = append(userParts, models.Part{Kind: models.PartUserText, Text: msg.Content})

		case "assistant":
			flushUser()
			if msg.Content != "" {
				history = append(history, models.NewAssistantMessage(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				content, ok := returns[call.ID]
				if !ok {
					return nil, fmt.Errorf("tool call %s has no matching tool return", call.ID)
				}
				history = append(history, models.Message{Kind: models.KindResponse, Parts: []models.Part{{
					Kind:       models.PartToolCall,
					ToolName:   call.Function.Name,
					ToolCallID: call.ID,
					Arguments:  json.RawMessage(call.Function.Arguments),
				}}})
				history = append(history, models.NewToolReturnMessage(call.Function.Name, call.ID, content))
				consumed[call.ID] = true
			}

		case "tool":
			// Re-homed via the returns index; unmatched entries are
			// rejected after the walk.

		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	flushUser()

	for _, msg := range flat {
		if msg.Role == "tool" && !consumed[msg.ToolCallID] {
			return nil, fmt.Errorf("tool return %s has no matching tool call", msg.ToolCallID)
		}
	}
	return history, nil
}

// trailingUserInput extracts the contiguous run of user entries at the tail
// of the flat list. When the run store already holds history for a run, this
// is the only part of the client list that counts.
func trailingUserInput(flat []protocol.UIMessage) []models.Message {
	start := len(flat)
	for start > 0 && flat[start-1].Role == "user" {
		start--
	}
	if start == len(flat) {
		return nil
	}
	parts := make([]models.Part, 0, len(flat)-start)
	for _, msg := range flat[start:] {
		parts = append(parts, models.Part{Kind: models.PartUserText, Text: msg.Content})
	}
	return []models.Message{{Kind: models.KindRequest, Parts: parts}}
}
