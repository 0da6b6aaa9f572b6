// Package continuation provides the per-run mailbox that lets a streaming
// request suspend on human input and be woken by a separate HTTP call,
// without closing the SSE connection.
package continuation

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Payload carries the human input that resumes a suspended run: approval
// decisions and client-side tool results, both keyed by tool call id.
// Approval values may be booleans or structured objects, so they stay raw.
type Payload struct {
	Approvals   map[string]json.RawMessage `json:"approvals,omitempty"`
	ToolResults map[string]json.RawMessage `json:"tool_results,omitempty"`
}

// Empty reports whether the payload carries nothing actionable.
func (p Payload) Empty() bool {
	return len(p.Approvals) == 0 && len(p.ToolResults) == 0
}

// mailboxSize bounds the per-run queue. Continuations are human-paced, so
// anything beyond a handful of undelivered payloads is a client bug.
const mailboxSize = 16

// Hub is the process-wide registry of per-run mailboxes. The map lock is
// held only while creating or fetching a mailbox, never across a wait.
type Hub struct {
	mu    sync.Mutex
	boxes map[string]chan Payload
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{boxes: make(map[string]chan Payload)}
}

func (h *Hub) mailbox(runID string) chan Payload {
	h.mu.Lock()
	defer h.mu.Unlock()
	box, ok := h.boxes[runID]
	if !ok {
		box = make(chan Payload, mailboxSize)
		h.boxes[runID] = box
	}
	return box
}

// Wait suspends until a non-empty payload arrives for the run, the timeout
// elapses, or ctx is cancelled. It returns ok=false on timeout or
// cancellation so the caller can emit a keepalive and wait again. Empty
// payloads are noise and are discarded without waking the turn.
func (h *Hub) Wait(ctx context.Context, runID string, timeout time.Duration) (Payload, bool) {
	box := h.mailbox(runID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case payload := <-box:
			if payload.Empty() {
				continue
			}
			return payload, true
		case <-timer.C:
			return Payload{}, false
		case <-ctx.Done():
			return Payload{}, false
		}
	}
}

// Push enqueues a payload for a waiting (or future) consumer. It never
// blocks; if the mailbox is somehow full the payload is dropped, which a
// well-behaved client can only cause by flooding duplicates.
func (h *Hub) Push(runID string, payload Payload) {
	box := h.mailbox(runID)
	select {
	case box <- payload:
	default:
	}
}

// Clear drops the run's mailbox to bound memory once a run terminates.
func (h *Hub) Clear(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.boxes, runID)
}
