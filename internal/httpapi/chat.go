package httpapi

import (
	"io"
	"net/http"

	"github.com/kzinmr/tanstack-ai-demo/internal/continuation"
	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
)

// maxBodyBytes bounds request bodies; message lists are small.
const maxBodyBytes = 1 << 20

// handleChat starts or continues a run and streams the chunk protocol.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	h.streamChat(w, r, body)
}

// handleChatContinue resumes a suspended run with approvals or client tool
// results. Unlike /api/chat, protocol misuse is rejected synchronously
// before any stream starts.
func (h *Handler) handleChatContinue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := protocol.ParseChatRequest(body)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		h.jsonError(w, "continuation requires run_id", http.StatusBadRequest)
		return
	}
	if !req.HasContinuationInput() {
		h.jsonError(w, "continuation requires approvals or tool_results", http.StatusBadRequest)
		return
	}

	state, err := h.config.Store.Get(r.Context(), req.RunID)
	if err != nil {
		h.jsonError(w, "failed to load run state", http.StatusInternalServerError)
		return
	}
	if state == nil {
		h.jsonError(w, "unknown run", http.StatusNotFound)
		return
	}
	if len(state.Pending) == 0 {
		h.jsonError(w, "run has no pending tool calls", http.StatusConflict)
		return
	}

	h.streamChat(w, r, body)
}

// handleChatResume delivers human input to a run waiting on the same SSE
// connection and acknowledges without streaming.
func (h *Handler) handleChatResume(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := protocol.ParseChatRequest(body)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		h.jsonError(w, "resume requires run_id", http.StatusBadRequest)
		return
	}
	if !req.HasContinuationInput() {
		h.jsonError(w, "resume requires approvals or tool_results", http.StatusBadRequest)
		return
	}

	h.config.Hub.Push(req.RunID, continuation.Payload{
		Approvals:   req.Approvals,
		ToolResults: req.ToolResults,
	})
	h.jsonResponse(w, map[string]string{"status": "accepted", "run_id": req.RunID})
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, body []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for key, value := range protocol.SSEHeaders {
		w.Header().Set(key, value)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.config.Adapter.Stream(r.Context(), w, flusher.Flush, body)
}
