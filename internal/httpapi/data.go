package httpapi

import (
	"fmt"
	"net/http"
)

// handleData serves a stored artifact. mode=preview (the default) returns
// the capped preview as JSON; mode=download returns a time-limited fetch
// descriptor when the backend offers one and otherwise falls back to the
// inline preview.
func (h *Handler) handleData(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	artifactID := r.PathValue("artifact_id")
	ctx := r.Context()

	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "preview":
		preview, err := h.config.Artifacts.GetPreview(ctx, runID, artifactID)
		if err != nil {
			h.logger.Error("artifact preview", "run_id", runID, "artifact_id", artifactID, "error", err)
			h.jsonError(w, "failed to load artifact", http.StatusInternalServerError)
			return
		}
		if preview == nil {
			h.jsonError(w, "artifact not found", http.StatusNotFound)
			return
		}
		h.jsonResponse(w, preview)

	case "download":
		h.handleDownload(w, r, runID, artifactID)

	default:
		h.jsonError(w, fmt.Sprintf("unknown mode %q", mode), http.StatusBadRequest)
	}
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, runID, artifactID string) {
	ctx := r.Context()

	download, err := h.config.Artifacts.GetDownload(ctx, runID, artifactID)
	if err != nil {
		h.logger.Error("artifact download", "run_id", runID, "artifact_id", artifactID, "error", err)
		h.jsonError(w, "failed to load artifact", http.StatusInternalServerError)
		return
	}
	if download != nil {
		h.jsonResponse(w, download)
		return
	}

	// No presigned URL backend; serve the preview inline.
	preview, err := h.config.Artifacts.GetPreview(ctx, runID, artifactID)
	if err != nil {
		h.logger.Error("artifact preview", "run_id", runID, "artifact_id", artifactID, "error", err)
		h.jsonError(w, "failed to load artifact", http.StatusInternalServerError)
		return
	}
	if preview == nil {
		h.jsonError(w, "artifact not found", http.StatusNotFound)
		return
	}
	h.jsonResponse(w, preview)
}
