package protocol

import (
	"encoding/json"
	"fmt"
)

// EnvelopeVersion is the current tool result envelope version.
const EnvelopeVersion = 1

// ArtifactSummary references a stored artifact from a tool result.
type ArtifactSummary struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	RowCount int    `json:"row_count"`
}

// ResultEnvelope is the structured content of a tool_result chunk. Wrapping
// results lets the UI distinguish structured outcomes from free text without
// brittle string parsing.
type ResultEnvelope struct {
	Type      string            `json:"type"`
	Version   int               `json:"version"`
	Message   string            `json:"message"`
	Artifacts []ArtifactSummary `json:"artifacts,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
}

// NewResultEnvelope builds an envelope with the standard tag and version.
func NewResultEnvelope(message string, artifacts ...ArtifactSummary) ResultEnvelope {
	return ResultEnvelope{
		Type:      "tool_result",
		Version:   EnvelopeVersion,
		Message:   message,
		Artifacts: artifacts,
	}
}

// Encode serializes the envelope for embedding in a tool return.
func (e ResultEnvelope) Encode() string {
	payload, err := json.Marshal(e)
	if err != nil {
		// The envelope only holds strings and ints; marshal cannot fail in
		// practice, but degrade to the bare message rather than lose it.
		return e.Message
	}
	return string(payload)
}

// ParseResultEnvelope decodes an envelope, rejecting content that does not
// carry the expected tag.
func ParseResultEnvelope(content string) (*ResultEnvelope, error) {
	var env ResultEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, fmt.Errorf("parse tool result envelope: %w", err)
	}
	if env.Type != "tool_result" {
		return nil, fmt.Errorf("unexpected envelope type %q", env.Type)
	}
	return &env, nil
}
