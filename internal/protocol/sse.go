package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// DoneSentinel terminates a logical stream. It is a literal line, not a
// chunk, and must never be parsed as JSON by clients.
const DoneSentinel = "data: [DONE]\n\n"

// SSEHeaders are the response headers for a chunk stream.
var SSEHeaders = map[string]string{
	"Content-Type":  "text/event-stream",
	"Cache-Control": "no-cache",
	"Connection":    "keep-alive",
}

// EncodeChunk serializes a chunk as one SSE event line pair.
func EncodeChunk(c Chunk) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk: %w", err)
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}

// WriteChunk frames and writes a single chunk.
func WriteChunk(w io.Writer, c Chunk) error {
	frame, err := EncodeChunk(c)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return nil
}

// WriteDoneSentinel writes the stream terminator.
func WriteDoneSentinel(w io.Writer) error {
	if _, err := io.WriteString(w, DoneSentinel); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return nil
}

// WriteComment writes an SSE comment line. Clients ignore comment lines, so
// this is used as a keepalive while a run waits on human input.
func WriteComment(w io.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	return nil
}
