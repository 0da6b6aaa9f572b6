package agent

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedProvider plays back canned completion streams in order, one per
// Complete call. It backs the adapter and runner tests, standing in for a
// live model.
type ScriptedProvider struct {
	mu      sync.Mutex
	scripts [][]*CompletionChunk
	calls   []*CompletionRequest
}

// NewScriptedProvider creates a provider that serves the given streams in
// order. A Complete call past the last script fails.
func NewScriptedProvider(scripts ...[]*CompletionChunk) *ScriptedProvider {
	return &ScriptedProvider{scripts: scripts}
}

func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Calls returns the completion requests observed so far.
func (p *ScriptedProvider) Calls() []*CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*CompletionRequest(nil), p.calls...)
}

func (p *ScriptedProvider) Complete(_ context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	if len(p.scripts) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(p.calls)-1)
	}
	script := p.scripts[0]
	p.scripts = p.scripts[1:]
	p.mu.Unlock()

	chunks := make(chan *CompletionChunk, len(script))
	for _, chunk := range script {
		chunks <- chunk
	}
	close(chunks)
	return chunks, nil
}

// TextScript builds a stream that emits the given fragments then stops.
func TextScript(fragments ...string) []*CompletionChunk {
	script := make([]*CompletionChunk, 0, len(fragments)+1)
	for _, fragment := range fragments {
		script = append(script, &CompletionChunk{Text: fragment})
	}
	return append(script, &CompletionChunk{FinishReason: "stop", Done: true})
}
