// Package providers contains concrete LLM backends for the agent runtime.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kzinmr/tanstack-ai-demo/internal/agent"
	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// OpenAIProvider streams chat completions from OpenAI-compatible endpoints.
//
// Tool calls arrive incrementally on the wire (id and name first, argument
// JSON in fragments) and are accumulated here; callers only ever see whole
// calls. Transient failures (rate limits, 5xx, timeouts) are retried with
// linear backoff before the stream starts.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a provider. An empty apiKey defers the failure
// to the first Complete call so the server can boot without credentials.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	p := &OpenAIProvider{
		maxRetries: 3,
		retryDelay: time.Second,
	}
	if apiKey == "" {
		return p
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete starts a streaming completion and returns the chunk channel. The
// returned error covers request construction and connection failures only;
// mid-stream failures arrive as chunks with Err set.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("OpenAI API key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls accumulate by index until the finish reason flips to
	// tool_calls or the stream ends.
	toolCalls := make(map[int]*models.ToolCall)
	flushToolCalls := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
			chunks <- &agent.CompletionChunk{Err: err, Done: true}
			return
		}

		if response.Usage != nil {
			chunks <- &agent.CompletionChunk{Usage: &agent.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Arguments = append(toolCalls[index].Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason != "" {
			if choice.FinishReason == openai.FinishReasonToolCalls {
				flushToolCalls()
			}
			chunks <- &agent.CompletionChunk{FinishReason: string(choice.FinishReason)}
		}
	}
}

func convertMessages(req *agent.CompletionRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "tool":
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertTools(specs []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
