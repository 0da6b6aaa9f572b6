package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kzinmr/tanstack-ai-demo/internal/tools"
	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

type stubTool struct {
	name       string
	approval   bool
	clientSide bool
	outcome    tools.Outcome
	executed   int
	lastArgs   json.RawMessage
}

func (t *stubTool) Name() string                 { return t.name }
func (t *stubTool) Description() string          { return "stub tool for tests" }
func (t *stubTool) Schema() json.RawMessage      { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) RequiresApproval() bool       { return t.approval }
func (t *stubTool) ClientSide() bool             { return t.clientSide }
func (t *stubTool) Execute(_ context.Context, _ *tools.Deps, args json.RawMessage) tools.Outcome {
	t.executed++
	t.lastArgs = args
	return t.outcome
}

func collectEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []StreamEvent) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func userHistory(text string) []models.Message {
	return []models.Message{models.NewUserMessage(text)}
}

func TestRunTurnPlainText(t *testing.T) {
	provider := NewScriptedProvider(TextScript("Hello", " there"))
	runner := NewRunner(provider, tools.NewRegistry(), nil)

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("hi"), nil, nil))

	if len(events) != 3 {
		t.Fatalf("events = %v, want text, text, finish", eventTypes(events))
	}
	if events[0].Type != EventText || events[0].Text != "Hello" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[2].Type != EventFinish || events[2].FinishReason != "stop" {
		t.Fatalf("last event = %+v", events[2])
	}
}

func TestRunTurnExecutesServerTool(t *testing.T) {
	tool := &stubTool{name: "lookup", outcome: tools.Completed("found 3 rows")}
	provider := NewScriptedProvider(
		[]*CompletionChunk{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}},
			{FinishReason: "tool_calls", Done: true},
		},
		TextScript("All done."),
	)
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("look it up"), nil, nil))

	want := []EventType{EventToolCall, EventToolResult, EventText, EventFinish}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if tool.executed != 1 || string(tool.lastArgs) != `{"q":"x"}` {
		t.Fatalf("tool executed %d times with args %s", tool.executed, tool.lastArgs)
	}
	if events[1].ToolResult.Content != "found 3 rows" {
		t.Fatalf("tool result = %+v", events[1].ToolResult)
	}

	// The second model call must see the tool return.
	calls := provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Fatalf("last message to model = %+v, want the tool return", last)
	}
}

type panickingTool struct{}

func (t *panickingTool) Name() string            { return "explode" }
func (t *panickingTool) Description() string     { return "panics when executed" }
func (t *panickingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *panickingTool) RequiresApproval() bool  { return false }
func (t *panickingTool) ClientSide() bool        { return false }
func (t *panickingTool) Execute(_ context.Context, _ *tools.Deps, _ json.RawMessage) tools.Outcome {
	panic("nil pointer in tool")
}

func TestRunTurnToolPanicBecomesError(t *testing.T) {
	provider := NewScriptedProvider(
		[]*CompletionChunk{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "explode", Arguments: json.RawMessage(`{}`)}},
			{FinishReason: "tool_calls", Done: true},
		},
	)
	runner := NewRunner(provider, tools.NewRegistry(&panickingTool{}), nil)

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("boom"), nil, nil))

	last := events[len(events)-1]
	if last.Type != EventError || last.Err == nil {
		t.Fatalf("last event = %+v, want a terminal error", last)
	}
	if !strings.Contains(last.Err.Error(), "nil pointer in tool") {
		t.Fatalf("error = %v, want the panic message", last.Err)
	}
}

func TestRunTurnSuspendsOnApproval(t *testing.T) {
	tool := &stubTool{name: "dangerous", approval: true, outcome: tools.Completed("ran")}
	provider := NewScriptedProvider(
		[]*CompletionChunk{
			{Text: "Let me run that."},
			{ToolCall: &models.ToolCall{ID: "call-9", Name: "dangerous", Arguments: json.RawMessage(`{}`)}},
			{FinishReason: "tool_calls", Done: true},
		},
	)
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("do it"), nil, nil))

	last := events[len(events)-1]
	if last.Type != EventSuspended {
		t.Fatalf("last event = %+v, want suspension", last)
	}
	if len(last.Pending) != 1 {
		t.Fatalf("pending = %+v, want one call", last.Pending)
	}
	pc := last.Pending[0]
	if !pc.RequiresApproval || pc.ToolCallID != "call-9" || pc.ApprovalID != "call-9" {
		t.Fatalf("pending call = %+v", pc)
	}
	if tool.executed != 0 {
		t.Fatal("approval-gated tool ran without approval")
	}
}

func TestRunTurnResumesAfterApproval(t *testing.T) {
	tool := &stubTool{name: "dangerous", approval: true, outcome: tools.Completed("executed fine")}
	provider := NewScriptedProvider(TextScript("Done."))
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	pending := []models.PendingCall{{
		ToolCallID:       "call-9",
		ToolName:         "dangerous",
		Arguments:        json.RawMessage(`{"sql":"SELECT 1"}`),
		RequiresApproval: true,
		ApprovalID:       "call-9",
	}}
	resolution := &Resolution{Approvals: map[string]json.RawMessage{
		"call-9": json.RawMessage("true"),
	}}

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("do it"), pending, resolution))

	if events[0].Type != EventToolResult || events[0].ToolResult.Content != "executed fine" {
		t.Fatalf("first event = %+v, want the executed tool result", events[0])
	}
	if events[len(events)-1].Type != EventFinish {
		t.Fatalf("last event = %+v, want finish", events[len(events)-1])
	}
	if tool.executed != 1 || string(tool.lastArgs) != `{"sql":"SELECT 1"}` {
		t.Fatalf("tool executed %d times with args %s", tool.executed, tool.lastArgs)
	}
}

func TestRunTurnDenialFeedsModel(t *testing.T) {
	tool := &stubTool{name: "dangerous", approval: true, outcome: tools.Completed("ran")}
	provider := NewScriptedProvider(TextScript("Understood, not running it."))
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	pending := []models.PendingCall{{
		ToolCallID:       "call-9",
		ToolName:         "dangerous",
		RequiresApproval: true,
		ApprovalID:       "call-9",
	}}
	resolution := &Resolution{Approvals: map[string]json.RawMessage{
		"call-9": json.RawMessage("false"),
	}}

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("do it"), pending, resolution))

	if events[0].Type != EventToolResult || !strings.Contains(strings.ToLower(events[0].ToolResult.Content), "denied") {
		t.Fatalf("first event = %+v, want denial tool result", events[0])
	}
	if tool.executed != 0 {
		t.Fatal("denied tool must not execute")
	}
	if events[len(events)-1].Type != EventFinish {
		t.Fatalf("last event = %+v, want finish after model reacts", events[len(events)-1])
	}
}

func TestRunTurnStructuredApprovalObject(t *testing.T) {
	tool := &stubTool{name: "dangerous", approval: true, outcome: tools.Completed("ran")}
	provider := NewScriptedProvider(TextScript("Done."))
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	pending := []models.PendingCall{{
		ToolCallID:       "call-9",
		ToolName:         "dangerous",
		RequiresApproval: true,
	}}
	resolution := &Resolution{Approvals: map[string]json.RawMessage{
		"call-9": json.RawMessage(`{"approved":true}`),
	}}

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("do it"), pending, resolution))

	if tool.executed != 1 {
		t.Fatalf("tool executed %d times, want 1", tool.executed)
	}
	if events[0].Type != EventToolResult || events[0].ToolResult.Content != "ran" {
		t.Fatalf("first event = %+v", events[0])
	}
}

func TestRunTurnClientResultContinues(t *testing.T) {
	provider := NewScriptedProvider(TextScript("Saved your file."))
	runner := NewRunner(provider, tools.NewRegistry(), nil)

	pending := []models.PendingCall{{
		ToolCallID: "call-7",
		ToolName:   "export_csv",
		ClientSide: true,
	}}
	resolution := &Resolution{ToolResults: map[string]json.RawMessage{
		"call-7": json.RawMessage(`{"filename":"result.csv","rowCount":100}`),
	}}

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("export it"), pending, resolution))

	if events[0].Type != EventToolResult {
		t.Fatalf("first event = %+v, want client tool result", events[0])
	}
	if !strings.Contains(events[0].ToolResult.Content, "result.csv") {
		t.Fatalf("tool result content = %q", events[0].ToolResult.Content)
	}
	if events[len(events)-1].Type != EventFinish {
		t.Fatalf("last event = %+v", events[len(events)-1])
	}
}

func TestRunTurnApprovedDeferredSuspendsForClient(t *testing.T) {
	tool := &stubTool{name: "export_csv", approval: true, clientSide: true, outcome: tools.Deferred()}
	provider := NewScriptedProvider()
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	pending := []models.PendingCall{{
		ToolCallID:       "call-7",
		ToolName:         "export_csv",
		RequiresApproval: true,
		ClientSide:       true,
	}}
	resolution := &Resolution{Approvals: map[string]json.RawMessage{
		"call-7": json.RawMessage("true"),
	}}

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("export it"), pending, resolution))

	last := events[len(events)-1]
	if last.Type != EventSuspended {
		t.Fatalf("last event = %+v, want suspension for client execution", last)
	}
	pc := last.Pending[0]
	if !pc.ClientSide || pc.RequiresApproval {
		t.Fatalf("pending after approval = %+v, want pure client-side call", pc)
	}
	if len(provider.Calls()) != 0 {
		t.Fatal("model must not be consulted while the client executes")
	}
}

func TestRunTurnUnresolvedPendingSuspendsAgain(t *testing.T) {
	provider := NewScriptedProvider()
	runner := NewRunner(provider, tools.NewRegistry(), nil)

	pending := []models.PendingCall{{
		ToolCallID:       "call-1",
		ToolName:         "dangerous",
		RequiresApproval: true,
	}}

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("do it"), pending, &Resolution{}))

	if len(events) != 1 || events[0].Type != EventSuspended {
		t.Fatalf("events = %v, want a single suspension", eventTypes(events))
	}
	if len(provider.Calls()) != 0 {
		t.Fatal("model must not run while input is still missing")
	}
}

func TestRunTurnStreamErrorIsTerminal(t *testing.T) {
	provider := NewScriptedProvider([]*CompletionChunk{
		{Text: "partial"},
		{Err: errors.New("connection reset"), Done: true},
	})
	runner := NewRunner(provider, tools.NewRegistry(), nil)

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("hi"), nil, nil))

	last := events[len(events)-1]
	if last.Type != EventError || last.Err == nil {
		t.Fatalf("last event = %+v, want terminal error", last)
	}
	if events[0].Type != EventText {
		t.Fatalf("first event = %+v, partial text should still stream", events[0])
	}
}

func TestRunTurnAggregatesUsage(t *testing.T) {
	tool := &stubTool{name: "lookup", outcome: tools.Completed("ok")}
	provider := NewScriptedProvider(
		[]*CompletionChunk{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "lookup"}},
			{Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
			{FinishReason: "tool_calls", Done: true},
		},
		[]*CompletionChunk{
			{Text: "Done."},
			{Usage: &Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27}},
			{FinishReason: "stop", Done: true},
		},
	)
	runner := NewRunner(provider, tools.NewRegistry(tool), nil)

	events := collectEvents(t, runner.RunTurn(context.Background(), &tools.Deps{}, "test-model",
		userHistory("go"), nil, nil))

	last := events[len(events)-1]
	if last.Type != EventFinish || last.Usage == nil {
		t.Fatalf("last event = %+v, want finish with usage", last)
	}
	if last.Usage.TotalTokens != 42 || last.Usage.PromptTokens != 30 {
		t.Fatalf("usage = %+v, want both invocations summed", last.Usage)
	}
}
