package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kzinmr/tanstack-ai-demo/internal/agent"
	"github.com/kzinmr/tanstack-ai-demo/internal/artifacts"
	"github.com/kzinmr/tanstack-ai-demo/internal/continuation"
	"github.com/kzinmr/tanstack-ai-demo/internal/observability"
	"github.com/kzinmr/tanstack-ai-demo/internal/protocol"
	"github.com/kzinmr/tanstack-ai-demo/internal/runstore"
	"github.com/kzinmr/tanstack-ai-demo/internal/tools"
	"github.com/kzinmr/tanstack-ai-demo/pkg/models"
)

// Options tune the adapter's streaming behavior.
type Options struct {
	// DefaultModel is used when neither the request nor stored state names
	// a model.
	DefaultModel string

	// MaxSQLLimit caps (and backfills) the LIMIT of executed queries.
	MaxSQLLimit int

	// HubWaitEnabled keeps the SSE connection open across an approval
	// suspension, waiting on the continuation hub instead of ending the
	// stream. When disabled, suspended runs resume via a later request.
	HubWaitEnabled bool

	// HubWaitTimeout bounds each individual hub wait; on timeout a
	// keepalive comment is written and the wait repeats.
	HubWaitTimeout time.Duration

	// Metrics receives stream instrumentation. When nil an unregistered
	// set is used so callers without Prometheus lose nothing.
	Metrics *observability.Metrics
}

// Adapter drives a whole run over one SSE connection. Whatever happens, the
// byte stream it writes ends with the [DONE] sentinel; failure paths emit an
// error chunk and a done chunk first.
type Adapter struct {
	runner    *agent.Runner
	store     runstore.Store
	hub       *continuation.Hub
	artifacts artifacts.Store
	db        *sql.DB
	opts      Options
	logger    *slog.Logger
}

// New creates an adapter over the given collaborators.
func New(
	runner *agent.Runner,
	store runstore.Store,
	hub *continuation.Hub,
	artifactStore artifacts.Store,
	database *sql.DB,
	opts Options,
	logger *slog.Logger,
) *Adapter {
	if opts.HubWaitTimeout <= 0 {
		opts.HubWaitTimeout = 15 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsWith(prometheus.NewRegistry())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		runner:    runner,
		store:     store,
		hub:       hub,
		artifacts: artifactStore,
		db:        database,
		opts:      opts,
		logger:    logger,
	}
}

// Stream handles one chat request body end to end, writing the chunk stream
// to w. flush is called after every write so chunks reach the client as they
// are produced.
func (a *Adapter) Stream(ctx context.Context, w io.Writer, flush func(), body []byte) {
	start := time.Now()
	streamOutcome := "failed"
	a.opts.Metrics.ActiveStreams.Inc()
	defer func() {
		a.opts.Metrics.ActiveStreams.Dec()
		a.opts.Metrics.RecordStream(streamOutcome, time.Since(start).Seconds())
	}()

	model := a.opts.DefaultModel

	req, err := protocol.ParseChatRequest(body)
	if err != nil {
		// No run exists yet; fail with a synthesized id so the client
		// still sees a well-formed terminal sequence.
		a.failStream(w, flush, uuid.NewString(), model, err.Error())
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if req.Model != "" {
		model = req.Model
	}

	state, err := a.store.Get(ctx, runID)
	if err != nil {
		a.failStream(w, flush, runID, model, err.Error())
		return
	}

	var history []models.Message
	var pending []models.PendingCall
	if state != nil {
		// Stored history is authoritative; the client list only counts
		// for new trailing input.
		history = state.Messages
		pending = state.Pending
		if req.Model == "" && state.Model != "" {
			model = state.Model
		}
		history = append(history, trailingUserInput(req.Messages)...)
	} else {
		history, err = Reconcile(req.Messages)
		if err != nil {
			a.failStream(w, flush, runID, model, err.Error())
			return
		}
	}

	a.recordApprovals(req.Approvals)
	resolution := &agent.Resolution{
		Approvals:   req.Approvals,
		ToolResults: req.ToolResults,
	}
	deps := &tools.Deps{
		DB:          a.db,
		RunID:       runID,
		Artifacts:   a.artifacts,
		MaxSQLLimit: a.opts.MaxSQLLimit,
	}
	transformer := NewTransformer(runID, model)
	builder := &historyBuilder{messages: history}

	for {
		events := a.runner.RunTurn(ctx, deps, model, builder.messages, pending, resolution)

		outcome, suspended := a.pipeTurn(events, transformer, builder, w, flush)
		builder.closeResponse()

		switch outcome {
		case TurnFinished:
			streamOutcome = "finished"
			a.persistFinished(ctx, runID, model, builder.messages)
			a.hub.Clear(runID)
			a.endStream(w, flush)
			return

		case TurnFailed:
			// Chunks for error+done were already written by the turn
			// pipe; keep what progress we have and release the mailbox.
			a.persistFinished(ctx, runID, model, builder.messages)
			a.hub.Clear(runID)
			a.endStream(w, flush)
			return

		case TurnSuspended:
			a.persistSuspended(ctx, runID, model, builder.messages, suspended)
			if !a.opts.HubWaitEnabled {
				// The stream ends without a done chunk; the suspension
				// chunks tell the client what input the run now needs.
				streamOutcome = "suspended"
				a.endStream(w, flush)
				return
			}
			payload, ok := a.waitForContinuation(ctx, runID, w, flush)
			if !ok {
				streamOutcome = "suspended"
				a.endStream(w, flush)
				return
			}
			a.recordApprovals(payload.Approvals)
			pending = suspended
			resolution = &agent.Resolution{
				Approvals:   payload.Approvals,
				ToolResults: payload.ToolResults,
			}

		default:
			// The event channel closed without a terminal event; treat it
			// as a runtime failure so the framing contract still holds.
			a.failStream(w, flush, runID, model, "agent turn ended without a terminal event")
			return
		}
	}
}

// pipeTurn forwards one turn's events as chunks and folds them into the
// history builder. It returns the terminal outcome and, on suspension, the
// pending calls to persist.
func (a *Adapter) pipeTurn(
	events <-chan agent.StreamEvent,
	transformer *Transformer,
	builder *historyBuilder,
	w io.Writer,
	flush func(),
) (TurnOutcome, []models.PendingCall) {
	for ev := range events {
		chunks, outcome := transformer.Apply(ev)
		for _, chunk := range chunks {
			a.writeChunk(w, flush, chunk)
		}

		switch ev.Type {
		case agent.EventText:
			builder.appendText(ev.Text)
		case agent.EventThinking:
			builder.appendThinking(ev.Text)
		case agent.EventToolCall:
			builder.appendToolCall(*ev.ToolCall)
		case agent.EventToolResult:
			builder.appendToolReturn(ev.ToolResult.ToolName, ev.ToolResult.ToolCallID, ev.ToolResult.Content)
		}

		if ev.Type == agent.EventFinish && ev.Usage != nil {
			a.opts.Metrics.RecordTokens(transformer.model, ev.Usage.PromptTokens, ev.Usage.CompletionTokens)
		}
		if outcome != TurnContinue {
			return outcome, ev.Pending
		}
	}
	return TurnContinue, nil
}

// waitForContinuation loops on the hub until human input arrives, writing a
// keepalive comment on every timeout. It returns ok=false when the client
// context ends.
func (a *Adapter) waitForContinuation(ctx context.Context, runID string, w io.Writer, flush func()) (continuation.Payload, bool) {
	for {
		payload, ok := a.hub.Wait(ctx, runID, a.opts.HubWaitTimeout)
		if ok {
			return payload, true
		}
		if ctx.Err() != nil {
			return continuation.Payload{}, false
		}
		if err := protocol.WriteComment(w, "keepalive"); err != nil {
			return continuation.Payload{}, false
		}
		flush()
	}
}

func (a *Adapter) persistFinished(ctx context.Context, runID, model string, messages []models.Message) {
	if _, err := a.store.SetMessages(ctx, runID, messages, model); err != nil {
		a.logger.Error("persist run messages", "run_id", runID, "error", err)
	}
	if _, err := a.store.SetPending(ctx, runID, nil, model); err != nil {
		a.logger.Error("clear run pending", "run_id", runID, "error", err)
	}
}

func (a *Adapter) persistSuspended(ctx context.Context, runID, model string, messages []models.Message, pending []models.PendingCall) {
	if _, err := a.store.SetMessages(ctx, runID, messages, model); err != nil {
		a.logger.Error("persist run messages", "run_id", runID, "error", err)
	}
	if _, err := a.store.SetPending(ctx, runID, pending, model); err != nil {
		a.logger.Error("persist run pending", "run_id", runID, "error", err)
	}
}

// failStream emits the error+done+sentinel triple. Used for failures that
// happen before a turn can stream its own terminal chunks.
func (a *Adapter) failStream(w io.Writer, flush func(), runID, model, message string) {
	a.logger.Error("chat stream failed", "run_id", runID, "error", message)
	a.writeChunk(w, flush, protocol.NewErrorChunk(runID, model, message))
	a.writeChunk(w, flush, protocol.NewDoneChunk(runID, model, "error", nil))
	a.hub.Clear(runID)
	a.endStream(w, flush)
}

func (a *Adapter) writeChunk(w io.Writer, flush func(), chunk protocol.Chunk) {
	if err := protocol.WriteChunk(w, chunk); err != nil {
		a.logger.Warn("write chunk", "error", err)
		return
	}
	a.opts.Metrics.RecordChunk(string(chunk.Type))
	flush()
}

func (a *Adapter) recordApprovals(approvals map[string]json.RawMessage) {
	for _, raw := range approvals {
		a.opts.Metrics.RecordApproval(protocol.ApprovalGranted(raw))
	}
}

func (a *Adapter) endStream(w io.Writer, flush func()) {
	if err := protocol.WriteDoneSentinel(w); err != nil {
		a.logger.Warn("write sentinel", "error", err)
		return
	}
	flush()
}

// historyBuilder folds a turn's events back into persistable messages. An
// open response message accumulates text and tool call parts until a tool
// return or terminal event closes it.
type historyBuilder struct {
	messages []models.Message
	current  *models.Message
}

func (b *historyBuilder) response() *models.Message {
	if b.current == nil {
		b.current = &models.Message{Kind: models.KindResponse}
	}
	return b.current
}

func (b *historyBuilder) appendText(text string) {
	msg := b.response()
	if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Kind == models.PartAssistantText {
		msg.Parts[n-1].Text += text
		return
	}
	msg.Parts = append(msg.Parts, models.Part{Kind: models.PartAssistantText, Text: text})
}

func (b *historyBuilder) appendThinking(text string) {
	msg := b.response()
	if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Kind == models.PartThinking {
		msg.Parts[n-1].Text += text
		return
	}
	msg.Parts = append(msg.Parts, models.Part{Kind: models.PartThinking, Text: text})
}

func (b *historyBuilder) appendToolCall(call models.ToolCall) {
	msg := b.response()
	msg.Parts = append(msg.Parts, models.Part{
		Kind:       models.PartToolCall,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Arguments:  call.Arguments,
	})
}

func (b *historyBuilder) appendToolReturn(toolName, toolCallID, content string) {
	b.closeResponse()
	b.messages = append(b.messages, models.NewToolReturnMessage(toolName, toolCallID, content))
}

func (b *historyBuilder) closeResponse() {
	if b.current != nil && len(b.current.Parts) > 0 {
		b.messages = append(b.messages, *b.current)
	}
	b.current = nil
}
