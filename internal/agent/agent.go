// Package agent drives the streaming tool-calling loop: it multiplexes LLM
// output into live reasoning events, dispatches tool calls against the
// registry, and enforces mode transitions and termination rules.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabular/internal/errs"
	"tabular/internal/llm"
	"tabular/internal/observability"
	"tabular/internal/streaming"
	"tabular/internal/tools"
)

const (
	// MaxTurns caps the number of LLM turns per run.
	MaxTurns = 25
	// defaultToolTimeout bounds a single tool execution.
	defaultToolTimeout = 120 * time.Second
	// runTimeout bounds a full agent run.
	runTimeout = 10 * time.Minute
	// eventBufferSize bounds the event channel; a slow consumer stalls the
	// producer, which in turn slows chunk reception.
	eventBufferSize = 100
)

// ErrLoopCapExceeded is surfaced when a run burns through MaxTurns without a
// terminating tool or a plain assistant message.
var ErrLoopCapExceeded = errors.New("agent loop cap exceeded")

// ToolTimeouts overrides the per-tool execution timeout by tool name.
type ToolTimeouts map[string]time.Duration

// Agent owns one conversation thread, a mode, a tool registry, and an LLM
// client.
type Agent struct {
	UserID    uuid.UUID
	SessionID uuid.UUID

	Provider llm.Provider
	Registry *tools.Registry
	State    *State
	Parser   *streaming.Parser

	mode         *Mode
	toolTimeouts ToolTimeouts

	mu         sync.Mutex
	transcript []llm.Message
}

// Transcript returns the full thread (including tool exchanges) from the
// most recent run, for persistence as raw_llm_messages.
func (a *Agent) Transcript() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.transcript...)
}

func (a *Agent) setTranscript(msgs []llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = append([]llm.Message(nil), msgs...)
}

func New(userID, sessionID uuid.UUID, provider llm.Provider) *Agent {
	return &Agent{
		UserID:    userID,
		SessionID: sessionID,
		Provider:  provider,
		Registry:  tools.NewRegistry(),
		State:     NewState(),
		Parser:    streaming.NewParser(),
	}
}

// SetToolTimeout overrides the execution timeout for one tool.
func (a *Agent) SetToolTimeout(name string, d time.Duration) {
	if a.toolTimeouts == nil {
		a.toolTimeouts = make(ToolTimeouts)
	}
	a.toolTimeouts[name] = d
}

func (a *Agent) toolTimeout(name string) time.Duration {
	if d, ok := a.toolTimeouts[name]; ok {
		return d
	}
	return defaultToolTimeout
}

// Mode returns the active mode.
func (a *Agent) Mode() *Mode { return a.mode }

// Run executes the streaming loop and returns the ordered event stream. The
// channel is closed when the run ends. Cancelling ctx (or dropping the
// consumer and cancelling) aborts the in-flight LLM request; tool executions
// already committed stay committed.
func (a *Agent) Run(ctx context.Context, thread []llm.Message) <-chan Event {
	events := make(chan Event, eventBufferSize)
	go func() {
		defer close(events)
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if err := a.runLoop(runCtx, thread, events); err != nil {
			a.emitError(runCtx, events, err)
		}
	}()
	return events
}

// ProcessThread is the non-streaming variant used by tests and sub-calls:
// it runs the same loop and returns the final assistant message.
func (a *Agent) ProcessThread(ctx context.Context, thread []llm.Message) (llm.Message, error) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	events := make(chan Event, eventBufferSize)
	var final llm.Message
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Kind == EventMessageComplete {
				final = llm.Message{Role: "assistant", Content: ev.FinalContent}
			}
		}
	}()
	err := a.runLoop(runCtx, thread, events)
	close(events)
	<-done
	if err != nil {
		return llm.Message{}, err
	}
	return final, nil
}

// emit respects consumer cancellation while blocking on a full channel.
func (a *Agent) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) emitError(ctx context.Context, events chan<- Event, err error) {
	kind := "internal"
	var de *errs.Error
	switch {
	case errors.Is(err, ErrLoopCapExceeded):
		kind = "loop_cap_exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	case errors.As(err, &de):
		switch de.Kind {
		case errs.KindUpstreamTimeout:
			kind = "upstream_timeout"
		case errs.KindUpstreamError:
			kind = "upstream_error"
		}
	}
	select {
	case events <- Event{Kind: EventError, ErrKind: kind, ErrMessage: err.Error()}:
	default:
	}
}

// turnResult accumulates one LLM turn's streamed output.
type turnResult struct {
	content   string
	toolCalls []llm.ToolCall
}

type turnHandler struct {
	agent     *Agent
	ctx       context.Context
	events    chan<- Event
	messageID uuid.UUID
	result    *turnResult
	// pendingNames maps in-flight call indexes to tool names; the name
	// arrives on a call's first chunk and never changes after.
	pendingNames map[int]string
}

func (h *turnHandler) OnDelta(content string) {
	h.result.content += content
}

func (h *turnHandler) OnToolCallStart(index int, id, name string) {
	if h.pendingNames == nil {
		h.pendingNames = make(map[int]string)
	}
	h.pendingNames[index] = name
	h.agent.emit(h.ctx, h.events, Event{
		Kind:       EventToolCallStart,
		MessageID:  h.messageID,
		ToolCallID: id,
		ToolName:   name,
	})
}

func (h *turnHandler) OnToolCallDelta(index int, id, argsDelta string) {
	h.agent.Parser.Append(id, argsDelta)
	h.agent.routeReasoning(h.ctx, h.events, h.messageID, id, h.pendingNames[index])
}

func (h *turnHandler) OnToolCall(tc llm.ToolCall) {
	h.result.toolCalls = append(h.result.toolCalls, tc)
}

func (a *Agent) runLoop(ctx context.Context, thread []llm.Message, events chan<- Event) error {
	log := observability.LoggerWithTrace(ctx)
	msgs := append([]llm.Message(nil), thread...)

	for turn := 0; turn < MaxTurns; turn++ {
		if a.mode != nil {
			a.mode.maybeSelfTransition(ctx, a)
		}

		messageID := uuid.New()
		schemas := a.Registry.EnabledSchemas(ctx, a.State)
		log.Debug().Int("turn", turn).Int("tools", len(schemas)).Msg("agent_turn_start")

		if !a.emit(ctx, events, Event{Kind: EventMessageStart, MessageID: messageID, ChatID: a.SessionID}) {
			return ctx.Err()
		}

		result := &turnResult{}
		handler := &turnHandler{agent: a, ctx: ctx, events: events, messageID: messageID, result: result}

		model := ""
		if a.mode != nil {
			model = a.mode.Model
		}
		if err := a.Provider.ChatStream(ctx, msgs, schemas, model, llm.Options{}, handler); err != nil {
			return err
		}

		assistant := llm.Message{Role: "assistant", Content: result.content, ToolCalls: result.toolCalls}
		msgs = append(msgs, assistant)
		a.setTranscript(msgs)

		// A plain assistant message ends the run.
		if len(assistant.ToolCalls) == 0 {
			log.Info().Int("turn", turn).Int("final_len", len(assistant.Content)).Msg("agent_final_message")
			a.emit(ctx, events, Event{Kind: EventMessageComplete, MessageID: messageID, FinalContent: assistant.Content})
			return nil
		}

		terminated := false
		for _, tc := range assistant.ToolCalls {
			toolMsg, terminating := a.dispatchToolCall(ctx, events, messageID, tc)
			msgs = append(msgs, toolMsg)
			if terminating {
				terminated = true
			}
		}
		a.setTranscript(msgs)
		if terminated {
			final := a.State.String(StateKeyFinalResponse)
			a.emit(ctx, events, Event{Kind: EventMessageComplete, MessageID: messageID, FinalContent: final})
			return nil
		}
	}
	return ErrLoopCapExceeded
}

// dispatchToolCall validates, executes, and reports one tool call. Errors
// are converted into tool-role messages so the model can decide how to
// recover; only agent-level failures abort the loop.
func (a *Agent) dispatchToolCall(ctx context.Context, events chan<- Event, messageID uuid.UUID, tc llm.ToolCall) (llm.Message, bool) {
	log := observability.LoggerWithTrace(ctx)

	tool, ok := a.Registry.Get(tc.Name)
	if !ok {
		log.Warn().Str("tool", tc.Name).Msg("agent_unknown_tool")
		payload := fmt.Sprintf(`{"error":"unknown tool %q"}`, tc.Name)
		a.emit(ctx, events, Event{Kind: EventToolComplete, MessageID: messageID, ToolCallID: tc.ID, ToolName: tc.Name, Output: json.RawMessage(payload)})
		return llm.Message{Role: "tool", Content: payload, ToolID: tc.ID, Name: tc.Name}, false
	}

	if err := tools.ValidateParams(tool, tc.Args); err != nil {
		log.Warn().Err(err).Str("tool", tc.Name).Msg("agent_tool_schema_violation")
		payload := mustJSON(map[string]string{"error": err.Error()})
		a.emit(ctx, events, Event{Kind: EventToolComplete, MessageID: messageID, ToolCallID: tc.ID, ToolName: tc.Name, Output: payload})
		return llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID, Name: tc.Name}, false
	}

	execCtx, cancel := context.WithTimeout(ctx, a.toolTimeout(tc.Name))
	output, err := tool.Execute(execCtx, tc.Args, tc.ID)
	cancel()

	var payload json.RawMessage
	success := err == nil
	if err != nil {
		log.Warn().Err(err).Str("tool", tc.Name).Msg("agent_tool_error")
		payload = mustJSON(map[string]string{"error": err.Error()})
	} else {
		payload = mustJSON(output)
	}
	a.emit(ctx, events, Event{
		Kind: EventToolComplete, MessageID: messageID,
		ToolCallID: tc.ID, ToolName: tc.Name, Success: success, Output: payload,
	})

	terminating := success && a.mode != nil && a.mode.IsTerminating(tc.Name)
	if terminating {
		a.mode.transitionAfter(ctx, a, tc.Name)
	}
	return llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID, Name: tc.Name}, terminating
}

// routeReasoning feeds the parser's current view of a tool call's arguments
// into a reasoning event, keyed by tool name.
func (a *Agent) routeReasoning(ctx context.Context, events chan<- Event, messageID uuid.UUID, toolCallID, toolName string) {
	switch toolName {
	case "create_metric_files", "modify_metric_files":
		if ev := a.Parser.ProcessFileChunk(toolCallID, "metric"); ev != nil {
			a.emit(ctx, events, Event{Kind: EventReasoningDelta, MessageID: messageID, BlockID: ev.ID, ReasoningFile: ev, ToolCallID: toolCallID})
		}
	case "create_dashboard_files", "modify_dashboard_files":
		if ev := a.Parser.ProcessFileChunk(toolCallID, "dashboard"); ev != nil {
			a.emit(ctx, events, Event{Kind: EventReasoningDelta, MessageID: messageID, BlockID: ev.ID, ReasoningFile: ev, ToolCallID: toolCallID})
		}
	case "create_plan_investigative", "create_plan_straightforward":
		if text, ok := a.Parser.ProcessTextChunk(toolCallID, "plan"); ok {
			ev := &streaming.ReasoningText{ID: toolCallID, Type: "text", Title: "Creating a plan...", Message: text, Status: "loading"}
			a.emit(ctx, events, Event{Kind: EventReasoningDelta, MessageID: messageID, BlockID: toolCallID, ReasoningText: ev, ToolCallID: toolCallID})
		}
	case "done", "finish_and_respond":
		if text, ok := a.Parser.ProcessTextChunk(toolCallID, "final_response"); ok {
			ev := &streaming.ReasoningText{ID: toolCallID, Type: "text", Title: "Responding...", Message: text, Status: "loading"}
			a.emit(ctx, events, Event{Kind: EventReasoningDelta, MessageID: messageID, BlockID: toolCallID, ReasoningText: ev, ToolCallID: toolCallID})
		}
	case "message_notify_user":
		if text, ok := a.Parser.ProcessTextChunk(toolCallID, "text"); ok {
			ev := &streaming.ReasoningText{ID: toolCallID, Type: "text", Title: "Notifying...", Message: text, Status: "loading"}
			a.emit(ctx, events, Event{Kind: EventReasoningDelta, MessageID: messageID, BlockID: toolCallID, ReasoningText: ev, ToolCallID: toolCallID})
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return b
}
