package runner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/tracing"
	"github.com/kandev/claude-runner/pkg/claudecode"
)

// LastResultPath is the state path replaced by each end-of-turn summary.
const LastResultPath = "/lastResult"

// unfinishedToolError is the ToolCallEnd error for calls the stream never resolved.
const unfinishedToolError = "tool call did not complete before the run ended"

// translator maps engine messages of one run to wire events. It keeps the
// open text message and open tool calls so every Start gets its End.
type translator struct {
	ctx    context.Context
	em     *agui.Emitter
	emit   func(agui.Event)
	logger *logger.Logger

	messageID  string
	openTools  []string
	toolSpans  map[string]trace.Span
	seenTools  map[string]bool
	endedTools map[string]bool

	result *claudecode.CLIMessage
}

func newTranslator(ctx context.Context, em *agui.Emitter, emit func(agui.Event), log *logger.Logger) *translator {
	return &translator{
		ctx:        ctx,
		em:         em,
		emit:       emit,
		logger:     log,
		toolSpans:  make(map[string]trace.Span),
		seenTools:  make(map[string]bool),
		endedTools: make(map[string]bool),
	}
}

// handle dispatches one engine message on its type.
func (t *translator) handle(msg *claudecode.CLIMessage) {
	switch msg.Type {
	case claudecode.MessageTypeStreamEvent:
		t.handleStreamEvent(msg.Event)
	case claudecode.MessageTypeAssistant, claudecode.MessageTypeUser:
		t.handleContent(msg)
	case claudecode.MessageTypeSystem:
		t.handleSystem(msg)
	case claudecode.MessageTypeResult:
		t.handleResult(msg)
	default:
		t.logger.Debug("ignoring engine message", zap.String("type", msg.Type))
	}
}

func (t *translator) handleStreamEvent(ev *claudecode.StreamEvent) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case claudecode.StreamEventMessageStart:
		// A start without the previous message's end still closes it.
		t.closeMessage()
		t.messageID = uuid.New().String()
		t.emit(t.em.TextMessageStart(t.messageID, agui.RoleAssistant))
	case claudecode.StreamEventContentBlockDelta:
		if ev.Delta == nil || ev.Delta.Type != claudecode.DeltaTypeText {
			return
		}
		if ev.Delta.Text != "" && t.messageID != "" {
			t.emit(t.em.TextMessageContent(t.messageID, ev.Delta.Text))
		}
	}
}

func (t *translator) handleContent(msg *claudecode.CLIMessage) {
	blocks := msg.Message.Blocks()
	for i := range blocks {
		block := &blocks[i]
		switch block.Type {
		case claudecode.BlockTypeText:
			// Already streamed through text deltas.
		case claudecode.BlockTypeToolUse:
			t.toolUse(block, msg.ParentToolUseID)
		case claudecode.BlockTypeToolResult:
			t.toolResult(block)
		case claudecode.BlockTypeThinking:
			t.emit(t.em.Raw(agui.RawThinkingBlock, map[string]any{
				"thinking":  block.Thinking,
				"signature": block.Signature,
			}))
		}
	}
	if len(blocks) > 0 {
		t.closeMessage()
	}
}

func (t *translator) toolUse(block *claudecode.ContentBlock, parentID string) {
	id := block.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := block.Name
	if name == "" {
		name = "unknown"
	}
	if t.seenTools[id] {
		t.logger.Warn("duplicate tool_use id, ignoring", zap.String("tool_call_id", id))
		return
	}
	t.seenTools[id] = true
	t.openTools = append(t.openTools, id)

	_, span := tracing.TraceToolCall(t.ctx, id, name, parentID)
	t.toolSpans[id] = span

	t.emit(t.em.ToolCallStart(id, name, parentID))
	if len(block.Input) > 0 {
		args, err := json.Marshal(block.Input)
		if err != nil {
			t.logger.Warn("failed to encode tool input", zap.String("tool_call_id", id), zap.Error(err))
			return
		}
		t.emit(t.em.ToolCallArgs(id, string(args)))
	}
}

func (t *translator) toolResult(block *claudecode.ContentBlock) {
	id := block.ToolUseID
	if id == "" {
		t.logger.Warn("tool_result without tool_use_id, dropping")
		return
	}
	if t.endedTools[id] {
		t.logger.Warn("duplicate tool_result, dropping", zap.String("tool_call_id", id))
		return
	}
	t.endedTools[id] = true
	if !t.closeTool(id) {
		t.logger.Warn("tool_result for unknown tool call, emitting anyway", zap.String("tool_call_id", id))
	}

	payload := block.ResultText()
	if span, ok := t.toolSpans[id]; ok {
		var err error
		if block.IsError {
			err = errors.New(payload)
		}
		tracing.EndWithError(span, err)
		delete(t.toolSpans, id)
	}
	t.emit(t.em.ToolCallEnd(id, payload, block.IsError))
}

// closeTool removes id from the open calls and reports whether it was open.
func (t *translator) closeTool(id string) bool {
	for i, open := range t.openTools {
		if open == id {
			t.openTools = append(t.openTools[:i], t.openTools[i+1:]...)
			return true
		}
	}
	return false
}

func (t *translator) handleSystem(msg *claudecode.CLIMessage) {
	if msg.Subtype == claudecode.SystemSubtypeInit {
		t.logger.Info("engine session initialized",
			zap.String("engine_session_id", msg.SessionID),
			zap.String("model", msg.Model))
	}
	if msg.Text == "" {
		return
	}
	t.emit(t.em.Raw(agui.RawSystemLog, map[string]any{
		"level":   "debug",
		"message": msg.Text,
	}))
}

func (t *translator) handleResult(msg *claudecode.CLIMessage) {
	t.result = msg
	if msg.IsError {
		t.logger.Warn("engine turn ended with an error result",
			zap.String("subtype", msg.Subtype),
			zap.String("result", msg.GetResultString()))
	}

	var result any
	if len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			result = string(msg.Result)
		}
	}
	var cost any
	if msg.TotalCostUSD != nil {
		cost = *msg.TotalCostUSD
	}
	var usage any
	if msg.Usage != nil {
		usage = msg.Usage
	}

	t.emit(t.em.StateReplace(LastResultPath, map[string]any{
		"subtype":        msg.Subtype,
		"duration_ms":    msg.DurationMS,
		"is_error":       msg.IsError,
		"num_turns":      msg.NumTurns,
		"total_cost_usd": cost,
		"usage":          usage,
		"result":         result,
	}))
}

func (t *translator) closeMessage() {
	if t.messageID == "" {
		return
	}
	t.emit(t.em.TextMessageEnd(t.messageID))
	t.messageID = ""
}

// finish closes whatever the stream left open.
func (t *translator) finish() {
	t.closeMessage()
	for _, id := range t.openTools {
		t.logger.Warn("tool call left open at end of stream", zap.String("tool_call_id", id))
		if span, ok := t.toolSpans[id]; ok {
			tracing.EndWithError(span, errors.New(unfinishedToolError))
			delete(t.toolSpans, id)
		}
		t.emit(t.em.ToolCallEnd(id, unfinishedToolError, true))
	}
	t.openTools = nil
}
