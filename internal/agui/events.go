// Package agui defines the AG-UI wire events produced by the runner and the
// run input it accepts.
package agui

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of a wire event.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventStepStarted        EventType = "STEP_STARTED"
	EventStepFinished       EventType = "STEP_FINISHED"
	EventStateDelta         EventType = "STATE_DELTA"
	EventRaw                EventType = "RAW"
)

// Raw event discriminators carried in Event.Raw["type"].
const (
	RawSystemLog               = "system_log"
	RawMessageMetadata         = "message_metadata"
	RawThinkingBlock           = "thinking_block"
	RawSessionRestartRequested = "session_restart_requested"
	RawMCPAuthWarning          = "mcp_authentication_warning"
	RawTrace                   = "trace"
)

// Terminal reports whether t ends a run's event sequence.
func (t EventType) Terminal() bool {
	return t == EventRunFinished || t == EventRunError
}

// PatchOp is one JSON Patch operation of a STATE_DELTA event.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Event is a single wire event. Only the fields of its Type are populated.
// Result and Error are mutually exclusive on TOOL_CALL_END.
type Event struct {
	Type      EventType `json:"type"`
	ThreadID  string    `json:"threadId"`
	RunID     string    `json:"runId"`
	Timestamp int64     `json:"timestamp,omitempty"`

	// RUN_ERROR
	Message string `json:"message,omitempty"`

	// TEXT_MESSAGE_*
	MessageID string `json:"messageId,omitempty"`
	Role      string `json:"role,omitempty"`
	Delta     string `json:"delta,omitempty"`

	// TOOL_CALL_*
	ToolCallID       string  `json:"toolCallId,omitempty"`
	ToolCallName     string  `json:"toolCallName,omitempty"`
	ParentToolCallID string  `json:"parentToolCallId,omitempty"`
	Result           *string `json:"result,omitempty"`
	Error            *string `json:"error,omitempty"`

	// STEP_*
	StepID   string `json:"stepId,omitempty"`
	StepName string `json:"stepName,omitempty"`

	// STATE_DELTA; serialized under "delta"
	Ops []PatchOp `json:"-"`

	// RAW
	Raw map[string]any `json:"event,omitempty"`
}

// MarshalJSON writes Ops as the "delta" array of STATE_DELTA events.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventStateDelta {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		Delta []PatchOp `json:"delta"`
	}{plain(e), e.Ops})
}

// UnmarshalJSON reverses MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var aux struct {
		plain
		Delta json.RawMessage `json:"delta,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Event(aux.plain)
	if len(aux.Delta) == 0 {
		return nil
	}
	if e.Type == EventStateDelta {
		return json.Unmarshal(aux.Delta, &e.Ops)
	}
	return json.Unmarshal(aux.Delta, &e.Delta)
}

// RawType returns the discriminator of a RAW event, or "".
func (e Event) RawType() string {
	if e.Raw == nil {
		return ""
	}
	t, _ := e.Raw["type"].(string)
	return t
}

// Emitter stamps every event it builds with one thread and run id.
type Emitter struct {
	threadID string
	runID    string
	now      func() time.Time
}

// NewEmitter returns an Emitter for one run.
func NewEmitter(threadID, runID string) *Emitter {
	return &Emitter{threadID: threadID, runID: runID, now: time.Now}
}

// ThreadID returns the thread the emitter is bound to.
func (e *Emitter) ThreadID() string { return e.threadID }

// RunID returns the run the emitter is bound to.
func (e *Emitter) RunID() string { return e.runID }

func (e *Emitter) base(t EventType) Event {
	return Event{Type: t, ThreadID: e.threadID, RunID: e.runID, Timestamp: e.now().UnixMilli()}
}

// RunStarted opens the run; it is always the first event of a stream.
func (e *Emitter) RunStarted() Event { return e.base(EventRunStarted) }

// RunFinished ends a run that completed or was interrupted.
func (e *Emitter) RunFinished() Event { return e.base(EventRunFinished) }

// RunError ends a failed run with message.
func (e *Emitter) RunError(message string) Event {
	ev := e.base(EventRunError)
	ev.Message = message
	return ev
}

// TextMessageStart opens message messageID for role.
func (e *Emitter) TextMessageStart(messageID, role string) Event {
	ev := e.base(EventTextMessageStart)
	ev.MessageID = messageID
	ev.Role = role
	return ev
}

// TextMessageContent appends delta to an open message.
func (e *Emitter) TextMessageContent(messageID, delta string) Event {
	ev := e.base(EventTextMessageContent)
	ev.MessageID = messageID
	ev.Delta = delta
	return ev
}

// TextMessageEnd closes message messageID.
func (e *Emitter) TextMessageEnd(messageID string) Event {
	ev := e.base(EventTextMessageEnd)
	ev.MessageID = messageID
	return ev
}

// ToolCallStart opens a tool call. parentToolCallID is empty unless the call
// was made by a sub-agent.
func (e *Emitter) ToolCallStart(toolCallID, name, parentToolCallID string) Event {
	ev := e.base(EventToolCallStart)
	ev.ToolCallID = toolCallID
	ev.ToolCallName = name
	ev.ParentToolCallID = parentToolCallID
	return ev
}

// ToolCallArgs carries the JSON-encoded arguments of a tool call.
func (e *Emitter) ToolCallArgs(toolCallID, delta string) Event {
	ev := e.base(EventToolCallArgs)
	ev.ToolCallID = toolCallID
	ev.Delta = delta
	return ev
}

// ToolCallEnd routes payload to Error when isError is set and to Result otherwise.
func (e *Emitter) ToolCallEnd(toolCallID, payload string, isError bool) Event {
	ev := e.base(EventToolCallEnd)
	ev.ToolCallID = toolCallID
	p := payload
	if isError {
		ev.Error = &p
	} else {
		ev.Result = &p
	}
	return ev
}

// StepStarted opens a named step of the run.
func (e *Emitter) StepStarted(stepID, name string) Event {
	ev := e.base(EventStepStarted)
	ev.StepID = stepID
	ev.StepName = name
	return ev
}

// StepFinished closes the step opened with the same id.
func (e *Emitter) StepFinished(stepID, name string) Event {
	ev := e.base(EventStepFinished)
	ev.StepID = stepID
	ev.StepName = name
	return ev
}

// StateReplace builds a STATE_DELTA with a single replace operation.
func (e *Emitter) StateReplace(path string, value any) Event {
	ev := e.base(EventStateDelta)
	ev.Ops = []PatchOp{{Op: "replace", Path: path, Value: value}}
	return ev
}

// Raw builds a RAW event; rawType becomes payload["type"].
func (e *Emitter) Raw(rawType string, payload map[string]any) Event {
	ev := e.base(EventRaw)
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = rawType
	ev.Raw = body
	return ev
}

// SystemLog is shorthand for a RAW system_log event.
func (e *Emitter) SystemLog(message string) Event {
	return e.Raw(RawSystemLog, map[string]any{"message": message})
}
