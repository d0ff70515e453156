package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/engine/enginetest"
	"github.com/kandev/claude-runner/pkg/claudecode"
)

type recording struct {
	events []agui.Event
}

func (r *recording) emit(ev agui.Event) { r.events = append(r.events, ev) }

func (r *recording) types() []agui.EventType {
	out := make([]agui.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestTranslator(t *testing.T) (*translator, *recording) {
	t.Helper()
	rec := &recording{}
	return newTranslator(context.Background(), agui.NewEmitter("th", "run"), rec.emit, newTestLogger(t)), rec
}

func play(tr *translator, msgs ...*claudecode.CLIMessage) {
	for _, m := range msgs {
		tr.handle(m)
	}
	tr.finish()
}

func TestTranslator_StreamedText(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.MessageStart(),
		enginetest.TextDelta("Hel"),
		enginetest.TextDelta(""),
		enginetest.TextDelta("lo"),
		enginetest.Assistant(enginetest.TextBlock("Hello")),
	)

	require.Equal(t, []agui.EventType{
		agui.EventTextMessageStart,
		agui.EventTextMessageContent,
		agui.EventTextMessageContent,
		agui.EventTextMessageEnd,
	}, rec.types())
	id := rec.events[0].MessageID
	assert.NotEmpty(t, id)
	assert.Equal(t, agui.RoleAssistant, rec.events[0].Role)
	for _, ev := range rec.events[1:] {
		assert.Equal(t, id, ev.MessageID)
	}
	assert.Equal(t, "Hel", rec.events[1].Delta)
	assert.Equal(t, "lo", rec.events[2].Delta)
}

func TestTranslator_DeltaOutsideMessageIsDropped(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr, enginetest.TextDelta("stray"))
	assert.Empty(t, rec.events)
}

func TestTranslator_SecondStartClosesFirst(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.MessageStart(),
		enginetest.TextDelta("a"),
		enginetest.MessageStart(),
		enginetest.TextDelta("b"),
	)

	require.Equal(t, []agui.EventType{
		agui.EventTextMessageStart,
		agui.EventTextMessageContent,
		agui.EventTextMessageEnd,
		agui.EventTextMessageStart,
		agui.EventTextMessageContent,
		agui.EventTextMessageEnd,
	}, rec.types())
	assert.NotEqual(t, rec.events[0].MessageID, rec.events[3].MessageID)
	assert.Equal(t, rec.events[3].MessageID, rec.events[5].MessageID, "finish closes the open message")
}

func TestTranslator_ToolRoundTrip(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.Assistant(enginetest.ToolUse("t1", "search", map[string]any{"q": "x"})),
		enginetest.User(enginetest.ToolResult("t1", "ok", false)),
	)

	require.Equal(t, []agui.EventType{
		agui.EventToolCallStart,
		agui.EventToolCallArgs,
		agui.EventToolCallEnd,
	}, rec.types())
	start, args, end := rec.events[0], rec.events[1], rec.events[2]
	assert.Equal(t, "t1", start.ToolCallID)
	assert.Equal(t, "search", start.ToolCallName)
	assert.JSONEq(t, `{"q":"x"}`, args.Delta)
	require.NotNil(t, end.Result)
	assert.Equal(t, "ok", *end.Result)
	assert.Nil(t, end.Error)
}

func TestTranslator_ToolError(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.Assistant(enginetest.ToolUse("t1", "Bash", nil)),
		enginetest.User(enginetest.ToolResult("t1", "exit status 1", true)),
	)

	require.Equal(t, []agui.EventType{agui.EventToolCallStart, agui.EventToolCallEnd}, rec.types(),
		"no args event for empty input")
	end := rec.events[1]
	require.NotNil(t, end.Error)
	assert.Equal(t, "exit status 1", *end.Error)
	assert.Nil(t, end.Result)
}

func TestTranslator_SubAgentParent(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.Assistant(enginetest.ToolUse("task-1", "Task", map[string]any{"prompt": "look"})),
		enginetest.WithParent(enginetest.Assistant(enginetest.ToolUse("t2", "Read", map[string]any{"path": "a.go"})), "task-1"),
		enginetest.User(enginetest.ToolResult("t2", "package a", false)),
		enginetest.User(enginetest.ToolResult("task-1", "done", false)),
	)

	var starts []agui.Event
	for _, ev := range rec.events {
		if ev.Type == agui.EventToolCallStart {
			starts = append(starts, ev)
		}
	}
	require.Len(t, starts, 2)
	assert.Empty(t, starts[0].ParentToolCallID)
	assert.Equal(t, "task-1", starts[1].ParentToolCallID)
}

func TestTranslator_DuplicateAndOrphanResults(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.Assistant(enginetest.ToolUse("t1", "Read", nil)),
		enginetest.Assistant(enginetest.ToolUse("t1", "Read", nil)),
		enginetest.User(enginetest.ToolResult("t1", "first", false)),
		enginetest.User(enginetest.ToolResult("t1", "second", false)),
		enginetest.User(enginetest.ToolResult("ghost", "late", false)),
		enginetest.User(enginetest.ToolResult("", "no id", false)),
	)

	require.Equal(t, []agui.EventType{
		agui.EventToolCallStart,
		agui.EventToolCallEnd,
		agui.EventToolCallEnd,
	}, rec.types())
	assert.Equal(t, "first", *rec.events[1].Result)
	assert.Equal(t, "ghost", rec.events[2].ToolCallID, "orphan result is still emitted")
}

func TestTranslator_FinishEndsOpenTools(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr, enginetest.Assistant(enginetest.ToolUse("t1", "Bash", map[string]any{"command": "sleep 100"})))

	require.Equal(t, []agui.EventType{
		agui.EventToolCallStart,
		agui.EventToolCallArgs,
		agui.EventToolCallEnd,
	}, rec.types())
	end := rec.events[2]
	require.NotNil(t, end.Error)
	assert.Equal(t, unfinishedToolError, *end.Error)
}

func TestTranslator_ThinkingAndSystem(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr,
		enginetest.Assistant(enginetest.ThinkingBlock("pondering", "sig")),
		enginetest.SystemText("compacting conversation"),
		&claudecode.CLIMessage{Type: claudecode.MessageTypeSystem, Subtype: claudecode.SystemSubtypeInit, SessionID: "s"},
	)

	require.Len(t, rec.events, 2)
	assert.Equal(t, agui.RawThinkingBlock, rec.events[0].RawType())
	assert.Equal(t, "pondering", rec.events[0].Raw["thinking"])
	assert.Equal(t, "sig", rec.events[0].Raw["signature"])
	assert.Equal(t, agui.RawSystemLog, rec.events[1].RawType())
	assert.Equal(t, "debug", rec.events[1].Raw["level"])
	assert.Equal(t, "compacting conversation", rec.events[1].Raw["message"])
}

func TestTranslator_ResultState(t *testing.T) {
	tr, rec := newTestTranslator(t)
	play(tr, enginetest.Result(4, "all done"))

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	require.Equal(t, agui.EventStateDelta, ev.Type)
	require.Len(t, ev.Ops, 1)
	assert.Equal(t, "replace", ev.Ops[0].Op)
	assert.Equal(t, LastResultPath, ev.Ops[0].Path)

	value, ok := ev.Ops[0].Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", value["subtype"])
	assert.Equal(t, 4, value["num_turns"])
	assert.Equal(t, 0.01, value["total_cost_usd"])
	assert.Equal(t, "all done", value["result"])
	assert.Equal(t, false, value["is_error"])

	require.NotNil(t, tr.result)
	assert.Equal(t, 4, tr.result.NumTurns)
}

func TestTranslator_ErrorResultState(t *testing.T) {
	tr, rec := newTestTranslator(t)
	res := enginetest.Result(7, "Reached maximum number of turns")
	res.Subtype = "error_max_turns"
	res.IsError = true
	play(tr, res)

	require.Len(t, rec.events, 1)
	value, ok := rec.events[0].Ops[0].Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, value["is_error"])
	assert.Equal(t, "error_max_turns", value["subtype"])
	assert.Equal(t, "Reached maximum number of turns", value["result"])
	assert.Equal(t, "Reached maximum number of turns", tr.result.GetResultString())
}

func TestTranslator_ContentClosesOpenMessage(t *testing.T) {
	tr, rec := newTestTranslator(t)
	tr.handle(enginetest.MessageStart())
	tr.handle(enginetest.TextDelta("Let me check"))
	tr.handle(enginetest.Assistant(enginetest.TextBlock("Let me check"), enginetest.ToolUse("t1", "Read", nil)))

	require.Equal(t, []agui.EventType{
		agui.EventTextMessageStart,
		agui.EventTextMessageContent,
		agui.EventToolCallStart,
		agui.EventTextMessageEnd,
	}, rec.types())
	assert.Empty(t, tr.messageID)
}
