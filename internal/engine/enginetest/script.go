package enginetest

import (
	"encoding/json"

	"github.com/kandev/claude-runner/pkg/claudecode"
)

// MessageStart is a stream_event opening an assistant message.
func MessageStart() *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:  claudecode.MessageTypeStreamEvent,
		Event: &claudecode.StreamEvent{Type: claudecode.StreamEventMessageStart},
	}
}

// TextDelta is a stream_event carrying a text chunk.
func TextDelta(text string) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type: claudecode.MessageTypeStreamEvent,
		Event: &claudecode.StreamEvent{
			Type:  claudecode.StreamEventContentBlockDelta,
			Delta: &claudecode.StreamDelta{Type: claudecode.DeltaTypeText, Text: text},
		},
	}
}

// Assistant wraps blocks in an assistant message.
func Assistant(blocks ...claudecode.ContentBlock) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:    claudecode.MessageTypeAssistant,
		Message: &claudecode.Message{Role: "assistant", Content: mustJSON(blocks)},
	}
}

// User wraps blocks in a user message.
func User(blocks ...claudecode.ContentBlock) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{
		Type:    claudecode.MessageTypeUser,
		Message: &claudecode.Message{Role: "user", Content: mustJSON(blocks)},
	}
}

// WithParent sets parent_tool_use_id on msg.
func WithParent(msg *claudecode.CLIMessage, parent string) *claudecode.CLIMessage {
	msg.ParentToolUseID = parent
	return msg
}

func TextBlock(text string) claudecode.ContentBlock {
	return claudecode.ContentBlock{Type: claudecode.BlockTypeText, Text: text}
}

func ThinkingBlock(thinking, signature string) claudecode.ContentBlock {
	return claudecode.ContentBlock{Type: claudecode.BlockTypeThinking, Thinking: thinking, Signature: signature}
}

func ToolUse(id, name string, input map[string]any) claudecode.ContentBlock {
	return claudecode.ContentBlock{Type: claudecode.BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// ToolResult builds a tool_result block whose content is the string text.
func ToolResult(toolUseID, text string, isError bool) claudecode.ContentBlock {
	return claudecode.ContentBlock{
		Type:      claudecode.BlockTypeToolResult,
		ToolUseID: toolUseID,
		Content:   mustJSON(text),
		IsError:   isError,
	}
}

// SystemText is a system message carrying text.
func SystemText(text string) *claudecode.CLIMessage {
	return &claudecode.CLIMessage{Type: claudecode.MessageTypeSystem, Subtype: "notice", Text: text}
}

// Result is a successful end-of-turn message.
func Result(numTurns int, result string) *claudecode.CLIMessage {
	cost := 0.01
	return &claudecode.CLIMessage{
		Type:         claudecode.MessageTypeResult,
		Subtype:      "success",
		DurationMS:   1500,
		NumTurns:     numTurns,
		TotalCostUSD: &cost,
		Usage:        map[string]any{"input_tokens": float64(10), "output_tokens": float64(20)},
		Result:       mustJSON(result),
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
