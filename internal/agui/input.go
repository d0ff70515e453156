package agui

import (
	"encoding/json"
)

// Roles carried on input messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// RunAgentInput is the body of a run request.
type RunAgentInput struct {
	ThreadID       string         `json:"threadId"`
	RunID          string         `json:"runId"`
	State          any            `json:"state,omitempty"`
	Messages       []Message      `json:"messages"`
	Tools          []Tool         `json:"tools,omitempty"`
	Context        []ContextItem  `json:"context,omitempty"`
	ForwardedProps map[string]any `json:"forwardedProps,omitempty"`
}

// Message is one role-tagged message of the conversation history.
// Content is either a JSON string or a list of content blocks.
type Message struct {
	ID       string          `json:"id,omitempty"`
	Role     string          `json:"role"`
	Content  json.RawMessage `json:"content,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// Tool is a client-declared tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ContextItem is a piece of client-provided context.
type ContextItem struct {
	Description string `json:"description"`
	Value       string `json:"value"`
}

// Hidden reports whether the message is flagged hidden in its metadata.
func (m Message) Hidden() bool {
	if m.Metadata == nil {
		return false
	}
	hidden, _ := m.Metadata["hidden"].(bool)
	return hidden
}

// Text returns the string content of the message, or the text of its first
// text-bearing block. ok is false when neither exists.
func (m Message) Text() (text string, ok bool) {
	if len(m.Content) == 0 {
		return "", false
	}
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text, true
	}
	var blocks []map[string]any
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return "", false
	}
	for _, block := range blocks {
		if t, isString := block["text"].(string); isString {
			return t, true
		}
	}
	return "", false
}

// DisplayContent is the text echoed back to the UI for a history message.
// Non-string content is echoed as its JSON.
func (m Message) DisplayContent() string {
	if len(m.Content) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text
	}
	return string(m.Content)
}

// TextContent builds a JSON string content value.
func TextContent(text string) json.RawMessage {
	data, _ := json.Marshal(text)
	return data
}
