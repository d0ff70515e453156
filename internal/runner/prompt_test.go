package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kandev/claude-runner/internal/agui"
)

func TestExtractPrompt(t *testing.T) {
	user := func(content string) agui.Message {
		return agui.Message{Role: agui.RoleUser, Content: json.RawMessage(content)}
	}
	assistant := agui.Message{Role: agui.RoleAssistant, Content: agui.TextContent("earlier answer")}

	tests := []struct {
		name     string
		messages []agui.Message
		want     string
	}{
		{"empty", nil, ""},
		{"single string", []agui.Message{user(`"fix it"`)}, "fix it"},
		{"latest user wins", []agui.Message{user(`"first"`), assistant, user(`"second"`)}, "second"},
		{"assistant last", []agui.Message{user(`"question"`), assistant}, "question"},
		{"first text block", []agui.Message{user(`[{"type":"image"},{"type":"text","text":"describe"}]`)}, "describe"},
		{"textless user skipped", []agui.Message{user(`"older"`), user(`[{"type":"image"}]`)}, "older"},
		{"no user", []agui.Message{assistant}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPrompt(tt.messages))
		})
	}
}
