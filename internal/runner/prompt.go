package runner

import "github.com/kandev/claude-runner/internal/agui"

// extractPrompt returns the text of the most recent user message: its string
// content, or its first block carrying text. A user message without text is
// skipped in favor of an earlier one.
func extractPrompt(messages []agui.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != agui.RoleUser {
			continue
		}
		if text, ok := msg.Text(); ok {
			return text
		}
	}
	return ""
}
