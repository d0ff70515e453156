// Package engine defines the contract between the runner and the agent
// engine that executes a prompt. The Claude Code subprocess engine lives in
// the claudecode subpackage; enginetest provides a scripted fake.
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/kandev/claude-runner/pkg/claudecode"
)

// ErrNoConversation is returned by Connect when continuation was requested
// but the engine has no prior conversation for the working directory.
var ErrNoConversation = errors.New("no conversation found to continue")

// IsNoConversation reports whether err means continuation found nothing to
// resume. Engines wrap ErrNoConversation when they can tell; the substring
// checks cover engines that only surface the CLI's text.
func IsNoConversation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoConversation) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no conversation found") || strings.Contains(msg, "session")
}

// MCPServer is one MCP server registration passed to the engine.
// Stdio servers set Command; HTTP servers set URL.
type MCPServer struct {
	Type    string            `json:"type,omitempty" yaml:"type,omitempty"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Options configures one engine session.
type Options struct {
	WorkDir            string
	AdditionalDirs     []string
	PermissionMode     string
	AllowedTools       []string
	MCPServers         map[string]MCPServer
	SettingSources     []string
	SystemPromptAppend string
	Model              string
	MaxTokens          int
	Temperature        *float64
	Continue           bool
	Env                map[string]string
}

// Engine starts engine sessions.
type Engine interface {
	Connect(ctx context.Context, opts Options) (Session, error)
}

// Session is a connected engine conversation.
type Session interface {
	// Query submits a prompt. Messages for the turn arrive on Receive.
	Query(ctx context.Context, prompt string) error
	// Receive returns the message stream of the current turn. The channel is
	// closed after the turn's result message or when the engine exits.
	Receive(ctx context.Context) <-chan *claudecode.CLIMessage
	// Err returns the error that ended the stream, nil on a clean end.
	Err() error
	Interrupt(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// SessionID is the engine's conversation id once known.
	SessionID() string
}
