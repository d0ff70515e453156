package config

import (
	"strings"

	"github.com/google/uuid"
)

// RunnerContext is the read-only view of the session this process serves.
// It is built once at startup and shared by every run.
type RunnerContext struct {
	SessionID     string
	WorkspacePath string
	env           map[string]string
}

// NewRunnerContext copies env so later mutation by the caller is not observed.
func NewRunnerContext(sessionID, workspacePath string, env map[string]string) *RunnerContext {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}
	return &RunnerContext{SessionID: sessionID, WorkspacePath: workspacePath, env: copied}
}

// RunnerContextFromEnviron builds the context from the runner config and a
// KEY=VALUE list such as os.Environ().
func RunnerContextFromEnviron(cfg RunnerConfig, environ []string) *RunnerContext {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return NewRunnerContext(cfg.SessionID, cfg.WorkspacePath, env)
}

// GetEnv returns the value for key, or fallback when unset or empty.
func (c *RunnerContext) GetEnv(key, fallback string) string {
	if v, ok := c.env[key]; ok && v != "" {
		return v
	}
	return fallback
}

// EnvFlag reports whether key is set to a truthy value (1, true, yes).
func (c *RunnerContext) EnvFlag(key string) bool {
	switch strings.ToLower(strings.TrimSpace(c.env[key])) {
	case "1", "true", "yes":
		return true
	}
	return false
}
