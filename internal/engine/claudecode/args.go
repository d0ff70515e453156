package claudecode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kandev/claude-runner/internal/engine"
)

// EnvMaxOutputTokens caps the CLI's response length; the CLI has no flag for it.
const EnvMaxOutputTokens = "CLAUDE_CODE_MAX_OUTPUT_TOKENS"

// BuildArgs returns the CLI arguments for one stream-json session.
func BuildArgs(opts engine.Options) ([]string, error) {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
	}
	if opts.Continue {
		args = append(args, "--continue")
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.MCPServers) > 0 {
		mcpConfig, err := mcpConfigJSON(opts.MCPServers)
		if err != nil {
			return nil, err
		}
		args = append(args, "--mcp-config", mcpConfig)
	}
	if opts.SystemPromptAppend != "" {
		args = append(args, "--append-system-prompt", opts.SystemPromptAppend)
	}
	if len(opts.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(opts.SettingSources, ","))
	}
	for _, dir := range opts.AdditionalDirs {
		args = append(args, "--add-dir", dir)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	return args, nil
}

// mcpConfigJSON renders servers in the {"mcpServers": {...}} layout the CLI expects.
func mcpConfigJSON(servers map[string]engine.MCPServer) (string, error) {
	wrapped := map[string]map[string]engine.MCPServer{"mcpServers": servers}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return "", fmt.Errorf("failed to marshal MCP config: %w", err)
	}
	return string(data), nil
}

// BuildEnv merges opts.Env over base and adds the output token cap.
// Later entries win, so the result is sorted and de-duplicated by key.
func BuildEnv(base []string, opts engine.Options) []string {
	merged := make(map[string]string, len(base)+len(opts.Env)+1)
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range opts.Env {
		merged[k] = v
	}
	if opts.MaxTokens > 0 {
		merged[EnvMaxOutputTokens] = strconv.Itoa(opts.MaxTokens)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
