// Package capabilities assembles what a run may use: allowed tools, MCP
// servers, model settings, credentials, working directory and the
// workspace system prompt.
package capabilities

import (
	"sort"

	"github.com/kandev/claude-runner/pkg/claudecode"
)

// BaseTools are the built-in tools every run may use.
var BaseTools = []string{
	claudecode.ToolRead,
	claudecode.ToolWrite,
	claudecode.ToolBash,
	claudecode.ToolGlob,
	claudecode.ToolGrep,
	claudecode.ToolEdit,
	claudecode.ToolMultiEdit,
	claudecode.ToolWebSearch,
}

// MCPToolPrefix is prepended to a server name to allow all of its tools.
const MCPToolPrefix = "mcp__"

// AllowedTools returns BaseTools plus one mcp__<server> entry per server,
// minus anything in denied. Server entries are sorted for stable flags.
func AllowedTools(servers []string, denied []string) []string {
	deny := make(map[string]bool, len(denied))
	for _, d := range denied {
		deny[d] = true
	}

	sorted := append([]string(nil), servers...)
	sort.Strings(sorted)

	tools := make([]string, 0, len(BaseTools)+len(sorted))
	for _, t := range BaseTools {
		if !deny[t] {
			tools = append(tools, t)
		}
	}
	for _, s := range sorted {
		name := MCPToolPrefix + s
		if !deny[name] {
			tools = append(tools, name)
		}
	}
	return tools
}
