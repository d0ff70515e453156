package capabilities

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kandev/claude-runner/internal/engine"
)

// ServerSpec is an MCP server declared in a capabilities file. AuthEnv lists
// variables the server needs to authenticate.
type ServerSpec struct {
	engine.MCPServer `yaml:",inline"`
	AuthEnv          []string `yaml:"authEnv,omitempty"`
}

// File is the optional YAML capabilities file.
//
//	deniedTools: [WebSearch]
//	systemPrompt: |
//	  Extra instructions.
//	mcpServers:
//	  github:
//	    command: github-mcp-server
//	    args: [stdio]
//	    authEnv: [GITHUB_TOKEN]
type File struct {
	DeniedTools  []string              `yaml:"deniedTools"`
	SystemPrompt string                `yaml:"systemPrompt"`
	MCPServers   map[string]ServerSpec `yaml:"mcpServers"`
}

// LoadFile reads a capabilities file. An empty path or a missing file yields
// an empty File.
func LoadFile(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read capabilities file: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities file %s: %w", path, err)
	}
	return f, nil
}

// MCPConfigFileName is the project MCP config read from the working directory.
const MCPConfigFileName = ".mcp.json"

// LoadMCPConfig reads {"mcpServers": {...}} from path. A missing file yields
// no servers.
func LoadMCPConfig(path string) (map[string]engine.MCPServer, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var cfg struct {
		MCPServers map[string]engine.MCPServer `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg.MCPServers, nil
}

// projectMCPConfig is the .mcp.json of dir.
func projectMCPConfig(dir string) (map[string]engine.MCPServer, error) {
	return LoadMCPConfig(filepath.Join(dir, MCPConfigFileName))
}
