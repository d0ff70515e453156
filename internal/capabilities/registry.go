package capabilities

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/engine"
)

// Names of the side-tool MCP servers served by the runner itself.
const (
	SessionServer  = "session"
	FeedbackServer = "feedback"
)

// RegistryConfig holds engine settings that do not vary per run.
type RegistryConfig struct {
	PermissionMode string
	SettingSources []string
}

// Registry assembles per-run capabilities from the capabilities file, the
// project .mcp.json and the runner's own side tools.
type Registry struct {
	cfg       RegistryConfig
	file      *File
	sideTools map[string]engine.MCPServer
	logger    *logger.Logger
}

// NewRegistry creates a Registry. A nil file behaves as an empty one.
func NewRegistry(cfg RegistryConfig, file *File, log *logger.Logger) *Registry {
	if file == nil {
		file = &File{}
	}
	return &Registry{
		cfg:       cfg,
		file:      file,
		sideTools: make(map[string]engine.MCPServer),
		logger:    log.WithFields(zap.String("component", "capabilities")),
	}
}

// RegisterSideTool adds an MCP server hosted by this process.
func (r *Registry) RegisterSideTool(name string, server engine.MCPServer) {
	r.sideTools[name] = server
}

// AuthWarning reports an MCP server missing authentication.
type AuthWarning struct {
	Server  string
	Message string
}

// Assembly is everything a run needs to connect the engine.
type Assembly struct {
	Workspace    Workspace
	Model        Model
	Credentials  *Credentials
	AuthWarnings []AuthWarning
	Options      engine.Options
}

// Assemble resolves credentials first; missing credentials fail the run.
func (r *Registry) Assemble(rc *config.RunnerContext) (*Assembly, error) {
	creds, err := ResolveCredentials(rc)
	if err != nil {
		return nil, err
	}

	ws := ResolveWorkspace(rc, r.logger)
	model := ResolveModel(rc, creds.UseVertex)

	servers, warnings := r.mcpServers(rc, ws.WorkDir)
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}

	a := &Assembly{
		Workspace:    ws,
		Model:        model,
		Credentials:  creds,
		AuthWarnings: warnings,
		Options: engine.Options{
			WorkDir:            ws.WorkDir,
			AdditionalDirs:     ws.AdditionalDirs,
			PermissionMode:     r.cfg.PermissionMode,
			AllowedTools:       AllowedTools(names, r.file.DeniedTools),
			MCPServers:         servers,
			SettingSources:     r.cfg.SettingSources,
			SystemPromptAppend: WorkspacePrompt(ws, r.file.SystemPrompt),
			Model:              model.Name,
			MaxTokens:          model.MaxTokens,
			Temperature:        model.Temperature,
			Env:                creds.Env,
		},
	}

	r.logger.Info("capabilities assembled",
		zap.String("workdir", ws.WorkDir),
		zap.Strings("additional_dirs", ws.AdditionalDirs),
		zap.Strings("allowed_tools", a.Options.AllowedTools),
		zap.String("model", model.Configured),
		zap.Bool("vertex", creds.UseVertex),
		zap.Int("auth_warnings", len(warnings)))
	return a, nil
}

// mcpServers merges .mcp.json, the capabilities file and the side tools, in
// increasing precedence, and checks authEnv requirements.
func (r *Registry) mcpServers(rc *config.RunnerContext, workDir string) (map[string]engine.MCPServer, []AuthWarning) {
	servers := make(map[string]engine.MCPServer)

	project, err := projectMCPConfig(workDir)
	if err != nil {
		r.logger.Warn("ignoring invalid project MCP config", zap.Error(err))
	}
	for name, s := range project {
		servers[name] = expandServer(s, rc)
	}

	var warnings []AuthWarning
	for name, spec := range r.file.MCPServers {
		servers[name] = expandServer(spec.MCPServer, rc)
		if missing := missingEnv(rc, spec.AuthEnv); len(missing) > 0 {
			warnings = append(warnings, AuthWarning{
				Server:  name,
				Message: fmt.Sprintf("missing credentials (%s)", strings.Join(missing, ", ")),
			})
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Server < warnings[j].Server })

	for name, s := range r.sideTools {
		servers[name] = s
	}
	return servers, warnings
}

func missingEnv(rc *config.RunnerContext, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if rc.GetEnv(k, "") == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// expandServer substitutes ${VAR} references in env, headers and url with
// values from the runner context.
func expandServer(s engine.MCPServer, rc *config.RunnerContext) engine.MCPServer {
	expand := func(v string) string {
		return os.Expand(v, func(key string) string { return rc.GetEnv(key, "") })
	}
	out := s
	out.URL = expand(s.URL)
	if len(s.Env) > 0 {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = expand(v)
		}
	}
	if len(s.Headers) > 0 {
		out.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			out.Headers[k] = expand(v)
		}
	}
	return out
}

// AuthWarningMessage renders warnings as the single message shown to users.
func AuthWarningMessage(warnings []AuthWarning) string {
	lines := make([]string, 0, len(warnings))
	for _, w := range warnings {
		lines = append(lines, fmt.Sprintf("- %s: %s", w.Server, w.Message))
	}
	return "MCP server authentication issues:\n\n" + strings.Join(lines, "\n") +
		"\n\nThese servers may not work correctly until re-authenticated."
}
