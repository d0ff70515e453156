package capabilities

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
)

// Environment variables describing the workspace layout.
const (
	EnvActiveWorkflowURL    = "ACTIVE_WORKFLOW_GIT_URL"
	EnvActiveWorkflowBranch = "ACTIVE_WORKFLOW_BRANCH"
	EnvActiveWorkflowPath   = "ACTIVE_WORKFLOW_PATH"
	EnvReposJSON            = "REPOS_JSON"
	EnvSessionName          = "AGENTIC_SESSION_NAME"
	EnvSessionNamespace     = "AGENTIC_SESSION_NAMESPACE"
	artifactsDir            = "artifacts"
	workflowsDir            = "workflows"
)

// Repo is one repository cloned into the workspace.
type Repo struct {
	Name   string
	URL    string
	Branch string
}

// repoEntry accepts both the flat {url, branch} layout and the nested
// {name, input: {url, branch}} layout of REPOS_JSON.
type repoEntry struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
	Input  *struct {
		URL    string `json:"url"`
		Branch string `json:"branch"`
	} `json:"input"`
}

// ParseRepos parses REPOS_JSON. Invalid JSON and entries without a URL
// are skipped.
func ParseRepos(raw string) []Repo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var entries []repoEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	repos := make([]Repo, 0, len(entries))
	for _, e := range entries {
		r := Repo{Name: e.Name, URL: e.URL, Branch: e.Branch}
		if e.Input != nil {
			if r.URL == "" {
				r.URL = e.Input.URL
			}
			if r.Branch == "" {
				r.Branch = e.Input.Branch
			}
		}
		if r.URL == "" {
			continue
		}
		if r.Name == "" {
			r.Name = RepoName(r.URL)
		}
		repos = append(repos, r)
	}
	return repos
}

// RepoName derives a directory name from a git URL.
func RepoName(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	return strings.TrimSuffix(path.Base(url), ".git")
}

// Workspace is the directory layout of a run.
type Workspace struct {
	Root           string
	WorkDir        string
	AdditionalDirs []string
	Repos          []Repo
	WorkflowName   string
}

// ResolveWorkspace picks the working directory: the active workflow, else the
// first repo (other repos become additional dirs), else the artifacts dir.
// A missing working directory is created; on failure the root is used.
func ResolveWorkspace(rc *config.RunnerContext, log *logger.Logger) Workspace {
	ws := Workspace{
		Root:  rc.WorkspacePath,
		Repos: ParseRepos(rc.GetEnv(EnvReposJSON, "")),
	}

	repoDirs := make([]string, 0, len(ws.Repos))
	for _, r := range ws.Repos {
		repoDirs = append(repoDirs, filepath.Join(ws.Root, r.Name))
	}

	switch workflowURL := strings.TrimSpace(rc.GetEnv(EnvActiveWorkflowURL, "")); {
	case workflowURL != "":
		ws.WorkflowName = RepoName(workflowURL)
		ws.WorkDir = filepath.Join(ws.Root, workflowsDir, ws.WorkflowName)
		ws.AdditionalDirs = append(repoDirs, filepath.Join(ws.Root, artifactsDir))
	case len(repoDirs) > 0:
		ws.WorkDir = repoDirs[0]
		ws.AdditionalDirs = repoDirs[1:]
	default:
		ws.WorkDir = filepath.Join(ws.Root, artifactsDir)
	}

	if _, err := os.Stat(ws.WorkDir); err != nil {
		log.Warn("working directory does not exist, creating", zap.String("path", ws.WorkDir))
		if err := os.MkdirAll(ws.WorkDir, 0o755); err != nil {
			log.Error("failed to create working directory", zap.String("path", ws.WorkDir), zap.Error(err))
			ws.WorkDir = ws.Root
		}
	}
	return ws
}

// SessionContext describes what the session is working on: the active
// workflow, the repos, the session name and its project. It is attached to
// recorded corrections.
func SessionContext(rc *config.RunnerContext) map[string]any {
	repos := make([]map[string]any, 0)
	for _, r := range ParseRepos(rc.GetEnv(EnvReposJSON, "")) {
		repos = append(repos, map[string]any{"url": r.URL, "branch": r.Branch})
	}
	env := func(key string) string { return strings.TrimSpace(rc.GetEnv(key, "")) }
	return map[string]any{
		"workflow": map[string]any{
			"repo_url": env(EnvActiveWorkflowURL),
			"branch":   env(EnvActiveWorkflowBranch),
			"path":     env(EnvActiveWorkflowPath),
		},
		"repos":        repos,
		"session_name": env(EnvSessionName),
		"project":      env(EnvSessionNamespace),
	}
}
