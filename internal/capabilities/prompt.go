package capabilities

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WorkspacePrompt is appended to the engine's preset system prompt so the
// model knows where it is working.
func WorkspacePrompt(ws Workspace, extra string) string {
	var b strings.Builder

	b.WriteString("## Workspace\n\n")
	fmt.Fprintf(&b, "Your working directory is %s.\n", ws.WorkDir)
	fmt.Fprintf(&b, "The workspace root is %s.\n", ws.Root)

	if ws.WorkflowName != "" {
		fmt.Fprintf(&b, "\nThe active workflow is %q, checked out in %s.\n",
			ws.WorkflowName, filepath.Join(ws.Root, workflowsDir, ws.WorkflowName))
	}

	if len(ws.Repos) > 0 {
		b.WriteString("\n### Repositories\n\n")
		for _, r := range ws.Repos {
			fmt.Fprintf(&b, "- %s: %s", r.Name, filepath.Join(ws.Root, r.Name))
			if r.Branch != "" {
				fmt.Fprintf(&b, " (branch %s)", r.Branch)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nWrite generated files and reports to %s.\n", filepath.Join(ws.Root, artifactsDir))

	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}
