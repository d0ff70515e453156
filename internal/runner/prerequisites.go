package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/kandev/claude-runner/internal/capabilities"
	"github.com/kandev/claude-runner/internal/common/config"
)

// Prerequisite is one startup check run by Initialize.
type Prerequisite struct {
	Name  string
	Check func(ctx context.Context) error
}

// WorkspaceExists requires path to be an existing directory.
func WorkspaceExists(path string) Prerequisite {
	return Prerequisite{
		Name: "workspace",
		Check: func(context.Context) error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", path)
			}
			return nil
		},
	}
}

// CommandAvailable requires the engine executable to be resolvable.
func CommandAvailable(command string) Prerequisite {
	return Prerequisite{
		Name: "engine_command",
		Check: func(context.Context) error {
			if _, err := exec.LookPath(command); err != nil {
				return fmt.Errorf("%s not found: %w", command, err)
			}
			return nil
		},
	}
}

// CredentialsConfigured requires an API key or a complete Vertex setup.
func CredentialsConfigured(rc *config.RunnerContext) Prerequisite {
	return Prerequisite{
		Name: "credentials",
		Check: func(context.Context) error {
			_, err := capabilities.ResolveCredentials(rc)
			return err
		},
	}
}
