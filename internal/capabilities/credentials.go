package capabilities

import (
	"errors"
	"fmt"

	"github.com/kandev/claude-runner/internal/common/config"
)

// Environment variables consulted for engine credentials.
const (
	EnvAnthropicAPIKey   = "ANTHROPIC_API_KEY"
	EnvUseVertex         = "CLAUDE_CODE_USE_VERTEX"
	EnvGoogleCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvVertexProjectID   = "ANTHROPIC_VERTEX_PROJECT_ID"
	EnvCloudMLRegion     = "CLOUD_ML_REGION"
	defaultVertexRegion  = "us-east5"
)

// ErrMissingCredentials means neither an API key nor Vertex is configured.
var ErrMissingCredentials = errors.New("either ANTHROPIC_API_KEY or CLAUDE_CODE_USE_VERTEX=1 must be set")

// Credentials is the engine environment carrying authentication.
type Credentials struct {
	UseVertex bool
	Env       map[string]string
}

// ResolveCredentials picks API key or Vertex authentication. Vertex wins when
// both are present and clears the API key so the CLI does not prefer it.
func ResolveCredentials(rc *config.RunnerContext) (*Credentials, error) {
	apiKey := rc.GetEnv(EnvAnthropicAPIKey, "")
	useVertex := rc.GetEnv(EnvUseVertex, "") == "1"

	if !useVertex {
		if apiKey == "" {
			return nil, ErrMissingCredentials
		}
		return &Credentials{Env: map[string]string{EnvAnthropicAPIKey: apiKey}}, nil
	}

	creds := rc.GetEnv(EnvGoogleCredentials, "")
	project := rc.GetEnv(EnvVertexProjectID, "")
	if creds == "" || project == "" {
		return nil, fmt.Errorf("vertex auth requires %s and %s", EnvGoogleCredentials, EnvVertexProjectID)
	}
	return &Credentials{
		UseVertex: true,
		Env: map[string]string{
			EnvUseVertex:         "1",
			EnvAnthropicAPIKey:   "",
			EnvGoogleCredentials: creds,
			EnvVertexProjectID:   project,
			EnvCloudMLRegion:     rc.GetEnv(EnvCloudMLRegion, defaultVertexRegion),
		},
	}, nil
}
