package capabilities

import (
	"strconv"
	"strings"

	"github.com/kandev/claude-runner/internal/common/config"
)

// DefaultModel is reported when LLM_MODEL is unset; the CLI then uses its own default.
const DefaultModel = "claude-sonnet-4-5@20250929"

// vertexModels maps API model ids to their Vertex AI names.
var vertexModels = map[string]string{
	"claude-sonnet-4-5": "claude-sonnet-4-5@20250929",
	"claude-haiku-4-5":  "claude-haiku-4-5@20251001",
	"claude-opus-4-1":   "claude-opus-4-1@20250805",
	"claude-opus-4":     "claude-opus-4@20250514",
	"claude-sonnet-4":   "claude-sonnet-4@20250514",
	"claude-3-7-sonnet": "claude-3-7-sonnet@20250219",
	"claude-3-5-haiku":  "claude-3-5-haiku@20241022",
}

// MapToVertexModel returns the Vertex name of model. Names that already carry
// a version, and unknown names, are returned unchanged.
func MapToVertexModel(model string) string {
	if strings.Contains(model, "@") {
		return model
	}
	if mapped, ok := vertexModels[model]; ok {
		return mapped
	}
	return model
}

// Model holds the model settings of a run. Name is empty when the engine
// should use its default; Configured is the effective name for reporting.
type Model struct {
	Name        string
	Configured  string
	MaxTokens   int
	Temperature *float64
}

// ResolveModel reads LLM_MODEL, LLM_MAX_TOKENS (or MAX_TOKENS) and
// LLM_TEMPERATURE (or TEMPERATURE). Unparsable numbers are ignored.
func ResolveModel(rc *config.RunnerContext, useVertex bool) Model {
	m := Model{Configured: DefaultModel}

	if name := rc.GetEnv("LLM_MODEL", ""); name != "" {
		if useVertex {
			name = MapToVertexModel(name)
		}
		m.Name = name
		m.Configured = name
	}

	maxTokens := rc.GetEnv("LLM_MAX_TOKENS", rc.GetEnv("MAX_TOKENS", ""))
	if n, err := strconv.Atoi(strings.TrimSpace(maxTokens)); err == nil && n > 0 {
		m.MaxTokens = n
	}

	temperature := rc.GetEnv("LLM_TEMPERATURE", rc.GetEnv("TEMPERATURE", ""))
	if f, err := strconv.ParseFloat(strings.TrimSpace(temperature), 64); err == nil {
		m.Temperature = &f
	}
	return m
}
