package mcpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/claude-runner/internal/capabilities"
	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/runstore"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

type flagRestarter struct {
	mu        sync.Mutex
	requested int
}

func (f *flagRestarter) RequestRestart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested++
}

func (f *flagRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested
}

type memFeedback struct {
	got         []*runstore.Feedback
	corrections []*runstore.Correction
	err         error
}

func (m *memFeedback) RecordFeedback(_ context.Context, fb *runstore.Feedback) error {
	if m.err != nil {
		return m.err
	}
	m.got = append(m.got, fb)
	return nil
}

func (m *memFeedback) RecordCorrection(_ context.Context, c *runstore.Correction) error {
	if m.err != nil {
		return m.err
	}
	m.corrections = append(m.corrections, c)
	return nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestRestartSession(t *testing.T) {
	r := &flagRestarter{}
	h := restartSessionHandler(r, newTestLogger(t))

	res, err := h(context.Background(), callRequest(ToolRestartSession, nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, restartResultText, resultText(t, res))
	assert.Equal(t, 1, r.count())
}

func TestSubmitFeedback(t *testing.T) {
	t.Run("recorded", func(t *testing.T) {
		rec := &memFeedback{}
		h := submitFeedbackHandler(Config{SessionID: "sess-1", Recorder: rec}, newTestLogger(t))

		res, err := h(context.Background(), callRequest(ToolSubmitFeedback, map[string]any{
			"rating":  "positive",
			"comment": "great work",
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, "Feedback recorded (rating=positive). Thank you for helping improve the platform.", resultText(t, res))

		require.Len(t, rec.got, 1)
		assert.Equal(t, "sess-1", rec.got[0].SessionID)
		assert.Equal(t, runstore.RatingPositive, rec.got[0].Rating)
		assert.Equal(t, "great work", rec.got[0].Comment)
	})

	t.Run("no recorder logs", func(t *testing.T) {
		h := submitFeedbackHandler(Config{SessionID: "sess-1"}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolSubmitFeedback, map[string]any{
			"rating":  "negative",
			"comment": "wrong file",
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Contains(t, resultText(t, res), "rating=negative")
	})

	t.Run("invalid rating", func(t *testing.T) {
		rec := &memFeedback{}
		h := submitFeedbackHandler(Config{Recorder: rec}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolSubmitFeedback, map[string]any{
			"rating":  "meh",
			"comment": "x",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Empty(t, rec.got)
	})

	t.Run("missing rating", func(t *testing.T) {
		h := submitFeedbackHandler(Config{}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolSubmitFeedback, map[string]any{"comment": "x"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("recorder error", func(t *testing.T) {
		rec := &memFeedback{err: errors.New("database is locked")}
		h := submitFeedbackHandler(Config{Recorder: rec}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolSubmitFeedback, map[string]any{
			"rating":  "positive",
			"comment": "x",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "Feedback noted but could not be recorded: database is locked", resultText(t, res))
	})
}

func TestServer_Register(t *testing.T) {
	srv := New(Config{}, &flagRestarter{}, newTestLogger(t))
	reg := capabilities.NewRegistry(capabilities.RegistryConfig{}, nil, newTestLogger(t))
	srv.Register(reg, "http://127.0.0.1:8000/")

	root := t.TempDir()
	a, err := reg.Assemble(config.NewRunnerContext("sess", root, map[string]string{
		capabilities.EnvAnthropicAPIKey: "sk-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000/mcp/session", a.Options.MCPServers[capabilities.SessionServer].URL)
	assert.Equal(t, "http://127.0.0.1:8000/mcp/feedback", a.Options.MCPServers[capabilities.FeedbackServer].URL)
	assert.Contains(t, a.Options.AllowedTools, "mcp__session")
	assert.Contains(t, a.Options.AllowedTools, "mcp__feedback")
	assert.Empty(t, a.Options.MCPServers[capabilities.SessionServer].Headers)
}

func TestServer_RegisterWithSecret(t *testing.T) {
	srv := New(Config{ProxySecret: "s3cret"}, &flagRestarter{}, newTestLogger(t))
	reg := capabilities.NewRegistry(capabilities.RegistryConfig{}, nil, newTestLogger(t))
	srv.Register(reg, "http://127.0.0.1:8000")

	a, err := reg.Assemble(config.NewRunnerContext("sess", t.TempDir(), map[string]string{
		capabilities.EnvAnthropicAPIKey: "sk-1",
	}))
	require.NoError(t, err)
	for _, name := range []string{capabilities.SessionServer, capabilities.FeedbackServer} {
		assert.Equal(t, "Bearer s3cret", a.Options.MCPServers[name].Headers["Authorization"])
	}
}

func TestServer_SessionOverHTTP(t *testing.T) {
	r := &flagRestarter{}
	srv := New(Config{}, r, newTestLogger(t))
	ts := httptest.NewServer(srv.SessionHandler())
	defer ts.Close()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"restart_session","arguments":{}}}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+SessionPath, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(out))
	assert.Contains(t, string(out), "Session restart has been requested")
	assert.Equal(t, 1, r.count())
}

func TestLogCorrection(t *testing.T) {
	args := map[string]any{
		"correction_type": "incorrect",
		"agent_action":    "renamed the exported API",
		"user_correction": "keep the public names, only change internals",
	}

	t.Run("recorded", func(t *testing.T) {
		rec := &memFeedback{}
		sessionCtx := map[string]any{"session_name": "refactor"}
		h := logCorrectionHandler(Config{SessionID: "sess-1", Recorder: rec, SessionContext: sessionCtx}, newTestLogger(t))

		res, err := h(context.Background(), callRequest(ToolLogCorrection, args))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, "Correction logged: type=incorrect. This will be reviewed in the next feedback loop cycle.", resultText(t, res))

		require.Len(t, rec.corrections, 1)
		got := rec.corrections[0]
		assert.Equal(t, "sess-1", got.SessionID)
		assert.Equal(t, runstore.CorrectionIncorrect, got.CorrectionType)
		assert.Equal(t, "renamed the exported API", got.AgentAction)
		assert.Equal(t, "keep the public names, only change internals", got.UserCorrection)
		assert.Equal(t, sessionCtx, got.Context)
	})

	t.Run("no recorder logs", func(t *testing.T) {
		h := logCorrectionHandler(Config{SessionID: "sess-1"}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolLogCorrection, args))
		require.NoError(t, err)
		assert.False(t, res.IsError)
	})

	t.Run("invalid type", func(t *testing.T) {
		rec := &memFeedback{}
		h := logCorrectionHandler(Config{Recorder: rec}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolLogCorrection, map[string]any{"correction_type": "rude"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Empty(t, rec.corrections)
	})

	t.Run("missing type", func(t *testing.T) {
		h := logCorrectionHandler(Config{}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolLogCorrection, map[string]any{"agent_action": "x"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("recorder error", func(t *testing.T) {
		h := logCorrectionHandler(Config{Recorder: &memFeedback{err: errors.New("db locked")}}, newTestLogger(t))
		res, err := h(context.Background(), callRequest(ToolLogCorrection, args))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "Failed to log correction: db locked", resultText(t, res))
	})
}
