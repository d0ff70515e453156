// Package mcpserver hosts the MCP servers the runner offers to its own engine:
// session control, and feedback and correction collection. Both are served over Streamable
// HTTP from the runner's HTTP listener.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/capabilities"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/engine"
)

// Endpoint paths relative to the runner's base URL.
const (
	SessionPath  = "/mcp/session"
	FeedbackPath = "/mcp/feedback"
)

const serverVersion = "1.0.0"

// RestartRequester is implemented by session.Manager.
type RestartRequester interface {
	RequestRestart()
}

// Config holds the side-tool configuration.
type Config struct {
	// SessionID is stamped on recorded feedback and corrections.
	SessionID string
	// Recorder persists feedback and corrections. Nil logs them instead.
	Recorder FeedbackRecorder
	// SessionContext is attached to every recorded correction.
	SessionContext map[string]any
	// ProxySecret is sent by the engine as a bearer token when set.
	ProxySecret string
}

// Server owns the session and feedback MCP servers and their transports.
type Server struct {
	cfg      Config
	session  *server.StreamableHTTPServer
	feedback *server.StreamableHTTPServer
	logger   *logger.Logger
}

// New builds both side-tool servers.
func New(cfg Config, restarter RestartRequester, log *logger.Logger) *Server {
	log = log.WithFields(zap.String("component", "mcp-server"))

	sessionMCP := server.NewMCPServer("runner-session", serverVersion, server.WithToolCapabilities(true))
	registerSessionTools(sessionMCP, restarter, log)

	feedbackMCP := server.NewMCPServer("runner-feedback", serverVersion, server.WithToolCapabilities(true))
	registerFeedbackTools(feedbackMCP, cfg, log)

	return &Server{
		session: server.NewStreamableHTTPServer(sessionMCP,
			server.WithEndpointPath(SessionPath),
			server.WithStateLess(true),
		),
		feedback: server.NewStreamableHTTPServer(feedbackMCP,
			server.WithEndpointPath(FeedbackPath),
			server.WithStateLess(true),
		),
		cfg:    cfg,
		logger: log,
	}
}

// SessionHandler serves the session-control MCP endpoint.
func (s *Server) SessionHandler() http.Handler { return s.session }

// FeedbackHandler serves the feedback MCP endpoint.
func (s *Server) FeedbackHandler() http.Handler { return s.feedback }

// Register announces both servers to the capability registry so every run
// connects the engine to them. baseURL is how the engine reaches this process.
func (s *Server) Register(reg *capabilities.Registry, baseURL string) {
	base := strings.TrimRight(baseURL, "/")
	var headers map[string]string
	if s.cfg.ProxySecret != "" {
		headers = map[string]string{"Authorization": "Bearer " + s.cfg.ProxySecret}
	}
	reg.RegisterSideTool(capabilities.SessionServer, engine.MCPServer{Type: "http", URL: base + SessionPath, Headers: headers})
	reg.RegisterSideTool(capabilities.FeedbackServer, engine.MCPServer{Type: "http", URL: base + FeedbackPath, Headers: headers})
	s.logger.Info("side tools registered",
		zap.String("session_endpoint", base+SessionPath),
		zap.String("feedback_endpoint", base+FeedbackPath))
}

// Shutdown closes transport sessions of both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.session.Shutdown(ctx), s.feedback.Shutdown(ctx))
}
