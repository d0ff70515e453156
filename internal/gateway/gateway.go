// Package gateway is the runner's HTTP surface: the AG-UI run endpoint
// streaming server-sent events, interrupt and health endpoints, run history,
// the WebSocket transport and the side-tool MCP endpoints.
package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/common/httpmw"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/events/bus"
	"github.com/kandev/claude-runner/internal/gateway/websocket"
	"github.com/kandev/claude-runner/internal/runstore"
)

const serverName = "runner-gateway"

// Runner is the run adapter as seen by the gateway.
type Runner interface {
	ProcessRun(ctx context.Context, input agui.RunAgentInput) (<-chan agui.Event, error)
	Interrupt(ctx context.Context, threadID string) error
	SessionID() string
	LastExitCode() int
	TurnCount() int
}

// SideTools serves the MCP side-tool endpoints.
type SideTools interface {
	SessionHandler() http.Handler
	FeedbackHandler() http.Handler
}

// Config holds gateway settings.
type Config struct {
	// ProxySecret gates write requests and WebSocket connections when set.
	ProxySecret string
}

// Gateway wires the HTTP routes onto a gin engine.
type Gateway struct {
	cfg       Config
	runner    Runner
	store     runstore.Store
	sideTools SideTools
	ws        *websocket.Handler
	logger    *logger.Logger
}

// Option configures optional collaborators.
type Option func(*Gateway)

// WithStore enables the run history and feedback routes.
func WithStore(s runstore.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// WithSideTools mounts the side-tool MCP endpoints.
func WithSideTools(st SideTools) Option {
	return func(g *Gateway) { g.sideTools = st }
}

// New creates a Gateway. eventBus feeds WebSocket thread subscriptions and
// may be nil.
func New(cfg Config, r Runner, eventBus bus.EventBus, log *logger.Logger, opts ...Option) *Gateway {
	log = log.WithFields(zap.String("component", "gateway"))
	g := &Gateway{
		cfg:    cfg,
		runner: r,
		ws:     websocket.NewHandler(r, eventBus, cfg.ProxySecret, log),
		logger: log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Router builds the gin engine with every route mounted.
func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.OtelTracing(serverName, "/health"))
	router.Use(httpmw.RequestLogger(g.logger, serverName))
	router.Use(httpmw.ProxyAuth(g.cfg.ProxySecret, g.logger, "/health"))
	g.SetupRoutes(router)
	return router
}

// SetupRoutes mounts the gateway routes on router.
func (g *Gateway) SetupRoutes(router gin.IRouter) {
	router.GET("/health", g.handleHealth)
	router.POST("/", g.handleRun)
	router.POST("/interrupt", g.handleInterrupt)

	api := router.Group("/api/v1")
	api.POST("/runs", g.handleRun)
	api.POST("/interrupt", g.handleInterrupt)
	api.GET("/stream", g.ws.HandleConnection)

	if g.store != nil {
		router.POST("/feedback", g.handleFeedback)
		api.POST("/feedback", g.handleFeedback)
		api.GET("/feedback", g.handleListFeedback)
		api.GET("/corrections", g.handleListCorrections)
		api.GET("/runs/:id", g.handleGetRun)
		api.GET("/threads/:id/runs", g.handleListRuns)
		api.GET("/threads/:id/summary", g.handleThreadSummary)
	}

	if g.sideTools != nil {
		router.Any("/mcp/session", gin.WrapH(g.sideTools.SessionHandler()))
		router.Any("/mcp/feedback", gin.WrapH(g.sideTools.FeedbackHandler()))
	}
}
