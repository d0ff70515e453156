// Package websocket serves the runner's WebSocket transport: run requests,
// interrupts and live subscriptions to thread event streams.
package websocket

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/events/bus"
	"github.com/kandev/claude-runner/internal/session"
	ws "github.com/kandev/claude-runner/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Runner is the part of the run adapter the transport drives.
type Runner interface {
	ProcessRun(ctx context.Context, input agui.RunAgentInput) (<-chan agui.Event, error)
	Interrupt(ctx context.Context, threadID string) error
	SessionID() string
}

// InterruptRequest is the payload of run.interrupt. An empty thread id
// interrupts whatever run is active.
type InterruptRequest struct {
	ThreadID string `json:"threadId"`
}

// SubscribeRequest is the payload of thread.subscribe and thread.unsubscribe.
type SubscribeRequest struct {
	ThreadID string `json:"threadId"`
}

// Handler upgrades connections and owns the shared dispatcher.
type Handler struct {
	runner     Runner
	bus        bus.EventBus
	secret     string
	dispatcher *ws.Dispatcher
	logger     *logger.Logger
}

// NewHandler creates a Handler. A nil bus disables thread subscriptions.
// A non-empty secret must be presented as a bearer token or ?token=.
func NewHandler(runner Runner, eventBus bus.EventBus, secret string, log *logger.Logger) *Handler {
	h := &Handler{
		runner:     runner,
		bus:        eventBus,
		secret:     secret,
		dispatcher: ws.NewDispatcher(),
		logger:     log.WithFields(zap.String("component", "ws_handler")),
	}
	h.dispatcher.RegisterFunc(ws.ActionHealthCheck, h.handleHealth)
	h.dispatcher.RegisterFunc(ws.ActionRunInterrupt, h.handleInterrupt)
	return h
}

// HandleConnection upgrades HTTP to WebSocket and serves the connection
// until it closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	if !h.authorized(c) {
		h.logger.Warn("rejected WebSocket connection", zap.String("remote_addr", c.Request.RemoteAddr))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or missing token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h, h.logger)
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

func (h *Handler) authorized(c *gin.Context) bool {
	if h.secret == "" {
		return true
	}
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

func (h *Handler) handleHealth(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"status":    "healthy",
		"sessionId": h.runner.SessionID(),
		"actions":   append(h.dispatcher.Actions(), ws.ActionRunStart, ws.ActionThreadSubscribe, ws.ActionThreadUnsubscribe),
	})
}

func (h *Handler) handleInterrupt(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req InterruptRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	err := h.runner.Interrupt(ctx, req.ThreadID)
	switch {
	case err == nil:
		return ws.NewResponse(msg.ID, msg.Action, map[string]any{"interrupted": true})
	case errors.Is(err, session.ErrNoActiveSession):
		return ws.NewResponse(msg.ID, msg.Action, map[string]any{
			"interrupted": false,
			"message":     err.Error(),
		})
	default:
		return nil, err
	}
}
