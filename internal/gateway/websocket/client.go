package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/events"
	"github.com/kandev/claude-runner/internal/events/bus"
	"github.com/kandev/claude-runner/internal/runner"
	ws "github.com/kandev/claude-runner/pkg/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	sendBufferSize = 256
)

// Client is one WebSocket connection. Run events and subscribed thread events
// are queued on send; a full queue blocks the producer until the connection
// closes, so no wire event is dropped silently.
type Client struct {
	ID      string
	conn    *websocket.Conn
	handler *Handler
	send    chan []byte
	done    chan struct{}

	mu            sync.Mutex
	subscriptions map[string]bus.Subscription // by thread id
	runs          sync.WaitGroup

	closeOnce sync.Once
	logger    *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, h *Handler, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		handler:       h,
		send:          make(chan []byte, sendBufferSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string]bus.Subscription),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump reads requests until the connection fails. On exit it cancels
// runs started by this client, drops its subscriptions and waits for the
// runs to drain.
func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.close()
		c.unsubscribeAll()
		c.runs.Wait()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("failed to parse message", zap.Error(err))
			c.sendError("", "", ws.ErrorCodeBadRequest, "Invalid message format", nil)
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	c.logger.Debug("received message",
		zap.String("action", msg.Action),
		zap.String("id", msg.ID))

	// These need the client itself.
	switch msg.Action {
	case ws.ActionRunStart:
		c.handleRunStart(ctx, msg)
		return
	case ws.ActionThreadSubscribe:
		c.handleSubscribe(msg)
		return
	case ws.ActionThreadUnsubscribe:
		c.handleUnsubscribe(msg)
		return
	}

	response, err := c.handler.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Error("handler error",
			zap.String("action", msg.Action),
			zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}
	if response != nil {
		c.sendMessage(response)
	}
}

// handleRunStart starts a run bound to the connection and streams its events
// as run.event notifications. The response goes out before the first event.
func (c *Client) handleRunStart(ctx context.Context, msg *ws.Message) {
	var input agui.RunAgentInput
	if err := msg.ParsePayload(&input); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}

	stream, err := c.handler.runner.ProcessRun(ctx, input)
	if err != nil {
		var prereq *runner.PrerequisiteError
		code := ws.ErrorCodeInternalError
		if errors.Is(err, runner.ErrNotInitialized) || errors.As(err, &prereq) {
			code = ws.ErrorCodeUnavailable
		}
		c.sendError(msg.ID, msg.Action, code, err.Error(), nil)
		return
	}

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]any{"accepted": true})
	c.sendMessage(resp)

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		for ev := range stream {
			c.sendEvent(ev)
		}
	}()
}

func (c *Client) handleSubscribe(msg *ws.Message) {
	var req SubscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}
	if req.ThreadID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "threadId is required", nil)
		return
	}
	if c.handler.bus == nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeUnavailable, "event bus is not configured", nil)
		return
	}

	c.mu.Lock()
	_, exists := c.subscriptions[req.ThreadID]
	c.mu.Unlock()
	if !exists {
		sub, err := c.handler.bus.Subscribe(events.ThreadEventsSubject(req.ThreadID), c.forward)
		if err != nil {
			c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
			return
		}
		c.mu.Lock()
		c.subscriptions[req.ThreadID] = sub
		c.mu.Unlock()
	}

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"success":  true,
		"threadId": req.ThreadID,
	})
	c.sendMessage(resp)
}

func (c *Client) handleUnsubscribe(msg *ws.Message) {
	var req SubscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}
	if req.ThreadID == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "threadId is required", nil)
		return
	}

	c.mu.Lock()
	sub, ok := c.subscriptions[req.ThreadID]
	delete(c.subscriptions, req.ThreadID)
	c.mu.Unlock()
	if ok {
		_ = sub.Unsubscribe()
	}

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"success":  true,
		"threadId": req.ThreadID,
	})
	c.sendMessage(resp)
}

// forward relays a bus wire event to the connection.
func (c *Client) forward(_ context.Context, e *bus.Event) error {
	ev, err := events.DecodeWireEvent(e)
	if err != nil {
		if errors.Is(err, events.ErrNotWireEvent) {
			return nil
		}
		return err
	}
	c.sendEvent(ev)
	return nil
}

func (c *Client) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]bus.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func (c *Client) sendEvent(ev agui.Event) {
	n, err := ws.NewNotification(ws.ActionRunEvent, ev)
	if err != nil {
		c.logger.Error("failed to build event notification", zap.Error(err))
		return
	}
	c.sendMessage(n)
}

// sendMessage queues msg; it gives up once the connection is closed.
func (c *Client) sendMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *Client) sendError(id, action, code, message string, details map[string]any) {
	msg, err := ws.NewError(id, action, code, message, details)
	if err != nil {
		c.logger.Error("failed to create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WritePump writes queued messages, one frame each, and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
