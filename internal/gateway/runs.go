package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/runner"
	"github.com/kandev/claude-runner/internal/session"
)

type interruptRequest struct {
	ThreadID string `json:"threadId"`
}

// handleRun streams one run as server-sent events. A client disconnect
// cancels the request context, which the adapter treats as an interrupt;
// the remaining events are drained so the run can finish.
func (g *Gateway) handleRun(c *gin.Context) {
	var input agui.RunAgentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run input: " + err.Error()})
		return
	}

	events, err := g.runner.ProcessRun(c.Request.Context(), input)
	if err != nil {
		var prereq *runner.PrerequisiteError
		if errors.Is(err, runner.ErrNotInitialized) || errors.As(err, &prereq) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", agui.ContentTypeSSE)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	log := g.logger.WithContext(c.Request.Context())
	var writeErr error
	for ev := range events {
		if writeErr != nil {
			continue
		}
		if writeErr = agui.WriteSSE(c.Writer, ev); writeErr != nil {
			log.Debug("client went away, draining run", zap.Error(writeErr))
			continue
		}
		c.Writer.Flush()
	}
}

// handleInterrupt interrupts the active run. An empty body or thread id
// matches any run; having nothing to interrupt is not an error.
func (g *Gateway) handleInterrupt(c *gin.Context) {
	var req interruptRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interrupt request: " + err.Error()})
		return
	}

	err := g.runner.Interrupt(c.Request.Context(), req.ThreadID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"interrupted": true, "message": "Interrupt signal sent"})
	case errors.Is(err, session.ErrNoActiveSession):
		c.JSON(http.StatusOK, gin.H{"interrupted": false, "message": err.Error()})
	default:
		g.logger.Error("interrupt failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"sessionId":    g.runner.SessionID(),
		"lastExitCode": g.runner.LastExitCode(),
		"turnCount":    g.runner.TurnCount(),
	})
}
