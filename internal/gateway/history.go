package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/runstore"
)

type feedbackRequest struct {
	Rating   runstore.Rating `json:"rating" binding:"required"`
	Comment  string          `json:"comment"`
	ThreadID string          `json:"threadId"`
	RunID    string          `json:"runId"`
}

func (g *Gateway) handleGetRun(c *gin.Context) {
	run, err := g.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, runstore.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		g.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (g *Gateway) handleListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := g.store.ListRuns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		g.storeError(c, err)
		return
	}
	if runs == nil {
		runs = []*runstore.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

func (g *Gateway) handleThreadSummary(c *gin.Context) {
	summary, err := g.store.ThreadSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleFeedback records feedback submitted by the platform UI. The engine
// submits through the submit_feedback side tool instead.
func (g *Gateway) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback: " + err.Error()})
		return
	}
	if !req.Rating.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be positive or negative"})
		return
	}

	fb := &runstore.Feedback{
		SessionID: g.runner.SessionID(),
		ThreadID:  req.ThreadID,
		RunID:     req.RunID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	}
	if err := g.store.RecordFeedback(c.Request.Context(), fb); err != nil {
		g.storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (g *Gateway) handleListFeedback(c *gin.Context) {
	items, err := g.store.ListFeedback(c.Request.Context(), g.runner.SessionID())
	if err != nil {
		g.storeError(c, err)
		return
	}
	if items == nil {
		items = []*runstore.Feedback{}
	}
	c.JSON(http.StatusOK, gin.H{"feedback": items, "total": len(items)})
}

func (g *Gateway) handleListCorrections(c *gin.Context) {
	items, err := g.store.ListCorrections(c.Request.Context(), g.runner.SessionID())
	if err != nil {
		g.storeError(c, err)
		return
	}
	if items == nil {
		items = []*runstore.Correction{}
	}
	c.JSON(http.StatusOK, gin.H{"corrections": items, "total": len(items)})
}

func (g *Gateway) storeError(c *gin.Context, err error) {
	g.logger.Error("run store request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "run store unavailable"})
}
