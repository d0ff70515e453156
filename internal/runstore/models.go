// Package runstore persists run records, and the feedback and corrections
// submitted through the feedback side tools.
package runstore

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// Status is the outcome of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusFinished    Status = "finished"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
)

// Run is the record of one ProcessRun call.
type Run struct {
	ID           string         `json:"id"`
	ThreadID     string         `json:"threadId"`
	Status       Status         `json:"status"`
	Model        string         `json:"model,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	NumTurns     int            `json:"numTurns"`
	TotalCostUSD float64        `json:"totalCostUsd"`
	Usage        map[string]any `json:"usage,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
}

// Duration is the wall time of a finished run, zero while running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Rating is the verdict of a feedback submission.
type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
)

// Valid reports whether r is one of the accepted ratings.
func (r Rating) Valid() bool {
	return r == RatingPositive || r == RatingNegative
}

// Feedback is a rating left by the agent's user through submit_feedback.
type Feedback struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	ThreadID  string    `json:"threadId,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Rating    Rating    `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// CorrectionType classifies how the user corrected the agent.
type CorrectionType string

const (
	CorrectionIncomplete CorrectionType = "incomplete"
	CorrectionIncorrect  CorrectionType = "incorrect"
	CorrectionOutOfScope CorrectionType = "out_of_scope"
	CorrectionStyle      CorrectionType = "style"
)

// CorrectionTypes lists the accepted correction types.
var CorrectionTypes = []CorrectionType{CorrectionIncomplete, CorrectionIncorrect, CorrectionOutOfScope, CorrectionStyle}

// Valid reports whether c is one of CorrectionTypes.
func (c CorrectionType) Valid() bool {
	for _, t := range CorrectionTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Correction is a user correction of the agent's work, logged by the agent
// through log_correction. Context holds the workflow and repos the session
// was working on.
type Correction struct {
	ID             int64          `json:"id"`
	SessionID      string         `json:"sessionId"`
	CorrectionType CorrectionType `json:"correctionType"`
	AgentAction    string         `json:"agentAction"`
	UserCorrection string         `json:"userCorrection"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ThreadSummary aggregates the runs of one thread.
type ThreadSummary struct {
	ThreadID     string  `json:"threadId"`
	Runs         int     `json:"runs"`
	Turns        int     `json:"turns"`
	TotalCostUSD float64 `json:"totalCostUsd"`
	OutputTokens int64   `json:"outputTokens"`
}
