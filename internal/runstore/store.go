package runstore

import "context"

// Store is the run, feedback and correction persistence interface.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the newest runs of a thread first.
	ListRuns(ctx context.Context, threadID string, limit int) ([]*Run, error)
	ThreadSummary(ctx context.Context, threadID string) (*ThreadSummary, error)

	RecordFeedback(ctx context.Context, fb *Feedback) error
	ListFeedback(ctx context.Context, sessionID string) ([]*Feedback, error)

	RecordCorrection(ctx context.Context, c *Correction) error
	ListCorrections(ctx context.Context, sessionID string) ([]*Correction, error)

	Close() error
}
