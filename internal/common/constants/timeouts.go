// Package constants holds timeouts shared across the runner.
package constants

import "time"

// Timeouts for run teardown. Each runs on a context detached from the run's
// own cancellation so cleanup still happens after a client disconnect.
const (
	// InterruptTimeout bounds the engine interrupt control request.
	InterruptTimeout = 5 * time.Second

	// DrainTimeout is how long an interrupted turn may keep streaming
	// before the run stops reading it.
	DrainTimeout = 10 * time.Second

	// SessionReleaseTimeout bounds disconnecting the engine after a run.
	SessionReleaseTimeout = 15 * time.Second

	// RecordTimeout bounds each run store write.
	RecordTimeout = 5 * time.Second
)
