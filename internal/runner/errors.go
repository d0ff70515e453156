package runner

import (
	"errors"
	"fmt"
)

// Exit codes reported by LastExitCode.
const (
	ExitSuccess      = 0
	ExitRunError     = 1
	ExitPrerequisite = 2
)

// ErrNotInitialized is returned by ProcessRun before Initialize has run.
var ErrNotInitialized = errors.New("runner adapter is not initialized")

// PrerequisiteError is a fatal initialization failure. It is reported to the
// caller outside the event stream.
type PrerequisiteError struct {
	Check string
	Err   error
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("prerequisite %s failed: %v", e.Check, e.Err)
}

func (e *PrerequisiteError) Unwrap() error { return e.Err }

// ExitCode is the process exit status for this failure.
func (e *PrerequisiteError) ExitCode() int { return ExitPrerequisite }
