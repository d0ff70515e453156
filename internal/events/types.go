// Package events names the subjects and event types the runner publishes
// and mirrors wire events onto the event bus.
package events

import "strings"

// Event types
const (
	// WireEvent carries one AG-UI event under Data["event"].
	WireEvent = "agui.event"

	RunStarted  = "run.started"
	RunFinished = "run.finished"
	RunError    = "run.error"
)

const subjectPrefix = "runner."

// ThreadEventsWildcard matches the wire event subjects of every thread.
const ThreadEventsWildcard = subjectPrefix + "thread.*.events"

// RunLifecycleWildcard matches every run lifecycle subject.
const RunLifecycleWildcard = subjectPrefix + "run.>"

// ThreadEventsSubject is the subject carrying the wire events of threadID.
func ThreadEventsSubject(threadID string) string {
	return subjectPrefix + "thread." + subjectToken(threadID) + ".events"
}

// RunLifecycleSubject is the subject of a run lifecycle event type, e.g.
// runner.run.finished for RunFinished.
func RunLifecycleSubject(eventType string) string {
	return subjectPrefix + eventType
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// subjectToken makes s usable as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
