package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/events/bus"
)

// ErrNotWireEvent is returned by DecodeWireEvent for other event types.
var ErrNotWireEvent = errors.New("not a wire event")

// Publisher mirrors wire events onto the bus. Publishing failures are
// logged; they never affect the run.
type Publisher struct {
	bus    bus.EventBus
	source string
	logger *logger.Logger
}

// NewPublisher creates a Publisher stamping events with source.
func NewPublisher(b bus.EventBus, source string, log *logger.Logger) *Publisher {
	return &Publisher{
		bus:    b,
		source: source,
		logger: log.WithFields(zap.String("component", "event-publisher")),
	}
}

// Publish sends ev on its thread subject and, for run start and end, a
// lifecycle event on runner.run.<kind>.
func (p *Publisher) Publish(ctx context.Context, ev agui.Event) {
	wire := bus.NewEvent(WireEvent, p.source, map[string]any{"event": ev})
	if err := p.bus.Publish(ctx, ThreadEventsSubject(ev.ThreadID), wire); err != nil {
		p.logger.Warn("failed to publish wire event",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
	}

	kind := lifecycleType(ev.Type)
	if kind == "" {
		return
	}
	data := map[string]any{
		"threadId": ev.ThreadID,
		"runId":    ev.RunID,
	}
	if ev.Message != "" {
		data["message"] = ev.Message
	}
	if err := p.bus.Publish(ctx, RunLifecycleSubject(kind), bus.NewEvent(kind, p.source, data)); err != nil {
		p.logger.Warn("failed to publish run lifecycle event",
			zap.String("event_type", kind),
			zap.Error(err))
	}
}

func lifecycleType(t agui.EventType) string {
	switch t {
	case agui.EventRunStarted:
		return RunStarted
	case agui.EventRunFinished:
		return RunFinished
	case agui.EventRunError:
		return RunError
	}
	return ""
}

// DecodeWireEvent extracts the AG-UI event of a WireEvent. It accepts both
// the in-memory form and the JSON-decoded form delivered over NATS.
func DecodeWireEvent(e *bus.Event) (agui.Event, error) {
	var ev agui.Event
	if e.Type != WireEvent {
		return ev, fmt.Errorf("%w: %s", ErrNotWireEvent, e.Type)
	}
	switch v := e.Data["event"].(type) {
	case agui.Event:
		return v, nil
	case nil:
		return ev, errors.New("wire event without payload")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ev, fmt.Errorf("failed to encode wire event: %w", err)
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return ev, fmt.Errorf("failed to decode wire event: %w", err)
		}
		return ev, nil
	}
}
