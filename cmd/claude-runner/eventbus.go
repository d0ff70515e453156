package main

import (
	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/events"
	"github.com/kandev/claude-runner/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	return events.Provide(cfg.NATS, log)
}
