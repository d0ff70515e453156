package main

import (
	"fmt"

	"github.com/kandev/claude-runner/internal/capabilities"
	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/engine/claudecode"
	"github.com/kandev/claude-runner/internal/events"
	"github.com/kandev/claude-runner/internal/events/bus"
	"github.com/kandev/claude-runner/internal/mcpserver"
	"github.com/kandev/claude-runner/internal/runner"
	"github.com/kandev/claude-runner/internal/runstore"
	"github.com/kandev/claude-runner/internal/session"
)

// Services is everything the gateway serves.
type Services struct {
	Adapter   *runner.Adapter
	SideTools *mcpserver.Server
}

func provideServices(cfg *config.Config, rc *config.RunnerContext, eventBus bus.EventBus, store runstore.Store, log *logger.Logger) (*Services, error) {
	eng := claudecode.New(claudecode.Config{
		Command:        cfg.Engine.Command,
		ConnectTimeout: cfg.Engine.ConnectTimeoutDuration(),
		StopTimeout:    cfg.Engine.StopTimeoutDuration(),
	}, log)
	sessions := session.NewManager(eng, log)

	file, err := capabilities.LoadFile(cfg.Runner.CapabilitiesFile)
	if err != nil {
		return nil, err
	}
	registry := capabilities.NewRegistry(capabilities.RegistryConfig{
		PermissionMode: cfg.Engine.PermissionMode,
		SettingSources: cfg.Engine.SettingSources,
	}, file, log)

	sideTools := mcpserver.New(mcpserver.Config{
		SessionID:      rc.SessionID,
		Recorder:       store,
		SessionContext: capabilities.SessionContext(rc),
		ProxySecret:    cfg.Server.ProxySecret,
	}, sessions, log)
	sideTools.Register(registry, sideToolBaseURL(cfg))

	adapter := runner.NewAdapter(rc, sessions, registry, log,
		runner.WithRecorder(store),
		runner.WithPublisher(events.NewPublisher(eventBus, rc.SessionID, log)),
		runner.WithPrerequisites(
			runner.WorkspaceExists(rc.WorkspacePath),
			runner.CommandAvailable(cfg.Engine.Command),
			runner.CredentialsConfigured(rc),
		),
	)

	return &Services{
		Adapter:   adapter,
		SideTools: sideTools,
	}, nil
}

func sideToolBaseURL(cfg *config.Config) string {
	if cfg.Runner.SideToolBaseURL != "" {
		return cfg.Runner.SideToolBaseURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}
