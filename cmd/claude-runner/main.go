// Package main runs the Claude Code runner: one AG-UI endpoint in front of a
// Claude Code session inside the session container.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/gateway"
	"github.com/kandev/claude-runner/internal/runner"
	"github.com/kandev/claude-runner/internal/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := config.RunnerContextFromEnviron(cfg.Runner, os.Environ())
	log = log.WithFields(zap.String("session_id", rc.SessionID))
	log.Info("Starting Claude runner",
		zap.String("workspace", rc.WorkspacePath),
		zap.Bool("tracing", tracing.Enabled()))

	// 3. Infrastructure
	eventBus, busCleanup, err := provideEventBus(cfg, log)
	if err != nil {
		log.Error("Failed to initialize event bus", zap.Error(err))
		return 1
	}
	defer func() { _ = busCleanup() }()

	store, storeCleanup, err := provideRunStore(cfg, log)
	if err != nil {
		log.Error("Failed to initialize run store", zap.Error(err))
		return 1
	}
	defer func() { _ = storeCleanup() }()

	// 4. Runner services
	svc, err := provideServices(cfg, rc, eventBus, store, log)
	if err != nil {
		log.Error("Failed to initialize runner", zap.Error(err))
		return 1
	}

	if err := svc.Adapter.Initialize(ctx); err != nil {
		var prereq *runner.PrerequisiteError
		if errors.As(err, &prereq) {
			log.Error("Prerequisite check failed", zap.String("check", prereq.Check), zap.Error(prereq.Err))
			return prereq.ExitCode()
		}
		log.Error("Failed to initialize runner", zap.Error(err))
		return 1
	}

	// 5. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	gw := gateway.New(gateway.Config{ProxySecret: cfg.Server.ProxySecret}, svc.Adapter, eventBus, log,
		gateway.WithStore(store),
		gateway.WithSideTools(svc.SideTools),
	)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           gw.Router(),
		ReadHeaderTimeout: cfg.Server.ReadTimeoutDuration(),
		ErrorLog:          zap.NewStdLog(log.Zap()),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("AG-UI server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down Claude runner...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
		defer cancel()

		// Interrupt before Shutdown so streaming responses can finish.
		if err := svc.Adapter.Interrupt(shutdownCtx, ""); err == nil {
			log.Info("Interrupted active run")
		}
		err := server.Shutdown(shutdownCtx)
		if stErr := svc.SideTools.Shutdown(shutdownCtx); stErr != nil {
			log.Warn("Side tool shutdown error", zap.Error(stErr))
		}
		if trErr := tracing.Shutdown(shutdownCtx); trErr != nil {
			log.Warn("Tracing shutdown error", zap.Error(trErr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Runner stopped with error", zap.Error(err))
		return 1
	}
	log.Info("Claude runner stopped", zap.Int("last_exit_code", svc.Adapter.LastExitCode()))
	return 0
}
