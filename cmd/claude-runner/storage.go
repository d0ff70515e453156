package main

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/db"
	"github.com/kandev/claude-runner/internal/runstore"
)

func provideRunStore(cfg *config.Config, log *logger.Logger) (runstore.Store, func() error, error) {
	pool, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store, cleanup, err := runstore.Provide(pool.Writer(), pool.Reader())
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	log.Info("Run store ready", zap.String("driver", cfg.Database.Driver))
	return store, func() error {
		return errors.Join(cleanup(), pool.Close())
	}, nil
}
