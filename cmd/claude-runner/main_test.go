package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kandev/claude-runner/internal/common/config"
)

func TestSideToolBaseURL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Port: 8123}}
	assert.Equal(t, "http://127.0.0.1:8123", sideToolBaseURL(cfg))

	cfg.Runner.SideToolBaseURL = "http://runner.svc:9000"
	assert.Equal(t, "http://runner.svc:9000", sideToolBaseURL(cfg))
}
