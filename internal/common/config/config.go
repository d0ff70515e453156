// Package config loads runner configuration from defaults, an optional
// config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the runner.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Engine   EngineConfig   `mapstructure:"engine"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the AG-UI HTTP server configuration.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`     // seconds
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // seconds
	// ProxySecret, when set, must arrive as a bearer token on write requests.
	ProxySecret     string `mapstructure:"proxySecret"`
}

// RunnerConfig describes the session this runner serves.
type RunnerConfig struct {
	SessionID        string `mapstructure:"sessionId"`
	WorkspacePath    string `mapstructure:"workspacePath"`
	CapabilitiesFile string `mapstructure:"capabilitiesFile"`
	// SideToolBaseURL is how the engine reaches the side-tool MCP servers.
	// Empty means http://127.0.0.1:<server.port>.
	SideToolBaseURL string `mapstructure:"sideToolBaseUrl"`
}

// EngineConfig configures the Claude Code subprocess.
type EngineConfig struct {
	Command        string   `mapstructure:"command"`
	PermissionMode string   `mapstructure:"permissionMode"`
	SettingSources []string `mapstructure:"settingSources"`
	ConnectTimeout int      `mapstructure:"connectTimeout"` // seconds
	StopTimeout    int      `mapstructure:"stopTimeout"`    // seconds
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DatabaseConfig selects the run store backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the graceful shutdown budget.
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// ConnectTimeoutDuration bounds engine startup plus the initialize handshake.
func (e *EngineConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(e.ConnectTimeout) * time.Second
}

// StopTimeoutDuration bounds how long Disconnect waits before killing.
func (e *EngineConfig) StopTimeoutDuration() time.Duration {
	return time.Duration(e.StopTimeout) * time.Second
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("RUNNER_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.shutdownTimeout", 30)
	v.SetDefault("server.proxySecret", "")

	v.SetDefault("runner.sessionId", "")
	v.SetDefault("runner.workspacePath", "/workspace")
	v.SetDefault("runner.capabilitiesFile", "")
	v.SetDefault("runner.sideToolBaseUrl", "")

	v.SetDefault("engine.command", "claude")
	v.SetDefault("engine.permissionMode", "acceptEdits")
	v.SetDefault("engine.settingSources", []string{"project"})
	v.SetDefault("engine.connectTimeout", 60)
	v.SetDefault("engine.stopTimeout", 10)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "claude-runner")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./runner.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from the environment, config.yaml and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given directory or the default
// locations. Environment variables use the RUNNER_ prefix; the session
// container's plain names are bound explicitly.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "AGUI_PORT", "RUNNER_SERVER_PORT")
	_ = v.BindEnv("server.host", "AGUI_HOST", "RUNNER_SERVER_HOST")
	_ = v.BindEnv("server.proxySecret", "RUNNER_PROXY_SECRET")
	_ = v.BindEnv("runner.sessionId", "SESSION_ID", "RUNNER_SESSION_ID")
	_ = v.BindEnv("runner.workspacePath", "WORKSPACE_PATH", "RUNNER_WORKSPACE_PATH")
	_ = v.BindEnv("runner.capabilitiesFile", "RUNNER_CAPABILITIES_FILE")
	_ = v.BindEnv("runner.sideToolBaseUrl", "RUNNER_SIDE_TOOL_BASE_URL")
	_ = v.BindEnv("engine.command", "CLAUDE_CLI_PATH", "RUNNER_ENGINE_COMMAND")
	_ = v.BindEnv("nats.url", "NATS_URL", "RUNNER_NATS_URL")
	_ = v.BindEnv("database.driver", "RUNNER_DB_DRIVER")
	_ = v.BindEnv("database.path", "RUNNER_DB_PATH")
	_ = v.BindEnv("database.dsn", "RUNNER_DB_DSN")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/claude-runner/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Runner.WorkspacePath == "" {
		errs = append(errs, "runner.workspacePath is required")
	}
	if cfg.Engine.Command == "" {
		errs = append(errs, "engine.command is required")
	}
	if cfg.Engine.ConnectTimeout <= 0 {
		errs = append(errs, "engine.connectTimeout must be positive")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for postgres")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
