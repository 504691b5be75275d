// Package config loads and validates the eventlake.yaml configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the fully resolved application configuration. Database settings
// come from the environment (see pkg/database); everything else lives in
// eventlake.yaml.
type Config struct {
	configDir string

	Server     *ServerConfig
	Deployment *DeploymentConfig
	Engine     *EngineConfig
	Spool      *SpoolConfig
	EventLog   *EventLogConfig
	Sentinel   *SentinelConfig
	LLM        *LLMConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DeploymentConfig is the identity stamped into query tags and events.
type DeploymentConfig struct {
	Service string `yaml:"service,omitempty"`
	Env     string `yaml:"env,omitempty"`
	GitSHA  string `yaml:"git_sha,omitempty"`
}

// EngineConfig holds execution engine settings.
type EngineConfig struct {
	StageDir string `yaml:"stage_dir,omitempty"`
}

// SpoolConfig holds durable spool settings for the event log client.
type SpoolConfig struct {
	Dir    string
	MaxAge time.Duration
}

// EventLogConfig tunes the event log client.
type EventLogConfig struct {
	MaxBatch         int
	FlushInterval    time.Duration
	BreakerThreshold int
	BreakerWindow    time.Duration
	RedactKeys       []string
}

// SentinelConfig tunes the contract sentinel.
type SentinelConfig struct {
	Interval time.Duration
	Strict   bool
}

// LLMConfig holds the optional natural-language compile path. When disabled
// the planner runs on the deterministic regex path only.
type LLMConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}
