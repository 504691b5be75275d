package config

import "time"

// Built-in defaults. User YAML overrides these field by field.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8080
	DefaultStageDir         = "/var/lib/eventlake/stage"
	DefaultSpoolDir         = "/var/lib/eventlake/spool"
	DefaultSpoolMaxAge      = 7 * 24 * time.Hour
	DefaultSentinelInterval = 24 * time.Hour
)

// defaultConfig returns the built-in configuration; the loader merges user
// YAML on top. Event log tuning defaults to zero values here because the
// event log client applies its own defaults to unset fields.
func defaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Deployment: &DeploymentConfig{
			Service: "eventlake",
			Env:     "dev",
		},
		Engine: &EngineConfig{
			StageDir: DefaultStageDir,
		},
		Spool: &SpoolConfig{
			Dir:    DefaultSpoolDir,
			MaxAge: DefaultSpoolMaxAge,
		},
		EventLog: &EventLogConfig{},
		Sentinel: &SentinelConfig{
			Interval: DefaultSentinelInterval,
			Strict:   true,
		},
		LLM: &LLMConfig{
			Enabled:   false,
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
	}
}
