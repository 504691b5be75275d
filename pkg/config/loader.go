package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// eventlakeYAMLConfig represents the complete eventlake.yaml file structure.
// Durations are strings here and parsed during resolution.
type eventlakeYAMLConfig struct {
	Server     *serverYAMLConfig     `yaml:"server"`
	Deployment *DeploymentConfig     `yaml:"deployment"`
	Engine     *EngineConfig         `yaml:"engine"`
	Spool      *spoolYAMLConfig      `yaml:"spool"`
	EventLog   *eventLogYAMLConfig   `yaml:"event_log"`
	Sentinel   *sentinelYAMLConfig   `yaml:"sentinel"`
	LLM        *LLMConfig            `yaml:"llm"`
}

type serverYAMLConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

type spoolYAMLConfig struct {
	Dir    string `yaml:"dir,omitempty"`
	MaxAge string `yaml:"max_age,omitempty"` // Parsed to time.Duration
}

type eventLogYAMLConfig struct {
	MaxBatch         int      `yaml:"max_batch,omitempty"`
	FlushInterval    string   `yaml:"flush_interval,omitempty"`
	BreakerThreshold int      `yaml:"breaker_threshold,omitempty"`
	BreakerWindow    string   `yaml:"breaker_window,omitempty"`
	RedactKeys       []string `yaml:"redact_keys,omitempty"`
}

type sentinelYAMLConfig struct {
	Interval string `yaml:"interval,omitempty"`
	Strict   *bool  `yaml:"strict,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load eventlake.yaml from configDir
//  2. Expand environment variables
//  3. Merge user YAML onto built-in defaults
//  4. Validate the resolved configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"listen", cfg.Server.Addr(),
		"service", cfg.Deployment.Service,
		"env", cfg.Deployment.Env,
		"sentinel_strict", cfg.Sentinel.Strict,
		"llm_enabled", cfg.LLM.Enabled)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	raw, err := loadEventlakeYAML(configDir)
	if err != nil {
		return nil, NewLoadError("eventlake.yaml", err)
	}

	cfg := defaultConfig()
	cfg.configDir = configDir

	if raw.Server != nil {
		if raw.Server.Host != "" {
			cfg.Server.Host = raw.Server.Host
		}
		if raw.Server.Port != 0 {
			cfg.Server.Port = raw.Server.Port
		}
	}
	if raw.Deployment != nil {
		if err := mergo.Merge(cfg.Deployment, raw.Deployment, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge deployment config: %w", err)
		}
	}
	if raw.Engine != nil {
		if err := mergo.Merge(cfg.Engine, raw.Engine, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge engine config: %w", err)
		}
	}
	if raw.LLM != nil {
		if err := mergo.Merge(cfg.LLM, raw.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}
	resolveSpool(cfg.Spool, raw.Spool)
	resolveEventLog(cfg.EventLog, raw.EventLog)
	resolveSentinel(cfg.Sentinel, raw.Sentinel)

	return cfg, nil
}

func loadEventlakeYAML(configDir string) (*eventlakeYAMLConfig, error) {
	path := filepath.Join(configDir, "eventlake.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	var config eventlakeYAMLConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &config, nil
}

func resolveSpool(cfg *SpoolConfig, raw *spoolYAMLConfig) {
	if raw == nil {
		return
	}
	if raw.Dir != "" {
		cfg.Dir = raw.Dir
	}
	if raw.MaxAge != "" {
		cfg.MaxAge = parseDuration("spool.max_age", raw.MaxAge, cfg.MaxAge)
	}
}

func resolveEventLog(cfg *EventLogConfig, raw *eventLogYAMLConfig) {
	if raw == nil {
		return
	}
	if raw.MaxBatch > 0 {
		cfg.MaxBatch = raw.MaxBatch
	}
	if raw.FlushInterval != "" {
		cfg.FlushInterval = parseDuration("event_log.flush_interval", raw.FlushInterval, cfg.FlushInterval)
	}
	if raw.BreakerThreshold > 0 {
		cfg.BreakerThreshold = raw.BreakerThreshold
	}
	if raw.BreakerWindow != "" {
		cfg.BreakerWindow = parseDuration("event_log.breaker_window", raw.BreakerWindow, cfg.BreakerWindow)
	}
	if len(raw.RedactKeys) > 0 {
		cfg.RedactKeys = raw.RedactKeys
	}
}

func resolveSentinel(cfg *SentinelConfig, raw *sentinelYAMLConfig) {
	if raw == nil {
		return
	}
	if raw.Interval != "" {
		cfg.Interval = parseDuration("sentinel.interval", raw.Interval, cfg.Interval)
	}
	if raw.Strict != nil {
		cfg.Strict = *raw.Strict
	}
}

func parseDuration(field, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field, "value", value, "default", fallback, "error", err)
		return fallback
	}
	return d
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return NewValidationError("server", "port", fmt.Errorf("%w: %d", ErrInvalidValue, cfg.Server.Port))
	}
	if cfg.Spool.Dir == "" {
		return NewValidationError("spool", "dir", ErrInvalidValue)
	}
	if cfg.Engine.StageDir == "" {
		return NewValidationError("engine", "stage_dir", ErrInvalidValue)
	}
	if cfg.Sentinel.Interval < time.Minute {
		return NewValidationError("sentinel", "interval",
			fmt.Errorf("%w: %s is below the 1m floor", ErrInvalidValue, cfg.Sentinel.Interval))
	}
	if cfg.LLM.Enabled && cfg.LLM.Model == "" {
		return NewValidationError("llm", "model", ErrInvalidValue)
	}
	return nil
}
