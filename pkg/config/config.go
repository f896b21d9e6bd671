// Package config holds the runtime settings of the orchestrator services.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is passed explicitly to every component that needs settings.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Runner   RunnerConfig   `yaml:"runner"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Health   HealthConfig   `yaml:"health"`
}

// ProviderConfig locates the remote workflow API.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RunnerConfig bounds a single execution run.
type RunnerConfig struct {
	// StreamTimeout limits the provider streaming request. It is capped by
	// whatever remains of JobTimeout.
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	// JobTimeout limits the provider work of a run. Recording the outcome and
	// the webhook hook still happen after it expires.
	JobTimeout   time.Duration `yaml:"job_timeout"`
	MaxLineBytes int           `yaml:"max_line_bytes"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// WebhookConfig controls completion webhook delivery.
type WebhookConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// HealthConfig controls periodic provider probing.
type HealthConfig struct {
	Schedule     string        `yaml:"schedule"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL: "https://api.dify.ai",
		},
		Runner: RunnerConfig{
			StreamTimeout: 300 * time.Second,
			JobTimeout:    4 * time.Hour,
			MaxLineBytes:  10 << 20,
			LockTTL:       4*time.Hour + 5*time.Minute,
		},
		Webhook: WebhookConfig{
			Timeout:   30 * time.Second,
			UserAgent: "workflow-orchestrator/1.0",
		},
		Health: HealthConfig{
			Schedule:     "*/5 * * * *",
			StaleAfter:   15 * time.Minute,
			ProbeTimeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML file and fills every unset field from Default. An empty
// path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return WithDefaults(cfg)
}

// WithDefaults fills the zero fields of cfg from Default.
func WithDefaults(cfg Config) (Config, error) {
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	return cfg, nil
}
