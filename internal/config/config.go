// Package config loads the read-mostly runtime configuration. The file is
// JSON with environment-variable expansion; schedule expressions are
// validated at load time so a bad crontab fails the boot, not the 3 a.m.
// run that would have used it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the top-level configuration document.
type Config struct {
	Repositories []Repository        `json:"repositories,omitempty"`
	Schedules    map[string]Schedule `json:"schedules,omitempty"`
	Paths        Paths               `json:"paths,omitempty"`
	Integrations Integrations        `json:"integrations,omitempty"`
}

// Repository describes a known source repository.
type Repository struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}

// Schedule is a named cron entry consumed by the external scheduler.
type Schedule struct {
	Cron    string `json:"cron"`
	Enabled bool   `json:"enabled"`
	Skill   string `json:"skill,omitempty"`
}

// Paths points at the directories the runtime reads from.
type Paths struct {
	Personas string `json:"personas,omitempty"`
	Skills   string `json:"skills,omitempty"`
	StateDir string `json:"state_dir,omitempty"`
}

// Integrations carries per-service settings the core consults.
type Integrations struct {
	// DefaultCluster is used by auto-heal when inference finds no label.
	DefaultCluster string `json:"default_cluster,omitempty"`

	// AutoHeal lists tool names wrapped with the auto-heal shell, with
	// optional per-tool retry overrides.
	AutoHeal map[string]AutoHealEntry `json:"autoheal,omitempty"`

	// BusAddr overrides the event bus listen address.
	BusAddr string `json:"bus_addr,omitempty"`
}

// AutoHealEntry configures one auto-healed tool.
type AutoHealEntry struct {
	MaxRetries int    `json:"max_retries,omitempty"`
	Cluster    string `json:"cluster,omitempty"`
}

// Load reads, env-expands, parses and validates a config file.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Paths: Paths{
			Personas: "personas",
			Skills:   "skills",
		},
		Integrations: Integrations{
			DefaultCluster: "stage",
		},
	}
}

// Validate checks schedule expressions and path sanity.
func (c *Config) Validate() error {
	for name, sched := range c.Schedules {
		if strings.TrimSpace(sched.Cron) == "" {
			return fmt.Errorf("schedule %q: empty cron expression", name)
		}
		if _, err := cron.ParseStandard(sched.Cron); err != nil {
			return fmt.Errorf("schedule %q: invalid cron expression %q: %w", name, sched.Cron, err)
		}
	}
	for _, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repository with empty name (url %q)", repo.URL)
		}
	}
	return nil
}

// HealEntry returns the auto-heal settings for a tool, if configured.
func (c *Config) HealEntry(tool string) (AutoHealEntry, bool) {
	e, ok := c.Integrations.AutoHeal[tool]
	return e, ok
}
