package model

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is Warden's top-level configuration, read from
// .warden/config.yaml. An unreadable or invalid config is the one fatal
// error in the system: a mediator with no rules must not start.
type Config struct {
	SchemaVersion int              `yaml:"schema_version"`
	Project       ProjectConfig    `yaml:"project"`
	Personas      []PersonaConfig  `yaml:"personas"`
	Classifier    ClassifierConfig `yaml:"classifier"`
	Episodes      EpisodesConfig   `yaml:"episodes"`
	Daemon        DaemonConfig     `yaml:"daemon"`
	Logging       LoggingConfig    `yaml:"logging"`
	Audit         AuditConfig      `yaml:"audit"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// PersonaConfig registers one delegable persona. MaxTier caps the work
// the persona may be handed; it is a tier name, validated on load.
type PersonaConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	MaxTier     string `yaml:"max_tier"`
}

type ClassifierConfig struct {
	RulesFile   string `yaml:"rules_file"`
	CacheSize   int    `yaml:"cache_size"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

type EpisodesConfig struct {
	// StorePath is the SQLite database location. The literal ":memory:"
	// selects the in-process store for ephemeral sessions.
	StorePath        string `yaml:"store_path"`
	RetentionHours   int    `yaml:"retention_hours"`
	SweepIntervalSec int    `yaml:"sweep_interval_sec"`
}

type DaemonConfig struct {
	SocketName         string `yaml:"socket_name"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	ReloadDebounceMs   int    `yaml:"reload_debounce_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AuditConfig struct {
	Enabled      bool  `yaml:"enabled"`
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// LoadConfig reads, strictly decodes, validates, and defaults a config
// file. Unknown fields are rejected so a typo cannot silently weaken the
// mediator.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Classifier.RulesFile == "" {
		c.Classifier.RulesFile = "rules.yaml"
	}
	if c.Classifier.CacheSize == 0 {
		c.Classifier.CacheSize = 2048
	}
	if c.Classifier.CacheTTLSec == 0 {
		c.Classifier.CacheTTLSec = 3600
	}
	if c.Episodes.StorePath == "" {
		c.Episodes.StorePath = "episodes.db"
	}
	if c.Episodes.RetentionHours == 0 {
		c.Episodes.RetentionHours = 24
	}
	if c.Episodes.SweepIntervalSec == 0 {
		c.Episodes.SweepIntervalSec = 300
	}
	if c.Daemon.SocketName == "" {
		c.Daemon.SocketName = "warden.sock"
	}
	if c.Daemon.ShutdownTimeoutSec == 0 {
		c.Daemon.ShutdownTimeoutSec = 10
	}
	if c.Daemon.ReloadDebounceMs == 0 {
		c.Daemon.ReloadDebounceMs = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Audit.MaxSizeBytes == 0 {
		c.Audit.MaxSizeBytes = 10 * 1024 * 1024
	}
}

// Validate rejects configurations the mediator cannot safely run with.
func (c *Config) Validate() error {
	if c.SchemaVersion != 1 {
		return fmt.Errorf("unsupported schema_version: %d", c.SchemaVersion)
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	if c.Classifier.CacheSize < 0 {
		return fmt.Errorf("classifier.cache_size must not be negative")
	}
	seen := make(map[string]bool, len(c.Personas))
	for i, p := range c.Personas {
		if p.Name == "" {
			return fmt.Errorf("personas[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("personas[%d]: duplicate persona %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.MaxTier != "" {
			if _, err := ParseTier(p.MaxTier); err != nil {
				return fmt.Errorf("personas[%d] (%s): %w", i, p.Name, err)
			}
		}
	}
	return nil
}
