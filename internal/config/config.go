// SPDX-License-Identifier: MIT

// Package config loads recorderd's process-wide settings: where sessions
// are written, how long Start/Stop may take, the health server address,
// and which ffmpeg binary to shell out to. Per-scheme capture settings
// (resolution, bitrate, gain) live in a plan.Plan file, not here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for recorderd's configuration file.
const ConfigFilePath = "/etc/recorder-engine/config.yaml"

// CurrentSchemaVersion is the config schema this build understands. It is
// stamped into every config saved by this binary and checked on load and
// on backup restore, so internal/config/backup.go can refuse to restore a
// backup written by a newer recorderd onto an older one.
const CurrentSchemaVersion = 1

// Config is recorderd's complete process configuration.
type Config struct {
	SchemaVersion int           `yaml:"schema_version" koanf:"schema_version"`
	Output        OutputConfig  `yaml:"output" koanf:"output"`
	Session       SessionConfig `yaml:"session" koanf:"session"`
	Health        HealthConfig  `yaml:"health" koanf:"health"`
	Backend       BackendConfig `yaml:"backend" koanf:"backend"`
}

// OutputConfig controls where session directories and the daemon's lock
// file are written.
type OutputConfig struct {
	Dir     string `yaml:"dir" koanf:"dir"`           // directory session subdirectories are created under
	LockDir string `yaml:"lock_dir" koanf:"lock_dir"` // directory for recorderd.lock
}

// SessionConfig controls session-lifecycle timeouts and naming.
type SessionConfig struct {
	Name         string        `yaml:"name" koanf:"name"`                   // base name for the session subdirectory
	StartTimeout time.Duration `yaml:"start_timeout" koanf:"start_timeout"` // how long Start waits for first frames
	StopTimeout  time.Duration `yaml:"stop_timeout" koanf:"stop_timeout"`   // how long Stop waits for finalize
}

// HealthConfig controls the /healthz and /metrics HTTP surface.
type HealthConfig struct {
	Addr             string `yaml:"addr" koanf:"addr"`
	EventLogCapacity int    `yaml:"event_log_capacity" koanf:"event_log_capacity"`
}

// BackendConfig controls the ffmpeg-shelling writer backend.
type BackendConfig struct {
	FFmpegPath   string        `yaml:"ffmpeg_path" koanf:"ffmpeg_path"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" koanf:"probe_timeout"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file, atomically: write to a temp
// file in the same directory, sync, chmod, then rename over path.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = CurrentSchemaVersion
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config may carry sensitive paths; keep it owner+group readable only.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("config schema_version %d is newer than this binary supports (%d); upgrade recorderd before loading this config",
			c.SchemaVersion, CurrentSchemaVersion)
	}
	if c.Session.StartTimeout < 0 {
		return fmt.Errorf("session.start_timeout must not be negative")
	}
	if c.Session.StopTimeout < 0 {
		return fmt.Errorf("session.stop_timeout must not be negative")
	}
	if c.Health.EventLogCapacity < 0 {
		return fmt.Errorf("health.event_log_capacity must not be negative")
	}
	if c.Backend.FFmpegPath == "" {
		return fmt.Errorf("backend.ffmpeg_path must not be empty")
	}
	if c.Backend.ProbeTimeout < 0 {
		return fmt.Errorf("backend.probe_timeout must not be negative")
	}
	return nil
}

// DefaultConfig returns recorderd's built-in defaults, matching its flags'
// own defaults so a missing config file and an absent flag behave the same.
func DefaultConfig() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Output: OutputConfig{
			LockDir: "/var/run/recorder-engine",
		},
		Session: SessionConfig{
			Name:         "session",
			StartTimeout: 10 * time.Second,
			StopTimeout:  15 * time.Second,
		},
		Health: HealthConfig{
			Addr:             ":8080",
			EventLogCapacity: 256,
		},
		Backend: BackendConfig{
			FFmpegPath:   "ffmpeg",
			ProbeTimeout: 5 * time.Second,
		},
	}
}
