// Package config loads orchestration-core configuration from a YAML file,
// with environment variable overrides applied afterward, the same
// file-then-env shape the orchestrator's command-line tooling uses for
// flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the timing constants, storage DSN, worker binary, and HTTP
// bind address the core needs at startup.
type Config struct {
	// Supervisor timing (spec.md §4.2).
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	MissedHeartbeatLimit   int           `yaml:"missed_heartbeat_limit"`

	// Worker process.
	WorkerBinary string `yaml:"worker_binary"`

	// Storage.
	StorageDriver string `yaml:"storage_driver"` // "sqlite" or "postgres"
	StorageDSN    string `yaml:"storage_dsn"`

	// HTTP surface.
	BindAddr string `yaml:"bind_addr"`

	// Logging.
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the configuration implied by spec.md §4.2's timing
// constants and sensible local defaults.
func Default() *Config {
	return &Config{
		HeartbeatCheckInterval: 30 * time.Second,
		HeartbeatTimeout:       90 * time.Second,
		MissedHeartbeatLimit:   3,
		WorkerBinary:           "taskcore-worker",
		StorageDriver:          "sqlite",
		StorageDSN:             "taskcore.db",
		BindAddr:               ":8090",
		LogLevel:               "info",
		LogJSON:                false,
	}
}

// Load reads path as YAML over the defaults, then applies TASKCORE_*
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TASKCORE_STORAGE_DRIVER"); v != "" {
		c.StorageDriver = v
	}
	if v := os.Getenv("TASKCORE_STORAGE_DSN"); v != "" {
		c.StorageDSN = v
	}
	if v := os.Getenv("TASKCORE_BIND_ADDR"); v != "" {
		c.BindAddr = v
	}
	if v := os.Getenv("TASKCORE_WORKER_BINARY"); v != "" {
		c.WorkerBinary = v
	}
	if v := os.Getenv("TASKCORE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TASKCORE_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LogJSON = b
		}
	}
	if v := os.Getenv("TASKCORE_HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HeartbeatTimeout = d
		}
	}
	if v := os.Getenv("TASKCORE_HEARTBEAT_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HeartbeatCheckInterval = d
		}
	}
}
