// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads launchpadctl/rocketworker configuration: store
// backend selection, logging, and the Launchpad's liveness thresholds.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	conductorerrors "github.com/launchpad/engine/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete launchpad configuration.
type Config struct {
	Log        LogConfig   `yaml:"log"`
	Store      StoreConfig `yaml:"store"`
	Thresholds Thresholds  `yaml:"thresholds"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: LOG_LEVEL
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// StoreConfig selects and configures the persistent store backend.
type StoreConfig struct {
	// Type is the backend type: "memory", "sqlite", or "postgres".
	// Environment: LAUNCHPAD_STORE_TYPE
	Type string `yaml:"type"`

	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains sqlite-specific settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Environment: LAUNCHPAD_SQLITE_PATH
	Path string `yaml:"path,omitempty"`

	WAL bool `yaml:"wal,omitempty"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection URL.
	// Environment: LAUNCHPAD_POSTGRES_DSN
	ConnectionString string `yaml:"connection_string,omitempty"`

	MaxOpenConns           int `yaml:"max_open_conns,omitempty"`
	MaxIdleConns           int `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds,omitempty"`
}

// Thresholds configures the Launchpad's liveness/expiry sweeps and the
// admin-command confirmation cutoff.
type Thresholds struct {
	// ReservationExpirationSecs is how long a RESERVED task may sit before
	// detect_unreserved reclaims it.
	ReservationExpirationSecs int `yaml:"reservation_expiration_secs"`

	// RunExpirationSecs is how long a RUNNING launch may go unpinged
	// before detect_lost_runs marks it FIZZLED.
	RunExpirationSecs int `yaml:"run_expiration_secs"`

	// PingIntervalSecs is how often a rocket should ping its launch.
	PingIntervalSecs int `yaml:"ping_interval_secs"`

	// MaintainLoopSecs is the sleep between maintain() sweeps in a
	// long-running launchpad process.
	MaintainLoopSecs int `yaml:"maintain_loop_secs"`

	// LockWaitSecs bounds how long complete and the admin mutations block
	// on a contended workflow lock before surfacing LockContentionError.
	LockWaitSecs int `yaml:"lock_wait_secs"`

	// LockTTLSecs is the TTL attached to each workflow lock acquisition.
	LockTTLSecs int `yaml:"lock_ttl_secs"`

	// PWCheckNum is the record-count threshold above which a bulk admin
	// command requires explicit confirmation before it runs.
	PWCheckNum int `yaml:"pw_check_num"`
}

func (t Thresholds) ReservationExpiration() time.Duration {
	return time.Duration(t.ReservationExpirationSecs) * time.Second
}

func (t Thresholds) RunExpiration() time.Duration {
	return time.Duration(t.RunExpirationSecs) * time.Second
}

func (t Thresholds) PingInterval() time.Duration {
	return time.Duration(t.PingIntervalSecs) * time.Second
}

func (t Thresholds) MaintainLoop() time.Duration {
	return time.Duration(t.MaintainLoopSecs) * time.Second
}

func (t Thresholds) LockWait() time.Duration {
	return time.Duration(t.LockWaitSecs) * time.Second
}

func (t Thresholds) LockTTL() time.Duration {
	return time.Duration(t.LockTTLSecs) * time.Second
}

// Default returns a Config with sensible defaults, matching the reference
// Fireworks defaults for the expiry thresholds.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: filepath.Join(defaultDataDir(), "launchpad.db"),
				WAL:  true,
			},
		},
		Thresholds: Thresholds{
			ReservationExpirationSecs: 1800,
			RunExpirationSecs:         172800,
			PingIntervalSecs:          300,
			MaintainLoopSecs:          60,
			LockWaitSecs:              300,
			LockTTLSecs:               600,
			PWCheckNum:                10,
		},
	}
}

// Load loads configuration from a YAML file (if configPath is non-empty
// and exists) and then applies environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &conductorerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &conductorerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Store.Type == "" {
		c.Store.Type = d.Store.Type
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = d.Store.SQLite.Path
	}
	if c.Thresholds.ReservationExpirationSecs == 0 {
		c.Thresholds.ReservationExpirationSecs = d.Thresholds.ReservationExpirationSecs
	}
	if c.Thresholds.RunExpirationSecs == 0 {
		c.Thresholds.RunExpirationSecs = d.Thresholds.RunExpirationSecs
	}
	if c.Thresholds.PingIntervalSecs == 0 {
		c.Thresholds.PingIntervalSecs = d.Thresholds.PingIntervalSecs
	}
	if c.Thresholds.MaintainLoopSecs == 0 {
		c.Thresholds.MaintainLoopSecs = d.Thresholds.MaintainLoopSecs
	}
	if c.Thresholds.LockWaitSecs == 0 {
		c.Thresholds.LockWaitSecs = d.Thresholds.LockWaitSecs
	}
	if c.Thresholds.LockTTLSecs == 0 {
		c.Thresholds.LockTTLSecs = d.Thresholds.LockTTLSecs
	}
	if c.Thresholds.PWCheckNum == 0 {
		c.Thresholds.PWCheckNum = d.Thresholds.PWCheckNum
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LAUNCHPAD_STORE_TYPE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("LAUNCHPAD_SQLITE_PATH"); val != "" {
		c.Store.SQLite.Path = val
	}
	if val := os.Getenv("LAUNCHPAD_POSTGRES_DSN"); val != "" {
		c.Store.Postgres.ConnectionString = val
	}
	if val := os.Getenv("LAUNCHPAD_RESERVATION_EXPIRATION_SECS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Thresholds.ReservationExpirationSecs = n
		}
	}
	if val := os.Getenv("LAUNCHPAD_RUN_EXPIRATION_SECS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Thresholds.RunExpirationSecs = n
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validBackends := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validBackends[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("store.type must be one of [memory, sqlite, postgres], got %q", c.Store.Type))
	}
	if c.Store.Type == "postgres" && c.Store.Postgres.ConnectionString == "" {
		errs = append(errs, "store.postgres.connection_string is required when store.type is postgres")
	}
	if c.Store.Type == "sqlite" && c.Store.SQLite.Path == "" {
		errs = append(errs, "store.sqlite.path is required when store.type is sqlite")
	}

	if c.Thresholds.ReservationExpirationSecs <= 0 {
		errs = append(errs, "thresholds.reservation_expiration_secs must be positive")
	}
	if c.Thresholds.RunExpirationSecs <= 0 {
		errs = append(errs, "thresholds.run_expiration_secs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ConfigPath returns the default config file path: $LAUNCHPAD_CONFIG_FILE
// if set, otherwise config.yaml in the XDG config directory.
func ConfigPath() (string, error) {
	if path := os.Getenv("LAUNCHPAD_CONFIG_FILE"); path != "" {
		return path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultDataDir() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "launchpad")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/launchpad-data"
	}
	return filepath.Join(home, ".launchpad", "data")
}
