// Package config loads gantt-sync settings with viper.
//
// Precedence, lowest first: built-in defaults, the config file, GANTT_*
// environment variables (GANTT_SERVER_ADDR for server.addr), bound flags.
package config

import (
	"regexp"
	"time"

	"github.com/MattDClarke/gantt-sync/internal/gantt/db"
	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
	"github.com/MattDClarke/gantt-sync/internal/logging"
)

// Config holds all gantt-sync settings.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Dependencies DependenciesConfig `mapstructure:"dependencies"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	StaticDirs   []string      `mapstructure:"static_dirs"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Driver              string `mapstructure:"driver"`
	Path                string `mapstructure:"path"`
	CascadeDependencies bool   `mapstructure:"cascade_dependencies"`
}

// SyncConfig holds reconciler settings.
type SyncConfig struct {
	Concurrency   int  `mapstructure:"concurrency"`
	Transactional bool `mapstructure:"transactional"`
}

// DependenciesConfig names the dependency fields that reference tasks.
type DependenciesConfig struct {
	FromField string `mapstructure:"from_field"`
	ToField   string `mapstructure:"to_field"`
}

// LogConfig holds log sink settings.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Verbose    bool   `mapstructure:"verbose"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":1337",
			StaticDirs:   []string{"public"},
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:              db.DriverSQLite,
			Path:                "gantt.db",
			CascadeDependencies: true,
		},
		Sync: SyncConfig{
			Concurrency: 8,
		},
		Dependencies: DependenciesConfig{
			FromField: schema.DefaultFromField,
			ToField:   schema.DefaultToField,
		},
		Log: LogConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &ConfigError{Field: "server.addr", Message: "listen address cannot be empty"}
	}
	if c.Server.ReadTimeout < 0 {
		return &ConfigError{Field: "server.read_timeout", Message: "read timeout cannot be negative"}
	}
	if c.Server.WriteTimeout < 0 {
		return &ConfigError{Field: "server.write_timeout", Message: "write timeout cannot be negative"}
	}

	if c.Store.Driver != db.DriverSQLite && c.Store.Driver != db.DriverLibSQL {
		return &ConfigError{Field: "store.driver", Message: "driver must be sqlite or libsql"}
	}
	if c.Store.Path == "" {
		return &ConfigError{Field: "store.path", Message: "store path cannot be empty"}
	}

	if c.Sync.Concurrency < 1 {
		return &ConfigError{Field: "sync.concurrency", Message: "concurrency must be at least 1"}
	}

	if !fieldName.MatchString(c.Dependencies.FromField) {
		return &ConfigError{Field: "dependencies.from_field", Message: "must be a plain field name"}
	}
	if !fieldName.MatchString(c.Dependencies.ToField) {
		return &ConfigError{Field: "dependencies.to_field", Message: "must be a plain field name"}
	}
	if c.Dependencies.FromField == c.Dependencies.ToField {
		return &ConfigError{Field: "dependencies.to_field", Message: "must differ from from_field"}
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return &ConfigError{Field: "log", Message: "rotation limits cannot be negative"}
	}

	return nil
}

// StoreOptions converts the store settings for db.OpenWithOptions.
func (c *Config) StoreOptions() *db.Options {
	return &db.Options{
		Driver:              c.Store.Driver,
		CascadeDependencies: c.Store.CascadeDependencies,
		FromField:           c.Dependencies.FromField,
		ToField:             c.Dependencies.ToField,
	}
}

// LogOptions converts the log settings for logging.Open.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Settings returns the configuration as nested maps keyed like the config
// file. Durations are rendered as strings ("10s").
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"addr":          c.Server.Addr,
			"static_dirs":   c.Server.StaticDirs,
			"read_timeout":  c.Server.ReadTimeout.String(),
			"write_timeout": c.Server.WriteTimeout.String(),
		},
		"store": map[string]any{
			"driver":               c.Store.Driver,
			"path":                 c.Store.Path,
			"cascade_dependencies": c.Store.CascadeDependencies,
		},
		"sync": map[string]any{
			"concurrency":   c.Sync.Concurrency,
			"transactional": c.Sync.Transactional,
		},
		"dependencies": map[string]any{
			"from_field": c.Dependencies.FromField,
			"to_field":   c.Dependencies.ToField,
		},
		"log": map[string]any{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
			"verbose":      c.Log.Verbose,
		},
	}
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
