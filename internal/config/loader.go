package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GANTT"

// FileName is the config file base name searched for when no path is given.
const FileName = "gantt-sync"

// Loader reads configuration through a private viper instance.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader returns a loader for the config file at path. An empty path
// searches for gantt-sync.{yaml,toml,json} in the working directory and in
// $HOME/.gantt-sync.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+FileName))
		}
	}
	return &Loader{v: v, path: path}
}

// Viper exposes the underlying instance, for binding command flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the config file, applies overrides and validates the result.
// A missing file is only an error when a path was given explicitly.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

// File reports the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the config file whenever it changes and passes the new,
// validated configuration to onChange. Invalid edits are reported through
// onError and otherwise ignored. Watch does nothing without a config file.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// WriteFile writes cfg to path, encoded by the path's extension (.yaml,
// .yml, .toml or .json).
func WriteFile(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	settings := cfg.Settings()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(settings)
	case ".toml":
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(settings)
		data = []byte(buf.String())
	case ".json":
		data, err = json.MarshalIndent(settings, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for key, value := range m {
			if nested, ok := value.(map[string]any); ok {
				walk(prefix+key+".", nested)
				continue
			}
			v.SetDefault(prefix+key, value)
		}
	}
	walk("", cfg.Settings())
}
