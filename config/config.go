// Package config loads the server configuration from YAML or TOML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"snipsession/types"
)

// Config is the snipsession server configuration
type Config struct {
	LogLevel string `yaml:"log_level" toml:"log_level" env:"SNIPSESSION_LOG_LEVEL"`
	LogFile  string `yaml:"log_file" toml:"log_file" env:"SNIPSESSION_LOG_FILE" expand:"true"`
	// Address of a Neovim listen socket; empty means stdio
	Address string `yaml:"address" toml:"address" env:"SNIPSESSION_ADDRESS" expand:"true"`

	EventBuffer    int           `yaml:"event_buffer" toml:"event_buffer" env:"SNIPSESSION_EVENT_BUFFER"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout" toml:"resolve_timeout" env:"SNIPSESSION_RESOLVE_TIMEOUT"`
	FinalTabstop   bool          `yaml:"final_tabstop" toml:"final_tabstop" env:"SNIPSESSION_FINAL_TABSTOP"`
	Variables      bool          `yaml:"variables" toml:"variables" env:"SNIPSESSION_VARIABLES"`

	Provider ProviderConfig `yaml:"provider" toml:"provider"`
}

// ProviderConfig selects and configures the snippet library
type ProviderConfig struct {
	Type           string            `yaml:"type" toml:"type" env:"SNIPSESSION_PROVIDER"`
	Dir            string            `yaml:"dir" toml:"dir" env:"SNIPSESSION_SNIPPET_DIR" expand:"true"`
	AllowMultiline bool              `yaml:"allow_multiline" toml:"allow_multiline"`
	Snippets       map[string]string `yaml:"snippets" toml:"snippets"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		LogFile:        filepath.Join(os.TempDir(), "snipsession.log"),
		EventBuffer:    100,
		ResolveTimeout: 2 * time.Second,
		FinalTabstop:   true,
		Variables:      true,
		Provider: ProviderConfig{
			Type: string(types.ProviderTypeStatic),
		},
	}
}

// ProviderType returns the provider kind as the factory expects it
func (c *Config) ProviderType() types.ProviderType {
	return types.ProviderType(c.Provider.Type)
}

// ProviderConfig converts the provider section for provider.NewProvider
func (c *Config) ProviderConfig() *types.ProviderConfig {
	return &types.ProviderConfig{
		Snippets:       c.Provider.Snippets,
		SnippetDir:     c.Provider.Dir,
		AllowMultiline: c.Provider.AllowMultiline,
	}
}

// Validate reports settings the server cannot run with
func (c *Config) Validate() error {
	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve_timeout must be positive, got %s", c.ResolveTimeout)
	}
	switch c.ProviderType() {
	case types.ProviderTypeStatic:
	case types.ProviderTypeFile:
		if c.Provider.Dir == "" {
			return fmt.Errorf("provider %q needs dir", c.Provider.Type)
		}
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	return nil
}

// Load reads the file at path over Default(). Files ending in .toml are
// decoded as TOML, anything else as YAML. Fields tagged `expand` get
// environment variables expanded, and `env` tags override decoded values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := Decode(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns Default() with env overrides when
// path is empty or does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		_, err := os.Stat(path)
		if err == nil {
			return Load(path)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads a YAML or TOML file into out and applies env overrides.
// Snippet bodies use $N syntax, so only fields tagged `expand:"true"` get
// environment variables expanded.
func Decode(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), out); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	expandEnvFields(out)
	applyEnvOverrides(out)
	return nil
}

// expandEnvFields runs os.ExpandEnv over string fields tagged `expand:"true"`
func expandEnvFields(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		fieldVal := val.Field(i)
		if fieldVal.Kind() == reflect.Struct {
			if fieldVal.CanAddr() {
				expandEnvFields(fieldVal.Addr().Interface())
			}
			continue
		}
		if t.Field(i).Tag.Get("expand") != "true" || fieldVal.Kind() != reflect.String || !fieldVal.CanSet() {
			continue
		}
		fieldVal.SetString(os.ExpandEnv(fieldVal.String()))
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// applyEnvOverrides sets struct fields from the variables named by their
// `env` tags. Unparsable values are ignored.
func applyEnvOverrides(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}

	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := val.Field(i)

		if fieldVal.Kind() == reflect.Struct {
			if fieldVal.CanAddr() {
				applyEnvOverrides(fieldVal.Addr().Interface())
			}
			continue
		}

		envTag := field.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envVal, ok := os.LookupEnv(envTag)
		if !ok || !fieldVal.CanSet() {
			continue
		}

		if fieldVal.Type() == durationType {
			if d, err := time.ParseDuration(envVal); err == nil {
				fieldVal.SetInt(int64(d))
			}
			continue
		}

		switch fieldVal.Kind() {
		case reflect.String:
			fieldVal.SetString(envVal)
		case reflect.Int, reflect.Int64:
			var n int64
			if _, err := fmt.Sscanf(envVal, "%d", &n); err == nil {
				fieldVal.SetInt(n)
			}
		case reflect.Bool:
			fieldVal.SetBool(strings.EqualFold(envVal, "true") || envVal == "1")
		}
	}
}
