// Package config loads taskflow configuration from defaults, an optional
// YAML file, TASKFLOW_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TASKFLOW_BASE_DIR.
const EnvPrefix = "TASKFLOW"

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config is the fully resolved configuration.
type Config struct {
	BaseDir   string          `mapstructure:"base_dir"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Index     IndexConfig     `mapstructure:"index"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Log       LogConfig       `mapstructure:"log"`
	Color     string          `mapstructure:"color"`

	// Source is the config file that was read, empty if none.
	Source string `mapstructure:"-"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type RPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type IndexConfig struct {
	Path string `mapstructure:"path"` // default: <base_dir>/.taskflow-index.db
}

type TemplatesConfig struct {
	Dir string `mapstructure:"dir"` // default: <base_dir>/.templates
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig controls the serve log. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the built-in defaults. Paths derived from the base
// directory are left empty and filled in by Load.
func DefaultConfig() *Config {
	return &Config{
		BaseDir: "projects",
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8765"},
		RPC:     RPCConfig{Addr: "127.0.0.1:8787"},
		Watch:   WatchConfig{Debounce: 100 * time.Millisecond},
		Log:     LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Color:   ColorAuto,
	}
}

// Options selects the inputs Load reads besides defaults and environment.
type Options struct {
	File  string         // explicit config file; must exist if set
	Flags *pflag.FlagSet // flags whose names match config keys override everything else
}

// FlagKeys maps flag names to the config keys they override.
var FlagKeys = map[string]string{
	"base-dir":  "base_dir",
	"color":     "color",
	"http-addr": "http.addr",
	"rpc-addr":  "rpc.addr",
	"index":     "index.path",
	"log-file":  "log.file",
}

// SearchPaths returns the config files tried, in order, when no explicit
// file is given.
func SearchPaths() []string {
	paths := []string{"taskflow.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".taskflow", "config.yaml"))
	}
	return paths
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := opts.File
	if file == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
				break
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_dir", d.BaseDir)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("rpc.addr", d.RPC.Addr)
	v.SetDefault("index.path", "")
	v.SetDefault("templates.dir", "")
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("color", d.Color)
}

// resolve fills the paths that default to locations under the base directory.
func (c *Config) resolve() {
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join(c.BaseDir, ".taskflow-index.db")
	}
	if c.Templates.Dir == "" {
		c.Templates.Dir = filepath.Join(c.BaseDir, ".templates")
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, fmt.Errorf("base_dir is required"))
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		errs = append(errs, fmt.Errorf("color must be auto, always or never (got %q)", c.Color))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative (got %s)", c.Watch.Debounce))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
