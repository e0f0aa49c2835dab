// Package config loads the plugind configuration from YAML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/srediag/plugin-loader/internal/logging"
	"github.com/srediag/plugin-loader/plugin"
)

// Host loader kinds.
const (
	LoaderMemory   = "memory"
	LoaderGoPlugin = "goplugin"
)

// Config is the plugind configuration file.
type Config struct {
	MountRoot   string `yaml:"mount_root" env:"PLUGIN_MOUNT_ROOT"`
	PluginDir   string `yaml:"plugin_dir" env:"PLUGIN_DIR"`
	EntrySymbol string `yaml:"entry_symbol" env:"PLUGIN_ENTRY_SYMBOL"`
	ProgramID   uint64 `yaml:"program_id" env:"PLUGIN_PROGRAM_ID"`
	HashWorkers int    `yaml:"hash_workers" env:"PLUGIN_HASH_WORKERS"`
	PageSize    int    `yaml:"page_size" env:"PLUGIN_PAGE_SIZE"`
	// Loader is "memory" or "goplugin".
	Loader   string `yaml:"loader" env:"PLUGIN_LOADER"`
	StageDir string `yaml:"stage_dir" env:"PLUGIN_STAGE_DIR"`

	Log     LogConfig     `yaml:"log"`
	Symbols SymbolsConfig `yaml:"symbols"`
	Serve   ServeConfig   `yaml:"serve"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"PLUGIN_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PLUGIN_LOG_PRETTY"`
	// SinkAddr is a host:port receiving a copy of the log over TCP.
	SinkAddr string `yaml:"sink_addr" env:"PLUGIN_LOG_SINK"`
}

// SymbolsConfig locates the host symbol information.
type SymbolsConfig struct {
	Listing string   `yaml:"listing" env:"PLUGIN_SYMBOL_LISTING"`
	MapDir  string   `yaml:"map_dir" env:"PLUGIN_SYMBOL_MAP_DIR"`
	Exclude []string `yaml:"exclude" env:"PLUGIN_SYMBOL_EXCLUDE"`
}

// ServeConfig configures the diagnostics HTTP server.
type ServeConfig struct {
	Addr string `yaml:"addr" env:"PLUGIN_HTTP_ADDR"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	p := plugin.DefaultConfig()
	return &Config{
		MountRoot:   ".",
		PluginDir:   p.PluginDir,
		EntrySymbol: p.EntrySymbol,
		HashWorkers: p.HashWorkers,
		PageSize:    p.PageSize,
		Loader:      LoaderMemory,
		StageDir:    os.TempDir(),
		Log:         LogConfig{Level: "info", Pretty: true},
		Serve:       ServeConfig{Addr: ":9090"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		//nolint:gosec // G304: path comes from the operator.
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if cfg.Loader != LoaderMemory && cfg.Loader != LoaderGoPlugin {
		return nil, fmt.Errorf("unknown loader %q", cfg.Loader)
	}
	return cfg, nil
}

// PluginConfig converts c into a verified Manager configuration.
func (c *Config) PluginConfig() (*plugin.Config, error) {
	p := &plugin.Config{
		Mount:       os.DirFS(c.MountRoot),
		PluginDir:   c.PluginDir,
		EntrySymbol: c.EntrySymbol,
		ProgramID:   c.ProgramID,
		HashWorkers: c.HashWorkers,
		PageSize:    c.PageSize,
	}
	if err := plugin.VerifyConfig(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoggingConfig converts c into a logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}
