// Package config handles the nvmrun TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caffeineduck/nvmharness/chainstate"
	"go.uber.org/zap/zapcore"
)

// Runtime names.
const (
	RuntimeAuto = ""
	RuntimeLua  = "lua"
	RuntimeWasm = "wasm"
)

// Config is the harness configuration. Command-line flags override it.
type Config struct {
	Runtime string `toml:"runtime"`
	State   State  `toml:"state"`
	Limits  Limits `toml:"limits"`
	Log     Log    `toml:"log"`
	Wasm    Wasm   `toml:"wasm"`
}

// State selects the chain state backend.
type State struct {
	Engine  string `toml:"engine"`
	Path    string `toml:"path"`
	Genesis string `toml:"genesis"`
}

// Limits bound a single execution unit. Zero means unlimited.
type Limits struct {
	Timeout      Duration `toml:"timeout"`
	Instructions uint64   `toml:"instructions"`
}

// Log configures harness diagnostics.
type Log struct {
	Level string `toml:"level"`
}

// Wasm configures the wasm runtime.
type Wasm struct {
	CacheDir    string `toml:"cache_dir"`
	MemoryPages uint32 `toml:"memory_pages"`
}

// Duration is a time.Duration written as a string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Runtime: RuntimeAuto,
		State:   State{Engine: chainstate.EngineMemory},
		Log:     Log{Level: "info"},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c Config) Validate() error {
	switch c.Runtime {
	case RuntimeAuto, RuntimeLua, RuntimeWasm:
	default:
		return fmt.Errorf("unknown runtime %q", c.Runtime)
	}

	switch c.State.Engine {
	case "", chainstate.EngineMemory, chainstate.EngineBadger:
	case chainstate.EngineBolt:
		if c.State.Path == "" {
			return fmt.Errorf("state engine %q requires a path", c.State.Engine)
		}
	default:
		return fmt.Errorf("unknown state engine %q", c.State.Engine)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Limits.Timeout.Duration < 0 {
		return fmt.Errorf("negative timeout %v", c.Limits.Timeout.Duration)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return lvl, fmt.Errorf("log level: %w", err)
	}
	return lvl, nil
}
