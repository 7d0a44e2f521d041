package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nvmrun.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
runtime = "lua"

[state]
engine = "bolt"
path = "./state.db"
genesis = "./genesis.yaml"

[limits]
timeout = "30s"
instructions = 1000000

[log]
level = "debug"

[wasm]
cache_dir = "/tmp/cache"
memory_pages = 256
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RuntimeLua, cfg.Runtime)
	assert.Equal(t, State{Engine: chainstate.EngineBolt, Path: "./state.db", Genesis: "./genesis.yaml"}, cfg.State)
	assert.Equal(t, 30*time.Second, cfg.Limits.Timeout.Duration)
	assert.EqualValues(t, 1000000, cfg.Limits.Instructions)
	assert.Equal(t, "/tmp/cache", cfg.Wasm.CacheDir)
	assert.EqualValues(t, 256, cfg.Wasm.MemoryPages)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestLoadKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `runtime = "wasm"`))
	require.NoError(t, err)

	assert.Equal(t, RuntimeWasm, cfg.Runtime)
	assert.Equal(t, chainstate.EngineMemory, cfg.State.Engine)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Zero(t, cfg.Limits.Timeout.Duration)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", `runtime = `, "parse error"},
		{"unknown key", `colour = "blue"`, "unknown key"},
		{"unknown runtime", `runtime = "js"`, "unknown runtime"},
		{"unknown engine", "[state]\nengine = \"leveldb\"", "unknown state engine"},
		{"bolt without path", "[state]\nengine = \"bolt\"", "requires a path"},
		{"bad duration", "[limits]\ntimeout = \"soon\"", "parse error"},
		{"bad level", "[log]\nlevel = \"loud\"", "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
