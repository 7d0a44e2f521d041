package wasm

import (
	"os"
	"path/filepath"
)

// Option configures a Runtime.
type Option func(*config)

type config struct {
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = wazero default (4GB)
	entryPoint       string
}

func defaultConfig() config {
	return config{
		entryPoint: "main",
	}
}

// WithDiskCache keeps compiled contracts on disk across process runs.
// Without a directory it uses XDG_CACHE_HOME/nvmharness or ~/.cache/nvmharness.
func WithDiskCache(dir ...string) Option {
	return func(c *config) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit sets the maximum linear memory of a contract in 64KB pages.
// Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(256) = 16MB max
//
// Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithEntryPoint sets the exported function Run calls. Default "main".
func WithEntryPoint(name string) Option {
	return func(c *config) {
		if name != "" {
			c.entryPoint = name
		}
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB  uint32 = 16
	MemoryLimit16MB uint32 = 256
	MemoryLimit64MB uint32 = 1024
)

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "nvmharness")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "nvmharness")
	}
	return filepath.Join(os.TempDir(), "nvmharness-cache")
}
