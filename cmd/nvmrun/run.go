package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/executor"
	"github.com/caffeineduck/nvmharness/hostfunc"
	"github.com/caffeineduck/nvmharness/internal/config"
	"github.com/caffeineduck/nvmharness/language/lua"
	"github.com/caffeineduck/nvmharness/language/wasm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

func (a *app) run(cmd *cobra.Command, args []string) error {
	trace, _ := cmd.Flags().GetBool("trace")
	if trace && cmd.Flags().Changed("concurrency") {
		return usageError{"-c and -t cannot be combined"}
	}
	concurrency, _ := cmd.Flags().GetString("concurrency")
	units := atoi(concurrency)
	if units > executor.MaxConcurrency {
		return usageError{fmt.Sprintf("concurrency %s exceeds the maximum of %d", concurrency, executor.MaxConcurrency)}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	logger := newLogger(a.stderr, level)
	defer logger.Sync()

	path := args[0]
	src, err := executor.ReadSource(path)
	if err != nil {
		return err
	}
	defer src.Free()

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	runtime, closeRuntime, err := newRuntime(cfg, path, src.Bytes())
	if err != nil {
		return err
	}
	defer closeRuntime()

	registry, err := hostfunc.NewDefaultRegistry(hostfunc.NewLogFunc(a.stdout, a.stderr))
	if err != nil {
		return err
	}

	exec, err := executor.New(registry, runtime,
		executor.WithBackend(backend),
		executor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer exec.Close()

	if trace {
		a.trace(cmd, exec, src, logger)
		return nil
	}

	report, err := exec.Execute(cmd.Context(), src, units,
		executor.WithTimeout(cfg.Limits.Timeout.Duration))
	if err != nil {
		return err
	}

	logger.Debug("execution finished",
		zap.String("runtime", runtime.Name()),
		zap.Int("units", report.Effective),
		zap.Int("failed", report.Failed()))

	if strict, _ := cmd.Flags().GetBool("strict"); strict && report.Failed() > 0 {
		a.exitCode = exitFailed
	}
	return nil
}

func (a *app) trace(cmd *cobra.Command, exec *executor.Executor, src *executor.Source, logger *zap.Logger) {
	out, err := exec.InjectTracing(cmd.Context(), src)
	if err != nil {
		logger.Debug("inject tracing", zap.Error(err))
		fmt.Fprintln(a.stdout, "Error.")
		return
	}
	fmt.Fprintln(a.stdout, string(bytes.TrimRight(out, "\n")))
}

// loadConfig reads --config, then applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("runtime") {
		cfg.Runtime, _ = flags.GetString("runtime")
	}
	if flags.Changed("state-engine") {
		cfg.State.Engine, _ = flags.GetString("state-engine")
	}
	if flags.Changed("state") {
		cfg.State.Path, _ = flags.GetString("state")
	}
	if flags.Changed("genesis") {
		cfg.State.Genesis, _ = flags.GetString("genesis")
	}
	if flags.Changed("timeout") {
		cfg.Limits.Timeout.Duration, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("instruction-limit") {
		cfg.Limits.Instructions, _ = flags.GetUint64("instruction-limit")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}

	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core)
}

func openBackend(cfg config.Config, logger *zap.Logger) (chainstate.Backend, error) {
	backend, err := chainstate.Open(cfg.State.Engine, cfg.State.Path, chainstate.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open chain state: %w", err)
	}
	if cfg.State.Genesis != "" {
		if err := chainstate.LoadGenesis(cfg.State.Genesis, backend); err != nil {
			backend.Close()
			return nil, err
		}
	}
	return backend, nil
}

func newRuntime(cfg config.Config, path string, source []byte) (executor.Runtime, func(), error) {
	name := cfg.Runtime
	if name == config.RuntimeAuto {
		name = detectRuntime(path, source)
	}

	switch name {
	case config.RuntimeLua:
		opts := []lua.Option{lua.WithChunkName(filepath.Base(path))}
		if n := cfg.Limits.Instructions; n > 0 {
			opts = append(opts, lua.WithInstructionLimit(n), lua.WithAutoInstrument())
		}
		return lua.New(opts...), func() {}, nil

	case config.RuntimeWasm:
		var opts []wasm.Option
		if cfg.Wasm.CacheDir != "" {
			opts = append(opts, wasm.WithDiskCache(cfg.Wasm.CacheDir))
		}
		if cfg.Wasm.MemoryPages > 0 {
			opts = append(opts, wasm.WithMemoryLimit(cfg.Wasm.MemoryPages))
		}
		rt, err := wasm.New(opts...)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() { rt.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown runtime %q: use lua or wasm", name)
	}
}

func detectRuntime(path string, source []byte) string {
	if strings.EqualFold(filepath.Ext(path), ".wasm") || bytes.HasPrefix(source, wasmMagic) {
		return config.RuntimeWasm
	}
	return config.RuntimeLua
}

// atoi reads a leading decimal integer the way C atoi does: surrounding
// text is ignored and anything unparsable is 0.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t\n\v\f\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	// out of range values saturate like strtol
	return n
}
