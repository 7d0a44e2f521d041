// Package wasm runs contracts compiled to WebAssembly on wazero.
//
// A contract is a wasm binary exporting a no-argument "main" function. It
// reaches the host through imports from module "env":
//
//	log(level, ptr, len)
//	storage_get(tier, kptr, klen, vptr, vcap) i32   value length, -1 if absent
//	storage_put(tier, kptr, klen, vptr, vlen) i32   0 ok, 1 failure
//	storage_del(tier, kptr, klen) i32               0 ok, 1 failure
//	get_block_by_hash(ptr, len, outptr, outcap) i32 result length, -1 if absent
//	get_tx_by_hash(ptr, len, outptr, outcap) i32
//	get_account_state(ptr, len, outptr, outcap) i32
//	send(tptr, tlen, vptr, vlen) i32                0 ok, 1 failure
//	host_call(reqptr, reqlen, outptr, outcap) i32   JSON call, response length
//
// Tier 0 is the local session and tier 1 the global session. Results larger
// than the output buffer are truncated; the return value is always the full
// length so the contract can retry with a larger buffer.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/executor"
	"github.com/caffeineduck/nvmharness/hostfunc"
	"github.com/tetratelabs/wazero"
)

// ErrTracingUnsupported is returned by InjectTracing: wasm binaries have no
// source form to instrument.
var ErrTracingUnsupported = errors.New("trace injection not supported for wasm")

// ErrNoEntryPoint is returned when a contract does not export its entry point.
var ErrNoEntryPoint = errors.New("contract entry point not exported")

// Runtime implements executor.Runtime for wasm contracts. Instances share
// one compilation cache, so a contract run by many units compiles once.
type Runtime struct {
	cfg   config
	cache wazero.CompilationCache

	mu     sync.Mutex
	closed bool
}

// New creates a wasm runtime. Call Close to release the compilation cache.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var cache wazero.CompilationCache
	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	} else {
		cache = wazero.NewCompilationCache()
	}

	return &Runtime{cfg: cfg, cache: cache}, nil
}

// Name returns "wasm".
func (r *Runtime) Name() string {
	return "wasm"
}

// NewInstance creates a wazero runtime with the env host module bound to
// registry.
func (r *Runtime) NewInstance(registry *hostfunc.Registry) (executor.Instance, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.New("wasm runtime closed")
	}

	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	ctx := context.Background()
	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(r.cache)
	if r.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(r.cfg.memoryLimitPages)
	}

	inst := &Instance{
		cfg:      r.cfg,
		registry: registry,
		rt:       wazero.NewRuntimeWithConfig(ctx, rtConfig),
	}
	if err := inst.instantiateEnv(ctx); err != nil {
		inst.rt.Close(ctx)
		return nil, fmt.Errorf("instantiate env module: %w", err)
	}
	return inst, nil
}

// Close releases the compilation cache. Instances must be closed first.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.cache.Close(context.Background())
}

// Instance is one wazero runtime running a single contract.
type Instance struct {
	cfg      config
	registry *hostfunc.Registry
	rt       wazero.Runtime

	local  *chainstate.Session
	global *chainstate.Session
}

// Run compiles source, instantiates it and calls the entry point.
func (i *Instance) Run(ctx context.Context, source []byte, local, global *chainstate.Session) error {
	i.local, i.global = local, global

	compiled, err := i.rt.CompileModule(ctx, source)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	defer compiled.Close(ctx)

	mod, err := i.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName("contract").
		WithStartFunctions())
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer mod.Close(ctx)

	entry := mod.ExportedFunction(i.cfg.entryPoint)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrNoEntryPoint, i.cfg.entryPoint)
	}

	if _, err := entry.Call(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

// InjectTracing always fails with ErrTracingUnsupported.
func (i *Instance) InjectTracing(ctx context.Context, source []byte) ([]byte, error) {
	return nil, ErrTracingUnsupported
}

// Close releases the wazero runtime and everything instantiated in it.
func (i *Instance) Close() error {
	return i.rt.Close(context.Background())
}

func (i *Instance) session(tier uint32) *chainstate.Session {
	switch chainstate.Tier(tier) {
	case chainstate.Local:
		return i.local
	case chainstate.Global:
		return i.global
	default:
		return nil
	}
}
