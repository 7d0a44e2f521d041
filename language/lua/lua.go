// Package lua runs contract scripts written in Lua 5.1 on gopher-lua.
package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/executor"
	"github.com/caffeineduck/nvmharness/hostfunc"
	lua "github.com/yuin/gopher-lua"
)

// ErrInstructionLimit is returned when traced code reports more
// instructions than the configured limit.
var ErrInstructionLimit = errors.New("instruction limit exceeded")

// Option configures a Runtime.
type Option func(*config)

type config struct {
	instructionLimit uint64
	autoInstrument   bool
	chunkName        string
	callStackSize    int
}

func defaultConfig() config {
	return config{
		chunkName:     "contract",
		callStackSize: lua.CallStackSize,
	}
}

// WithInstructionLimit fails a run once its instruction counter passes n.
// Zero disables the limit.
func WithInstructionLimit(n uint64) Option {
	return func(c *config) {
		c.instructionLimit = n
	}
}

// WithAutoInstrument instruments every source before running it, so the
// instruction counter works on plain contracts too.
func WithAutoInstrument() Option {
	return func(c *config) {
		c.autoInstrument = true
	}
}

// WithChunkName sets the chunk name used in Lua error messages.
func WithChunkName(name string) Option {
	return func(c *config) {
		c.chunkName = name
	}
}

// WithCallStackSize bounds Lua call depth.
func WithCallStackSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.callStackSize = n
		}
	}
}

// Runtime implements executor.Runtime for Lua contracts.
type Runtime struct {
	cfg config
}

// New returns a Lua runtime.
func New(opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runtime{cfg: cfg}
}

// Name returns "lua".
func (r *Runtime) Name() string {
	return "lua"
}

// NewInstance creates a fresh Lua state with the contract globals installed.
func (r *Runtime) NewInstance(registry *hostfunc.Registry) (executor.Instance, error) {
	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: r.cfg.callStackSize,
	})

	inst := &Instance{
		cfg:      r.cfg,
		registry: registry,
		L:        L,
		ctx:      context.Background(),
	}
	if err := inst.install(); err != nil {
		L.Close()
		return nil, err
	}
	return inst, nil
}

// Instance is one Lua state. It runs at most one contract.
type Instance struct {
	cfg      config
	registry *hostfunc.Registry
	L        *lua.LState

	ctx    context.Context
	local  *chainstate.Session
	global *chainstate.Session

	instructions uint64
	limitHit     bool
	closed       bool
}

// Run compiles and executes source with the given sessions attached.
func (i *Instance) Run(ctx context.Context, source []byte, local, global *chainstate.Session) error {
	if i.closed {
		return errors.New("lua instance closed")
	}
	i.ctx, i.local, i.global = ctx, local, global

	if i.cfg.autoInstrument {
		traced, err := Instrument(source)
		if err != nil {
			return err
		}
		source = traced
	}

	fn, err := i.L.Load(bytes.NewReader(source), i.cfg.chunkName)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	if ctx.Done() != nil {
		i.L.SetContext(ctx)
		defer i.L.RemoveContext()
	}

	i.L.Push(fn)
	err = i.L.PCall(0, lua.MultRet, nil)
	// a limit error caught by pcall inside the script still fails the run
	if i.limitHit {
		return fmt.Errorf("%w: %d > %d", ErrInstructionLimit, i.instructions, i.cfg.instructionLimit)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

// InjectTracing returns the instrumented form of source.
func (i *Instance) InjectTracing(ctx context.Context, source []byte) ([]byte, error) {
	return Instrument(source)
}

// Instructions returns the count reported by traced code so far.
func (i *Instance) Instructions() uint64 {
	return i.instructions
}

// Close releases the Lua state.
func (i *Instance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.L.Close()
	return nil
}
