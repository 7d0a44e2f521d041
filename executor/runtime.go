package executor

import (
	"context"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/hostfunc"
)

// Runtime creates isolated instances of an embedded script engine.
// Implement this interface to add support for a new contract language.
// See [github.com/caffeineduck/nvmharness/language/lua] for an example.
type Runtime interface {
	// Name returns a unique identifier for this runtime (e.g., "lua", "wasm").
	Name() string

	// NewInstance creates one isolated execution environment bound to the
	// registry's host capabilities. The registry is sealed before this call.
	NewInstance(registry *hostfunc.Registry) (Instance, error)
}

// Instance is one isolated script engine. It runs or transforms exactly one
// script and is never shared between execution contexts.
type Instance interface {
	// Run executes source with local and global storage sessions attached.
	Run(ctx context.Context, source []byte, local, global *chainstate.Session) error

	// InjectTracing returns an instrumented copy of source without running it.
	InjectTracing(ctx context.Context, source []byte) ([]byte, error)

	// Close releases the engine.
	Close() error
}

// InstructionCounter is implemented by instances that count the
// instructions reported by traced source.
type InstructionCounter interface {
	Instructions() uint64
}
