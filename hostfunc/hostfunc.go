package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrRegistrySealed is returned when registering after the first runtime
	// instance has been created from the registry.
	ErrRegistrySealed = errors.New("host function registry sealed")

	// ErrAlreadyRegistered is returned when a capability is registered twice.
	ErrAlreadyRegistered = errors.New("host function already registered")
)

// Func is a generic named host function callable from contract code.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry is the set of capabilities a runtime instance may call back into.
// It is built once at startup, passed to every instance constructor, and
// sealed when the first instance is created. Nothing can be unregistered.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Func
	log     LogFunc
	storage StorageFuncs
	chain   ChainFuncs
	sealed  bool
}

// NewRegistry returns an empty, unsealed registry. Instances built from it
// get no logging, storage or chain capabilities until they are set.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// NewDefaultRegistry returns a registry wired with the reference logging,
// storage, blockchain and crypto implementations.
func NewDefaultRegistry(log LogFunc) (*Registry, error) {
	r := NewRegistry()
	if err := r.SetLogger(log); err != nil {
		return nil, err
	}
	if err := r.SetStorage(DefaultStorage()); err != nil {
		return nil, err
	}
	if err := r.SetBlockchain(StubChain()); err != nil {
		return nil, err
	}
	if err := RegisterCrypto(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a named generic host function.
func (r *Registry) Register(name string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.funcs[name] = fn
	return nil
}

// Get returns the generic function registered under name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the generic function names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetLogger registers the logging sink.
func (r *Registry) SetLogger(fn LogFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if r.log != nil {
		return fmt.Errorf("%w: logger", ErrAlreadyRegistered)
	}
	r.log = fn
	return nil
}

// SetStorage registers the storage get/put/delete functions.
func (r *Registry) SetStorage(fns StorageFuncs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if r.storage.Get != nil {
		return fmt.Errorf("%w: storage", ErrAlreadyRegistered)
	}
	if fns.Get == nil || fns.Put == nil || fns.Del == nil {
		return errors.New("storage functions require get, put and del")
	}
	r.storage = fns
	return nil
}

// SetBlockchain registers the chain query and submit functions.
func (r *Registry) SetBlockchain(fns ChainFuncs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if r.chain.Send != nil {
		return fmt.Errorf("%w: blockchain", ErrAlreadyRegistered)
	}
	if fns.GetBlockByHash == nil || fns.GetTxByHash == nil || fns.GetAccountState == nil || fns.Send == nil {
		return errors.New("blockchain functions require all four callbacks")
	}
	r.chain = fns
	return nil
}

// Seal freezes the registry. It is safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called. A sealed registry rejects
// every registration.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Log forwards to the registered logging sink, if any.
func (r *Registry) Log(ctx context.Context, level Level, msg string) {
	r.mu.RLock()
	fn := r.log
	r.mu.RUnlock()
	if fn != nil {
		fn(ctx, level, msg)
	}
}

// Storage returns the registered storage functions. Unset functions are nil.
func (r *Registry) Storage() StorageFuncs {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.storage
}

// Chain returns the registered blockchain functions. Unset functions are nil.
func (r *Registry) Chain() ChainFuncs {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chain
}
