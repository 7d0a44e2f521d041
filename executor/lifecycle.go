package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/hostfunc"
	"github.com/hashicorp/go-multierror"
)

// ErrAlreadyDestroyed is returned when a handle is destroyed twice or was
// never created by this Lifecycle.
var ErrAlreadyDestroyed = errors.New("handle already destroyed")

// Stats counts handle construction and destruction.
type Stats struct {
	RuntimesCreated   int
	RuntimesDestroyed int
	SessionsCreated   int
	SessionsDestroyed int
}

// Live returns the number of handles created but not yet destroyed.
func (s Stats) Live() int {
	return s.RuntimesCreated - s.RuntimesDestroyed + s.SessionsCreated - s.SessionsDestroyed
}

// Lifecycle pairs the creation and destruction of storage sessions and
// runtime instances.
type Lifecycle struct {
	runtime  Runtime
	registry *hostfunc.Registry
	backend  chainstate.Backend

	mu    sync.Mutex
	live  map[any]struct{}
	stats Stats
}

// NewLifecycle returns a manager that creates instances of runtime bound to
// registry, and sessions that read through to backend.
func NewLifecycle(runtime Runtime, registry *hostfunc.Registry, backend chainstate.Backend) *Lifecycle {
	return &Lifecycle{
		runtime:  runtime,
		registry: registry,
		backend:  backend,
		live:     make(map[any]struct{}),
	}
}

// CreateStorageSession allocates a new session of the given tier.
func (l *Lifecycle) CreateStorageSession(tier chainstate.Tier) *chainstate.Session {
	s := chainstate.NewSession(tier, l.backend)

	l.mu.Lock()
	l.live[s] = struct{}{}
	l.stats.SessionsCreated++
	l.mu.Unlock()

	return s
}

// DestroyStorageSession releases a session created by this Lifecycle.
func (l *Lifecycle) DestroyStorageSession(s *chainstate.Session) error {
	if err := l.release(s); err != nil {
		return err
	}

	l.mu.Lock()
	l.stats.SessionsDestroyed++
	l.mu.Unlock()

	return s.Close()
}

// CreateRuntime seals the registry and creates a runtime instance.
func (l *Lifecycle) CreateRuntime() (Instance, error) {
	if l.registry != nil {
		l.registry.Seal()
	}

	inst, err := l.runtime.NewInstance(l.registry)
	if err != nil {
		return nil, fmt.Errorf("create %s runtime: %w", l.runtime.Name(), err)
	}

	l.mu.Lock()
	l.live[inst] = struct{}{}
	l.stats.RuntimesCreated++
	l.mu.Unlock()

	return inst, nil
}

// DestroyRuntime releases an instance created by this Lifecycle.
func (l *Lifecycle) DestroyRuntime(inst Instance) error {
	if err := l.release(inst); err != nil {
		return err
	}

	l.mu.Lock()
	l.stats.RuntimesDestroyed++
	l.mu.Unlock()

	return inst.Close()
}

func (l *Lifecycle) release(handle any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.live[handle]; !ok {
		return ErrAlreadyDestroyed
	}
	delete(l.live, handle)
	return nil
}

// Stats returns a snapshot of the handle counters.
func (l *Lifecycle) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// execContext owns the handles of one script run. Close releases them in
// reverse order of creation, each exactly once.
type execContext struct {
	lc       *Lifecycle
	local    *chainstate.Session
	global   *chainstate.Session
	instance Instance
}

func (l *Lifecycle) newExecContext() (*execContext, error) {
	c := &execContext{lc: l}
	c.local = l.CreateStorageSession(chainstate.Local)
	c.global = l.CreateStorageSession(chainstate.Global)

	inst, err := l.CreateRuntime()
	if err != nil {
		if closeErr := c.Close(); closeErr != nil {
			return nil, multierror.Append(err, closeErr)
		}
		return nil, err
	}
	c.instance = inst

	return c, nil
}

func (c *execContext) Close() error {
	var result *multierror.Error

	if c.instance != nil {
		if err := c.lc.DestroyRuntime(c.instance); err != nil {
			result = multierror.Append(result, fmt.Errorf("destroy runtime: %w", err))
		}
		c.instance = nil
	}

	for _, s := range []*chainstate.Session{c.local, c.global} {
		if s == nil {
			continue
		}
		if err := c.lc.DestroyStorageSession(s); err != nil {
			result = multierror.Append(result, fmt.Errorf("destroy %s session: %w", s.Tier(), err))
		}
	}
	c.local, c.global = nil, nil

	return result.ErrorOrNil()
}
