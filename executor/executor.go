package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/hostfunc"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ErrInjectionFailed is returned when the runtime could not instrument a source.
var ErrInjectionFailed = errors.New("inject tracing failed")

// ErrConcurrencyLimit is returned when Execute is asked for more than
// MaxConcurrency units.
var ErrConcurrencyLimit = errors.New("concurrency limit exceeded")

// MaxConcurrency is the largest number of units one Execute call runs.
const MaxConcurrency = 10000

// Executor runs scripts on one Runtime, creating a fresh execution context
// (runtime instance plus local and global storage sessions) for every run.
type Executor struct {
	runtime     Runtime
	registry    *hostfunc.Registry
	backend     chainstate.Backend
	ownsBackend bool
	lifecycle   *Lifecycle
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New creates an Executor for runtime with the given host function registry.
// The registry is sealed when the first instance is created.
func New(registry *hostfunc.Registry, runtime Runtime, opts ...ExecutorOption) (*Executor, error) {
	if runtime == nil {
		return nil, errors.New("runtime required")
	}

	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	e := &Executor{
		runtime:  runtime,
		registry: registry,
		backend:  cfg.backend,
		logger:   cfg.logger.With(zap.String("runtime", runtime.Name())),
	}
	if e.backend == nil {
		e.backend = chainstate.NewMemory()
		e.ownsBackend = true
	}
	e.lifecycle = NewLifecycle(runtime, registry, e.backend)

	return e, nil
}

// Execute runs src on concurrency independent execution contexts and waits
// for all of them. A concurrency below 1 is clamped to 1 with a warning.
// One unit failing never stops its siblings; each outcome is in the Report.
// The caller may free src once Execute returns.
func (e *Executor) Execute(ctx context.Context, src *Source, concurrency int, opts ...Option) (*Report, error) {
	if src == nil || src.Freed() {
		return nil, ErrSourceFreed
	}

	if concurrency > MaxConcurrency {
		return nil, fmt.Errorf("%w: %d > %d", ErrConcurrencyLimit, concurrency, MaxConcurrency)
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	report := &Report{Requested: concurrency, Effective: concurrency}
	if concurrency < 1 {
		e.logger.Warn("concurrency can't be less than 1, set to 1", zap.Int("requested", concurrency))
		report.Effective = 1
		report.Clamped = true
	}

	data := src.Bytes()
	report.Units = make([]UnitResult, report.Effective)

	var wg sync.WaitGroup
	wg.Add(report.Effective)
	for i := range report.Effective {
		go func(i int) {
			defer wg.Done()
			report.Units[i] = e.runUnit(ctx, i, data, cfg)
		}(i)
	}
	wg.Wait()

	return report, nil
}

// runUnit owns one execution context from creation to destruction.
func (e *Executor) runUnit(ctx context.Context, index int, source []byte, cfg runConfig) (res UnitResult) {
	res = UnitResult{Index: index, ID: uuid.New()}
	start := time.Now()

	ctx = hostfunc.WithUnit(ctx, index)
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res.Error = multierror.Append(res.Error, fmt.Errorf("unit panicked: %v", r))
		}
		res.Duration = time.Since(start)
		if res.Error != nil {
			e.logger.Error("script execution failed",
				zap.Int("unit", index),
				zap.Stringer("id", res.ID),
				zap.Duration("duration", res.Duration),
				zap.Error(res.Error))
		}
	}()

	ec, err := e.lifecycle.newExecContext()
	if err != nil {
		res.Error = fmt.Errorf("create execution context: %w", err)
		return res
	}
	defer func() {
		if counter, ok := ec.instance.(InstructionCounter); ok {
			res.Instructions = counter.Instructions()
		}
		if err := ec.Close(); err != nil {
			res.Error = multierror.Append(res.Error, err)
		}
	}()

	if err := ec.instance.Run(ctx, source, ec.local, ec.global); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Error = fmt.Errorf("timeout after %v: %w", cfg.timeout, err)
		} else {
			res.Error = fmt.Errorf("execution failed: %w", err)
		}
	}
	return res
}

// InjectTracing returns the runtime's instrumented variant of src without
// running it. Sessions are allocated and released as in Execute.
func (e *Executor) InjectTracing(ctx context.Context, src *Source) (out []byte, err error) {
	if src == nil || src.Freed() {
		return nil, ErrSourceFreed
	}

	ec, err := e.lifecycle.newExecContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInjectionFailed, err)
	}
	defer func() {
		if closeErr := ec.Close(); closeErr != nil {
			e.logger.Error("release execution context", zap.Error(closeErr))
		}
	}()

	out, err = ec.instance.InjectTracing(ctx, src.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInjectionFailed, err)
	}
	if out == nil {
		return nil, ErrInjectionFailed
	}
	return out, nil
}

// Stats returns the lifecycle counters of every context this Executor made.
func (e *Executor) Stats() Stats {
	return e.lifecycle.Stats()
}

// Registry returns the host function registry instances are bound to.
func (e *Executor) Registry() *hostfunc.Registry {
	return e.registry
}

// Close releases resources held by the Executor. A backend passed with
// WithBackend is left open.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.ownsBackend {
		return e.backend.Close()
	}
	return nil
}
