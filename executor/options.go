package executor

import (
	"time"

	"github.com/caffeineduck/nvmharness/chainstate"
	"go.uber.org/zap"
)

// Option configures a single Execute or InjectTracing call.
type Option func(*runConfig)

type runConfig struct {
	timeout time.Duration
}

func defaultRunConfig() runConfig {
	return runConfig{
		timeout: 0, // 0 means units run until the script returns
	}
}

// WithTimeout bounds each unit's script execution. A unit that exceeds it
// fails; its siblings are unaffected.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	backend chainstate.Backend
	logger  *zap.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		logger: zap.NewNop(),
	}
}

// WithBackend sets the chain state that global and local sessions read
// through to. The caller keeps ownership. Without it the Executor uses a
// private in-memory backend.
func WithBackend(b chainstate.Backend) ExecutorOption {
	return func(c *executorConfig) {
		c.backend = b
	}
}

// WithLogger sets the logger for harness diagnostics.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
