package hostfunc

import (
	"context"

	"github.com/caffeineduck/nvmharness/chainstate"
)

// Level is a contract log level. The numbering matches the node's engine:
// anything at or above LevelError is an error.
type Level int

const (
	LevelDebug Level = 1
	LevelWarn  Level = 2
	LevelInfo  Level = 3
	LevelError Level = 4
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	default:
		if l > LevelError {
			return "ERROR"
		}
		return "UNKNOWN"
	}
}

// LogFunc receives diagnostic output from contract code.
type LogFunc func(ctx context.Context, level Level, msg string)

// StorageFuncs satisfy contract storage access against a session.
type StorageFuncs struct {
	Get func(ctx context.Context, s *chainstate.Session, key []byte) ([]byte, bool, error)
	Put func(ctx context.Context, s *chainstate.Session, key, value []byte) error
	Del func(ctx context.Context, s *chainstate.Session, key []byte) error
}

// ChainFuncs satisfy blockchain introspection and value transfer.
// Query results are JSON documents; ok is false when nothing was found.
type ChainFuncs struct {
	GetBlockByHash  func(ctx context.Context, hash string) (string, bool)
	GetTxByHash     func(ctx context.Context, hash string) (string, bool)
	GetAccountState func(ctx context.Context, address string) (string, bool)
	Send            func(ctx context.Context, to, value string) error
}

type unitKey struct{}

// WithUnit tags ctx with the execution unit number used as the log thread id.
func WithUnit(ctx context.Context, unit int) context.Context {
	return context.WithValue(ctx, unitKey{}, unit)
}

// UnitFrom returns the execution unit number stored in ctx, or 0.
func UnitFrom(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	unit, _ := ctx.Value(unitKey{}).(int)
	return unit
}
