// Package chainstate provides the persistent key-value state that contract
// storage sessions read from, and the sessions themselves.
//
// A [Backend] holds confirmed chain state. A [Session] is a private, staged
// view over a backend: reads fall through to the backend, writes and deletes
// stay in the session and are discarded when it is closed. Two sessions never
// observe each other's writes.
package chainstate

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("backend closed")
)

// Backend is a goroutine-safe key-value store of confirmed chain state.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Close() error
}

// Engine names accepted by [Open].
const (
	EngineMemory = "memory"
	EngineBolt   = "bolt"
	EngineBadger = "badger"
)

// OpenOption configures Open.
type OpenOption func(*openConfig)

type openConfig struct {
	logger *zap.Logger
}

// WithLogger routes storage engine diagnostics to l. Only badger logs.
func WithLogger(l *zap.Logger) OpenOption {
	return func(c *openConfig) {
		c.logger = l
	}
}

// Open opens a backend by engine name. Path is ignored for the memory engine;
// an empty path for badger opens an in-memory badger instance.
func Open(engine, path string, opts ...OpenOption) (Backend, error) {
	var oc openConfig
	for _, opt := range opts {
		opt(&oc)
	}

	switch engine {
	case "", EngineMemory:
		return NewMemory(), nil
	case EngineBolt:
		if path == "" {
			return nil, errors.New("bolt engine requires a state path")
		}
		return OpenBolt(path)
	case EngineBadger:
		cfg := DefaultBadgerConfig(path)
		if path == "" {
			cfg.InMemory = true
		}
		if oc.logger != nil {
			cfg.Logger = NewBadgerLogger(oc.logger)
		}
		return OpenBadger(cfg)
	default:
		return nil, fmt.Errorf("unknown state engine %q: use memory, bolt or badger", engine)
	}
}

// Memory is an in-memory Backend.
type Memory struct {
	data   map[string][]byte
	mu     sync.RWMutex
	closed bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	val, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (m *Memory) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
