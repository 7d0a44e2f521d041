package chainstate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSessionClosed is returned when operating on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Tier selects which view of chain state a session represents.
type Tier int

const (
	// Local is the invocation's candidate (scratch) state.
	Local Tier = iota
	// Global is confirmed chain state.
	Global
)

func (t Tier) String() string {
	switch t {
	case Local:
		return "local"
	case Global:
		return "global"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// prefix namespaces a tier's keys inside the shared backend.
func (t Tier) prefix() string {
	return t.String() + "/"
}

// stagedValue is a pending write or delete inside a session.
type stagedValue struct {
	val     []byte
	deleted bool
}

// Session is a staged view over a Backend. Writes never reach the backend.
// A Session is safe for concurrent use, though the harness gives each
// execution context its own.
type Session struct {
	tier    Tier
	backend Backend
	staged  map[string]stagedValue
	mu      sync.RWMutex
	closed  bool
}

// NewSession returns a session of the given tier over backend. A nil
// backend gives a session with no confirmed state behind it.
func NewSession(tier Tier, backend Backend) *Session {
	return &Session{
		tier:    tier,
		backend: backend,
		staged:  make(map[string]stagedValue),
	}
}

// Tier returns the storage tier the session was created for.
func (s *Session) Tier() Tier {
	return s.tier
}

// Get returns the value for key and whether it exists.
func (s *Session) Get(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrSessionClosed
	}

	if v, ok := s.staged[string(key)]; ok {
		if v.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), v.val...), true, nil
	}

	if s.backend == nil {
		return nil, false, nil
	}
	val, err := s.backend.Get(s.backendKey(key))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s state: %w", s.tier, err)
	}
	return val, true, nil
}

// Put stages a write of value under key.
func (s *Session) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.staged[string(key)] = stagedValue{val: append([]byte(nil), value...)}
	return nil
}

// Del stages a delete of key.
func (s *Session) Del(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.staged[string(key)] = stagedValue{deleted: true}
	return nil
}

// Changes returns the staged writes, with nil values for deletes.
func (s *Session) Changes() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.staged))
	for k, v := range s.staged {
		if v.deleted {
			out[k] = nil
			continue
		}
		out[k] = append([]byte(nil), v.val...)
	}
	return out
}

// Keys returns the sorted keys written (not deleted) in this session.
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.staged))
	for k, v := range s.staged {
		if !v.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Close discards staged changes. A second Close returns ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	s.staged = nil
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) backendKey(key []byte) []byte {
	return BackendKey(s.tier, key)
}

// BackendKey returns the backend key a session of the given tier reads key from.
func BackendKey(tier Tier, key []byte) []byte {
	return append([]byte(tier.prefix()), key...)
}
