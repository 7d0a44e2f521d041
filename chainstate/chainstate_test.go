package chainstate

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()

	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	badger, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	backends := map[string]Backend{
		EngineMemory: NewMemory(),
		EngineBolt:   bolt,
		EngineBadger: badger,
	}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func TestBackendRoundTrip(t *testing.T) {
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get([]byte("missing"))
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Put([]byte("k"), []byte("v1")))
			require.NoError(t, b.Put([]byte("k"), []byte("v2")))

			val, err := b.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), val)
		})
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open("rocks", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state engine")
}

func TestOpenBoltRequiresPath(t *testing.T) {
	_, err := Open(EngineBolt, "")
	require.Error(t, err)
}

func TestSessionReadsThroughToBackend(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Put(BackendKey(Global, []byte("height")), []byte("42")))

	global := NewSession(Global, backend)
	val, ok, err := global.Get([]byte("height"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", string(val))

	// the same key is invisible to the other tier
	local := NewSession(Local, backend)
	_, ok, err = local.Get([]byte("height"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionWritesStayPrivate(t *testing.T) {
	backend := NewMemory()
	a := NewSession(Local, backend)
	b := NewSession(Local, backend)

	require.NoError(t, a.Put([]byte("k"), []byte("from-a")))

	_, ok, err := b.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok, "write in one session must not be visible in another")
	assert.Equal(t, 0, backend.Len())

	val, ok, err := a.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-a", string(val))
}

func TestSessionDeleteShadowsBackend(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Put(BackendKey(Local, []byte("k")), []byte("v")))

	s := NewSession(Local, backend)
	require.NoError(t, s.Del([]byte("k")))

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	changes := s.Changes()
	require.Contains(t, changes, "k")
	assert.Nil(t, changes["k"])
	assert.Empty(t, s.Keys())
}

func TestSessionCloseOnce(t *testing.T) {
	s := NewSession(Global, nil)
	require.NoError(t, s.Put([]byte("a"), []byte("1")))

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.Close(), ErrSessionClosed)

	_, _, err := s.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Put([]byte("a"), nil), ErrSessionClosed)
}

func TestSessionConcurrentAccess(t *testing.T) {
	s := NewSession(Local, NewMemory())

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte{byte('a' + i)}
			s.Put(key, key)
			s.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.Keys(), 16)
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "local", Local.String())
	assert.Equal(t, "global", Global.String())
	assert.Equal(t, "tier(7)", Tier(7).String())
}

func TestBadgerLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewBadgerLogger(zap.New(core))

	l.Errorf("compaction failed: %d\n", 3)
	l.Warningf("slow write")
	l.Infof("replaying")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, "compaction failed: 3", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, "badger", entries[0].LoggerName)
}

func TestOpenBadgerWithLogger(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	b, err := Open(EngineBadger, "", WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Put([]byte("k"), []byte("v")))
	got, err := b.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}
