package executor

import (
	"sync"
	"testing"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/hostfunc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle(rt Runtime) *Lifecycle {
	return NewLifecycle(rt, hostfunc.NewRegistry(), chainstate.NewMemory())
}

func TestLifecycleSessionPairing(t *testing.T) {
	lc := newTestLifecycle(&mockRuntime{})

	s := lc.CreateStorageSession(chainstate.Local)
	assert.Equal(t, chainstate.Local, s.Tier())
	assert.Equal(t, 1, lc.Stats().Live())

	require.NoError(t, lc.DestroyStorageSession(s))
	assert.True(t, s.Closed())
	assert.Zero(t, lc.Stats().Live())

	assert.ErrorIs(t, lc.DestroyStorageSession(s), ErrAlreadyDestroyed)
	assert.Equal(t, 1, lc.Stats().SessionsDestroyed)
}

func TestLifecycleRuntimePairing(t *testing.T) {
	rt := &mockRuntime{}
	lc := newTestLifecycle(rt)

	inst, err := lc.CreateRuntime()
	require.NoError(t, err)
	assert.True(t, lc.registry.Sealed())

	require.NoError(t, lc.DestroyRuntime(inst))
	assert.ErrorIs(t, lc.DestroyRuntime(inst), ErrAlreadyDestroyed)

	assert.EqualValues(t, 1, rt.closed.Load())
	assert.Equal(t, 1, lc.Stats().RuntimesDestroyed)
}

func TestLifecycleRejectsForeignHandles(t *testing.T) {
	lc := newTestLifecycle(&mockRuntime{})
	other := newTestLifecycle(&mockRuntime{})

	s := other.CreateStorageSession(chainstate.Global)
	assert.ErrorIs(t, lc.DestroyStorageSession(s), ErrAlreadyDestroyed)
	assert.False(t, s.Closed())
}

func TestExecContextClosesEverythingOnce(t *testing.T) {
	rt := &mockRuntime{}
	lc := newTestLifecycle(rt)

	ec, err := lc.newExecContext()
	require.NoError(t, err)
	local, global := ec.local, ec.global

	require.NoError(t, ec.Close())
	require.NoError(t, ec.Close())

	assert.True(t, local.Closed())
	assert.True(t, global.Closed())
	assert.EqualValues(t, 1, rt.closed.Load())

	stats := lc.Stats()
	assert.Equal(t, Stats{RuntimesCreated: 1, RuntimesDestroyed: 1, SessionsCreated: 2, SessionsDestroyed: 2}, stats)
}

func TestExecContextReleasesSessionsWhenRuntimeFails(t *testing.T) {
	lc := newTestLifecycle(&mockRuntime{failNew: true})

	_, err := lc.newExecContext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine unavailable")

	stats := lc.Stats()
	assert.Equal(t, 2, stats.SessionsCreated)
	assert.Equal(t, 2, stats.SessionsDestroyed)
	assert.Zero(t, stats.Live())
}

func TestLifecycleConcurrentUse(t *testing.T) {
	lc := newTestLifecycle(&mockRuntime{})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec, err := lc.newExecContext()
			if err != nil {
				t.Error(err)
				return
			}
			if err := ec.Close(); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stats := lc.Stats()
	assert.Equal(t, 50, stats.RuntimesCreated)
	assert.Equal(t, 100, stats.SessionsDestroyed)
	assert.Zero(t, stats.Live())
}
