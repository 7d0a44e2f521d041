package chainstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
local:
  owner: alice
global:
  height: "42"
`), 0644))

	backend := NewMemory()
	require.NoError(t, LoadGenesis(path, backend))

	val, err := backend.Get(BackendKey(Local, []byte("owner")))
	require.NoError(t, err)
	assert.Equal(t, "alice", string(val))

	val, err = backend.Get(BackendKey(Global, []byte("height")))
	require.NoError(t, err)
	assert.Equal(t, "42", string(val))
}

func TestParseGenesisRejectsUnknownFields(t *testing.T) {
	_, err := ParseGenesis([]byte("accounts:\n  a: b\n"))
	require.Error(t, err)
}

func TestLoadGenesisMissingFile(t *testing.T) {
	err := LoadGenesis(filepath.Join(t.TempDir(), "nope.yaml"), NewMemory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read genesis")
}
