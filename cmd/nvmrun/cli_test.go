package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var logLine = regexp.MustCompile(`^\[tid-\d{20}\] \[INFO\] hi$`)

func TestCLIUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no arguments", nil},
		{"concurrency without file", []string{"-c", "2"}},
		{"trace without file", []string{"-t"}},
		{"two files", []string{"a.lua", "b.lua"}},
		{"unknown flag", []string{"-x", "a.lua"}},
		{"concurrency and trace", []string{"-c", "2", "-t", "a.lua"}},
		{"concurrency too large", []string{"-c", "99999999999999", "a.lua"}},
		{"concurrency overflows", []string{"-c", "99999999999999999999999", "a.lua"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := executeCommand(tt.args...)
			assert.Equal(t, exitError, code)
			assert.Contains(t, stdout, "nvmrun [-c <concurrency>] <script file>")
			assert.Contains(t, stdout, "nvmrun -t <script file>")
			assert.Contains(t, stdout, "inject tracer code into file.")
			assert.Empty(t, stderr, "no resources or logs before usage is validated")
		})
	}
}

func TestCLIHelp(t *testing.T) {
	for _, flag := range []string{"--help", "-h"} {
		code, stdout, stderr := executeCommand(flag)
		assert.Equal(t, exitError, code, flag)
		assert.Contains(t, stdout, "nvmrun [-c <concurrency>] <script file>", flag)
		assert.Empty(t, stderr, flag)
	}

	_, stdout, _ := executeCommand("--help")
	for _, phrase := range []string{"--concurrency", "--trace", "--config", "--runtime", "--state-engine", "--strict"} {
		assert.Contains(t, stdout, phrase)
	}
}

func TestCLIMissingFile(t *testing.T) {
	code, _, stderr := executeCommand(filepath.Join(t.TempDir(), "missing.lua"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "not found")
}

func TestCLIRunConcurrent(t *testing.T) {
	path := writeScript(t, "hello.lua", `console.log("hi")`)

	code, stdout, _ := executeCommand("-c", "3", path)
	require.Equal(t, exitOK, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Regexp(t, logLine, line)
	}
}

func TestCLIRunDefaultsToOneUnit(t *testing.T) {
	path := writeScript(t, "hello.lua", `console.log("hi")`)

	code, stdout, _ := executeCommand(path)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "[tid-00000000000000000000] [INFO] hi\n", stdout)
}

func TestCLIClampsConcurrency(t *testing.T) {
	path := writeScript(t, "hello.lua", `console.log("hi")`)

	for _, c := range []string{"0", "-4", "abc"} {
		code, stdout, stderr := executeCommand("-c", c, path)
		require.Equal(t, exitOK, code, c)
		assert.Contains(t, stderr, "concurrency can't be less than 1, set to 1", c)
		assert.Equal(t, 1, strings.Count(stdout, "[INFO] hi"), c)
	}
}

func TestCLIErrorLogsGoToStderr(t *testing.T) {
	path := writeScript(t, "err.lua", `console.error("bad")`)

	code, stdout, stderr := executeCommand(path)
	require.Equal(t, exitOK, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "[tid-00000000000000000000] [ERROR] bad")
}

func TestCLIScriptFailure(t *testing.T) {
	path := writeScript(t, "fail.lua", `error("boom")`)

	code, _, stderr := executeCommand("-c", "2", path)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "boom")

	code, _, _ = executeCommand("--strict", "-c", "2", path)
	assert.Equal(t, exitFailed, code)
}

func TestCLITrace(t *testing.T) {
	path := writeScript(t, "trace.lua", "x = 1\n")

	code, stdout, _ := executeCommand("-t", path)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "_instruction_counter.incr(1)\nx = 1\n", stdout)
}

func TestCLITraceFailure(t *testing.T) {
	path := writeScript(t, "broken.lua", "x = = 1")

	code, stdout, _ := executeCommand("-t", path)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "Error.\n", stdout)
}

func TestCLITraceWasmUnsupported(t *testing.T) {
	path := writeScript(t, "contract.wasm", string(emptyWasm))

	code, stdout, _ := executeCommand("-t", path)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "Error.\n", stdout)
}

// (module (func (export "main")))
var emptyWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 'm', 'a', 'i', 'n', 0x00, 0x00,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

func TestCLIRunWasmDetectedByMagic(t *testing.T) {
	path := writeScript(t, "contract.bin", string(emptyWasm))

	code, _, _ := executeCommand("--strict", "-c", "2", path)
	assert.Equal(t, exitOK, code)

	// forcing lua on a binary fails to compile
	code, _, _ = executeCommand("--strict", "--runtime", "lua", path)
	assert.Equal(t, exitFailed, code)
}

func TestCLIUnknownRuntime(t *testing.T) {
	path := writeScript(t, "a.lua", "x = 1")

	code, _, stderr := executeCommand("--runtime", "js", path)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "unknown runtime")
}

func TestCLIInstructionLimit(t *testing.T) {
	path := writeScript(t, "loop.lua", "for i = 1, 100 do local x = i end")

	code, _, stderr := executeCommand("--strict", "--instruction-limit", "10", path)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, "instruction limit exceeded")

	code, _, _ = executeCommand("--strict", "--instruction-limit", "1000", path)
	assert.Equal(t, exitOK, code)
}

func TestCLIConfigAndGenesis(t *testing.T) {
	dir := t.TempDir()
	genesis := filepath.Join(dir, "genesis.yaml")
	require.NoError(t, os.WriteFile(genesis, []byte("global:\n  owner: alice\n"), 0o644))

	cfgPath := filepath.Join(dir, "nvmrun.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
runtime = "lua"
[state]
engine = "bolt"
path = "`+filepath.ToSlash(filepath.Join(dir, "state.db"))+`"
genesis = "`+filepath.ToSlash(genesis)+`"
[limits]
timeout = "10s"
`), 0o644))

	path := writeScript(t, "owner.lua", `
assert(GlobalContractStorage.get("owner") == "alice")
assert(LocalContractStorage.get("owner") == nil)
`)

	code, _, stderr := executeCommand("--strict", "--config", cfgPath, "-c", "4", path)
	assert.Equal(t, exitOK, code, stderr)
}

func TestCLIBadConfig(t *testing.T) {
	cfgPath := writeScript(t, "bad.toml", `runtime = "cobol"`)
	path := writeScript(t, "a.lua", "x = 1")

	code, _, stderr := executeCommand("--config", cfgPath, path)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "unknown runtime")
}

func TestCLIBadgerState(t *testing.T) {
	path := writeScript(t, "a.lua", `assert(LocalContractStorage.put("k", "v") == 0)`)

	code, _, stderr := executeCommand("--strict", "--state-engine", "badger", "--state", t.TempDir(), path)
	assert.Equal(t, exitOK, code, stderr)
}

func TestAtoi(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"8", 8},
		{"  12", 12},
		{"+3", 3},
		{"-2", -2},
		{"5abc", 5},
		{"abc", 0},
		{"", 0},
		{"-", 0},
		{"99999999999999999999999", math.MaxInt},
		{"-99999999999999999999999", math.MinInt},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, atoi(tt.in), tt.in)
	}
}

func TestDetectRuntime(t *testing.T) {
	assert.Equal(t, "wasm", detectRuntime("a.wasm", nil))
	assert.Equal(t, "wasm", detectRuntime("a.bin", emptyWasm))
	assert.Equal(t, "lua", detectRuntime("a.lua", []byte("x = 1")))
}
