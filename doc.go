// Package nvmharness is an execution harness for smart-contract scripts.
//
// # Overview
//
// A node hands the harness a contract source. The harness runs it inside an
// embedded runtime instance with two attached storage sessions: a local
// (candidate) session and a global (confirmed) session, both reading through
// to chain state. Every run gets fresh handles, and every handle is released
// exactly once when the run ends.
//
// # Basic Usage
//
//	registry, _ := hostfunc.NewDefaultRegistry(hostfunc.NewLogFunc(os.Stdout, os.Stderr))
//	exec, _ := executor.New(registry, lua.New())
//	defer exec.Close()
//
//	src := executor.NewSource([]byte(`LocalContractStorage.put("k", "v")`))
//	defer src.Free()
//
//	// Run the same contract on 8 isolated units
//	report, _ := exec.Execute(ctx, src, 8)
//	fmt.Println(report.Failed())
//
//	// Print the instrumented form without running it
//	traced, _ := exec.InjectTracing(ctx, src)
//	fmt.Println(string(traced))
//
// # Chain State
//
//	backend, _ := chainstate.Open(chainstate.EngineBolt, "state.db")
//	chainstate.LoadGenesis("genesis.yaml", backend)
//	exec, _ := executor.New(registry, lua.New(), executor.WithBackend(backend))
//
// See the [executor], [hostfunc], [chainstate], [language/lua], and
// [language/wasm] packages for detailed API documentation.
package nvmharness
