// Package executor runs untrusted contract scripts in isolated runtime
// instances on behalf of a node.
//
// # Overview
//
// Every run gets its own execution context: one runtime instance plus a
// local (candidate) and a global (confirmed) storage session. The context
// is created, runs exactly one script, and is destroyed, in that order. The
// destroy step happens even when the script fails or panics.
//
// # Basic Usage
//
//	registry, _ := hostfunc.NewDefaultRegistry(hostfunc.NewLogFunc(os.Stdout, os.Stderr))
//	exec, err := executor.New(registry, lua.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	src, err := executor.ReadSource("contract.lua")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Free()
//
//	report, _ := exec.Execute(ctx, src, 8)
//	fmt.Println(report.Failed(), "of", report.Effective, "units failed")
//
// # Concurrency
//
// Execute spawns one goroutine per requested unit, all reading the same
// Source. Units share nothing else, so a failure in one never affects the
// others. Execute returns only after every unit has finished and released
// its handles; only then may the Source be freed.
//
// # Tracing
//
// InjectTracing asks the runtime for an instrumented copy of a source
// without running it:
//
//	traced, err := exec.InjectTracing(ctx, src)
//	if errors.Is(err, executor.ErrInjectionFailed) {
//	    fmt.Println("Error.")
//	}
//
// # Runtime Interface
//
// To add a new contract language, implement [Runtime] and [Instance].
// See [github.com/caffeineduck/nvmharness/language/lua] for an example.
package executor
