// Package hostfunc provides the host capabilities a contract runtime calls
// back into.
//
// # Overview
//
// A runtime instance never reaches node internals directly. Everything it
// may do outside its own memory goes through a [Registry]: logging, contract
// storage against a session, blockchain queries and value transfer, and any
// named generic function such as the crypto helpers.
//
// # Registry
//
// The [Registry] is an explicit configuration object. Build it once at
// startup and pass it to every instance constructor:
//
//	registry, err := hostfunc.NewDefaultRegistry(hostfunc.NewLogFunc(os.Stdout, os.Stderr))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//
// The registry is sealed when the first runtime instance is created from it.
// After that every registration returns [ErrRegistrySealed]; functions
// cannot be removed.
//
// # Capability Families
//
// Logging: a single [LogFunc]. [NewLogFunc] routes errors to stderr and the
// rest to stdout, prefixing each line with the unit id and level name.
//
// Storage: [StorageFuncs] get/put/del against a chainstate session.
// [DefaultStorage] stages writes on the session itself.
//
// Blockchain: [ChainFuncs]. [StubChain] is a placeholder that finds nothing
// and transfers nothing.
//
// Crypto: [RegisterCrypto] adds sha256, sha3-256, ripemd160, blake3 and
// base58 helpers as generic functions.
package hostfunc
