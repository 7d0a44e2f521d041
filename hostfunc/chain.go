package hostfunc

import "context"

// StubChain returns the placeholder blockchain collaborator. Every query
// finds nothing and every send reports success without moving value. The
// functions exist so contracts can link against the interface; they carry
// no chain semantics.
func StubChain() ChainFuncs {
	return ChainFuncs{
		GetBlockByHash: func(ctx context.Context, hash string) (string, bool) {
			return "", false
		},
		GetTxByHash: func(ctx context.Context, hash string) (string, bool) {
			return "", false
		},
		GetAccountState: func(ctx context.Context, address string) (string, bool) {
			return "", false
		},
		Send: func(ctx context.Context, to, value string) error {
			return nil
		},
	}
}
