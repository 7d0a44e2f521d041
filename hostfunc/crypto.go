package hostfunc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// Crypto host function names.
const (
	FuncSha256    = "crypto_sha256"
	FuncSha3256   = "crypto_sha3256"
	FuncRipemd160 = "crypto_ripemd160"
	FuncBlake3    = "crypto_blake3"
	FuncBase58    = "crypto_base58"
)

// RegisterCrypto registers the hashing and encoding helpers. Each takes
// {"data": string}; hashes return lowercase hex, crypto_base58 returns the
// base58 encoding of data.
func RegisterCrypto(r *Registry) error {
	funcs := map[string]func([]byte) string{
		FuncSha256: func(b []byte) string {
			sum := sha256.Sum256(b)
			return hex.EncodeToString(sum[:])
		},
		FuncSha3256: func(b []byte) string {
			sum := sha3.Sum256(b)
			return hex.EncodeToString(sum[:])
		},
		FuncRipemd160: func(b []byte) string {
			h := ripemd160.New()
			h.Write(b)
			return hex.EncodeToString(h.Sum(nil))
		},
		FuncBlake3: func(b []byte) string {
			sum := blake3.Sum256(b)
			return hex.EncodeToString(sum[:])
		},
		FuncBase58: base58.Encode,
	}

	for _, name := range []string{FuncSha256, FuncSha3256, FuncRipemd160, FuncBlake3, FuncBase58} {
		if err := r.Register(name, dataFunc(funcs[name])); err != nil {
			return err
		}
	}
	return nil
}

func dataFunc(fn func([]byte) string) Func {
	return func(ctx context.Context, args map[string]any) (any, error) {
		data, ok := args["data"].(string)
		if !ok {
			return nil, errors.New("data required")
		}
		return fn([]byte(data)), nil
	}
}
