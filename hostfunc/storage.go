package hostfunc

import (
	"context"
	"errors"

	"github.com/caffeineduck/nvmharness/chainstate"
)

// ErrNoSession is returned when contract storage is used without a session.
var ErrNoSession = errors.New("no storage session")

// DefaultStorage returns storage functions that read and stage writes
// directly on the session.
func DefaultStorage() StorageFuncs {
	return StorageFuncs{
		Get: storageGet,
		Put: storagePut,
		Del: storageDel,
	}
}

func storageGet(ctx context.Context, s *chainstate.Session, key []byte) ([]byte, bool, error) {
	if s == nil {
		return nil, false, ErrNoSession
	}
	return s.Get(key)
}

func storagePut(ctx context.Context, s *chainstate.Session, key, value []byte) error {
	if s == nil {
		return ErrNoSession
	}
	return s.Put(key, value)
}

func storageDel(ctx context.Context, s *chainstate.Session, key []byte) error {
	if s == nil {
		return ErrNoSession
	}
	return s.Del(key)
}
