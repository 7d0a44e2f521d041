package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/hostfunc"
)

// mockRuntime implements Runtime for testing executor logic without a real
// script engine. The script text selects the behaviour:
//
//	ok       write "ran"="yes" to the local session
//	fail     return an error
//	panic    panic inside Run
//	block    wait for the context to be cancelled
//	isolate  fail if another unit's write is visible, then write our own
type mockRuntime struct {
	created atomic.Int64
	closed  atomic.Int64
	failNew bool
}

func (m *mockRuntime) Name() string {
	return "mock"
}

func (m *mockRuntime) NewInstance(registry *hostfunc.Registry) (Instance, error) {
	if m.failNew {
		return nil, errors.New("engine unavailable")
	}
	m.created.Add(1)
	return &mockInstance{rt: m, registry: registry}, nil
}

type mockInstance struct {
	rt       *mockRuntime
	registry *hostfunc.Registry
	closed   bool
}

func (i *mockInstance) Run(ctx context.Context, source []byte, local, global *chainstate.Session) error {
	switch strings.TrimSpace(string(source)) {
	case "ok":
		return local.Put([]byte("ran"), []byte("yes"))
	case "fail":
		return errors.New("script error")
	case "panic":
		panic("engine crashed")
	case "block":
		<-ctx.Done()
		return ctx.Err()
	case "isolate":
		if _, ok, _ := local.Get([]byte("owner")); ok {
			return errors.New("saw another unit's local write")
		}
		if _, ok, _ := global.Get([]byte("owner")); ok {
			return errors.New("saw another unit's global write")
		}
		me := fmt.Sprint(hostfunc.UnitFrom(ctx))
		local.Put([]byte("owner"), []byte(me))
		global.Put([]byte("owner"), []byte(me))
		got, _, _ := local.Get([]byte("owner"))
		if string(got) != me {
			return fmt.Errorf("read back %q, want %q", got, me)
		}
		return nil
	default:
		return fmt.Errorf("unknown mock script %q", source)
	}
}

func (i *mockInstance) InjectTracing(ctx context.Context, source []byte) ([]byte, error) {
	if strings.Contains(string(source), "bad") {
		return nil, errors.New("syntax error")
	}
	if strings.Contains(string(source), "empty") {
		return nil, nil
	}
	return append([]byte("traced:"), source...), nil
}

func (i *mockInstance) Instructions() uint64 {
	return 7
}

func (i *mockInstance) Close() error {
	if i.closed {
		return errors.New("mock instance closed twice")
	}
	i.closed = true
	i.rt.closed.Add(1)
	return nil
}
