package wasm

import (
	"context"

	"github.com/caffeineduck/nvmharness/hostfunc"
	"github.com/tetratelabs/wazero/api"
)

const (
	statusOK   int32 = 0
	statusFail int32 = 1
	absent     int32 = -1
)

func (i *Instance) instantiateEnv(ctx context.Context) error {
	_, err := i.rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(i.log).Export("log").
		NewFunctionBuilder().WithFunc(i.storageGet).Export("storage_get").
		NewFunctionBuilder().WithFunc(i.storagePut).Export("storage_put").
		NewFunctionBuilder().WithFunc(i.storageDel).Export("storage_del").
		NewFunctionBuilder().WithFunc(i.chainQuery(func(c hostfunc.ChainFuncs) chainQuery { return c.GetBlockByHash })).Export("get_block_by_hash").
		NewFunctionBuilder().WithFunc(i.chainQuery(func(c hostfunc.ChainFuncs) chainQuery { return c.GetTxByHash })).Export("get_tx_by_hash").
		NewFunctionBuilder().WithFunc(i.chainQuery(func(c hostfunc.ChainFuncs) chainQuery { return c.GetAccountState })).Export("get_account_state").
		NewFunctionBuilder().WithFunc(i.send).Export("send").
		NewFunctionBuilder().WithFunc(i.hostCall).Export("host_call").
		Instantiate(ctx)
	return err
}

func (i *Instance) log(ctx context.Context, m api.Module, level, ptr, length uint32) {
	msg, ok := m.Memory().Read(ptr, length)
	if !ok {
		return
	}
	i.registry.Log(ctx, hostfunc.Level(level), string(msg))
}

func (i *Instance) storageGet(ctx context.Context, m api.Module, tier, kptr, klen, vptr, vcap uint32) int32 {
	key, ok := m.Memory().Read(kptr, klen)
	if !ok {
		return absent
	}
	fn := i.registry.Storage().Get
	if fn == nil {
		return absent
	}
	val, found, err := fn(ctx, i.session(tier), key)
	if err != nil || !found {
		return absent
	}
	return writeOut(m, vptr, vcap, val)
}

func (i *Instance) storagePut(ctx context.Context, m api.Module, tier, kptr, klen, vptr, vlen uint32) int32 {
	key, ok := m.Memory().Read(kptr, klen)
	if !ok {
		return statusFail
	}
	val, ok := m.Memory().Read(vptr, vlen)
	if !ok {
		return statusFail
	}
	fn := i.registry.Storage().Put
	if fn == nil || fn(ctx, i.session(tier), key, val) != nil {
		return statusFail
	}
	return statusOK
}

func (i *Instance) storageDel(ctx context.Context, m api.Module, tier, kptr, klen uint32) int32 {
	key, ok := m.Memory().Read(kptr, klen)
	if !ok {
		return statusFail
	}
	fn := i.registry.Storage().Del
	if fn == nil || fn(ctx, i.session(tier), key) != nil {
		return statusFail
	}
	return statusOK
}

type chainQuery func(ctx context.Context, arg string) (string, bool)

func (i *Instance) chainQuery(pick func(hostfunc.ChainFuncs) chainQuery) func(context.Context, api.Module, uint32, uint32, uint32, uint32) int32 {
	return func(ctx context.Context, m api.Module, ptr, length, outptr, outcap uint32) int32 {
		arg, ok := m.Memory().Read(ptr, length)
		if !ok {
			return absent
		}
		fn := pick(i.registry.Chain())
		if fn == nil {
			return absent
		}
		out, found := fn(ctx, string(arg))
		if !found {
			return absent
		}
		return writeOut(m, outptr, outcap, []byte(out))
	}
}

func (i *Instance) send(ctx context.Context, m api.Module, tptr, tlen, vptr, vlen uint32) int32 {
	to, ok := m.Memory().Read(tptr, tlen)
	if !ok {
		return statusFail
	}
	value, ok := m.Memory().Read(vptr, vlen)
	if !ok {
		return statusFail
	}
	fn := i.registry.Chain().Send
	if fn == nil || fn(ctx, string(to), string(value)) != nil {
		return statusFail
	}
	return statusOK
}

func (i *Instance) hostCall(ctx context.Context, m api.Module, reqptr, reqlen, outptr, outcap uint32) int32 {
	req, ok := m.Memory().Read(reqptr, reqlen)
	if !ok {
		return absent
	}
	return writeOut(m, outptr, outcap, i.registry.Dispatch(ctx, req))
}

// writeOut copies at most outcap bytes of data to outptr and returns the
// full length of data.
func writeOut(m api.Module, outptr, outcap uint32, data []byte) int32 {
	n := uint32(len(data))
	if n > outcap {
		n = outcap
	}
	if n > 0 && !m.Memory().Write(outptr, data[:n]) {
		return absent
	}
	return int32(len(data))
}
