package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/caffeineduck/nvmharness/chainstate"
	"github.com/caffeineduck/nvmharness/hostfunc"
	lua "github.com/yuin/gopher-lua"
)

// Status codes returned to contract code by mutating calls.
const (
	statusOK   = 0
	statusFail = 1
)

// counterName is the global table traced code reports to. Contracts can
// read it but never rebind or modify it.
const counterName = "_instruction_counter"

// maxArgDepth bounds table nesting in host call arguments.
const maxArgDepth = 64

var (
	errCyclicTable = errors.New("cyclic table")
	errTableDepth  = errors.New("table nested too deeply")
)

var openLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// Base functions that reach the host filesystem or module loader, or that
// would let a contract get around the globals guard.
var removedGlobals = []string{"dofile", "loadfile", "require", "module", "rawset", "setfenv"}

func (i *Instance) install() error {
	L := i.L
	for _, lib := range openLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open %q library: %w", lib.name, err)
		}
	}
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("LocalContractStorage", i.storageTable(chainstate.Local))
	L.SetGlobal("GlobalContractStorage", i.storageTable(chainstate.Global))
	L.SetGlobal("Blockchain", i.blockchainTable())
	L.SetGlobal("console", i.consoleTable())
	L.SetGlobal("crypto", i.cryptoTable())
	L.SetGlobal("print", L.NewFunction(i.logFn(hostfunc.LevelInfo)))
	L.SetGlobal("_host_call", L.NewFunction(i.hostCall))
	L.SetGlobal("loadstring", L.NewFunction(i.loadString))
	L.SetGlobal("load", L.NewFunction(i.loadReader))
	i.guardGlobals(i.counterTable())
	return nil
}

// guardGlobals serves the counter from the globals metatable and rejects
// assignments to its name. The metatable itself is locked.
func (i *Instance) guardGlobals(counter *lua.LTable) {
	L := i.L
	reserved := L.NewTable()
	reserved.RawSetString(counterName, counter)

	mt := L.NewTable()
	mt.RawSetString("__index", reserved)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		tbl, key := L.CheckTable(1), L.Get(2)
		switch key {
		case lua.LString(counterName):
			L.RaiseError("%s is read-only", counterName)
		case lua.LNil:
			L.RaiseError("table index is nil")
		}
		L.RawSet(tbl, key, L.Get(3))
		return 0
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(L.G.Global, mt)
}

// readOnly returns an empty proxy that reads from fields and rejects every
// write.
func (i *Instance) readOnly(name string, fields *lua.LTable) *lua.LTable {
	L := i.L
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", fields)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s is read-only", name)
		return 0
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(proxy, mt)
	return proxy
}

// loadString replaces the base loadstring. Chunks compiled at run time are
// instrumented the same way the contract itself is.
func (i *Instance) loadString(L *lua.LState) int {
	src := L.CheckString(1)
	return i.loadChunk(L, src, L.OptString(2, "<string>"))
}

// loadReader replaces the base load, which pulls the chunk from a reader
// function until it returns nil or an empty string.
func (i *Instance) loadReader(L *lua.LState) int {
	reader := L.CheckFunction(1)
	name := L.OptString(2, "=(load)")

	var buf strings.Builder
	for {
		L.Push(reader)
		L.Call(0, 1)
		piece := L.Get(-1)
		L.Pop(1)
		if piece == lua.LNil {
			break
		}
		if !lua.LVCanConvToString(piece) {
			L.Push(lua.LNil)
			L.Push(lua.LString("reader function must return a string"))
			return 2
		}
		str := piece.String()
		if len(str) == 0 {
			break
		}
		buf.WriteString(str)
	}
	return i.loadChunk(L, buf.String(), name)
}

func (i *Instance) loadChunk(L *lua.LState, src, name string) int {
	code := []byte(src)
	if i.cfg.autoInstrument {
		traced, err := Instrument(code)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		code = traced
	}
	fn, err := L.Load(bytes.NewReader(code), name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(fn)
	return 1
}

func (i *Instance) session(tier chainstate.Tier) *chainstate.Session {
	if tier == chainstate.Global {
		return i.global
	}
	return i.local
}

// argBase lets both tbl.fn(x) and tbl:fn(x) call styles work.
func argBase(L *lua.LState, self *lua.LTable) int {
	if L.Get(1) == self {
		return 2
	}
	return 1
}

func (i *Instance) storageTable(tier chainstate.Tier) *lua.LTable {
	L := i.L
	tbl := L.NewTable()

	get := func(L *lua.LState) int {
		key := L.CheckString(argBase(L, tbl))
		fns := i.registry.Storage()
		if fns.Get == nil {
			L.Push(lua.LNil)
			return 1
		}
		val, ok, err := fns.Get(i.ctx, i.session(tier), []byte(key))
		if err != nil || !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(val))
		return 1
	}

	put := func(L *lua.LState) int {
		base := argBase(L, tbl)
		key := L.CheckString(base)
		value := L.CheckString(base + 1)
		fns := i.registry.Storage()
		if fns.Put == nil || fns.Put(i.ctx, i.session(tier), []byte(key), []byte(value)) != nil {
			L.Push(lua.LNumber(statusFail))
			return 1
		}
		L.Push(lua.LNumber(statusOK))
		return 1
	}

	del := func(L *lua.LState) int {
		key := L.CheckString(argBase(L, tbl))
		fns := i.registry.Storage()
		if fns.Del == nil || fns.Del(i.ctx, i.session(tier), []byte(key)) != nil {
			L.Push(lua.LNumber(statusFail))
			return 1
		}
		L.Push(lua.LNumber(statusOK))
		return 1
	}

	L.SetFuncs(tbl, map[string]lua.LGFunction{
		"get":    get,
		"put":    put,
		"set":    put,
		"del":    del,
		"delete": del,
	})
	return tbl
}

type chainQuery func(ctx context.Context, arg string) (string, bool)

func (i *Instance) blockchainTable() *lua.LTable {
	L := i.L
	tbl := L.NewTable()

	query := func(pick func(hostfunc.ChainFuncs) chainQuery) lua.LGFunction {
		return func(L *lua.LState) int {
			arg := L.CheckString(argBase(L, tbl))
			fn := pick(i.registry.Chain())
			if fn == nil {
				L.Push(lua.LNil)
				return 1
			}
			out, ok := fn(i.ctx, arg)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(out))
			return 1
		}
	}

	send := func(L *lua.LState) int {
		base := argBase(L, tbl)
		to := L.CheckString(base)
		value := L.CheckString(base + 1)
		fn := i.registry.Chain().Send
		if fn == nil || fn(i.ctx, to, value) != nil {
			L.Push(lua.LNumber(statusFail))
			return 1
		}
		L.Push(lua.LNumber(statusOK))
		return 1
	}

	L.SetFuncs(tbl, map[string]lua.LGFunction{
		"getBlockByHash": query(func(c hostfunc.ChainFuncs) chainQuery {
			return c.GetBlockByHash
		}),
		"getTransactionByHash": query(func(c hostfunc.ChainFuncs) chainQuery {
			return c.GetTxByHash
		}),
		"getAccountState": query(func(c hostfunc.ChainFuncs) chainQuery {
			return c.GetAccountState
		}),
		"send":     send,
		"transfer": send,
	})
	return tbl
}

func (i *Instance) consoleTable() *lua.LTable {
	tbl := i.L.NewTable()
	i.L.SetFuncs(tbl, map[string]lua.LGFunction{
		"log":   i.logFn(hostfunc.LevelInfo),
		"debug": i.logFn(hostfunc.LevelDebug),
		"info":  i.logFn(hostfunc.LevelInfo),
		"warn":  i.logFn(hostfunc.LevelWarn),
		"error": i.logFn(hostfunc.LevelError),
	})
	return tbl
}

func (i *Instance) logFn(level hostfunc.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for n := 1; n <= top; n++ {
			parts = append(parts, L.ToStringMeta(L.Get(n)).String())
		}
		i.registry.Log(i.ctx, level, strings.Join(parts, " "))
		return 0
	}
}

func (i *Instance) cryptoTable() *lua.LTable {
	tbl := i.L.NewTable()
	funcs := map[string]string{
		"sha256":    hostfunc.FuncSha256,
		"sha3256":   hostfunc.FuncSha3256,
		"ripemd160": hostfunc.FuncRipemd160,
		"blake3":    hostfunc.FuncBlake3,
		"base58":    hostfunc.FuncBase58,
	}
	for field, name := range funcs {
		i.L.SetField(tbl, field, i.L.NewFunction(func(L *lua.LState) int {
			data := L.CheckString(argBase(L, tbl))
			resp := i.registry.Call(i.ctx, name, map[string]any{"data": data})
			if resp.Error != "" {
				L.RaiseError("%s: %s", name, resp.Error)
				return 0
			}
			L.Push(toLua(L, resp.Data))
			return 1
		}))
	}
	return tbl
}

// hostCall implements _host_call(name, args) for any generic registry
// function. It returns the result, or raises the function's error.
func (i *Instance) hostCall(L *lua.LState) int {
	name := L.CheckString(1)
	args := map[string]any{}
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		v, err := toGo(tbl)
		if err != nil {
			L.RaiseError("%s: %v", name, err)
			return 0
		}
		if m, ok := v.(map[string]any); ok {
			args = m
		}
	}

	resp := i.registry.Call(i.ctx, name, args)
	if resp.Error != "" {
		L.RaiseError("%s", resp.Error)
		return 0
	}
	L.Push(toLua(L, resp.Data))
	return 1
}

func (i *Instance) counterTable() *lua.LTable {
	L := i.L
	var tbl *lua.LTable
	fields := L.NewTable()
	L.SetFuncs(fields, map[string]lua.LGFunction{
		"incr": func(L *lua.LState) int {
			n := L.CheckInt(argBase(L, tbl))
			if n > 0 {
				i.instructions += uint64(n)
			}
			if limit := i.cfg.instructionLimit; limit > 0 && i.instructions > limit {
				i.limitHit = true
				L.RaiseError("%s", ErrInstructionLimit)
			}
			return 0
		},
		"count": func(L *lua.LState) int {
			L.Push(lua.LNumber(i.instructions))
			return 1
		},
	})
	tbl = i.readOnly(counterName, fields)
	return tbl
}

// toGo converts a Lua value for a host function. Tables with only the keys
// 1..n become slices, other tables become maps with string keys. Cyclic or
// overly nested tables are rejected.
func toGo(v lua.LValue) (any, error) {
	c := &converter{active: make(map[*lua.LTable]bool)}
	return c.value(v, 0)
}

type converter struct {
	active map[*lua.LTable]bool
}

func (c *converter) value(v lua.LValue, depth int) (any, error) {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return c.table(v, depth)
	default:
		return nil, nil
	}
}

func (c *converter) table(t *lua.LTable, depth int) (any, error) {
	if depth >= maxArgDepth {
		return nil, errTableDepth
	}
	if c.active[t] {
		return nil, errCyclicTable
	}
	c.active[t] = true
	defer delete(c.active, t)

	if n := t.MaxN(); n > 0 && n == countKeys(t) {
		out := make([]any, 0, n)
		for idx := 1; idx <= n; idx++ {
			item, err := c.value(t.RawGetInt(idx), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]any)
	var err error
	t.ForEach(func(key, val lua.LValue) {
		if err != nil {
			return
		}
		out[key.String()], err = c.value(val, depth+1)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// toLua converts a host function result. Map keys are set in sorted order.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(L, v[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(v))
	}
}
