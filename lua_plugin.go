// lua_plugin.go: Lua-backed plugin instances with host bindings
//
// Plugins are single Lua source files exposing a global handle_event
// function. Each instance owns one interpreter state; the state is not
// goroutine safe, so all calls into it are serialized by a per-plugin
// mutex. Cancellation rides on LState.SetContext, which interrupts the VM
// at its next instruction boundary.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/agilira/go-timecache"
)

// PluginEntryPoint is the required global function every plugin must define.
const PluginEntryPoint = "handle_event"

// LuaPlugin is an EventHandler backed by an embedded Lua interpreter.
type LuaPlugin struct {
	info    PluginInfo
	pctx    *PluginContext
	gateway *GatewayClient

	L           *lua.LState
	mu          sync.Mutex // LState is single-threaded
	activeCtx   context.Context
	closed      atomic.Bool
	stateClosed bool // guarded by mu
}

// NewLuaPlugin compiles and runs the plugin source, validates that it
// defines the required handle_event function, and returns the live
// instance. Validation failure closes the interpreter and returns an
// error; nothing is partially registered.
func NewLuaPlugin(name, sourcePath string, pctx *PluginContext, gateway *GatewayClient) (*LuaPlugin, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	p := &LuaPlugin{
		info: PluginInfo{
			Name:       name,
			SourcePath: sourcePath,
			LoadedAt:   timecache.CachedTime(),
		},
		pctx:    pctx,
		gateway: gateway,
		L:       L,
	}
	p.installHostBindings()

	if err := L.DoFile(sourcePath); err != nil {
		L.Close()
		return nil, NewPluginLoadError(name, err)
	}

	if _, ok := L.GetGlobal(PluginEntryPoint).(*lua.LFunction); !ok {
		L.Close()
		return nil, NewPluginInvalidError(name, "missing required asynchronous handler function "+PluginEntryPoint)
	}

	return p, nil
}

// openSafeLibraries opens only the Lua standard libraries a plugin needs.
// io, os, debug and package stay closed; host facilities are exposed
// through the bindings instead.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// Info implements EventHandler.
func (p *LuaPlugin) Info() PluginInfo {
	return p.info
}

// HandleEvent implements EventHandler. Calls are serialized per plugin;
// the context is attached to the interpreter so cancellation interrupts
// running Lua code.
func (p *LuaPlugin) HandleEvent(ctx context.Context, event Event) error {
	if p.closed.Load() {
		return NewPluginClosedError(p.info.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stateClosed {
		return NewPluginClosedError(p.info.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.activeCtx = ctx
	p.L.SetContext(ctx)
	defer func() {
		p.L.RemoveContext()
		p.activeCtx = nil
		// A closed-while-running plugin tears its own state down once the
		// handler returns; see Close.
		if p.closed.Load() {
			p.closeStateLocked()
		}
	}()

	p.L.Push(p.L.GetGlobal(PluginEntryPoint))
	p.L.Push(goToLua(p.L, map[string]any(event)))
	if err := p.L.PCall(1, 0, nil); err != nil {
		p.L.SetTop(0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewPluginExecutionError(p.info.Name, err)
	}
	return nil
}

// Close implements EventHandler. It marks the plugin closed so no new
// events enter, and closes the interpreter immediately when idle. If a
// handler is still running, the state is closed by that handler's
// goroutine on return; Close never blocks behind a wedged handler.
func (p *LuaPlugin) Close() error {
	p.closed.Store(true)
	if p.mu.TryLock() {
		p.closeStateLocked()
		p.mu.Unlock()
	}
	return nil
}

// closeStateLocked closes the interpreter. Callers must hold p.mu.
func (p *LuaPlugin) closeStateLocked() {
	if !p.stateClosed {
		p.stateClosed = true
		p.L.Close()
	}
}

// callCtx returns the context of the in-flight handler call, or Background
// during load-time execution of the plugin source.
func (p *LuaPlugin) callCtx() context.Context {
	if p.activeCtx != nil {
		return p.activeCtx
	}
	return context.Background()
}

// installHostBindings exposes the host facilities to Lua as a global
// `host` table: the plugin's dedicated logger, its state accessor, the
// read-only framework view, and the gateway client.
func (p *LuaPlugin) installHostBindings() {
	L := p.L
	host := L.NewTable()

	logger := p.pctx.Logger()
	state := p.pctx.State()
	view := p.pctx.FrameworkView()

	bind := func(name string, fn lua.LGFunction) {
		host.RawSetString(name, L.NewFunction(fn))
	}

	bind("plugin_name", func(L *lua.LState) int {
		L.Push(lua.LString(p.info.Name))
		return 1
	})

	bind("log_debug", func(L *lua.LState) int {
		logger.Debug(L.CheckString(1))
		return 0
	})
	bind("log_info", func(L *lua.LState) int {
		logger.Info(L.CheckString(1))
		return 0
	})
	bind("log_warn", func(L *lua.LState) int {
		logger.Warn(L.CheckString(1))
		return 0
	})
	bind("log_error", func(L *lua.LState) int {
		logger.Error(L.CheckString(1))
		return 0
	})

	bind("set", func(L *lua.LState) int {
		state.Set(L.CheckString(1), luaToGo(L.Get(2)))
		return 0
	})
	bind("get", func(L *lua.LState) int {
		value := state.Get(L.CheckString(1), luaToGo(L.Get(2)))
		L.Push(goToLua(L, value))
		return 1
	})
	bind("delete", func(L *lua.LState) int {
		L.Push(lua.LBool(state.Delete(L.CheckString(1))))
		return 1
	})
	bind("clear", func(L *lua.LState) int {
		state.Clear()
		return 0
	})
	bind("get_other", func(L *lua.LState) int {
		value := state.GetOther(L.CheckString(1), L.CheckString(2), luaToGo(L.Get(3)))
		L.Push(goToLua(L, value))
		return 1
	})
	bind("grant", func(L *lua.LState) int {
		state.GrantAccessTo(L.CheckString(1))
		return 0
	})
	bind("revoke", func(L *lua.LState) int {
		state.RevokeAccessFrom(L.CheckString(1))
		return 0
	})

	bind("framework_get", func(L *lua.LState) int {
		value, err := view.GetFrameworkValue(L.CheckString(1), luaToGo(L.Get(2)))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(goToLua(L, value))
		return 1
	})

	bind("invoke", func(L *lua.LState) int {
		if p.gateway == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("gateway client not configured"))
			return 2
		}
		action := L.CheckString(1)
		var params map[string]any
		if tbl := L.OptTable(2, nil); tbl != nil {
			if m, ok := luaToGo(tbl).(map[string]any); ok {
				params = m
			}
		}
		result, err := p.gateway.Invoke(p.callCtx(), action, params)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(goToLua(L, result.AsMap()))
		return 1
	})

	L.SetGlobal("host", host)
}
