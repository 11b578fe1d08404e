// lua_values.go: Value conversion between Go and the Lua interpreter
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a JSON-shaped Go value into a Lua value. Maps become
// tables keyed by string; slices become 1-based array tables. Unknown
// types degrade to their string representation rather than failing, so an
// odd gateway payload never aborts a handler call.
func goToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case map[string]any:
		tbl := L.NewTable()
		for key, item := range v {
			tbl.RawSetString(key, goToLua(L, item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, item := range v {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case Event:
		return goToLua(L, map[string]any(v))
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// luaToGo converts a Lua value into its JSON-shaped Go counterpart.
// Contiguous integer-keyed tables become slices, everything else becomes a
// string-keyed map. Functions and userdata have no Go shape and map to nil.
func luaToGo(value lua.LValue) any {
	return luaToGoVisited(value, make(map[*lua.LTable]bool))
}

func luaToGoVisited(value lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := value.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil // break cycles
		}
		visited[v] = true
		return tableToGo(v, visited)
	default:
		return nil
	}
}

func tableToGo(tbl *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxIndex := 0
	count := 0
	tbl.ForEach(func(k, _ lua.LValue) {
		count++
		if n, ok := k.(lua.LNumber); ok {
			idx := int(n)
			if float64(idx) == float64(n) && idx > 0 {
				if idx > maxIndex {
					maxIndex = idx
				}
				return
			}
		}
		isArray = false
	})

	if isArray && count > 0 && maxIndex == count {
		arr := make([]any, 0, count)
		for i := 1; i <= maxIndex; i++ {
			arr = append(arr, luaToGoVisited(tbl.RawGetInt(i), visited))
		}
		return arr
	}

	m := make(map[string]any, count)
	tbl.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = luaToGoVisited(v, visited)
	})
	return m
}
