//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package lua

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a JSON-like Go value to a Lua value. Values of other types
// are round-tripped through JSON first.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return lua.LString(x.String())
		}
		return lua.LNumber(f)
	case []any:
		tbl := L.CreateTable(len(x), 0)
		for _, item := range x {
			tbl.Append(ToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(x))
		for k, item := range x {
			tbl.RawSetString(k, ToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(x), 0)
		for _, item := range x {
			tbl.Append(lua.LString(item))
		}
		return tbl
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return lua.LNil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return lua.LString(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return lua.LString(string(b))
	}
	return ToLua(L, generic)
}

// FromLua converts a Lua value to a JSON-like Go value. A table whose keys
// are exactly 1..n becomes a []any; any other table becomes a
// map[string]any, including the empty table.
func FromLua(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case lua.LString:
		return string(x)
	case *lua.LTable:
		return tableToGo(x)
	default:
		return v.String()
	}
}

func tableToGo(t *lua.LTable) any {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, FromLua(t.RawGetInt(i)))
		}
		return out
	}
	out := make(map[string]any, count)
	t.ForEach(func(k, val lua.LValue) {
		out[k.String()] = FromLua(val)
	})
	return out
}

func jsonModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "encode", L.NewFunction(func(L *lua.LState) int {
		b, err := json.Marshal(FromLua(L.CheckAny(1)))
		if err != nil {
			L.RaiseError("json.encode: %v", err)
			return 0
		}
		L.Push(lua.LString(string(b)))
		return 1
	}))
	L.SetField(mod, "decode", L.NewFunction(func(L *lua.LState) int {
		var v any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
			L.RaiseError("json.decode: %v", err)
			return 0
		}
		L.Push(ToLua(L, v))
		return 1
	}))
	return mod
}
