//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package lua runs scripts on an embedded Lua VM (gopher-lua).
//
// Each run gets a fresh interpreter with only the base, table, string and
// math libraries. File loading, module loading, os, io and debug access
// raise sandbox.ErrDisallowed. Binding names may be referenced with their
// leading `$`, which is stripped outside string literals and comments.
package lua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/sandbox"
)

const (
	disallowedMarker = "sandbox: operation not allowed"
	memoryMarker     = "sandbox: memory limit exceeded"

	// Value stack slots; growth past registryMaxSize raises an error.
	registrySize    = 1024
	registryMaxSize = 64 * 1024
)

// blocked globals are replaced by functions or tables that raise.
var (
	blockedFunctions = []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"}
	blockedTables    = []string{"os", "io", "debug", "package"}
)

// Runtime is a sandbox.Runtime backed by gopher-lua.
type Runtime struct{}

// New creates a Lua runtime.
func New() *Runtime { return &Runtime{} }

var _ sandbox.Runtime = (*Runtime)(nil)

// Run compiles source as the body of a function, executes it and returns the
// converted return value. A script without a return statement yields nil.
func (r *Runtime) Run(
	ctx context.Context,
	source string,
	bindings map[string]any,
	limits sandbox.Limits,
) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, sandbox.ErrAborted
	}
	runCtx, cancel := context.WithTimeout(ctx, limits.EffectiveTimeout())
	defer cancel()
	runCtx, watch := sandbox.WatchMemory(runCtx, limits.EffectiveMaxMemory())
	defer watch.Stop()

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   limits.EffectiveMaxCallStack(),
		RegistrySize:    registrySize,
		RegistryMaxSize: registryMaxSize,
	})
	defer L.Close()
	openSafeLibs(L, limits.EffectiveMaxStringBytes())
	L.SetContext(runCtx)

	for name, v := range bindings {
		L.SetGlobal(strings.TrimPrefix(name, "$"), ToLua(L, v))
	}

	wrapped := "return (function()\n" + sandbox.StripSigils(source, sandbox.SyntaxLua) + "\nend)()"
	if err := L.DoString(wrapped); err != nil {
		if watch.Exceeded() {
			return nil, sandbox.ErrMemoryLimit
		}
		if cerr := sandbox.ClassifyContextErr(ctx.Err(), runCtx.Err()); cerr != nil {
			return nil, cerr
		}
		msg := err.Error()
		if strings.Contains(msg, memoryMarker) || strings.Contains(msg, "registry overflow") {
			return nil, fmt.Errorf("%w: %s", sandbox.ErrMemoryLimit, firstLine(msg))
		}
		if strings.Contains(err.Error(), disallowedMarker) {
			return nil, fmt.Errorf("%w: %s", sandbox.ErrDisallowed, firstLine(err.Error()))
		}
		return nil, fmt.Errorf("lua: %w", err)
	}
	if L.GetTop() == 0 {
		return nil, nil
	}
	return FromLua(L.Get(1)), nil
}

func openSafeLibs(L *lua.LState, maxString int) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range blockedFunctions {
		L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("%s: %s", disallowedMarker, name)
			return 0
		}))
	}
	for _, name := range blockedTables {
		tbl := L.NewTable()
		mt := L.NewTable()
		L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("%s: %s.%s", disallowedMarker, name, L.CheckAny(2).String())
			return 0
		}))
		L.SetMetatable(tbl, mt)
		L.SetGlobal(name, tbl)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Debugf("lua: %s", strings.Join(parts, "\t"))
		return 0
	}))
	L.SetGlobal("json", jsonModule(L))

	// The string table also backs the string metatable, so s:rep() is covered.
	if str, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		format := str.RawGetString("format")
		L.SetField(str, "rep", L.NewFunction(boundedRep(maxString)))
		if fn, ok := format.(*lua.LFunction); ok {
			L.SetField(str, "format", L.NewFunction(boundedFormat(fn, maxString)))
		}
	}
}

// boundedRep is string.rep with the result size capped at max bytes.
func boundedRep(max int) lua.LGFunction {
	return func(L *lua.LState) int {
		s := L.CheckString(1)
		n := L.CheckInt(2)
		sep := L.OptString(3, "")
		if n <= 0 || len(s)+len(sep) == 0 {
			L.Push(lua.LString(""))
			return 1
		}
		if n > max || len(s)*n+len(sep)*(n-1) > max {
			L.RaiseError("%s: string.rep result over %d bytes", memoryMarker, max)
			return 0
		}
		var b strings.Builder
		b.Grow(len(s)*n + len(sep)*(n-1))
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteString(sep)
			}
			b.WriteString(s)
		}
		L.Push(lua.LString(b.String()))
		return 1
	}
}

// boundedFormat rejects field widths and precisions over max before calling
// the stock string.format.
func boundedFormat(format *lua.LFunction, max int) lua.LGFunction {
	return func(L *lua.LState) int {
		if w := largestFormatWidth(L.CheckString(1)); w > max {
			L.RaiseError("%s: string.format width %d over %d bytes", memoryMarker, w, max)
			return 0
		}
		top := L.GetTop()
		L.Push(format)
		for i := 1; i <= top; i++ {
			L.Push(L.Get(i))
		}
		L.Call(top, 1)
		return 1
	}
}

// largestFormatWidth returns the largest number written in a % directive.
func largestFormatWidth(f string) int {
	largest := 0
	for i := 0; i < len(f); i++ {
		if f[i] != '%' {
			continue
		}
		for i++; i < len(f) && !isFormatVerb(f[i]); i++ {
			n := 0
			for ; i < len(f) && f[i] >= '0' && f[i] <= '9'; i++ {
				if n <= math.MaxInt/10-10 {
					n = n*10 + int(f[i]-'0')
				}
			}
			if n > largest {
				largest = n
			}
			if i >= len(f) || isFormatVerb(f[i]) {
				break
			}
		}
	}
	return largest
}

func isFormatVerb(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '%'
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsDisallowed reports whether err came from a blocked capability.
func IsDisallowed(err error) bool {
	return errors.Is(err, sandbox.ErrDisallowed)
}
