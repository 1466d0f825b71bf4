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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/sandbox"
)

func TestRun_ReturnsConvertedValues(t *testing.T) {
	rt := New()
	bindings := map[string]any{
		"$flow": map[string]any{
			"input": "hi",
			"state": map[string]any{"count": 2},
		},
		"$vars": map[string]any{"limit": "5"},
	}
	out, err := rt.Run(context.Background(), `
local n = $flow.state.count + 1
return { count = n, greeting = $flow.input .. "!", limit = tonumber($vars.limit), list = {1, 2} }
`, bindings, sandbox.Limits{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"count":    3.0,
		"greeting": "hi!",
		"limit":    5.0,
		"list":     []any{1.0, 2.0},
	}, out)
}

func TestRun_NoReturnIsNil(t *testing.T) {
	out, err := New().Run(context.Background(), `local x = 1`, nil, sandbox.Limits{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRun_StringResult(t *testing.T) {
	out, err := New().Run(context.Background(), `if $flow.input == "a" then return "Alpha" end return "Beta"`,
		map[string]any{"$flow": map[string]any{"input": "a"}}, sandbox.Limits{})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", out)
}

func TestRun_JSONHelper(t *testing.T) {
	out, err := New().Run(context.Background(), `
local v = json.decode('{"a":[1,2,3]}')
return json.encode({ n = #v.a })
`, nil, sandbox.Limits{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":3}`, out.(string))
}

func TestRun_Timeout(t *testing.T) {
	_, err := New().Run(context.Background(), `while true do end`, nil, sandbox.Limits{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, sandbox.ErrTimeout)
}

func TestRun_Aborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, `return 1`, nil, sandbox.Limits{})
	assert.ErrorIs(t, err, sandbox.ErrAborted)
}

func TestRun_Disallowed(t *testing.T) {
	for _, src := range []string{
		`return os.execute("ls")`,
		`return io.open("/etc/passwd")`,
		`require("socket")`,
		`dofile("/tmp/x.lua")`,
	} {
		_, err := New().Run(context.Background(), src, nil, sandbox.Limits{})
		assert.ErrorIs(t, err, sandbox.ErrDisallowed, src)
	}
}

func TestRun_SyntaxError(t *testing.T) {
	_, err := New().Run(context.Background(), `return (`, nil, sandbox.Limits{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, sandbox.ErrDisallowed)
}

func TestFreshStatePerRun(t *testing.T) {
	rt := New()
	_, err := rt.Run(context.Background(), `leaked = 1`, nil, sandbox.Limits{})
	require.NoError(t, err)
	out, err := rt.Run(context.Background(), `return leaked`, nil, sandbox.Limits{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRun_KeepsDollarInLiterals(t *testing.T) {
	bindings := map[string]any{"$flow": map[string]any{"input": "tea"}}
	out, err := New().Run(context.Background(), `
-- $flow is bound by the engine
return $flow.input .. " costs $5, " .. 'price in $USD' .. [[ ($raw)]]
`, bindings, sandbox.Limits{})
	require.NoError(t, err)
	assert.Equal(t, "tea costs $5, price in $USD ($raw)", out)
}

func TestRun_StringHelpersWithinBudget(t *testing.T) {
	out, err := New().Run(context.Background(),
		`return string.rep("ab", 3, "-") .. ("x"):rep(2) .. string.format("|%5.1f|%%|%-3s|", 2.5, "a")`,
		nil, sandbox.Limits{})
	require.NoError(t, err)
	assert.Equal(t, "ab-ab-abxx|  2.5|%|a  |", out)
}

func TestRun_MemoryLimits(t *testing.T) {
	limits := sandbox.Limits{MaxStringBytes: 1 << 20, MaxMemory: 16 << 20, Timeout: 20 * time.Second}
	for _, src := range []string{
		`return string.rep("x", 1e10)`,
		`return ("x"):rep(2 ^ 40)`,
		`return string.rep("ab", 1e6, ",")`,
		`return string.format("%999999999d", 1)`,
		`
local t = {}
for i = 1, 1e9 do
	t[i] = string.rep("y", 1024) .. i
end
return #t`,
	} {
		_, err := New().Run(context.Background(), src, nil, limits)
		assert.ErrorIs(t, err, sandbox.ErrMemoryLimit, src)
	}
}

func TestLargestFormatWidth(t *testing.T) {
	assert.Equal(t, 0, largestFormatWidth("plain %s %%"))
	assert.Equal(t, 12, largestFormatWidth("%5.12f and %-3d"))
	assert.Equal(t, 999999999, largestFormatWidth("%999999999d"))
}
