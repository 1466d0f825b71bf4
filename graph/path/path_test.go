//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scope() map[string]any {
	return map[string]any{
		"$flow": map[string]any{
			"sessionId": "s1",
			"input":     "hello",
			"state": map[string]any{
				"messages": []any{
					map[string]any{"role": "user", "content": "hi"},
					map[string]any{"role": "assistant", "content": "hey there"},
				},
				"topic": "billing",
			},
			"output": []any{
				map[string]any{"tool": "lookup", "toolOutput": "42"},
			},
		},
		"$vars": map[string]any{"region": "eu"},
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("$flow.state.messages[-1].content")
	require.NoError(t, err)
	assert.Equal(t, "$flow", p.Root)
	require.Len(t, p.Segments, 4)
	assert.Equal(t, Segment{Index: -1, IsIndex: true}, p.Segments[2])
	assert.Equal(t, "$flow.state.messages[-1].content", p.String())

	p, err = Parse(`$flow.state["odd key"].x`)
	require.NoError(t, err)
	assert.Equal(t, "odd key", p.Segments[1].Field)

	p, err = Parse("$flow.output.0.toolOutput")
	require.NoError(t, err)
	assert.True(t, p.Segments[1].IsIndex)
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{"", "$", "$flow.", "$flow[1", "$flow[x]", "$flow..a", "$flow.a b"} {
		_, err := Parse(expr)
		assert.ErrorIs(t, err, ErrSyntax, expr)
	}
}

func TestEval(t *testing.T) {
	s := scope()
	cases := []struct {
		expr string
		want any
		ok   bool
	}{
		{"$flow.state.messages[-1].content", "hey there", true},
		{"$flow.state.messages[0].role", "user", true},
		{"$flow.state.messages.length", 2, true},
		{"$flow.state.messages[-3]", nil, false},
		{"$flow.state.messages[2]", nil, false},
		{"$flow.state.topic", "billing", true},
		{"$flow.state.topic.length", 7, true},
		{"$flow.output[0].toolOutput", "42", true},
		{"$flow.output.0.tool", "lookup", true},
		{"$vars.region", "eu", true},
		{"$vars.missing", nil, false},
		{"$nothing.here", nil, false},
		{"$flow.sessionId.deeper", nil, false},
	}
	for _, c := range cases {
		got, ok := Lookup(s, c.expr)
		assert.Equal(t, c.ok, ok, c.expr)
		assert.Equal(t, c.want, got, c.expr)
	}
}

func TestIsExpression(t *testing.T) {
	assert.True(t, IsExpression("$flow.input"))
	assert.True(t, IsExpression(" $vars.x"))
	assert.False(t, IsExpression("$"))
	assert.False(t, IsExpression("$5"))
	assert.False(t, IsExpression("plain"))
}

func TestEvalFrom(t *testing.T) {
	p := MustParse("$x.a[1]")
	v, ok := p.EvalFrom(map[string]any{"a": []any{"p", "q"}})
	require.True(t, ok)
	assert.Equal(t, "q", v)
}
