//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts = append([]Option{WithRedisClientURL("redis://" + mr.Addr())}, opts...)
	s, err := NewService(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestService(t, WithTTL(time.Minute))

	call := model.ToolCall{Type: "function", ID: "c1", Function: model.FunctionDefinitionParam{Name: "lookup", Arguments: []byte(`{"q":"x"}`)}}
	in := []model.Message{
		model.NewUserMessage("hi"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{call}},
		model.NewToolMessage("c1", "lookup", "found"),
	}
	require.NoError(t, s.AddMessages(ctx, "sess", in))

	out, err := s.GetMessages(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "hi", out[0].Content)
	assert.Equal(t, "lookup", out[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", out[2].ToolID)
	assert.True(t, mr.TTL("seqagent:memory:sess") > 0)
}

func TestService_LimitAndClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, WithMessageLimit(2), WithKeyPrefix("m:"))
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddMessages(ctx, "s", []model.Message{model.NewUserMessage(c)}))
	}
	out, err := s.GetMessages(ctx, "s")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Content)

	require.NoError(t, s.Clear(ctx, "s"))
	out, err = s.GetMessages(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNewService_RequiresTarget(t *testing.T) {
	_, err := NewService()
	assert.Error(t, err)
}
