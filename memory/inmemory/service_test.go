//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/trpc-seqagent-go/memory"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

func TestService_AddAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewService()

	msgs, err := s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.AddMessages(ctx, "s1", []model.Message{model.NewUserMessage("hi")}))
	require.NoError(t, s.AddMessages(ctx, "s1", []model.Message{model.NewAssistantMessage("hello")}))

	msgs, err = s.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)

	// Returned slice is a copy.
	msgs[0].Content = "mutated"
	again, _ := s.GetMessages(ctx, "s1")
	assert.Equal(t, "hi", again[0].Content)

	require.NoError(t, s.Clear(ctx, "s1"))
	msgs, _ = s.GetMessages(ctx, "s1")
	assert.Empty(t, msgs)
}

func TestService_Limit(t *testing.T) {
	ctx := context.Background()
	s := NewService(WithMessageLimit(2))
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddMessages(ctx, "s", []model.Message{model.NewUserMessage(c)}))
	}
	msgs, _ := s.GetMessages(ctx, "s")
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)
}

func TestService_SessionRequired(t *testing.T) {
	s := NewService()
	_, err := s.GetMessages(context.Background(), "")
	assert.ErrorIs(t, err, memory.ErrSessionIDRequired)
	assert.ErrorIs(t, s.AddMessages(context.Background(), "", nil), memory.ErrSessionIDRequired)
}
