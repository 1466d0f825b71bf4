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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

func setupTestRedis(t testing.TB) (*miniredis.Miniredis, string) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, "redis://" + mr.Addr()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	mr, url := setupTestRedis(t)
	s, err := NewStore(append([]Option{WithRedisClientURL(url)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func pendingSnapshot(sessionID, actionID string) *graph.Snapshot {
	return &graph.Snapshot{
		FlowID:    "flow",
		SessionID: sessionID,
		NodeID:    "approve",
		Messages:  []model.Message{model.NewUserMessage("hi")},
		Fields:    map[string]any{"topic": "go"},
		Action: &graph.ActionRequest{
			ID:        actionID,
			FlowID:    "flow",
			SessionID: sessionID,
			Kind:      graph.ActionToolApproval,
			Status:    graph.ActionPending,
		},
	}
}

func TestNewStore_RequiresClient(t *testing.T) {
	_, err := NewStore()
	assert.Error(t, err)

	_, err = NewStore(WithRedisClientURL("://bad"))
	assert.Error(t, err)
}

func TestNewStore_WithClient(t *testing.T) {
	_, url := setupTestRedis(t)
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)

	s, err := NewStore(WithClient(client), WithKeyPrefix("test:"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a1")))
	assert.Equal(t, int64(1), client.Exists(ctx, "test:snapshot:flow:s1").Val())
}

func TestStore_SaveLoadWithTTL(t *testing.T) {
	s, mr := newTestStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	_, err := s.Load(ctx, "flow", "s1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)

	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a1")))
	got, err := s.Load(ctx, "flow", "s1")
	require.NoError(t, err)
	assert.Equal(t, "go", got.Fields["topic"])
	assert.True(t, got.Pending())
	assert.Equal(t, time.Hour, mr.TTL(defaultKeyPrefix+"snapshot:flow:s1"))

	mr.FastForward(2 * time.Hour)
	_, err = s.Load(ctx, "flow", "s1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

func TestStore_LoadByActionIgnoresStaleIndex(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a1")))
	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a2")))

	_, err := s.LoadByAction(ctx, "a1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
	got, err := s.LoadByAction(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
}

func TestStore_Claim(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a1")))

	snap, err := s.Claim(ctx, "a1", graph.ActionRejected)
	require.NoError(t, err)
	assert.Equal(t, graph.ActionRejected, snap.Action.Status)
	// The claim keeps the expiry of the snapshot.
	assert.Equal(t, defaultTTL, mr.TTL(defaultKeyPrefix+"snapshot:flow:s1"))

	_, err = s.Claim(ctx, "a1", graph.ActionApproved)
	assert.ErrorIs(t, err, graph.ErrActionNotPending)

	_, err = s.Claim(ctx, "nope", graph.ActionApproved)
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

func TestStore_ConcurrentClaim(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a1")))

	var (
		mu   sync.Mutex
		wins int
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, "a1", graph.ActionApproved); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStore_Delete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, pendingSnapshot("s1", "a1")))

	require.NoError(t, s.Delete(ctx, "flow", "s1"))
	require.NoError(t, s.Delete(ctx, "flow", "s1"))
	assert.False(t, mr.Exists(defaultKeyPrefix+"snapshot:flow:s1"))
	assert.False(t, mr.Exists(defaultKeyPrefix+"action:a1"))
}
