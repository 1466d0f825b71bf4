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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

func pendingSnapshot(flowID, sessionID, actionID string) *graph.Snapshot {
	return &graph.Snapshot{
		FlowID:    flowID,
		SessionID: sessionID,
		NodeID:    "approve",
		Messages:  []model.Message{model.NewUserMessage("hi")},
		Fields:    map[string]any{"count": float64(2)},
		Action: &graph.ActionRequest{
			ID:        actionID,
			FlowID:    flowID,
			SessionID: sessionID,
			Kind:      graph.ActionHumanInput,
			Status:    graph.ActionPending,
		},
	}
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Load(ctx, "f", "s")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)

	in := pendingSnapshot("f", "s", "a1")
	require.NoError(t, s.Save(ctx, in))

	// Mutating the caller's copy does not leak into the store.
	in.Fields["count"] = float64(99)

	got, err := s.Load(ctx, "f", "s")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Fields["count"])
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.True(t, got.Pending())

	byAction, err := s.LoadByAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "s", byAction.SessionID)

	assert.ErrorIs(t, s.Save(ctx, &graph.Snapshot{FlowID: "f"}), graph.ErrSessionIDRequired)
}

func TestStore_SaveReplacesAction(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Save(ctx, pendingSnapshot("f", "s", "a1")))
	require.NoError(t, s.Save(ctx, pendingSnapshot("f", "s", "a2")))

	_, err := s.LoadByAction(ctx, "a1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
	_, err = s.LoadByAction(ctx, "a2")
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Claim(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Save(ctx, pendingSnapshot("f", "s", "a1")))

	snap, err := s.Claim(ctx, "a1", graph.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, graph.ActionApproved, snap.Action.Status)

	_, err = s.Claim(ctx, "a1", graph.ActionRejected)
	assert.ErrorIs(t, err, graph.ErrActionNotPending)

	_, err = s.Claim(ctx, "missing", graph.ActionApproved)
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Save(ctx, pendingSnapshot("f", "s", "a1")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Claim(ctx, "a1", graph.ActionApproved); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Save(ctx, pendingSnapshot("f", "s", "a1")))
	require.NoError(t, s.Delete(ctx, "f", "s"))
	require.NoError(t, s.Delete(ctx, "f", "s"))

	_, err := s.Load(ctx, "f", "s")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
	_, err = s.LoadByAction(ctx, "a1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}
