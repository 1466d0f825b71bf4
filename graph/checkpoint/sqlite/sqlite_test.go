//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sqlite

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

func newTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

func snapshot(sessionID, actionID string) *graph.Snapshot {
	snap := &graph.Snapshot{
		FlowID:    "flow",
		SessionID: sessionID,
		Messages:  []model.Message{model.NewUserMessage("hello")},
		Fields:    map[string]any{"items": []any{"a"}},
	}
	if actionID != "" {
		snap.NodeID = "hitl"
		snap.Action = &graph.ActionRequest{
			ID:     actionID,
			Kind:   graph.ActionHumanInput,
			Status: graph.ActionPending,
		}
	}
	return snap
}

func TestNewStore_NilDB(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "flow", "s1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)

	require.NoError(t, s.Save(ctx, snapshot("s1", "")))
	got, err := s.Load(ctx, "flow", "s1")
	require.NoError(t, err)
	assert.Nil(t, got.Action)
	assert.Equal(t, []any{"a"}, got.Fields["items"])

	// Completed snapshots of several sessions coexist with a NULL action id.
	require.NoError(t, s.Save(ctx, snapshot("s2", "")))

	require.NoError(t, s.Save(ctx, snapshot("s1", "a1")))
	got, err = s.LoadByAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.True(t, got.Pending())
}

func TestStore_Claim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, snapshot("s1", "a1")))

	snap, err := s.Claim(ctx, "a1", graph.ActionApproved)
	require.NoError(t, err)
	assert.Equal(t, graph.ActionApproved, snap.Action.Status)

	stored, err := s.LoadByAction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, graph.ActionApproved, stored.Action.Status)

	_, err = s.Claim(ctx, "a1", graph.ActionApproved)
	assert.ErrorIs(t, err, graph.ErrActionNotPending)

	_, err = s.Claim(ctx, "missing", graph.ActionApproved)
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, snapshot("s1", "a1")))
	require.NoError(t, s.Delete(ctx, "flow", "s1"))
	require.NoError(t, s.Delete(ctx, "flow", "s1"))
	_, err := s.LoadByAction(ctx, "a1")
	assert.ErrorIs(t, err, graph.ErrSnapshotNotFound)
}
