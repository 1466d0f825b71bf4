//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-process graph.SnapshotStore.
// It is suitable for tests and single-process deployments.
package inmemory

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
)

// Store keeps encoded snapshots in memory. Snapshots are copied through
// their JSON form so that callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	snapshots map[sessionKey][]byte
	actions   map[string]sessionKey // action id -> session
}

type sessionKey struct {
	flowID    string
	sessionID string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		snapshots: make(map[sessionKey][]byte),
		actions:   make(map[string]sessionKey),
	}
}

// Save stores s, replacing the previous snapshot of its session.
func (s *Store) Save(_ context.Context, snap *graph.Snapshot) error {
	if snap.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	b, err := graph.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	key := sessionKey{snap.FlowID, snap.SessionID}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropActionLocked(key)
	s.snapshots[key] = b
	if snap.Action != nil {
		s.actions[snap.Action.ID] = key
	}
	return nil
}

// Load returns the snapshot of a session.
func (s *Store) Load(_ context.Context, flowID, sessionID string) (*graph.Snapshot, error) {
	s.mu.RLock()
	b, ok := s.snapshots[sessionKey{flowID, sessionID}]
	s.mu.RUnlock()
	if !ok {
		return nil, graph.ErrSnapshotNotFound
	}
	return graph.UnmarshalSnapshot(b)
}

// LoadByAction returns the snapshot whose current action is actionID.
func (s *Store) LoadByAction(_ context.Context, actionID string) (*graph.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, _, err := s.byActionLocked(actionID)
	return snap, err
}

// Claim moves a pending action to status.
func (s *Store) Claim(_ context.Context, actionID string, status graph.ActionStatus) (*graph.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, key, err := s.byActionLocked(actionID)
	if err != nil {
		return nil, err
	}
	if err := graph.ClaimSnapshot(snap, actionID, status); err != nil {
		return nil, err
	}
	b, err := graph.MarshalSnapshot(snap)
	if err != nil {
		return nil, err
	}
	s.snapshots[key] = b
	return snap, nil
}

// Delete removes the snapshot of a session.
func (s *Store) Delete(_ context.Context, flowID, sessionID string) error {
	key := sessionKey{flowID, sessionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropActionLocked(key)
	delete(s.snapshots, key)
	return nil
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

func (s *Store) byActionLocked(actionID string) (*graph.Snapshot, sessionKey, error) {
	key, ok := s.actions[actionID]
	if !ok {
		return nil, key, graph.ErrSnapshotNotFound
	}
	snap, err := graph.UnmarshalSnapshot(s.snapshots[key])
	if err != nil {
		return nil, key, err
	}
	if snap.Action == nil || snap.Action.ID != actionID {
		return nil, key, graph.ErrSnapshotNotFound
	}
	return snap, key, nil
}

func (s *Store) dropActionLocked(key sessionKey) {
	b, ok := s.snapshots[key]
	if !ok {
		return
	}
	old, err := graph.UnmarshalSnapshot(b)
	if err == nil && old.Action != nil {
		delete(s.actions, old.Action.ID)
	}
}
