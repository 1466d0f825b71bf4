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
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
)

var _ graph.SnapshotStore = (*Store)(nil)

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// maxClaimRetries bounds optimistic retries when the snapshot key changes
// for a reason other than a competing claim.
const maxClaimRetries = 3

// Store keeps one JSON snapshot per (flow, session) plus an index from the
// current action id to its snapshot key.
type Store struct {
	opts   Options
	client redis.UniversalClient
	once   sync.Once // ensure Close is called only once
}

// NewStore creates a new redis snapshot store.
func NewStore(options ...Option) (*Store, error) {
	opts := defaultOptions
	for _, option := range options {
		option(&opts)
	}
	client := opts.client
	if client == nil {
		if opts.url == "" {
			return nil, errors.New("redis snapshot store: url or client is required")
		}
		ropts, err := redis.ParseURL(opts.url)
		if err != nil {
			return nil, fmt.Errorf("create redis client from url failed: %w", err)
		}
		client = redis.NewClient(ropts)
	}
	return &Store{opts: opts, client: client}, nil
}

func (s *Store) snapshotKey(flowID, sessionID string) string {
	return fmt.Sprintf("%ssnapshot:%s:%s", s.opts.keyPrefix, flowID, sessionID)
}

func (s *Store) actionKey(actionID string) string {
	return s.opts.keyPrefix + "action:" + actionID
}

// Save stores snap, replacing the previous snapshot of its session.
func (s *Store) Save(ctx context.Context, snap *graph.Snapshot) error {
	if snap.SessionID == "" {
		return graph.ErrSessionIDRequired
	}
	b, err := graph.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	key := s.snapshotKey(snap.FlowID, snap.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, s.opts.ttl)
		if snap.Action != nil {
			pipe.Set(ctx, s.actionKey(snap.Action.ID), key, s.opts.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot of a session.
func (s *Store) Load(ctx context.Context, flowID, sessionID string) (*graph.Snapshot, error) {
	return s.get(ctx, s.client, s.snapshotKey(flowID, sessionID))
}

// LoadByAction returns the snapshot whose current action is actionID.
func (s *Store) LoadByAction(ctx context.Context, actionID string) (*graph.Snapshot, error) {
	key, err := s.resolveAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	snap, err := s.get(ctx, s.client, key)
	if err != nil {
		return nil, err
	}
	// The index may point to a session that moved on to another action.
	if snap.Action == nil || snap.Action.ID != actionID {
		return nil, graph.ErrSnapshotNotFound
	}
	return snap, nil
}

// Claim moves a pending action to status. Concurrent claims are serialized
// with WATCH on the snapshot key; the loser sees ErrActionNotPending.
func (s *Store) Claim(ctx context.Context, actionID string, status graph.ActionStatus) (*graph.Snapshot, error) {
	key, err := s.resolveAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	var claimed *graph.Snapshot
	txf := func(tx *redis.Tx) error {
		snap, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := graph.ClaimSnapshot(snap, actionID, status); err != nil {
			return err
		}
		b, err := graph.MarshalSnapshot(snap)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, b, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		claimed = snap
		return nil
	}
	for i := 0; i < maxClaimRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: %s was claimed concurrently", graph.ErrActionNotPending, actionID)
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Delete removes the snapshot of a session and its action index.
func (s *Store) Delete(ctx context.Context, flowID, sessionID string) error {
	key := s.snapshotKey(flowID, sessionID)
	snap, err := s.get(ctx, s.client, key)
	if errors.Is(err, graph.ErrSnapshotNotFound) {
		return nil
	}
	keys := []string{key}
	if err == nil && snap.Action != nil {
		keys = append(keys, s.actionKey(snap.Action.ID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.client.Close()
	})
	return err
}

func (s *Store) resolveAction(ctx context.Context, actionID string) (string, error) {
	key, err := s.client.Get(ctx, s.actionKey(actionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", graph.ErrSnapshotNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve action: %w", err)
	}
	return key, nil
}

func (s *Store) get(ctx context.Context, c getter, key string) (*graph.Snapshot, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, graph.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return graph.UnmarshalSnapshot(b)
}
