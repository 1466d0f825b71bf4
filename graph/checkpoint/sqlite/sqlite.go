//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite-backed graph.SnapshotStore. It expects a
// *sql.DB opened with a SQLite driver such as github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
)

const (
	sqliteCreateSnapshots = "CREATE TABLE IF NOT EXISTS seqagent_snapshots (" +
		"flow_id TEXT NOT NULL, " +
		"session_id TEXT NOT NULL, " +
		"action_id TEXT, " +
		"action_status TEXT, " +
		"updated_at INTEGER NOT NULL, " +
		"snapshot_json BLOB NOT NULL, " +
		"PRIMARY KEY (flow_id, session_id)" +
		")"

	sqliteCreateActionIndex = "CREATE UNIQUE INDEX IF NOT EXISTS seqagent_snapshots_action " +
		"ON seqagent_snapshots (action_id)"

	sqliteUpsertSnapshot = "INSERT OR REPLACE INTO seqagent_snapshots (" +
		"flow_id, session_id, action_id, action_status, updated_at, snapshot_json) " +
		"VALUES (?, ?, ?, ?, ?, ?)"

	sqliteSelectBySession = "SELECT snapshot_json FROM seqagent_snapshots " +
		"WHERE flow_id = ? AND session_id = ?"

	sqliteSelectByAction = "SELECT snapshot_json FROM seqagent_snapshots WHERE action_id = ?"

	// The status guard makes the claim a compare-and-swap.
	sqliteClaimAction = "UPDATE seqagent_snapshots SET action_status = ?, updated_at = ?, snapshot_json = ? " +
		"WHERE action_id = ? AND action_status = ?"

	sqliteDeleteSnapshot = "DELETE FROM seqagent_snapshots WHERE flow_id = ? AND session_id = ?"
)

var _ graph.SnapshotStore = (*Store)(nil)

// Store is a SQLite-backed snapshot store. Each session has one row holding
// the snapshot as a JSON blob.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store using the provided DB. The constructor
// creates the table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateSnapshots); err != nil {
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	if _, err := db.Exec(sqliteCreateActionIndex); err != nil {
		return nil, fmt.Errorf("create action index: %w", err)
	}
	return &Store{db: db}, nil
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
	var actionID, status sql.NullString
	if snap.Action != nil {
		actionID = sql.NullString{String: snap.Action.ID, Valid: true}
		status = sql.NullString{String: string(snap.Action.Status), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSnapshot,
		snap.FlowID, snap.SessionID, actionID, status, time.Now().UnixNano(), b); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot of a session.
func (s *Store) Load(ctx context.Context, flowID, sessionID string) (*graph.Snapshot, error) {
	return s.queryOne(ctx, s.db.QueryRowContext(ctx, sqliteSelectBySession, flowID, sessionID))
}

// LoadByAction returns the snapshot whose current action is actionID.
func (s *Store) LoadByAction(ctx context.Context, actionID string) (*graph.Snapshot, error) {
	snap, err := s.queryOne(ctx, s.db.QueryRowContext(ctx, sqliteSelectByAction, actionID))
	if err != nil {
		return nil, err
	}
	if snap.Action == nil || snap.Action.ID != actionID {
		return nil, graph.ErrSnapshotNotFound
	}
	return snap, nil
}

// Claim moves a pending action to status inside one transaction.
func (s *Store) Claim(ctx context.Context, actionID string, status graph.ActionStatus) (*graph.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap, err := s.queryOne(ctx, tx.QueryRowContext(ctx, sqliteSelectByAction, actionID))
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
	res, err := tx.ExecContext(ctx, sqliteClaimAction,
		string(status), time.Now().UnixNano(), b, actionID, string(graph.ActionPending))
	if err != nil {
		return nil, fmt.Errorf("claim action: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, fmt.Errorf("%w: %s was claimed concurrently", graph.ErrActionNotPending, actionID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return snap, nil
}

// Delete removes the snapshot of a session.
func (s *Store) Delete(ctx context.Context, flowID, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteSnapshot, flowID, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) queryOne(_ context.Context, row *sql.Row) (*graph.Snapshot, error) {
	var b []byte
	if err := row.Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, graph.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return graph.UnmarshalSnapshot(b)
}
