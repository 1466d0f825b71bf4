//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

// ActionKind tells what a pending action waits for.
type ActionKind string

// Action kinds.
const (
	ActionHumanInput   ActionKind = "human_input"
	ActionToolApproval ActionKind = "tool_approval"
)

// ActionStatus is the lifecycle state of an action request.
type ActionStatus string

// Action statuses.
const (
	ActionPending  ActionStatus = "pending"
	ActionApproved ActionStatus = "approved"
	ActionRejected ActionStatus = "rejected"
)

// Decision is the answer supplied on resume.
type Decision string

// Decisions.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts approve/approved and reject/rejected.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
}

func (d Decision) status() ActionStatus {
	if d == DecisionApprove {
		return ActionApproved
	}
	return ActionRejected
}

// ActionRequest is the record of a suspension waiting for external input.
type ActionRequest struct {
	ID          string           `json:"id"`
	FlowID      string           `json:"flow_id"`
	SessionID   string           `json:"session_id"`
	NodeID      string           `json:"node_id"`
	NodeName    string           `json:"node_name"`
	Kind        ActionKind       `json:"kind"`
	Status      ActionStatus     `json:"status"`
	Prompt      string           `json:"prompt,omitempty"`
	OutputShape map[string]any   `json:"output_shape,omitempty"`
	ToolCalls   []model.ToolCall `json:"tool_calls,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Snapshot is the persisted form of a run, keyed by (FlowID, SessionID).
// A snapshot with a pending Action is a suspended run; one without an
// Action carries the completed state of the last run of the session.
type Snapshot struct {
	FlowID    string          `json:"flow_id"`
	SessionID string          `json:"session_id"`
	RunID     string          `json:"run_id"`
	ChatID    string          `json:"chat_id,omitempty"`
	Input     string          `json:"input,omitempty"`
	Vars      map[string]any  `json:"vars,omitempty"`
	NodeID    string          `json:"node_id,omitempty"`
	Messages  []model.Message `json:"messages"`
	Fields    map[string]any  `json:"fields,omitempty"`
	Visits    map[string]int  `json:"visits,omitempty"`
	// Iteration is the number of model turns an Agent already took.
	Iteration int `json:"iteration,omitempty"`
	// NodeMessageStart indexes the first message produced by the suspended node.
	NodeMessageStart int `json:"node_message_start,omitempty"`
	// TurnStart indexes the first message of the current conversation turn.
	TurnStart int            `json:"turn_start,omitempty"`
	Action    *ActionRequest `json:"action,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Pending reports whether s holds an action waiting for a decision.
func (s *Snapshot) Pending() bool {
	return s.Action != nil && s.Action.Status == ActionPending
}

// State rebuilds the run state held by s.
func (s *Snapshot) State() State {
	st := make(State, len(s.Fields)+1)
	for k, v := range s.Fields {
		st[k] = v
	}
	st[StateKeyMessages] = append([]model.Message(nil), s.Messages...)
	return st
}

// SnapshotStore persists snapshots. Implementations live under
// graph/checkpoint.
type SnapshotStore interface {
	// Save stores s under (s.FlowID, s.SessionID), replacing any previous
	// snapshot of that session.
	Save(ctx context.Context, s *Snapshot) error
	// Load returns the snapshot of a session or ErrSnapshotNotFound.
	Load(ctx context.Context, flowID, sessionID string) (*Snapshot, error)
	// LoadByAction returns the snapshot whose current action has id, or
	// ErrSnapshotNotFound.
	LoadByAction(ctx context.Context, actionID string) (*Snapshot, error)
	// Claim atomically moves the pending action id to status and returns the
	// updated snapshot. It fails with ErrActionNotPending when the action
	// was already decided.
	Claim(ctx context.Context, actionID string, status ActionStatus) (*Snapshot, error)
	// Delete removes the snapshot of a session. Deleting a missing snapshot
	// is not an error.
	Delete(ctx context.Context, flowID, sessionID string) error
}

// MarshalSnapshot encodes s for durable stores.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalSnapshot decodes a snapshot written by MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// ClaimSnapshot applies a claim to a decoded snapshot. Stores call it inside
// their own atomic section.
func ClaimSnapshot(s *Snapshot, actionID string, status ActionStatus) error {
	if s.Action == nil || s.Action.ID != actionID {
		return ErrSnapshotNotFound
	}
	if s.Action.Status != ActionPending {
		return fmt.Errorf("%w: %s is %s", ErrActionNotPending, actionID, s.Action.Status)
	}
	s.Action.Status = status
	s.Action.UpdatedAt = time.Now().UTC()
	return nil
}
