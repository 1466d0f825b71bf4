//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package memory defines the conversation memory collaborator: per-session
// message history that Start nodes preload and completed runs append to.
package memory

import (
	"context"
	"errors"

	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

var (
	// ErrSessionIDRequired is the error for session id required.
	ErrSessionIDRequired = errors.New("sessionID is required")
)

// Service stores conversation history per session.
type Service interface {
	// GetMessages returns the stored history of a session in order.
	// An unknown session yields an empty slice.
	GetMessages(ctx context.Context, sessionID string) ([]model.Message, error)

	// AddMessages appends messages to a session's history.
	AddMessages(ctx context.Context, sessionID string, messages []model.Message) error

	// Clear removes a session's history.
	Clear(ctx context.Context, sessionID string) error
}
