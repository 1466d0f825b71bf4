//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-process memory.Service.
package inmemory

import (
	"context"
	"sync"

	"trpc.group/trpc-go/trpc-seqagent-go/memory"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

var _ memory.Service = (*Service)(nil)

// Service keeps session histories in a map.
// This is suitable for testing and single-process deployments.
type Service struct {
	mu       sync.RWMutex
	sessions map[string][]model.Message
	limit    int
}

// Option configures the in-memory service.
type Option func(*Service)

// WithMessageLimit keeps only the newest n messages per session. n <= 0 means unlimited.
func WithMessageLimit(n int) Option {
	return func(s *Service) {
		s.limit = n
	}
}

// NewService creates a new in-memory memory service.
func NewService(opts ...Option) *Service {
	s := &Service{sessions: make(map[string][]model.Message)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMessages implements memory.Service.
func (s *Service) GetMessages(_ context.Context, sessionID string) ([]model.Message, error) {
	if sessionID == "" {
		return nil, memory.ErrSessionIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AddMessages implements memory.Service.
func (s *Service) AddMessages(_ context.Context, sessionID string, messages []model.Message) error {
	if sessionID == "" {
		return memory.ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.sessions[sessionID], messages...)
	if s.limit > 0 && len(msgs) > s.limit {
		msgs = append([]model.Message(nil), msgs[len(msgs)-s.limit:]...)
	}
	s.sessions[sessionID] = msgs
	return nil
}

// Clear implements memory.Service.
func (s *Service) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
